// Package questions loads the seed question set and interviewer persona used to build
// the speech model's instructions. Seed questions only shape the opening instructions;
// the model decides the actual flow.
package questions

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vango-go/vai-interview/pkg/interview/transcript"
)

//go:embed default.yaml
var defaultYAML []byte

type Persona struct {
	Name    string `yaml:"name"`
	Company string `yaml:"company"`
	Voice   string `yaml:"voice"`
	Tone    string `yaml:"tone"`
}

type Question struct {
	ID       string              `yaml:"id"`
	Text     string              `yaml:"text"`
	Category transcript.Category `yaml:"category"`
}

type Set struct {
	Name      string     `yaml:"name"`
	Role      string     `yaml:"role"`
	Persona   Persona    `yaml:"persona"`
	Questions []Question `yaml:"questions"`
}

// Default returns the built-in question set.
func Default() *Set {
	s, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("questions: embedded default set is invalid: %v", err))
	}
	return s
}

func Load(path string) (*Set, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question set: %w", err)
	}
	s, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func Parse(raw []byte) (*Set, error) {
	var s Set
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse question set: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the set and fills category defaults.
func (s *Set) Validate() error {
	if len(s.Questions) == 0 {
		return errors.New("question set has no questions")
	}
	seen := make(map[string]bool, len(s.Questions))
	for i := range s.Questions {
		q := &s.Questions[i]
		q.Text = strings.TrimSpace(q.Text)
		if q.Text == "" {
			return fmt.Errorf("question %d: text is required", i)
		}
		if q.ID == "" {
			q.ID = fmt.Sprintf("seed_%d", i+1)
		}
		if seen[q.ID] {
			return fmt.Errorf("question %d: duplicate id %q", i, q.ID)
		}
		seen[q.ID] = true
		if q.Category == "" {
			q.Category = transcript.Classify(q.Text)
		}
		if !q.Category.Valid() {
			return fmt.Errorf("question %q: unknown category %q", q.ID, q.Category)
		}
	}
	return nil
}

// Instructions renders the system instructions pushed with the session configuration.
func (s *Set) Instructions() string {
	var b strings.Builder
	name := s.Persona.Name
	if name == "" {
		name = "the interviewer"
	}
	fmt.Fprintf(&b, "You are %s", name)
	if s.Persona.Company != "" {
		fmt.Fprintf(&b, " from %s", s.Persona.Company)
	}
	b.WriteString(", conducting a live spoken job interview")
	if s.Role != "" {
		fmt.Fprintf(&b, " for a %s position", s.Role)
	}
	b.WriteString(".\n")
	if s.Persona.Tone != "" {
		fmt.Fprintf(&b, "Keep your tone %s.\n", s.Persona.Tone)
	}
	b.WriteString("Ask one question at a time and wait for the candidate to finish answering. ")
	b.WriteString("Ask short follow-ups when an answer is vague.\n")
	b.WriteString("Cover these topics, in your own words and in a natural order:\n")
	for i, q := range s.Questions {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, q.Category, q.Text)
	}
	b.WriteString("After each answer, call score_answer with a score from 1 to 5. ")
	b.WriteString("When every topic is covered, thank the candidate and call end_interview.\n")
	return b.String()
}

// Reprompt is the soft instruction sent when the candidate has gone quiet.
func (s *Set) Reprompt() string {
	return "The candidate has been silent for a while. Gently check whether they are still there " +
		"and offer to repeat or rephrase the last question."
}
