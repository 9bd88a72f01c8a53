// Package transcript reconstructs question/answer pairs from interviewer utterances and
// candidate speech boundaries.
//
// At most one question is open at a time. An answer starts at the first speech-start
// after the question and closes at the next speech-stop; answers not longer than the
// minimum duration are discarded as false triggers.
package transcript

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const DefaultMinAnswer = time.Second

type Role string

const (
	RoleInterviewer Role = "interviewer"
	RoleCandidate   Role = "candidate"
)

type QAPair struct {
	QuestionID      string
	QuestionText    string
	Category        Category
	AskedAt         time.Time
	AnswerText      string
	AnswerStartedAt time.Time
	AnswerEndedAt   time.Time
	Duration        time.Duration
}

// Utterance is one entry of the conversation log.
type Utterance struct {
	Role Role
	Text string
	At   time.Time
}

type Config struct {
	MinAnswer time.Duration
	Now       func() time.Time
}

type openQuestion struct {
	id       string
	text     string
	category Category
	askedAt  time.Time

	answerStarted time.Time
	answerText    strings.Builder
}

type Segmenter struct {
	minAnswer time.Duration
	now       func() time.Time

	mu       sync.Mutex
	seq      int
	pending  strings.Builder
	open     *openQuestion
	pairs    []QAPair
	lastPair int // index into pairs that late transcripts attach to, or -1
	log      []Utterance
}

func NewSegmenter(cfg Config) *Segmenter {
	if cfg.MinAnswer <= 0 {
		cfg.MinAnswer = DefaultMinAnswer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Segmenter{minAnswer: cfg.MinAnswer, now: cfg.Now, lastPair: -1}
}

// TextDelta buffers streamed interviewer text until the utterance completes.
func (s *Segmenter) TextDelta(delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.WriteString(delta)
}

// UtteranceCompleted records a finished interviewer utterance. When text is empty the
// buffered deltas are used. It reports whether a new question was opened.
func (s *Segmenter) UtteranceCompleted(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		text = strings.TrimSpace(s.pending.String())
	}
	s.pending.Reset()
	if text == "" {
		return false
	}

	now := s.now()
	s.log = append(s.log, Utterance{Role: RoleInterviewer, Text: text, At: now})

	if s.open != nil || !IsQuestion(text) {
		return false
	}
	s.seq++
	s.open = &openQuestion{
		id:       fmt.Sprintf("q_%d", s.seq),
		text:     text,
		category: Classify(text),
		askedAt:  now,
	}
	s.lastPair = -1
	return true
}

// SpeechStarted records the answer start for the open question, once.
func (s *Segmenter) SpeechStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil || !s.open.answerStarted.IsZero() {
		return
	}
	s.open.answerStarted = s.now()
}

// SpeechStopped closes the open answer. The pair is returned when the answer lasted
// longer than the minimum; either way the open question is cleared.
func (s *Segmenter) SpeechStopped() (QAPair, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil || s.open.answerStarted.IsZero() {
		return QAPair{}, false
	}
	q := s.open
	s.open = nil

	ended := s.now()
	d := ended.Sub(q.answerStarted)
	if d <= s.minAnswer {
		s.lastPair = -1
		return QAPair{}, false
	}
	pair := QAPair{
		QuestionID:      q.id,
		QuestionText:    q.text,
		Category:        q.category,
		AskedAt:         q.askedAt,
		AnswerText:      strings.TrimSpace(q.answerText.String()),
		AnswerStartedAt: q.answerStarted,
		AnswerEndedAt:   ended,
		Duration:        d,
	}
	s.pairs = append(s.pairs, pair)
	s.lastPair = len(s.pairs) - 1
	return pair, true
}

// InputTranscript attaches transcribed candidate speech to the answer in progress, or
// to the pair that just closed when the transcription arrives after speech-stop.
func (s *Segmenter) InputTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.log = append(s.log, Utterance{Role: RoleCandidate, Text: text, At: s.now()})

	switch {
	case s.open != nil && !s.open.answerStarted.IsZero():
		appendSpaced(&s.open.answerText, text)
	case s.lastPair >= 0:
		p := &s.pairs[s.lastPair]
		if p.AnswerText == "" {
			p.AnswerText = text
		} else {
			p.AnswerText += " " + text
		}
	}
}

func appendSpaced(b *strings.Builder, text string) {
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(text)
}

// Pairs returns the closed pairs in order.
func (s *Segmenter) Pairs() []QAPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]QAPair(nil), s.pairs...)
}

// Log returns the conversation log in order.
func (s *Segmenter) Log() []Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Utterance(nil), s.log...)
}

// OpenQuestion returns the id and text of the open question, if any.
func (s *Segmenter) OpenQuestion() (id, text string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil {
		return "", "", false
	}
	return s.open.id, s.open.text, true
}

func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = 0
	s.pending.Reset()
	s.open = nil
	s.pairs = nil
	s.lastPair = -1
	s.log = nil
}
