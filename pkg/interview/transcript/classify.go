package transcript

import (
	"strings"
	"unicode"
)

type Category string

const (
	CategoryTechnical   Category = "technical"
	CategoryBehavioral  Category = "behavioral"
	CategoryExperience  Category = "experience"
	CategorySituational Category = "situational"
)

// Categories lists every category in tie-break order.
var Categories = []Category{CategorySituational, CategoryTechnical, CategoryBehavioral, CategoryExperience}

func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

var interrogativeWords = map[string]struct{}{
	"what": {}, "how": {}, "why": {}, "when": {}, "where": {}, "which": {}, "who": {},
	"describe": {}, "explain": {},
}

var interrogativePhrases = []string{
	"can you", "could you", "would you", "have you", "do you", "did you", "are you",
	"tell me", "walk me through", "talk me through", "share an example", "give me an example",
	"i'd like to hear", "i would like to hear",
}

var categoryKeywords = map[Category][]string{
	CategorySituational: {
		"what would you do", "how would you", "imagine", "suppose", "if you were",
		"hypothetical", "scenario", "situation where", "what if",
	},
	CategoryTechnical: {
		"algorithm", "code", "coding", "system", "design", "architecture", "database",
		"api", "debug", "technical", "implement", "performance", "scale", "scalab",
		"latency", "data structure", "testing", "deploy",
	},
	CategoryBehavioral: {
		"team", "conflict", "disagree", "feedback", "challenge", "mistake", "failure",
		"lead", "colleague", "manager", "pressure", "deadline", "motivat", "stakeholder",
	},
	CategoryExperience: {
		"experience", "previous", "role", "project", "worked", "background", "career",
		"responsib", "accomplish", "achievement", "yourself", "resume",
	},
}

// IsQuestion reports whether an interviewer utterance asks something: it ends with a
// question mark or contains an interrogative cue.
func IsQuestion(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if strings.HasSuffix(text, "?") {
		return true
	}
	lower := strings.ToLower(text)
	for _, p := range interrogativePhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	for _, w := range words(lower) {
		if _, ok := interrogativeWords[w]; ok {
			return true
		}
	}
	return false
}

// Classify picks the category whose keywords occur most often in text. Ties resolve in
// Categories order; text matching nothing is behavioral.
func Classify(text string) Category {
	lower := strings.ToLower(text)
	best, bestScore := CategoryBehavioral, 0
	for _, c := range Categories {
		score := 0
		for _, kw := range categoryKeywords[c] {
			score += strings.Count(lower, kw)
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}
