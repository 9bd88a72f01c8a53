package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsQuestion(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"Is that right?", true},
		{"Tell me about a time you failed.", true},
		{"Walk me through your last deploy.", true},
		{"Describe your ideal team.", true},
		{"I'd like to hear how you prioritize.", true},
		{"Great, thank you.", false},
		{"Let's move on.", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsQuestion(tc.text), tc.text)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		text string
		want Category
	}{
		{"Suppose you were handed an impossible scenario. What would you do?", CategorySituational},
		{"Explain the difference between a database index and a cache.", CategoryTechnical},
		{"Tell me about a conflict with a colleague.", CategoryBehavioral},
		{"Walk me through your previous role.", CategoryExperience},
		{"Anything else?", CategoryBehavioral},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.text), tc.text)
	}
}

func TestCategoryValid(t *testing.T) {
	assert.True(t, CategoryTechnical.Valid())
	assert.False(t, Category("trivia").Valid())
}
