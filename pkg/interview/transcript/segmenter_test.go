package transcript

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSegmenter() (*Segmenter, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return NewSegmenter(Config{Now: clk.Now}), clk
}

func TestSegmenter_ShortAnswerIsDiscarded(t *testing.T) {
	s, clk := newTestSegmenter()
	require.True(t, s.UtteranceCompleted("What drew you to this role?"))

	s.SpeechStarted()
	clk.Advance(500 * time.Millisecond)
	_, ok := s.SpeechStopped()
	assert.False(t, ok)
	assert.Empty(t, s.Pairs())

	_, _, open := s.OpenQuestion()
	assert.False(t, open, "discarded answer must clear the open question")
}

func TestSegmenter_AnswerLongerThanThresholdIsEmitted(t *testing.T) {
	s, clk := newTestSegmenter()
	asked := clk.Now()
	require.True(t, s.UtteranceCompleted("What drew you to this role?"))

	s.SpeechStarted()
	clk.Advance(2 * time.Second)
	pair, ok := s.SpeechStopped()
	require.True(t, ok)

	assert.Equal(t, "q_1", pair.QuestionID)
	assert.Equal(t, "What drew you to this role?", pair.QuestionText)
	assert.Equal(t, CategoryExperience, pair.Category)
	assert.Equal(t, asked, pair.AskedAt)
	assert.Equal(t, 2*time.Second, pair.Duration)
	assert.Equal(t, []QAPair{pair}, s.Pairs())
}

func TestSegmenter_ExactlyMinimumIsDiscarded(t *testing.T) {
	s, clk := newTestSegmenter()
	s.UtteranceCompleted("Why?")
	s.SpeechStarted()
	clk.Advance(time.Second)
	_, ok := s.SpeechStopped()
	assert.False(t, ok)
}

func TestSegmenter_SecondQuestionWhileOpenIsDropped(t *testing.T) {
	s, clk := newTestSegmenter()
	assert.True(t, s.UtteranceCompleted("How do you handle conflict on a team?"))
	assert.False(t, s.UtteranceCompleted("And how would you scale a database?"))

	id, text, ok := s.OpenQuestion()
	require.True(t, ok)
	assert.Equal(t, "q_1", id)
	assert.Equal(t, "How do you handle conflict on a team?", text)

	s.SpeechStarted()
	clk.Advance(3 * time.Second)
	s.SpeechStopped()

	assert.True(t, s.UtteranceCompleted("Can you describe a system you designed?"))
	id, _, _ = s.OpenQuestion()
	assert.Equal(t, "q_2", id)
}

func TestSegmenter_StatementsDoNotOpenQuestions(t *testing.T) {
	s, _ := newTestSegmenter()
	assert.False(t, s.UtteranceCompleted("Thanks, that is helpful."))
	assert.False(t, s.UtteranceCompleted("   "))
	_, _, ok := s.OpenQuestion()
	assert.False(t, ok)
	assert.Len(t, s.Log(), 1)
}

func TestSegmenter_SpeechWithoutQuestionIsIgnored(t *testing.T) {
	s, clk := newTestSegmenter()
	s.SpeechStarted()
	clk.Advance(5 * time.Second)
	_, ok := s.SpeechStopped()
	assert.False(t, ok)
}

func TestSegmenter_OnlyFirstSpeechStartCounts(t *testing.T) {
	s, clk := newTestSegmenter()
	s.UtteranceCompleted("Tell me about yourself.")
	s.SpeechStarted()
	clk.Advance(time.Second)
	s.SpeechStarted()
	clk.Advance(time.Second)
	pair, ok := s.SpeechStopped()
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, pair.Duration)
}

func TestSegmenter_DeltasFormUtteranceText(t *testing.T) {
	s, _ := newTestSegmenter()
	s.TextDelta("How would you ")
	s.TextDelta("debug a slow API?")
	require.True(t, s.UtteranceCompleted(""))
	_, text, _ := s.OpenQuestion()
	assert.Equal(t, "How would you debug a slow API?", text)

	// Buffer is reset once the utterance completes.
	assert.False(t, s.UtteranceCompleted(""))
}

func TestSegmenter_InputTranscriptAttachesToAnswer(t *testing.T) {
	s, clk := newTestSegmenter()
	s.UtteranceCompleted("What was your last project?")
	s.SpeechStarted()
	s.InputTranscript("I built a billing service")
	clk.Advance(3 * time.Second)
	pair, ok := s.SpeechStopped()
	require.True(t, ok)
	assert.Equal(t, "I built a billing service", pair.AnswerText)

	// Transcription arriving after speech-stop lands on the pair that just closed.
	s.InputTranscript("in Go.")
	pairs := s.Pairs()
	require.Len(t, pairs, 1)
	assert.Equal(t, "I built a billing service in Go.", pairs[0].AnswerText)

	// Once a new question opens, late transcripts no longer attach to the old pair.
	s.UtteranceCompleted("Why Go?")
	s.InputTranscript("stray")
	assert.Equal(t, "I built a billing service in Go.", s.Pairs()[0].AnswerText)

	log := s.Log()
	require.Len(t, log, 5)
	assert.Equal(t, RoleInterviewer, log[0].Role)
	assert.Equal(t, RoleCandidate, log[1].Role)
}

func TestSegmenter_Reset(t *testing.T) {
	s, clk := newTestSegmenter()
	s.UtteranceCompleted("Why?")
	s.SpeechStarted()
	clk.Advance(2 * time.Second)
	s.SpeechStopped()
	s.Reset()
	assert.Empty(t, s.Pairs())
	assert.Empty(t, s.Log())
	s.UtteranceCompleted("Why?")
	id, _, _ := s.OpenQuestion()
	assert.Equal(t, "q_1", id)
}
