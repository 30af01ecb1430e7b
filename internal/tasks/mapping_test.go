package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeparateSentenceSplitsAsciiOnWhitespaceAndTagsEachNonAsciiRune(t *testing.T) {
	assert.Equal(t, []string{"hello", "world"}, separateSentence("hello world"))
	assert.Equal(t, []string{"你", "好"}, separateSentence("你好"))
	assert.Equal(t, []string{"hi", "你", "好", "there"}, separateSentence("hi 你好 there"))
}

func TestCompareWordIsCaseInsensitive(t *testing.T) {
	assert.True(t, compareWord("Hello", "hello"))
	assert.False(t, compareWord("hello", "world"))
}

func TestMatchingFindsExactLCSAndTagsPairs(t *testing.T) {
	transcription := []taggedWord{{Word: "we"}, {Word: "will"}, {Word: "rock"}, {Word: "you"}}
	lyrics := []taggedWord{{Word: "we"}, {Word: "will"}, {Word: "rock"}, {Word: "you"}}

	matched := matching(transcription, lyrics)

	assert.Equal(t, 4, matched)
	for i := range lyrics {
		assert.Equal(t, i+1, lyrics[i].Pair, "lyrics word %d should pair with transcription position %d", i, i+1)
	}
}

func TestMatchingSkipsMismatchedWords(t *testing.T) {
	transcription := []taggedWord{{Word: "we"}, {Word: "will"}, {Word: "definitely"}, {Word: "rock"}, {Word: "you"}}
	lyrics := []taggedWord{{Word: "we"}, {Word: "will"}, {Word: "rock"}, {Word: "you"}}

	matched := matching(transcription, lyrics)
	assert.Equal(t, 4, matched)
}

func TestGroupingProducesOneSentencePerContiguousTranscriptionRun(t *testing.T) {
	transcriptionWords := []taggedWord{
		{Word: "we", Group: 0, Start: 0, End: 1},
		{Word: "will", Group: 0, Start: 1, End: 2},
		{Word: "rock", Group: 1, Start: 3, End: 4},
		{Word: "you", Group: 1, Start: 4, End: 5},
	}
	lyricsWords := []taggedWord{
		{Word: "we", Group: 0, Pair: 1},
		{Word: "will", Group: 0, Pair: 2},
		{Word: "rock", Group: 1, Pair: 3},
		{Word: "you", Group: 1, Pair: 4},
	}

	sentences := grouping(lyricsWords, transcriptionWords)

	assert.Len(t, sentences, 2)
	assert.Equal(t, 0.0, sentences[0].Start)
	assert.Equal(t, 5.0, sentences[len(sentences)-1].End)
}

func TestRenderSentenceTextJoinsAsciiWithSpacesAndNonAsciiWithoutSpaces(t *testing.T) {
	sentences := []Sentence{
		{Words: []Word{{Word: "hello"}, {Word: "world"}}},
		{Words: []Word{{Word: "你"}, {Word: "好"}}},
	}
	renderSentenceText(sentences)
	assert.Equal(t, "hello world", sentences[0].Text)
	assert.Equal(t, "你好", sentences[1].Text)
}

func TestRenderSentenceTextSkipsEmptySentences(t *testing.T) {
	sentences := []Sentence{{Words: nil}}
	renderSentenceText(sentences)
	assert.Empty(t, sentences[0].Text)
}

func TestBuildLyricsWordsSplitsLinesIntoGroups(t *testing.T) {
	words := buildLyricsWords("we will\nrock you")
	assert.Equal(t, []taggedWord{
		{Word: "we", Group: 0},
		{Word: "will", Group: 0},
		{Word: "rock", Group: 1},
		{Word: "you", Group: 1},
	}, words)
}

func TestTranscriptionSentencesWrapsEachWordAlone(t *testing.T) {
	out := transcriptionSentences([]Word{{Text: "hi", Start: 0, End: 1}})
	assert.Len(t, out, 1)
	assert.Equal(t, "hi", out[0].Text)
	assert.Equal(t, []Word{{Text: "hi", Start: 0, End: 1}}, out[0].Words)
}
