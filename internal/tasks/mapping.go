package tasks

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/jc-comp/karaoke-scheduler/internal/pipeline"
)

// MapLyrics aligns the fetched lyrics text against the whisper transcription
// at word granularity using a longest-common-subsequence match, then groups
// the transcription's timestamps under each matched lyric line. Ported from
// original_source/karaoke/worker/tasks/mapping.py (matching/grouping/
// unwrap_mistranscribed_words); the DP table, traceback and grouping rules
// are kept structurally identical to the source so matching behavior does
// not drift.
type MapLyrics struct {
	pipeline.NoPreload
	deps *Deps
}

func NewMapLyrics(deps *Deps) *MapLyrics {
	return &MapLyrics{deps: deps}
}

func (t *MapLyrics) Name() string { return "mapping" }

// taggedWord is one word in either sequence being matched: its text, the
// line/sentence it belongs to, its source timing (zero for lyrics words,
// which have none until mapped), and the 1-indexed position it was matched
// against in the other sequence (0 means unmatched).
type taggedWord struct {
	Word  string
	Group int
	Start float64
	End   float64
	Pair  int
}

func (t *MapLyrics) Run(ctx context.Context, rt *pipeline.Runtime) pipeline.Outcome {
	rt.Info("Mapping transcription with lyrics")

	var transcription []Word
	argDecode(rt, "transcription", &transcription)
	vocalPath := argString(rt, "Vocals_only")
	lyrics := argString(rt, "lyrics")

	if len(transcription) == 0 {
		return pipeline.OutcomeFailed(fmt.Errorf("mapping: no transcription to map"))
	}

	transcriptionWords := make([]taggedWord, len(transcription))
	for i, w := range transcription {
		transcriptionWords[i] = taggedWord{Word: w.Text, Group: i, Start: w.Start, End: w.End}
	}
	fallback := transcriptionSentences(transcription)

	if lyrics == "" {
		t.setResult(rt, vocalPath, fallback)
		return pipeline.OutcomeSoftFailed("No lyrics found, using transcription")
	}

	lyricsWords := buildLyricsWords(lyrics)
	matched := matching(transcriptionWords, lyricsWords)
	if float64(matched) < float64(len(lyricsWords))*0.4 {
		t.setResult(rt, vocalPath, fallback)
		return pipeline.OutcomeSoftFailed(fmt.Sprintf(
			"Not enough match found (%d / %d / %d), using transcription",
			matched, len(lyricsWords), len(transcriptionWords)))
	}

	rt.Info("Remapping timestamps")
	sentences := grouping(lyricsWords, transcriptionWords)
	renderSentenceText(sentences)

	t.setResult(rt, vocalPath, sentences)
	rt.Info("Mapping completed")
	return pipeline.OutcomeCompleted()
}

func (t *MapLyrics) setResult(rt *pipeline.Runtime, vocalPath string, sentences []Sentence) {
	rt.SetPassingArgs(map[string]any{"mapped_lyrics": sentences})
	a := newArtifact("Mapped lyrics", model.ArtifactSegments, "")
	a.Attached = append(a.Attached, newArtifact("audio", model.ArtifactAudio, vocalPath))
	rt.AddArtifact(a, "")
}

// transcriptionSentences is the fallback shape used when there is no
// lyrics text (or too weak a match) to map against: one sentence per
// transcription entry, verbatim.
func transcriptionSentences(transcription []Word) []Sentence {
	out := make([]Sentence, len(transcription))
	for i, w := range transcription {
		out[i] = Sentence{Start: w.Start, End: w.End, Text: w.Text, Words: []Word{w}}
	}
	return out
}

func buildLyricsWords(lyrics string) []taggedWord {
	var words []taggedWord
	for idx, line := range strings.Split(lyrics, "\n") {
		for _, tok := range separateSentence(line) {
			words = append(words, taggedWord{Word: tok, Group: idx})
		}
	}
	return words
}

func compareWord(a, b string) bool {
	return strings.EqualFold(a, b)
}

// matching runs the longest-common-subsequence DP between the
// transcription and lyrics word sequences, tagging each word's Pair with
// the 1-indexed matched position on traceback, and returns the match
// length.
func matching(transcriptionWords, lyricsWords []taggedWord) int {
	n, m := len(transcriptionWords), len(lyricsWords)
	dp := make([][]int, n+1)
	route := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
		route[i] = make([]int, m+1)
	}

	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if compareWord(transcriptionWords[i-1].Word, lyricsWords[j-1].Word) {
				route[i][j] = 0
				dp[i][j] = dp[i-1][j-1] + 1
				continue
			}
			if dp[i-1][j] >= dp[i][j-1] {
				route[i][j] = 1
				dp[i][j] = dp[i-1][j]
			} else {
				route[i][j] = 2
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	i, j := n, m
	for i > 0 && j > 0 {
		switch route[i][j] {
		case 0:
			lyricsWords[j-1].Pair = i
			transcriptionWords[i-1].Pair = j
			i--
			j--
		case 1:
			i--
		default:
			j--
		}
	}
	return dp[n][m]
}

func shouldInsertNewGroup(pair int, transcriptionWords []taggedWord, currentGroup int, lastPair int, hasLast bool) bool {
	if transcriptionWords[pair].Group == currentGroup {
		return false
	}
	if !hasLast {
		return false
	}
	if currentGroup+1 != transcriptionWords[pair].Group {
		return false
	}
	if lastPair+1 < len(transcriptionWords) {
		if transcriptionWords[lastPair+1].Group == transcriptionWords[lastPair].Group {
			return false
		}
	}
	if pair-1 >= 0 {
		if transcriptionWords[pair].Group == transcriptionWords[pair-1].Group {
			return false
		}
	}
	return true
}

// grouping assigns every lyrics word (matched or not) into a time-bounded
// sentence derived from its matched transcription word's timestamps, per
// mapping.py's grouping(). A lyrics word with no match is appended to
// whichever sentence is currently open.
func grouping(lyricsWords, transcriptionWords []taggedWord) []Sentence {
	sentences := []Sentence{{
		Start: transcriptionWords[0].Start, End: transcriptionWords[0].End,
		StartMappedIdx: 0, EndMappedIdx: 0,
	}}
	currentGroup := 0

	i := 0
	for i < len(lyricsWords) {
		lastPair := -1
		hasLast := false
		for i < len(lyricsWords) {
			word := lyricsWords[i]
			if word.Pair != 0 {
				pair := word.Pair - 1
				if shouldInsertNewGroup(pair, transcriptionWords, currentGroup, lastPair, hasLast) {
					sentences[len(sentences)-1].End = transcriptionWords[lastPair].End
					sentences[len(sentences)-1].EndMappedIdx = lastPair
					sentences = append(sentences, Sentence{
						Start: transcriptionWords[pair].Start, End: transcriptionWords[pair].End,
						StartMappedIdx: pair, EndMappedIdx: pair,
					})
					currentGroup = transcriptionWords[pair].Group
					break
				}
				currentGroup = transcriptionWords[pair].Group
				lastPair = pair
				hasLast = true
			}
			sentences[len(sentences)-1].Words = append(sentences[len(sentences)-1].Words, Word{Word: word.Word, Group: currentGroup})
			i++
		}
	}
	last := &sentences[len(sentences)-1]
	last.End = transcriptionWords[len(transcriptionWords)-1].End
	last.EndMappedIdx = len(transcriptionWords) - 1
	return sentences
}

func renderSentenceText(sentences []Sentence) {
	for i := range sentences {
		if len(sentences[i].Words) == 0 {
			continue
		}
		var b strings.Builder
		b.WriteString(sentences[i].Words[0].Word)
		for _, w := range sentences[i].Words[1:] {
			if isASCII(w.Word) {
				b.WriteString(" ")
			}
			b.WriteString(w.Word)
		}
		sentences[i].Text = b.String()
	}
}

var nonASCIIOrSpaceRe = regexp.MustCompile(`([^\x00-\x7F])|\s+`)

// separateSentence tokenizes a lyric/transcription line the way
// mapping.py's separate_sentence does: every non-ASCII rune is its own
// token, and ASCII runs split on whitespace.
func separateSentence(line string) []string {
	var tokens []string
	last := 0
	for _, m := range nonASCIIOrSpaceRe.FindAllStringIndex(line, -1) {
		if m[0] > last {
			tokens = append(tokens, line[last:m[0]])
		}
		sep := line[m[0]:m[1]]
		if !isWhitespace(sep) {
			tokens = append(tokens, sep)
		}
		last = m[1]
	}
	if last < len(line) {
		tokens = append(tokens, line[last:])
	}
	var out []string
	for _, tok := range tokens {
		if tok != "" && !isWhitespace(tok) {
			out = append(out, tok)
		}
	}
	return out
}

func isWhitespace(s string) bool {
	return strings.TrimSpace(s) == ""
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
	}
	return true
}
