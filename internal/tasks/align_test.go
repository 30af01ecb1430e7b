package tasks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTextGrid = `File type = "ooTextFile"
Object class = "TextGrid"

xmin = 0
xmax = 3.5
tiers? <exists>
size = 1
item []:
    item [1]:
        class = "IntervalTier"
        name = "words"
        xmin = 0
        xmax = 3.5
        intervals: size = 4
        intervals [1]:
            xmin = 0
            xmax = 0.5
            text = "sil"
        intervals [2]:
            xmin = 0.5
            xmax = 1.5
            text = "hello"
        intervals [3]:
            xmin = 1.5
            xmax = 1.8
            text = "sp"
        intervals [4]:
            xmin = 1.8
            xmax = 3.5
            text = "world"
`

func TestParseTextGridWordTierSkipsSilenceAndShortPause(t *testing.T) {
	path := filepath.Join(t.TempDir(), "align_one.TextGrid")
	require.NoError(t, os.WriteFile(path, []byte(sampleTextGrid), 0o644))

	intervals, err := parseTextGridWordTier(path)
	require.NoError(t, err)

	assert.Equal(t, [][2]float64{{0.5, 1.5}, {1.8, 3.5}}, intervals)
}

func TestParseTextGridWordTierMissingFile(t *testing.T) {
	_, err := parseTextGridWordTier(filepath.Join(t.TempDir(), "missing.TextGrid"))
	assert.Error(t, err)
}

func TestDistributeEvenlySplitsSentenceSpanAcrossWords(t *testing.T) {
	sentence := Sentence{
		Start: 10, End: 13,
		Words: []Word{{Word: "a"}, {Word: "b"}, {Word: "c"}},
	}

	words := distributeEvenly(sentence)

	require.Len(t, words, 3)
	assert.Equal(t, 10.0, words[0].Start)
	assert.InDelta(t, 11.0, words[0].End, 1e-9)
	assert.InDelta(t, 11.0, words[1].Start, 1e-9)
	assert.InDelta(t, 12.0, words[1].End, 1e-9)
	assert.InDelta(t, 12.0, words[2].Start, 1e-9)
	assert.Equal(t, 13.0, words[2].End)
}

func TestDistributeEvenlyOnEmptySentenceReturnsNil(t *testing.T) {
	assert.Nil(t, distributeEvenly(Sentence{}))
}
