package tasks

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/jc-comp/karaoke-scheduler/internal/pipeline"
)

// AlignLyrics refines each mapped lyric line's word boundaries against the
// vocal track using a Montreal Forced Aligner acoustic model, grounded on
// original_source/karaoke/worker/tasks/align.py (AlignLyricsExecution).
// The source holds the acoustic model and lexicon compiler resident across
// runs via its Execution._preload hook; here AlignLyrics has no Preload of
// its own (it embeds NoPreload), and residency is left to DaemonExecutor
// the same way TranscriptLyrics defers it.
type AlignLyrics struct {
	pipeline.NoPreload
	deps *Deps
}

func NewAlignLyrics(deps *Deps) *AlignLyrics {
	return &AlignLyrics{deps: deps}
}

func (t *AlignLyrics) Name() string { return "align" }

func (t *AlignLyrics) Run(ctx context.Context, rt *pipeline.Runtime) pipeline.Outcome {
	audioPath := argString(rt, "Vocals_only")
	if audioPath == "" {
		return pipeline.OutcomeFailed(fmt.Errorf("align: no vocal track"))
	}
	var mapped []Sentence
	argDecode(rt, "mapped_lyrics", &mapped)

	cachePath := audioPath + ".textgrid"
	var cached []Word
	if readJSON(cachePath, &cached) {
		rt.Info("Found aligned lyrics in cache")
		return t.setResult(rt, audioPath, cached)
	}

	rt.Info("Align lyrics from lyrics")
	var aligned []Word
	for _, sentence := range mapped {
		if len(sentence.Words) == 1 {
			w := sentence.Words[0]
			w.Start, w.End = sentence.Start, sentence.End
			aligned = append(aligned, w)
			continue
		}
		words, err := t.alignSentence(ctx, audioPath, sentence)
		if err != nil {
			if ctx.Err() != nil {
				return pipeline.OutcomeInterrupted()
			}
			rt.Warn(fmt.Sprintf("alignment failed for %q, using fallback distribution: %s", sentence.Text, err))
			words = distributeEvenly(sentence)
		}
		aligned = append(aligned, words...)
	}

	if err := writeJSON(cachePath, aligned); err != nil {
		rt.Warn(fmt.Sprintf("failed to cache aligned lyrics: %s", err))
	}

	rt.Info("Alignment completed")
	return t.setResult(rt, audioPath, aligned)
}

func (t *AlignLyrics) setResult(rt *pipeline.Runtime, audioPath string, aligned []Word) pipeline.Outcome {
	rt.SetPassingArgs(map[string]any{"aligned_lyrics": aligned})
	a := newArtifact("Aligned lyrics", model.ArtifactSegments, "")
	a.Attached = append(a.Attached, newArtifact("audio", model.ArtifactAudio, audioPath))
	rt.AddArtifact(a, "")
	return pipeline.OutcomeCompleted()
}

// distributeEvenly is align.py's fallback: split the sentence's time span
// equally across its words when forced alignment fails to converge.
func distributeEvenly(sentence Sentence) []Word {
	n := len(sentence.Words)
	if n == 0 {
		return nil
	}
	interval := (sentence.End - sentence.Start) / float64(n)
	out := make([]Word, n)
	for i, w := range sentence.Words {
		w.Start = sentence.Start + float64(i)*interval
		w.End = sentence.Start + float64(i+1)*interval
		out[i] = w
	}
	return out
}

// alignSentence shells out to a Montreal Forced Aligner per-utterance
// alignment binary (configured via mfa.path/mfa.acoustic_model), writing a
// TextGrid whose word tier is parsed back into per-word timing. MFA's own
// per-utterance CLI takes a sound clip and word list and streams timed
// intervals; this mirrors the source's kalpy-based online alignment at the
// process boundary instead of embedding MFA's library.
func (t *AlignLyrics) alignSentence(ctx context.Context, audioPath string, sentence Sentence) ([]Word, error) {
	bin := t.deps.collaborator("mfa.path")
	if bin == "" {
		bin = "mfa"
	}
	acoustic := t.deps.collaborator("mfa.acoustic_model")
	dictionary := t.deps.collaborator("mfa.dictionary")
	if acoustic == "" || dictionary == "" {
		return nil, fmt.Errorf("mfa acoustic model/dictionary not configured")
	}

	outDir := filepath.Dir(audioPath)
	args := []string{
		"align_one", audioPath,
		strconv.FormatFloat(sentence.Start, 'f', -1, 64),
		strconv.FormatFloat(sentence.End, 'f', -1, 64),
		dictionary, acoustic, outDir,
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	if err := cmd.Run(); err != nil {
		return nil, err
	}

	textgridPath := filepath.Join(outDir, "align_one.TextGrid")
	intervals, err := parseTextGridWordTier(textgridPath)
	if err != nil {
		return nil, err
	}
	if len(intervals) != len(sentence.Words) {
		return nil, fmt.Errorf("mfa: word count mismatch (%d intervals, %d words)", len(intervals), len(sentence.Words))
	}
	words := make([]Word, len(sentence.Words))
	for i, w := range sentence.Words {
		words[i] = Word{Word: w.Word, Start: intervals[i][0], End: intervals[i][1]}
	}
	return words, nil
}

// parseTextGridWordTier reads the "words" interval tier out of a Praat
// TextGrid file, returning each interval's [start, end] in seconds. Only
// the fields align.go needs are parsed; the format otherwise follows
// Praat's long TextGrid text layout.
func parseTextGridWordTier(path string) ([][2]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var intervals [][2]float64
	var start, end float64
	haveStart, haveEnd := false, false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "xmin ="):
			if v, err := parseTextGridFloat(line); err == nil {
				start, haveStart = v, true
			}
		case strings.HasPrefix(line, "xmax ="):
			if v, err := parseTextGridFloat(line); err == nil {
				end, haveEnd = v, true
			}
		case strings.HasPrefix(line, "text =") && haveStart && haveEnd:
			text := strings.Trim(strings.TrimPrefix(line, "text ="), ` "`)
			if text != "" && text != "sil" && text != "sp" {
				intervals = append(intervals, [2]float64{start, end})
			}
			haveStart, haveEnd = false, false
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return intervals, nil
}

func parseTextGridFloat(line string) (float64, error) {
	parts := strings.SplitN(line, "=", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed textgrid line %q", line)
	}
	return strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
}
