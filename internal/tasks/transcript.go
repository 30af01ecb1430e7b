package tasks

import (
	"context"
	"fmt"
	"os"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/jc-comp/karaoke-scheduler/internal/pipeline"
)

// TranscriptLyrics transcribes the voice-activity-trimmed vocal track with
// whisper, producing word-level timestamps, grounded on
// original_source/karaoke/worker/tasks/transcript.py
// (TranscriptLyricsExecution). The source loads the whisper model once and
// keeps it resident across jobs (its Execution._preload); here that
// residency is DaemonExecutor's job, so TranscriptLyrics has no Preload of
// its own (it embeds NoPreload) and reads the model size in Run.
type TranscriptLyrics struct {
	pipeline.NoPreload
	deps *Deps
}

func NewTranscriptLyrics(deps *Deps) *TranscriptLyrics {
	return &TranscriptLyrics{deps: deps}
}

func (t *TranscriptLyrics) Name() string { return "transcript" }

func (t *TranscriptLyrics) Run(ctx context.Context, rt *pipeline.Runtime) pipeline.Outcome {
	vocalPath := argString(rt, "vad_vocal_path")
	if vocalPath == "" {
		return pipeline.OutcomeFailed(fmt.Errorf("transcript: no vad vocal track"))
	}

	cachePath := vocalPath + ".transcript"
	var cached []Word
	if readJSON(cachePath, &cached) {
		rt.Info("Found transcription in cache")
		return t.setResult(rt, vocalPath, cached)
	}

	rt.Info("Transcribing lyrics with whisper")
	outPath := cachePath + ".json"
	bin := t.deps.collaborator("transcription.path")
	if bin == "" {
		bin = "whisper"
	}
	model_ := t.deps.collaborator("transcription.model")
	if model_ == "" {
		model_ = "medium"
	}

	args := []string{
		vocalPath, "--language", "zh", "--model", model_,
		"--word_timestamps", "True", "--output_format", "json",
		"--output_dir", os.TempDir(),
		"--condition_on_previous_text", "False", "--verbose", "False",
	}
	if err := runExternal(ctx, rt, bin, args...); err != nil {
		if ctx.Err() != nil {
			return pipeline.OutcomeInterrupted()
		}
		return pipeline.OutcomeFailed(err)
	}

	var raw whisperOutput
	if !readJSON(outPath, &raw) {
		return pipeline.OutcomeFailed(fmt.Errorf("transcript: whisper produced no output"))
	}

	var words []Word
	for _, segment := range raw.Segments {
		for _, w := range segment.Words {
			words = append(words, Word{
				Start: w.Start, End: w.End,
				Text:         convertSimplifiedToTraditional(w.Word),
				NoSpeechProb: segment.NoSpeechProb,
			})
		}
	}

	if err := writeJSON(cachePath, words); err != nil {
		rt.Warn(fmt.Sprintf("failed to cache transcription: %s", err))
	}

	rt.Info("Transcription completed")
	return t.setResult(rt, vocalPath, words)
}

func (t *TranscriptLyrics) setResult(rt *pipeline.Runtime, vocalPath string, words []Word) pipeline.Outcome {
	rt.SetPassingArgs(map[string]any{"transcription": words})
	a := newArtifact("Transcription results", model.ArtifactSegments, "")
	a.Attached = append(a.Attached, newArtifact("audio", model.ArtifactAudio, vocalPath))
	rt.AddArtifact(a, "")
	return pipeline.OutcomeCompleted()
}

type whisperOutput struct {
	Segments []struct {
		NoSpeechProb float64 `json:"no_speech_prob"`
		Words        []struct {
			Start float64 `json:"start"`
			End   float64 `json:"end"`
			Word  string  `json:"word"`
		} `json:"words"`
	} `json:"segments"`
}
