package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/jc-comp/karaoke-scheduler/internal/pipeline"
)

// seperateAudio runs the nomadkaraoke/python-audio-separator CLI against
// the downloaded audio, isolating one named stem, grounded on
// original_source/karaoke/worker/tasks/seprate.py (SeperateAudioExecution).
// Both SeperateVocal and SeperateInstrument share this body, parameterized
// by model file and stem name, matching the source's SeperateAudio base
// class.
type seperateAudio struct {
	pipeline.NoPreload
	deps       *Deps
	name       string
	modelName  string
	passingKey string
}

func (t *seperateAudio) Name() string { return t.name }

func (t *seperateAudio) Run(ctx context.Context, rt *pipeline.Runtime) pipeline.Outcome {
	rt.Info("Seperate audio from video")
	audioPath := argString(rt, "audio_path")
	if audioPath == "" {
		return pipeline.OutcomeFailed(fmt.Errorf("%s: no source audio", t.name))
	}
	outputDir := filepath.Dir(audioPath)

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	stemName := fmt.Sprintf("%s_%s", base, t.passingKey)
	stemPath := filepath.Join(outputDir, stemName+".mp3")

	if _, err := os.Stat(stemPath); err == nil {
		rt.Info("Found separated audio in cache")
		return t.setResult(rt, stemPath)
	}

	bin := t.deps.collaborator("separator.path")
	if bin == "" {
		bin = "audio-separator"
	}

	args := []string{
		audioPath,
		"--model_filename", t.modelName,
		"--output_dir", outputDir,
		"--output_format", "mp3",
		"--single_stem", t.passingKey,
		"--custom_output_names", fmt.Sprintf(`{"%s":"%s"}`, t.passingKey, stemName),
	}
	if err := runExternal(ctx, rt, bin, args...); err != nil {
		if ctx.Err() != nil {
			return pipeline.OutcomeInterrupted()
		}
		return pipeline.OutcomeFailed(err)
	}

	return t.setResult(rt, stemPath)
}

func (t *seperateAudio) setResult(rt *pipeline.Runtime, path string) pipeline.Outcome {
	rt.SetPassingArgs(map[string]any{t.passingKey + "_only": path})
	rt.AddArtifact(newArtifact("Separated "+t.passingKey, model.ArtifactAudio, path), t.passingKey)
	rt.Info("Separation completed")
	return pipeline.OutcomeCompleted()
}

// SeperateVocal isolates the vocal stem with the Kim_Vocal_2 model, the
// track voice activity detection, transcription and alignment all run on.
type SeperateVocal struct{ seperateAudio }

func NewSeperateVocal(deps *Deps) *SeperateVocal {
	return &SeperateVocal{seperateAudio{
		deps: deps, name: "seperate_vocal",
		modelName: "Kim_Vocal_2.onnx", passingKey: "Vocals",
	}}
}

// SeperateInstrument isolates the instrumental stem with the
// UVR_MDXNET_KARA_2 model, the backing track the final video is mixed over.
type SeperateInstrument struct{ seperateAudio }

func NewSeperateInstrument(deps *Deps) *SeperateInstrument {
	return &SeperateInstrument{seperateAudio{
		deps: deps, name: "seperate_instrument",
		modelName: "UVR_MDXNET_KARA_2.onnx", passingKey: "Instrumental",
	}}
}
