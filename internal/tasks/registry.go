package tasks

import (
	"fmt"

	"github.com/jc-comp/karaoke-scheduler/internal/pipeline"
)

// Registry resolves a task's Name() back into a fresh TaskBody instance,
// needed wherever a task runs outside the process that built the DAG: a
// re-exec'd subprocess only receives --task <name> on argv, and a daemon
// server is started against one task name at a time.
type Registry struct {
	deps     *Deps
	builders map[string]func(*Deps) pipeline.TaskBody
}

func NewRegistry(deps *Deps) *Registry {
	return &Registry{
		deps: deps,
		builders: map[string]func(*Deps) pipeline.TaskBody{
			"download_video":      func(d *Deps) pipeline.TaskBody { return NewDownloadYoutubeVideo(d) },
			"download_audio":      func(d *Deps) pipeline.TaskBody { return NewDownloadYoutubeAudio(d) },
			"identify":            func(d *Deps) pipeline.TaskBody { return NewIdentifyMusic(d) },
			"lyric":               func(d *Deps) pipeline.TaskBody { return NewFetchLyrics(d) },
			"seperate_vocal":      func(d *Deps) pipeline.TaskBody { return NewSeperateVocal(d) },
			"seperate_instrument": func(d *Deps) pipeline.TaskBody { return NewSeperateInstrument(d) },
			"voice_activity":      func(d *Deps) pipeline.TaskBody { return NewVoiceActivity(d) },
			"transcript":          func(d *Deps) pipeline.TaskBody { return NewTranscriptLyrics(d) },
			"mapping":             func(d *Deps) pipeline.TaskBody { return NewMapLyrics(d) },
			"align":               func(d *Deps) pipeline.TaskBody { return NewAlignLyrics(d) },
			"subtitle":            func(d *Deps) pipeline.TaskBody { return NewGenerateSubtitle(d) },
			"video":               func(d *Deps) pipeline.TaskBody { return NewGenerateVideo(d) },
		},
	}
}

func (r *Registry) Build(name string) (pipeline.TaskBody, error) {
	builder, ok := r.builders[name]
	if !ok {
		return nil, fmt.Errorf("tasks: unknown task %q", name)
	}
	return builder(r.deps), nil
}
