package tasks

import (
	"context"
	"fmt"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/jc-comp/karaoke-scheduler/internal/pipeline"
)

// DownloadYoutubeVideo fetches the source video, grounded on
// original_source/karaoke/worker/tasks/download.py (DownloadYoutubeExecution).
type DownloadYoutubeVideo struct {
	pipeline.NoPreload
	deps *Deps
}

func NewDownloadYoutubeVideo(deps *Deps) *DownloadYoutubeVideo {
	return &DownloadYoutubeVideo{deps: deps}
}

func (t *DownloadYoutubeVideo) Name() string { return "download_video" }

func (t *DownloadYoutubeVideo) Run(ctx context.Context, rt *pipeline.Runtime) pipeline.Outcome {
	media := rt.Media()
	if media.URL == "" {
		return pipeline.OutcomeFailed(fmt.Errorf("download_video: job has no source URL"))
	}

	out := model.CachePath(t.deps.MediaPath, rt.JID(), "video", "mp4")
	ytdlp := t.deps.collaborator("ytdlp.path")
	if ytdlp == "" {
		ytdlp = "yt-dlp"
	}

	if err := runExternal(ctx, rt, ytdlp, "-f", "mp4", "-o", out, media.URL); err != nil {
		if ctx.Err() != nil {
			return pipeline.OutcomeInterrupted()
		}
		return pipeline.OutcomeFailed(err)
	}

	rt.SetPassingArgs(map[string]any{"video_path": out})
	rt.AddArtifact(newArtifact("video", model.ArtifactVideo, out), "video")
	return pipeline.OutcomeCompleted()
}

// DownloadYoutubeAudio extracts the best audio stream for the source
// video, independent of the video download so identify/separate can run
// without waiting on the full video fetch.
type DownloadYoutubeAudio struct {
	pipeline.NoPreload
	deps *Deps
}

func NewDownloadYoutubeAudio(deps *Deps) *DownloadYoutubeAudio {
	return &DownloadYoutubeAudio{deps: deps}
}

func (t *DownloadYoutubeAudio) Name() string { return "download_audio" }

func (t *DownloadYoutubeAudio) Run(ctx context.Context, rt *pipeline.Runtime) pipeline.Outcome {
	media := rt.Media()
	if media.URL == "" {
		return pipeline.OutcomeFailed(fmt.Errorf("download_audio: job has no source URL"))
	}

	out := model.CachePath(t.deps.MediaPath, rt.JID(), "audio", "wav")
	ytdlp := t.deps.collaborator("ytdlp.path")
	if ytdlp == "" {
		ytdlp = "yt-dlp"
	}

	if err := runExternal(ctx, rt, ytdlp, "-x", "--audio-format", "wav", "-o", out, media.URL); err != nil {
		if ctx.Err() != nil {
			return pipeline.OutcomeInterrupted()
		}
		return pipeline.OutcomeFailed(err)
	}

	rt.SetPassingArgs(map[string]any{"audio_path": out})
	rt.AddArtifact(newArtifact("audio", model.ArtifactAudio, out), "Audio")
	return pipeline.OutcomeCompleted()
}
