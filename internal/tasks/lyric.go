package tasks

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/jc-comp/karaoke-scheduler/internal/pipeline"
)

// FetchLyrics searches MusixMatch for the identified (or downloaded-metadata)
// title/artist pair, grounded on
// original_source/karaoke/worker/tasks/lyric.py (FetchLyricsExecution).
// A missing title is a soft failure: downstream mapping falls back to the
// raw transcription.
type FetchLyrics struct {
	pipeline.NoPreload
	deps   *Deps
	client *http.Client
}

func NewFetchLyrics(deps *Deps) *FetchLyrics {
	return &FetchLyrics{deps: deps, client: &http.Client{Timeout: 15 * time.Second}}
}

func (t *FetchLyrics) Name() string { return "lyric" }

func (t *FetchLyrics) Run(ctx context.Context, rt *pipeline.Runtime) pipeline.Outcome {
	cachePath := model.CachePath(t.deps.MediaPath, rt.JID(), "lyrics", "lib")
	if raw, err := os.ReadFile(cachePath); err == nil {
		rt.SetPassingArgs(map[string]any{"lyrics": string(raw), "lyrics_cache_path": cachePath})
		rt.AddArtifact(newArtifact("Lyrics found", model.ArtifactText, cachePath), "")
		rt.Info("Using cached lyrics")
		return pipeline.OutcomeCompleted()
	}

	title := argString(rt, "title")
	artist := argString(rt, "artist")
	if title == "" {
		title = rt.Media().Title
	}
	if artist == "" {
		artist = rt.Media().Artist
	}
	if title == "" {
		return pipeline.OutcomeSoftFailed("No title found to search for lyrics")
	}

	lyrics, err := t.search(ctx, title, artist)
	if err != nil {
		rt.Warn(fmt.Sprintf("musixmatch search failed: %s", err))
		return pipeline.OutcomeSoftFailed("Failed to fetch lyrics")
	}

	if err := os.MkdirAll(parentDir(cachePath), 0o755); err == nil {
		_ = os.WriteFile(cachePath, []byte(lyrics), 0o644)
	}

	rt.SetPassingArgs(map[string]any{"lyrics": lyrics, "lyrics_cache_path": cachePath})
	rt.AddArtifact(newArtifact("Lyrics found", model.ArtifactText, cachePath), "")
	rt.Info("Lyrics retrieval completed")
	return pipeline.OutcomeCompleted()
}

type musixMatchResponse struct {
	Message struct {
		Body struct {
			Lyrics struct {
				LyricsBody string `json:"lyrics_body"`
			} `json:"lyrics"`
		} `json:"body"`
	} `json:"message"`
}

// search queries the MusixMatch public API. See
// https://www.musixmatch.com/search for the upstream this mirrors.
func (t *FetchLyrics) search(ctx context.Context, title, artist string) (string, error) {
	key := t.deps.collaborator("musixmatch.key")
	if key == "" {
		return "", fmt.Errorf("musixmatch.key not configured")
	}

	q := url.Values{}
	q.Set("apikey", key)
	q.Set("q_track", title)
	q.Set("q_artist", artist)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://api.musixmatch.com/ws/1.1/matcher.lyrics.get?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed musixMatchResponse
	if err := decodeJSON(resp.Body, &parsed); err != nil {
		return "", err
	}
	if parsed.Message.Body.Lyrics.LyricsBody == "" {
		return "", fmt.Errorf("no lyrics found")
	}
	return parsed.Message.Body.Lyrics.LyricsBody, nil
}
