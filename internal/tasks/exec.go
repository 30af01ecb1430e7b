// Package tasks implements the concrete pipeline stages shelled out to
// external media tools (yt-dlp, ffmpeg, audio-separator, whisper, MFA,
// lyric/identification providers), wired into the exact YouTube DAG from
// original_source/karaoke/worker/pipeline/youtube.py.
package tasks

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/jc-comp/karaoke-scheduler/internal/pipeline"
)

// newArtifact mints an Artifact with a fresh id, the same way job/slave ids
// are minted at the scheduler layer.
func newArtifact(name string, typ model.ArtifactType, path string) *model.Artifact {
	return &model.Artifact{AID: uuid.New().String(), Name: name, Type: typ, Path: path}
}

// runExternal runs name with args, routing \r-terminated progress
// segments to rt.PassiveUpdate and \n-terminated lines to rt.Info, per
// SPEC_FULL.md §4.5's progress-line handling. The command is killed if
// ctx is canceled (task interrupt).
func runExternal(ctx context.Context, rt *pipeline.Runtime, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("tasks: stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout // fold stderr into the same progress stream

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("tasks: start %s: %w", name, err)
	}

	scanProgress(stdout, rt)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("tasks: %s: %w", name, err)
	}
	return nil
}

// scanProgress splits the command's combined output on both '\n' and '\r':
// completed '\n' lines become info log lines, and the most recent
// '\r'-terminated segment becomes the task's current progress message.
func scanProgress(r io.Reader, rt *pipeline.Runtime) {
	reader := bufio.NewReader(r)
	var line bytes.Buffer
	for {
		b, err := reader.ReadByte()
		if err != nil {
			if line.Len() > 0 {
				rt.Info(line.String())
			}
			return
		}
		switch b {
		case '\n':
			text := strings.TrimRight(line.String(), "\r")
			if text != "" {
				rt.Info(text)
			}
			line.Reset()
		case '\r':
			rt.PassiveUpdate(line.String())
			line.Reset()
		default:
			line.WriteByte(b)
		}
	}
}

// argString fetches a string-typed input arg, returning "" if absent or
// of the wrong type.
func argString(rt *pipeline.Runtime, name string) string {
	v, ok := rt.Arg(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// argDecode fetches an arg and decodes it into out via a JSON round-trip.
// In-process task bodies receive their prerequisite's passing_args as
// native Go values; subprocess/daemon-executed bodies receive the same
// values after a wire round-trip as map[string]any/[]any. Routing both
// through json.Marshal+Unmarshal gives task bodies one way to read a
// structured arg regardless of execution mode.
func argDecode(rt *pipeline.Runtime, name string, out any) bool {
	v, ok := rt.Arg(name)
	if !ok || v == nil {
		return false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// writeJSON persists v as an intermediate pipeline result cache, creating
// the job's cache directory if needed.
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// readJSON loads a cache file written by writeJSON, reporting false if it
// does not exist.
func readJSON(path string, v any) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// decodeJSON decodes a single JSON value from r, e.g. an HTTP response body.
func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

// parentDir returns the directory component of path, for callers that
// need to ensure a cache file's directory exists before writing to it.
func parentDir(path string) string {
	return filepath.Dir(path)
}
