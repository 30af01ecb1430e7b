package tasks

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/jc-comp/karaoke-scheduler/internal/pipeline"
)

// VoiceActivity splits the isolated vocal track into voiced windows and
// concatenates them with short silence gaps, so transcription never spends
// time (or hallucinates) over dead air. Grounded on
// original_source/karaoke/worker/tasks/detect.py (VoiceActivityExecution),
// which used Python's auditok; this port drives ffmpeg's silencedetect
// filter for the same windowing, matching the rest of the pipeline's
// ffmpeg-based media tooling.
type VoiceActivity struct {
	pipeline.NoPreload
	deps *Deps
}

func NewVoiceActivity(deps *Deps) *VoiceActivity {
	return &VoiceActivity{deps: deps}
}

func (t *VoiceActivity) Name() string { return "voice_activity" }

var silenceStartRe = regexp.MustCompile(`silence_start:\s*([0-9.]+)`)
var silenceEndRe = regexp.MustCompile(`silence_end:\s*([0-9.]+)`)

func (t *VoiceActivity) Run(ctx context.Context, rt *pipeline.Runtime) pipeline.Outcome {
	rt.Info("Detecting voice activity")

	vocalPath := argString(rt, "Vocals_only")
	if vocalPath == "" {
		return pipeline.OutcomeFailed(fmt.Errorf("voice_activity: no vocal track"))
	}

	vadVocalPath := vocalPath + "_vad.mp3"
	segmentsCachePath := vocalPath + "_vad.seg"

	var cached []VADSegment
	if readJSON(segmentsCachePath, &cached) {
		rt.SetPassingArgs(map[string]any{"vad_vocal_path": vadVocalPath, "vad_segments": cached})
		rt.Info("Found voice activity segments in cache")
		return t.addArtifact(rt, vocalPath, cached)
	}

	silences, err := t.detectSilence(ctx, vocalPath)
	if err != nil {
		if ctx.Err() != nil {
			return pipeline.OutcomeInterrupted()
		}
		return pipeline.OutcomeFailed(err)
	}

	segments := voicedWindows(silences)

	if err := ffmpegConcatTrimmed(ctx, vocalPath, segments, vadVocalPath); err != nil {
		if ctx.Err() != nil {
			return pipeline.OutcomeInterrupted()
		}
		return pipeline.OutcomeFailed(err)
	}

	if err := writeJSON(segmentsCachePath, segments); err != nil {
		rt.Warn(fmt.Sprintf("failed to cache vad segments: %s", err))
	}

	rt.SetPassingArgs(map[string]any{"vad_vocal_path": vadVocalPath, "vad_segments": segments})
	rt.Info("Voice activity detection completed")
	return t.addArtifact(rt, vocalPath, segments)
}

func (t *VoiceActivity) addArtifact(rt *pipeline.Runtime, vocalPath string, segments []VADSegment) pipeline.Outcome {
	a := newArtifact("Detected voice activity segments", model.ArtifactSegments, "")
	a.Attached = append(a.Attached, newArtifact("audio", model.ArtifactAudio, vocalPath))
	rt.AddArtifact(a, "")
	return pipeline.OutcomeCompleted()
}

// detectSilence runs ffmpeg's silencedetect filter and parses the
// silence_start/silence_end pairs from its stderr.
func (t *VoiceActivity) detectSilence(ctx context.Context, path string) ([][2]float64, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-nostdin",
		"-i", path, "-af", "silencedetect=noise=-30dB:d=0.3", "-f", "null", "-")
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var silences [][2]float64
	var start float64
	haveStart := false
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if m := silenceStartRe.FindStringSubmatch(line); m != nil {
			start, _ = strconv.ParseFloat(m[1], 64)
			haveStart = true
		}
		if m := silenceEndRe.FindStringSubmatch(line); m != nil && haveStart {
			end, _ := strconv.ParseFloat(m[1], 64)
			silences = append(silences, [2]float64{start, end})
			haveStart = false
		}
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return silences, nil
}

// voicedWindows inverts the detected silence ranges into voiced windows
// and accumulates them onto a compacted timeline with a 1-second gap
// between windows, mirroring detect.py's silence-joining.
func voicedWindows(silences [][2]float64) []VADSegment {
	var segments []VADSegment
	accum := 0.0
	prevEnd := 0.0
	for i, s := range silences {
		voiceStart := prevEnd
		voiceEnd := s[0]
		if i == 0 && voiceEnd <= voiceStart {
			prevEnd = s[1]
			continue
		}
		dur := voiceEnd - voiceStart
		segments = append(segments, VADSegment{
			Start: accum, End: accum + dur, Duration: dur,
			OriginalStart: voiceStart, OriginalEnd: voiceEnd,
		})
		accum += dur + 1
		prevEnd = s[1]
	}
	return segments
}

// ffmpegConcatTrimmed re-encodes only the voiced windows of src into dst,
// joined by 1 second of silence, via ffmpeg's atrim/concat filtergraph.
func ffmpegConcatTrimmed(ctx context.Context, src string, segments []VADSegment, dst string) error {
	if len(segments) == 0 {
		return fmt.Errorf("voice_activity: no voiced segments detected")
	}
	filter := ""
	for i, seg := range segments {
		filter += fmt.Sprintf("[0:a]atrim=%f:%f,asetpts=PTS-STARTPTS,apad=pad_dur=1[a%d];", seg.OriginalStart, seg.OriginalEnd, i)
	}
	for i := range segments {
		filter += fmt.Sprintf("[a%d]", i)
	}
	filter += fmt.Sprintf("concat=n=%d:v=0:a=1[out]", len(segments))

	cmd := exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-y", "-nostdin",
		"-i", src, "-filter_complex", filter, "-map", "[out]", dst)
	return cmd.Run()
}
