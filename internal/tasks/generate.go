package tasks

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/jc-comp/karaoke-scheduler/internal/pipeline"
)

// GenerateVideo burns the karaoke subtitle track into the source video over
// the isolated instrumental, producing the final downloadable artifact.
// Ported from original_source/karaoke/worker/tasks/generate.py
// (ASSGenerator + GenerateVideoExecution): the .ass karaoke-fill timing
// tags are built exactly as the source computes them, then muxed with
// ffmpeg the same way download.go/seperate.go shell out to external tools.
type GenerateVideo struct {
	pipeline.NoPreload
	deps *Deps
}

func NewGenerateVideo(deps *Deps) *GenerateVideo {
	return &GenerateVideo{deps: deps}
}

func (t *GenerateVideo) Name() string { return "video" }

func (t *GenerateVideo) Run(ctx context.Context, rt *pipeline.Runtime) pipeline.Outcome {
	rt.Info("Generating video for the karaoke")
	media := rt.Media()

	sourcePath := argString(rt, "video_path")
	instrumentalPath := argString(rt, "Instrumental_only")
	vocalPath := argString(rt, "Vocals_only")
	if sourcePath == "" || instrumentalPath == "" {
		return pipeline.OutcomeFailed(fmt.Errorf("video: missing source video or instrumental track"))
	}

	var aligned []Word
	argDecode(rt, "aligned_lyrics", &aligned)
	var mapped []Sentence
	argDecode(rt, "mapped_lyrics", &mapped)
	blocks := rebuildSentenceBlocks(mapped, aligned)

	title := argString(rt, "title")
	if title == "" {
		title = media.Title
	}
	if title == "" {
		title = "Unknown Title"
	}
	artist := argString(rt, "artist")
	if artist == "" {
		artist = media.Artist
	}
	if artist == "" {
		artist = "Unknown Artist"
	}

	font := t.deps.collaborator("export.font")
	if font == "" {
		font = "Noto Sans CJK TC"
	}
	width, height := mediaDimensions(media)

	assPath := sourcePath + ".ass"
	videoOutputPath := sourcePath + "_karaoke.mp4"

	rt.Info("Preparing subtitle generator")
	gen := newASSGenerator(font, title, artist, media.Duration, width, height)

	rt.Info("Start generating ...")
	for i, block := range blocks {
		var next []Word
		if i+1 < len(blocks) {
			next = blocks[i+1]
		}
		gen.addLine(block, next, media.Duration)
	}
	if err := os.WriteFile(assPath, []byte(gen.export()), 0o644); err != nil {
		return pipeline.OutcomeFailed(fmt.Errorf("video: write ass: %w", err))
	}

	cmdArgs := []string{
		"-hide_banner", "-y", "-nostdin",
		"-i", sourcePath, "-i", instrumentalPath,
		"-vf", fmt.Sprintf("subtitles=filename='%s'", assPath),
		"-map", "0:v:0", "-map", "1:a:0",
		"-f", "mp4", videoOutputPath,
	}
	if err := runExternal(ctx, rt, "ffmpeg", cmdArgs...); err != nil {
		if ctx.Err() != nil {
			return pipeline.OutcomeInterrupted()
		}
		return pipeline.OutcomeFailed(err)
	}

	product := newArtifact("Product", model.ArtifactVideo, "")
	product.Attached = append(product.Attached,
		newArtifact("vocal", model.ArtifactAudio, vocalPath),
		newArtifact("result", model.ArtifactVideo, videoOutputPath),
	)
	rt.AddArtifact(product, "")
	rt.Info("Video generated successfully")
	return pipeline.OutcomeCompleted()
}

func mediaDimensions(media model.Media) (int, int) {
	width, height := 1280, 720
	if media.Extra != nil {
		if w, ok := media.Extra["width"]; ok {
			fmt.Sscanf(w, "%d", &width)
		}
		if h, ok := media.Extra["height"]; ok {
			fmt.Sscanf(h, "%d", &height)
		}
	}
	return width, height
}

// assGenerator renders the Advanced SubStation Alpha karaoke track
// GenerateVideo burns into the output video, ported line-for-line from
// generate.py's ASSGenerator.
type assGenerator struct {
	b         strings.Builder
	fontSize  int
	width     int
	height    int
	duration  float64
	lineCount int
	current   []Word
}

func newASSGenerator(font, title, artist string, duration float64, width, height int) *assGenerator {
	g := &assGenerator{
		fontSize: int(float64(width) * 0.9 / 15),
		width:    width, height: height, duration: duration,
	}
	g.b.WriteString(fmt.Sprintf(`[Script Info]
Title: %s
Artist: %s
ScriptType: v4.00+
WrapStyle: 0
ScaledBorderAndShadow: yes
YCbCr Matrix: TV.601
PlayDepth: 0
PlayResX: %d
PlayResY: %d

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Karaoke, %s, %d,&H00FF0000,&H00FFFFFF,&H00000000,&H00000000,1,0,0,0,100,100,0,0,1,2,0,1,10,10,30,0

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`, title, artist, width, height, font, g.fontSize))
	return g
}

func timeToTS(t float64) string {
	hours := int(t) / 3600
	minutes := (int(t) % 3600) / 60
	seconds := int(t) % 60
	centis := int((t - float64(int(t))) * 100)
	return fmt.Sprintf("%01d:%02d:%02d:%02d", hours, minutes, seconds, centis)
}

func (g *assGenerator) addLine(line, next []Word, duration float64) {
	var startTime float64
	if g.current != nil {
		mid := len(g.current) / 2
		startTime = g.current[mid].Start
	} else if len(line) > 0 {
		startTime = maxFloat(line[0].Start-1, 0)
	}

	var end float64
	if next != nil {
		mid := len(next) / 2
		end = next[mid].Start
	} else if len(line) > 0 {
		end = minFloat(line[len(line)-1].End+2, duration)
	}

	var x, y int
	var text strings.Builder
	if g.lineCount%2 == 0 {
		x = int(float64(g.width) * 0.05)
		y = g.height - int(float64(g.fontSize)*0.33*2) - g.fontSize
	} else {
		x = int(float64(g.width) * 0.95)
		y = g.height - int(float64(g.fontSize)*0.33)
		text.WriteString(`{\an3}`)
	}
	g.lineCount++

	if len(line) == 0 {
		return
	}
	gap := line[0].Start - startTime
	start := timeToTS(startTime)
	endTS := timeToTS(end)

	fmt.Fprintf(&text, `{\pos(%d,%d)}`, x, y)
	fmt.Fprintf(&text, `{\k%d} `, int(100*gap))
	for i, word := range line {
		if i-1 >= 0 {
			wordGap := line[i].Start - line[i-1].End
			if wordGap > 0 {
				fmt.Fprintf(&text, `{\k%d}`, int(100*wordGap))
			}
		}
		text.WriteString("{")
		text.WriteString(`\r`)
		fmt.Fprintf(&text, `\kf%d`, int(100*(word.End-word.Start)))
		fmt.Fprintf(&text, `\t(%d,%d,\3c&HFFFFFF&)`,
			int(1000*(word.Start-line[0].Start+gap)), int(1000*(word.End-line[0].Start+gap)))
		text.WriteString("}")
		text.WriteString(word.Word)
	}
	fmt.Fprintf(&g.b, "Dialogue: 1,%s,%s,Karaoke,,0,0,0,,{\\fade(100,100)}%s\n", start, endTS, text.String())
	g.current = line
}

func (g *assGenerator) export() string {
	return g.b.String()
}
