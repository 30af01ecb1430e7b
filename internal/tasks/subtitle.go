package tasks

import (
	"context"
	"fmt"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/jc-comp/karaoke-scheduler/internal/pipeline"
)

// SubtitleLine is one timed on-screen line the player's overlay renders,
// mirroring the JSON shape original_source's SubtitleGenerator.export()
// produces for the web player preview track.
type SubtitleLine struct {
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	AlignX    string  `json:"alignX"`
	AlignY    string  `json:"alignY"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y"`
	Bottom    float64 `json:"bottom,omitempty"`
	FontSize  float64 `json:"font_size"`
	Words     []Word  `json:"words"`
}

// GenerateSubtitle renders the aligned lyrics into the player's preview
// subtitle track (distinct from the burned-in .ass track generate.go
// produces for the final video export), ported from
// original_source/karaoke/worker/tasks/subtitle.py (SubtitleGenerator).
type GenerateSubtitle struct {
	pipeline.NoPreload
	deps *Deps
}

func NewGenerateSubtitle(deps *Deps) *GenerateSubtitle {
	return &GenerateSubtitle{deps: deps}
}

func (t *GenerateSubtitle) Name() string { return "subtitle" }

const subtitleFontSize = 0.9 / 15
const subtitlePadding = subtitleFontSize * 0.33

func (t *GenerateSubtitle) Run(ctx context.Context, rt *pipeline.Runtime) pipeline.Outcome {
	rt.Info("Generating subtitles")
	media := rt.Media()

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
		title = "Unknown"
	}
	artist := argString(rt, "artist")
	if artist == "" {
		artist = media.Artist
	}
	if artist == "" {
		artist = "Unknown"
	}

	gen := newSubtitleGenerator()
	gen.addPoster(title, artist)

	rt.Info("Start generating ...")
	for i, block := range blocks {
		var next []Word
		if i+1 < len(blocks) {
			next = blocks[i+1]
		}
		gen.addLine(block, next, media.Duration)
	}

	path := model.CachePath(t.deps.MediaPath, rt.JID(), "subtitle", "json")
	if err := writeJSON(path, gen.lines); err != nil {
		return pipeline.OutcomeFailed(fmt.Errorf("subtitle: %w", err))
	}

	a := newArtifact("Subtitle", model.ArtifactJSON, path)
	a.IsAttached = true
	rt.AddArtifact(a, "subtitles")
	rt.Info("Subtitle generation completed")
	return pipeline.OutcomeCompleted()
}

// rebuildSentenceBlocks re-slices the flat aligned word list back into
// per-sentence blocks using each mapped sentence's word count, since
// align.go flattens all sentences into one list.
func rebuildSentenceBlocks(mapped []Sentence, aligned []Word) [][]Word {
	var blocks [][]Word
	idx := 0
	for _, s := range mapped {
		n := len(s.Words)
		if idx+n > len(aligned) {
			n = len(aligned) - idx
		}
		if n <= 0 {
			continue
		}
		blocks = append(blocks, aligned[idx:idx+n])
		idx += n
	}
	return blocks
}

type subtitleGenerator struct {
	lineCount int
	current   []Word
	lines     []SubtitleLine
}

func newSubtitleGenerator() *subtitleGenerator {
	return &subtitleGenerator{}
}

func (g *subtitleGenerator) addPoster(title, artist string) {
	if len(title) > 10 {
		title = title[:9] + "..."
	}
	if len(artist) > 10 {
		artist = artist[:9] + "..."
	}
	titleFontSize := 0.9 / 10
	artistFontSize := titleFontSize * 0.8
	headHeight := (subtitlePadding*3 + subtitleFontSize*2) + subtitlePadding*2

	g.lines = append(g.lines,
		SubtitleLine{
			Start: 1, End: 6, AlignX: "center", AlignY: "center",
			Y: -titleFontSize/2 - subtitlePadding, Bottom: headHeight, FontSize: titleFontSize,
			Words: []Word{{Word: title, Text: title, Start: 1, End: 1}},
		},
		SubtitleLine{
			Start: 1, End: 6, AlignX: "center", AlignY: "center",
			Y: artistFontSize/2 + subtitlePadding, Bottom: headHeight, FontSize: artistFontSize,
			Words: []Word{{Word: artist, Text: artist, Start: 1, End: 1}},
		},
	)
}

func (g *subtitleGenerator) addLine(line, next []Word, duration float64) {
	var startTime float64
	if g.current != nil {
		mid := len(g.current) / 2
		startTime = g.current[mid].Start
	} else if len(line) > 0 {
		startTime = maxFloat(line[0].Start-1, 0)
	}

	if g.lineCount == 0 {
		preFirstLine := startTime - 3
		for i := range g.lines {
			if preFirstLine > g.lines[i].End {
				g.lines[i].End = preFirstLine
			}
		}
	}

	var end float64
	if next != nil {
		mid := len(next) / 2
		end = next[mid].Start
	} else if len(line) > 0 {
		end = minFloat(line[len(line)-1].End+2, duration)
	}

	var alignX, alignY string
	var x, y float64
	if g.lineCount%2 == 0 {
		alignX, alignY = "left", "bottom"
		x, y = 0.05, subtitleFontSize*0.33*2+subtitleFontSize
	} else {
		alignX, alignY = "right", "bottom"
		x, y = 0.95, subtitleFontSize*0.33
	}
	g.lineCount++

	rendered := make([]Word, len(line))
	copy(rendered, line)
	if len(rendered) > 0 {
		rendered[0].Text = rendered[0].Word
	}
	for i := 1; i < len(rendered); i++ {
		if isASCII(rendered[i].Word) {
			rendered[i].Text = " " + rendered[i].Word
		} else {
			rendered[i].Text = rendered[i].Word
		}
	}

	g.lines = append(g.lines, SubtitleLine{
		Start: startTime, End: end, AlignX: alignX, AlignY: alignY,
		X: x, Y: y, FontSize: subtitleFontSize, Words: rendered,
	})
	g.current = line
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
