package report

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"

	"github.com/keagan/reelcutter/internal/captions"
	"github.com/keagan/reelcutter/internal/pipeline"
	"github.com/keagan/reelcutter/pkg/util"
)

const (
	fontName = "Times New Roman"
	fontSize = 12
)

// Path returns where the caption transcript of a run is written
func Path(outputDir, runID string) string {
	return filepath.Join(outputDir, fmt.Sprintf("captions_%s.docx", runID))
}

// WriteCaptions writes a transcript document listing every reel of result and
// its caption groups with their display windows.
func WriteCaptions(outputPath string, result *pipeline.Result) error {
	doc, err := godocx.NewDocument()
	if err != nil {
		return err
	}

	addStyledRun(doc.AddParagraph(""), "Captions: "+filepath.Base(result.Input), true, 16)
	addStyledRun(doc.AddParagraph(""),
		fmt.Sprintf("%d reels from %d candidates", len(result.Reels), len(result.Candidates)), false, fontSize)
	doc.AddParagraph("")

	for _, reel := range result.Reels {
		heading := fmt.Sprintf("Reel %d: %s to %s", reel.Index,
			util.FormatDuration(util.Seconds(reel.Segment.Start)),
			util.FormatDuration(util.Seconds(reel.Segment.End)))
		addStyledRun(doc.AddParagraph(""), heading, true, 14)

		if reel.Segment.Reason != "" {
			addStyledRun(doc.AddParagraph(""), reel.Segment.Reason, false, fontSize)
		}
		addStyledRun(doc.AddParagraph(""), filepath.Base(reel.Path), false, fontSize)

		if len(reel.Groups) == 0 {
			addStyledRun(doc.AddParagraph(""), "No captions", false, fontSize)
			continue
		}
		for _, g := range reel.Groups {
			addGroup(doc.AddParagraph(""), g)
		}
		doc.AddParagraph("")
	}

	return doc.SaveTo(outputPath)
}

func addGroup(p *docx.Paragraph, g captions.Group) {
	p.AddText(fmt.Sprintf("[%.2f - %.2f] ", g.Start, g.End)).Font(fontName).Size(fontSize).Color("555555")
	p.AddText(strings.TrimSpace(g.Text())).Font(fontName).Size(fontSize).Color("000000")
}

func addStyledRun(p *docx.Paragraph, text string, bold bool, size uint64) {
	run := p.AddText(text).Font(fontName).Size(size).Color("000000")
	if bold {
		run.Bold(true)
	}
}
