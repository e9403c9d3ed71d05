// Package pdfx extracts styled text lines from PDF files. Extraction is
// best-effort: PDFs without usable font metadata still yield plain lines,
// they just give the section splitter fewer heading signals to work with.
package pdfx

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/bookwise/bookrag-go/internal/segment"
)

// yTolerance groups glyphs whose baselines differ by less than this many
// points into the same line.
const yTolerance = 2.0

// ExtractLines reads a PDF and returns its text as styled lines in reading
// order. Pages that cannot be parsed are skipped.
func ExtractLines(path string) ([]segment.ExtractedLine, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pdfx: open %s: %w", path, err)
	}
	defer f.Close()

	var lines []segment.ExtractedLine
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		lines = append(lines, groupLines(page.Content().Text, pageNum)...)
	}
	return lines, nil
}

// groupLines merges a page's glyph runs into lines by baseline position.
func groupLines(texts []pdf.Text, pageNum int) []segment.ExtractedLine {
	if len(texts) == 0 {
		return nil
	}

	// Top of page first, then left to right within a line.
	sort.SliceStable(texts, func(i, j int) bool {
		if math.Abs(texts[i].Y-texts[j].Y) > yTolerance {
			return texts[i].Y > texts[j].Y
		}
		return texts[i].X < texts[j].X
	})

	var lines []segment.ExtractedLine
	var b strings.Builder
	var cur segment.ExtractedLine
	flush := func() {
		text := strings.TrimSpace(b.String())
		if text != "" {
			cur.Text = text
			lines = append(lines, cur)
		}
		b.Reset()
	}

	for i, t := range texts {
		if i == 0 || math.Abs(t.Y-cur.YPosition) > yTolerance {
			flush()
			cur = segment.ExtractedLine{
				FontSize:  t.FontSize,
				Bold:      isBoldFont(t.Font),
				Page:      pageNum,
				YPosition: t.Y,
			}
		}
		// A line's style follows its largest glyph run.
		if t.FontSize > cur.FontSize {
			cur.FontSize = t.FontSize
			cur.Bold = isBoldFont(t.Font)
		}
		b.WriteString(t.S)
	}
	flush()
	return lines
}

func isBoldFont(font string) bool {
	f := strings.ToLower(font)
	return strings.Contains(f, "bold") || strings.Contains(f, "black") || strings.Contains(f, "heavy")
}
