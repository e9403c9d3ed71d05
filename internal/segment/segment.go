// Package segment converts the flat sequence of styled text lines produced
// by the PDF layer into a hierarchy of titled sections, using layout
// heuristics (font size relative to the document median, boldness, and
// heading text patterns). Segmentation is a pure function of its input:
// the same lines always yield the same sections.
package segment

import (
	"regexp"
	"sort"
)

// ExtractedLine is one detected text run from the PDF layer, carrying the
// layout attributes needed for heading detection. Immutable.
type ExtractedLine struct {
	// Text is the trimmed line content.
	Text string

	// FontSize is the rendered font size in points.
	FontSize float64

	// Bold reports whether the line's font is a bold variant.
	Bold bool

	// Page is the 1-based page the line appears on.
	Page int

	// YPosition is the vertical position of the line on its page.
	YPosition float64
}

// Section is a titled run of paragraphs between two headings.
type Section struct {
	// Title is the text of the heading line that opened this section.
	Title string

	// Paragraphs are the non-heading lines of the section, in order.
	Paragraphs []string

	// StartPage is the page of the heading line; EndPage is the page of the
	// last line in the section. StartPage <= EndPage always holds.
	StartPage int
	EndPage   int
}

// maxBoldHeadingLen is the length cutoff for the bold-heading rule: bold
// lines at or beyond this length are treated as emphasised body text.
const maxBoldHeadingLen = 120

// fontSizeRatio is the multiplier over the document median font size above
// which a line is treated as a heading.
const fontSizeRatio = 1.2

// headingPatterns are the textual heading forms recognised independent of
// layout: chapter markers, numeric outline prefixes, and all-caps runs.
var headingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^chapter\s+\d+`),
	regexp.MustCompile(`^\d+\.\s`),
	regexp.MustCompile(`^\d+\.\d+\s`),
	regexp.MustCompile(`^\d+\.\d+\.\d+\s`),
	regexp.MustCompile(`^[A-Z\s]{10,}$`),
}

// Split converts lines into ordered sections. A heading line closes the
// current section (if any) and opens a new one bearing its text as title;
// every other line is appended to the current section's paragraphs.
// Content preceding the first heading has no owning section and is
// discarded, so a document with no detected headings yields zero sections.
func Split(lines []ExtractedLine) []Section {
	if len(lines) == 0 {
		return nil
	}

	median := medianFontSize(lines)

	var sections []Section
	var current *Section

	for _, line := range lines {
		if isHeading(line, median) {
			if current != nil {
				sections = append(sections, *current)
			}
			current = &Section{
				Title:     line.Text,
				StartPage: line.Page,
				EndPage:   line.Page,
			}
			continue
		}
		if current == nil {
			// Preamble before the first heading.
			continue
		}
		current.Paragraphs = append(current.Paragraphs, line.Text)
		if line.Page > current.EndPage {
			current.EndPage = line.Page
		}
	}
	if current != nil {
		sections = append(sections, *current)
	}

	return sections
}

// isHeading applies the heading detection rules in order, first match wins.
func isHeading(line ExtractedLine, medianFont float64) bool {
	if line.FontSize > medianFont*fontSizeRatio {
		return true
	}
	if line.Bold && len(line.Text) < maxBoldHeadingLen {
		return true
	}
	for _, p := range headingPatterns {
		if p.MatchString(line.Text) {
			return true
		}
	}
	return false
}

// medianFontSize returns the median font size across all lines.
// Returns 0 for an empty slice.
func medianFontSize(lines []ExtractedLine) float64 {
	if len(lines) == 0 {
		return 0
	}
	sizes := make([]float64, len(lines))
	for i, l := range lines {
		sizes[i] = l.FontSize
	}
	sort.Float64s(sizes)
	return sizes[len(sizes)/2]
}
