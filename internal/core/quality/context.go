package quality

import (
	"strings"

	"github.com/veridoc/veridoc/internal/core/domain"
)

const (
	// DefaultContextWindow is the character distance around a value's
	// span inside which label keywords count as supporting evidence.
	DefaultContextWindow = 50

	// NoSpanDefault is returned when the extraction carried no location
	// hint; a fixed moderate value instead of fabricated precision.
	NoSpanDefault = 0.5

	labelLookback = 20
)

// ContextAnalyzer measures how strongly the text surrounding an extracted
// value supports its semantic label.
type ContextAnalyzer struct {
	Window int
}

func NewContextAnalyzer() ContextAnalyzer {
	return ContextAnalyzer{Window: DefaultContextWindow}
}

// Strength scores keyword support around the field's span. Each expected
// label keyword found inside the window contributes in proportion to its
// proximity, and a keyword sitting immediately before the value counts as
// a label token. Result is within [0, 1].
func (a ContextAnalyzer) Strength(docText string, span *domain.Span, keywords []string) float64 {
	if span == nil {
		return NoSpanDefault
	}

	window := a.Window
	if window <= 0 {
		window = DefaultContextWindow
	}

	// Lowercasing can shrink multi-byte runes (the Kelvin sign lowers to
	// a one-byte k), so span offsets are bounded against the lowered text.
	lower := strings.ToLower(docText)
	start, end := span.Start, span.End
	if start < 0 {
		start = 0
	}
	if end > len(lower) {
		end = len(lower)
	}
	if start >= end {
		return NoSpanDefault
	}

	winStart := max(0, start-window)
	winEnd := min(len(lower), end+window)
	windowText := lower[winStart:winEnd]
	before := lower[max(0, start-labelLookback):start]

	score := 0.4
	for _, keyword := range keywords {
		kw := strings.ToLower(keyword)
		idx := strings.Index(windowText, kw)
		if idx < 0 {
			continue
		}
		distance := keywordDistance(winStart+idx, len(kw), start, end)
		proximity := 1.0 - float64(distance)/float64(window)
		if proximity < 0 {
			proximity = 0
		}
		score += 0.1 * proximity

		if strings.Contains(before, kw) {
			score += 0.15
		}
	}

	return clamp(score, 0, 1)
}

// keywordDistance is the gap in characters between a keyword occurrence
// and the nearest edge of the value span; zero when they overlap.
func keywordDistance(kwStart, kwLen, spanStart, spanEnd int) int {
	kwEnd := kwStart + kwLen
	switch {
	case kwEnd <= spanStart:
		return spanStart - kwEnd
	case kwStart >= spanEnd:
		return kwStart - spanEnd
	default:
		return 0
	}
}
