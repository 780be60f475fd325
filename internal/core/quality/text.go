package quality

import (
	"regexp"
	"strings"
)

// ClarityFloor is returned for segments the heuristic cannot say anything
// useful about. The analyzer never fails.
const ClarityFloor = 0.3

var ocrNoisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`[|]{2,}`),
	regexp.MustCompile(`[0O]{3,}`),
	regexp.MustCompile(`[Il1]{3,}`),
	regexp.MustCompile(`[@#$%^&*]{2,}`),
	regexp.MustCompile(`\s{3,}`),
}

var (
	reMixedRun = regexp.MustCompile(`\d+[A-Za-z]+\d+`)
	reLetters  = regexp.MustCompile(`^[A-Za-z]+$`)
	reVowel    = regexp.MustCompile(`[aeiouAEIOU]`)
)

// TextAnalyzer derives a clarity signal from raw OCR output.
type TextAnalyzer struct{}

// Clarity scores how trustworthy the recognized characters of a segment
// look. When the OCR backend reported per-character confidence the mean
// over the segment wins; otherwise a lexical heuristic estimates clarity
// from confusion-prone character runs, whitespace irregularity, and the
// ratio of pronounceable tokens. Result is always within [ClarityFloor, 1].
func (TextAnalyzer) Clarity(segment string, charConfidence []float64) float64 {
	if len(charConfidence) > 0 {
		return clamp(mean(charConfidence), ClarityFloor, 1.0)
	}

	trimmed := strings.TrimSpace(segment)
	if trimmed == "" {
		return ClarityFloor
	}

	score := 1.0
	for _, pattern := range ocrNoisePatterns {
		if pattern.MatchString(trimmed) {
			score *= 0.7
		}
	}

	// Very short segments carry little statistical evidence; very long
	// ones tend to smuggle in surrounding noise.
	switch n := len(trimmed); {
	case n < 2:
		score *= 0.5
	case n > 200:
		score *= 0.8
	}

	if reMixedRun.MatchString(trimmed) {
		score *= 0.8
	}

	if ratio, sampled := pronounceableRatio(trimmed); sampled && ratio < 0.5 {
		score *= 0.7
	}

	return clamp(score, ClarityFloor, 1.0)
}

// pronounceableRatio estimates the share of letter tokens that look like
// words rather than OCR garbage. Tokens of one or two letters are accepted
// as-is; longer ones need at least one vowel.
func pronounceableRatio(segment string) (float64, bool) {
	var total, good int
	for _, token := range strings.Fields(segment) {
		if !reLetters.MatchString(token) {
			continue
		}
		total++
		if len(token) <= 2 || reVowel.MatchString(token) {
			good++
		}
	}
	if total == 0 {
		return 0, false
	}
	return float64(good) / float64(total), true
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
