// Package quality contains the leaf signal analyzers feeding the
// confidence scorer: lexical shape matching, OCR text clarity, and
// surrounding-context strength.
package quality

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/veridoc/veridoc/internal/core/domain"
)

// Tri-state pattern scores.
const (
	PatternNoMatch = 0.0
	PatternPartial = 0.5
	PatternFull    = 1.0
)

// PatternResult carries the shape score and, on a full match, the
// canonical form of the value.
type PatternResult struct {
	Score      float64
	Normalized string
}

var (
	reDateYMD   = regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`)
	reDateMDY   = regexp.MustCompile(`(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{4})`)
	reYearToken = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	reDigits    = regexp.MustCompile(`\d`)
	reNonDigit  = regexp.MustCompile(`\D`)
	reAlnumID   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 \-/]{1,48}[A-Za-z0-9]$`)
)

// MatchPattern scores how well a value fits the lexical shape expected for
// its field kind. It is a pure function: same input, same output.
func MatchPattern(kind domain.FieldKind, value string) PatternResult {
	value = strings.TrimSpace(value)
	if value == "" {
		return PatternResult{Score: PatternNoMatch}
	}

	switch kind {
	case domain.KindDate:
		return matchDate(value)
	case domain.KindAmount:
		return matchAmount(value)
	case domain.KindPhone:
		return matchPhone(value)
	case domain.KindIdentifier:
		return matchIdentifier(value)
	default:
		// Free text has no strict shape; presence is only ever a
		// partial match.
		return PatternResult{Score: PatternPartial}
	}
}

func matchDate(value string) PatternResult {
	if m := reDateYMD.FindStringSubmatch(value); m != nil {
		return normalizedDate(m[1], m[2], m[3])
	}
	if m := reDateMDY.FindStringSubmatch(value); m != nil {
		return normalizedDate(m[3], m[1], m[2])
	}
	// A year token without a recognizable full shape is weak evidence of
	// a date, e.g. "Jan 2, 2024".
	if reYearToken.MatchString(value) {
		return PatternResult{Score: PatternPartial}
	}
	return PatternResult{Score: PatternNoMatch}
}

func normalizedDate(year, month, day string) PatternResult {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	if y < 1900 || y > 2100 || m < 1 || m > 12 || d < 1 || d > daysInMonth(y, m) {
		return PatternResult{Score: PatternNoMatch}
	}
	return PatternResult{
		Score:      PatternFull,
		Normalized: fmt.Sprintf("%04d-%02d-%02d", y, m, d),
	}
}

func daysInMonth(year, month int) int {
	switch month {
	case 1, 3, 5, 7, 8, 10, 12:
		return 31
	case 4, 6, 9, 11:
		return 30
	default:
		if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
			return 29
		}
		return 28
	}
}

func matchAmount(value string) PatternResult {
	if f, ok := ParseAmount(value); ok {
		return PatternResult{Score: PatternFull, Normalized: fmt.Sprintf("%.2f", f)}
	}
	if reDigits.MatchString(value) {
		return PatternResult{Score: PatternPartial}
	}
	return PatternResult{Score: PatternNoMatch}
}

// ParseAmount converts a currency-formatted string to a float, accepting
// common symbols, thousands separators, and parenthesized negatives.
func ParseAmount(value string) (float64, bool) {
	cleaned := strings.TrimSpace(value)
	cleaned = strings.NewReplacer("$", "", "€", "", "£", "", "¥", "", ",", "", " ", "").Replace(cleaned)
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		cleaned = "-" + cleaned[1:len(cleaned)-1]
	}
	if cleaned == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func matchPhone(value string) PatternResult {
	digits := reNonDigit.ReplaceAllString(value, "")
	switch {
	case len(digits) == 10:
		return PatternResult{
			Score:      PatternFull,
			Normalized: fmt.Sprintf("(%s) %s-%s", digits[:3], digits[3:6], digits[6:]),
		}
	case len(digits) == 11 && digits[0] == '1':
		return PatternResult{
			Score:      PatternFull,
			Normalized: fmt.Sprintf("(%s) %s-%s", digits[1:4], digits[4:7], digits[7:]),
		}
	case len(digits) == 7:
		// Local number without area code.
		return PatternResult{Score: PatternPartial}
	}
	return PatternResult{Score: PatternNoMatch}
}

func matchIdentifier(value string) PatternResult {
	hasDigit := reDigits.MatchString(value)
	if hasDigit && reAlnumID.MatchString(value) {
		return PatternResult{
			Score:      PatternFull,
			Normalized: strings.Join(strings.Fields(value), " "),
		}
	}
	if reAlnumID.MatchString(value) {
		return PatternResult{Score: PatternPartial}
	}
	return PatternResult{Score: PatternNoMatch}
}
