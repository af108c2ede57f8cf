// Package textparse holds the shared text heuristics the bank extractors are
// built from: Icelandic percentage and date parsing, and normalization of
// free-text account names into canonical mapping keys.
package textparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Icelandic month names in lowercase, as printed on rate sheets.
var icelandicMonths = map[string]int{
	"janúar":    1,
	"febrúar":   2,
	"mars":      3,
	"apríl":     4,
	"maí":       5,
	"júní":      6,
	"júlí":      7,
	"ágúst":     8,
	"september": 9,
	"október":   10,
	"nóvember":  11,
	"desember":  12,
}

var (
	numericDateRe = regexp.MustCompile(`(\d{1,2})\.(\d{1,2})\.(\d{4})`)
	namedDateRe   = regexp.MustCompile(`(\d{1,2})\.\s*([\p{L}]+)\s+(\d{4})`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
	keyStripRe    = regexp.MustCompile(`[^a-z0-9_]`)
	underscoreRe  = regexp.MustCompile(`_+`)
)

// Percentage parses a rate string such as "8,60%", "8.60 %" or "15,25"
// into percent units. Comma decimals are the Icelandic convention; stray
// asterisks and markers are tolerated. Negative values are rejected.
func Percentage(s string) (float64, bool) {
	s = strings.ReplaceAll(s, "%", "")
	s = strings.ReplaceAll(s, "*", "")
	s = strings.ReplaceAll(s, " ", " ")
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return f, true
}

// ParseDate scans text for the first valid calendar date, trying the numeric
// DD.MM.YYYY layout before the written "24. október 2025" layout. Dates that
// do not exist on the calendar (day 31 in a 30-day month and the like) are
// discarded, not rounded, and scanning continues.
func ParseDate(text string) (civil.Date, bool) {
	lower := strings.ToLower(text)

	for _, m := range numericDateRe.FindAllStringSubmatch(lower, -1) {
		if d, ok := buildDate(m[3], m[2], m[1]); ok {
			return d, true
		}
	}

	for _, m := range namedDateRe.FindAllStringSubmatch(lower, -1) {
		month, ok := icelandicMonths[m[2]]
		if !ok {
			continue
		}
		if d, ok := buildDate(m[3], strconv.Itoa(month), m[1]); ok {
			return d, true
		}
	}

	return civil.Date{}, false
}

func buildDate(year, month, day string) (civil.Date, bool) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return civil.Date{}, false
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return civil.Date{}, false
	}
	d, err := strconv.Atoi(day)
	if err != nil {
		return civil.Date{}, false
	}
	date := civil.Date{Year: y, Month: time.Month(m), Day: d}
	if !date.IsValid() {
		return civil.Date{}, false
	}
	return date, true
}

// Icelandic transliterations applied before key normalization.
var translit = strings.NewReplacer(
	"á", "a", "Á", "a",
	"é", "e", "É", "e",
	"í", "i", "Í", "i",
	"ó", "o", "Ó", "o",
	"ú", "u", "Ú", "u",
	"ý", "y", "Ý", "y",
	"ö", "o", "Ö", "o",
	"æ", "ae", "Æ", "ae",
	"ð", "d", "Ð", "d",
	"þ", "th", "Þ", "th",
)

// NormalizeKey turns a free-text Icelandic account name into a mapping key:
// diacritics transliterated, lowercased, whitespace runs collapsed to single
// underscores, anything outside [a-z0-9_] stripped, repeated underscores
// collapsed and trimmed.
func NormalizeKey(text string) string {
	if text == "" {
		return ""
	}
	s := translit.Replace(text)
	s = strings.ToLower(s)
	s = whitespaceRe.ReplaceAllString(s, "_")
	s = keyStripRe.ReplaceAllString(s, "")
	s = underscoreRe.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// UniqueKey suffixes key with _2, _3, ... until it does not collide with an
// existing entry, so look-alike rows in one table never overwrite each other.
func UniqueKey(key string, taken func(string) bool) string {
	if !taken(key) {
		return key
	}
	for i := 2; ; i++ {
		candidate := key + "_" + strconv.Itoa(i)
		if !taken(candidate) {
			return candidate
		}
	}
}

// CollapseWhitespace flattens whitespace runs to single spaces, including the
// non-breaking spaces bank sites are fond of.
func CollapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
