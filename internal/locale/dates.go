package locale

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var monthNames = map[string]time.Month{
	// Italian
	"gennaio": time.January, "gen": time.January,
	"febbraio": time.February,
	"marzo":    time.March,
	"aprile":   time.April,
	"maggio":   time.May, "mag": time.May,
	"giugno": time.June, "giu": time.June,
	"luglio": time.July, "lug": time.July,
	"agosto": time.August, "ago": time.August,
	"settembre": time.September, "set": time.September,
	"ottobre": time.October, "ott": time.October,
	"novembre": time.November,
	"dicembre": time.December, "dic": time.December,
	// English
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var (
	isoDateRe      = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	dayMonthNameRe = regexp.MustCompile(`\b(\d{1,2})\.?\s+([[:alpha:]]+)\.?,?\s+(\d{4})\b`)
	monthNameDayRe = regexp.MustCompile(`\b([[:alpha:]]+)\.?\s+(\d{1,2}),?\s+(\d{4})\b`)
	numericDateRe  = regexp.MustCompile(`\b(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4})\b`)
)

// ParseDate finds a calendar date inside raw text such as "Ordine effettuato il
// 15 gennaio 2024". The result is midnight UTC.
func (l Locale) ParseDate(raw string) (time.Time, error) {
	text := strings.ToLower(strings.TrimSpace(raw))
	if text == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	if m := isoDateRe.FindStringSubmatch(text); m != nil {
		return civilDate(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}

	for _, m := range dayMonthNameRe.FindAllStringSubmatch(text, -1) {
		if month, ok := monthNames[m[2]]; ok {
			return civilDate(atoi(m[3]), int(month), atoi(m[1]))
		}
	}

	for _, m := range monthNameDayRe.FindAllStringSubmatch(text, -1) {
		if month, ok := monthNames[m[1]]; ok {
			return civilDate(atoi(m[3]), int(month), atoi(m[2]))
		}
	}

	if m := numericDateRe.FindStringSubmatch(text); m != nil {
		first, second, year := atoi(m[1]), atoi(m[2]), atoi(m[3])
		if l.DayFirst {
			return civilDate(year, second, first)
		}
		return civilDate(year, first, second)
	}

	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}

// civilDate rejects dates that time.Date would silently normalise (31 Feb).
func civilDate(year, month, day int) (time.Time, error) {
	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("month %d out of range", month)
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, fmt.Errorf("day %d out of range for %d-%02d", day, year, month)
	}
	return t, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
