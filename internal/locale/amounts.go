package locale

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Amount is a parsed money value.
type Amount struct {
	Value    decimal.Decimal
	Currency string // empty when the raw text carried no currency marker
	Signed   bool   // the raw text carried an explicit sign
}

var currencySymbols = map[string]string{
	"€":   "EUR",
	"£":   "GBP",
	"$":   "USD",
	"US$": "USD",
	"¥":   "JPY",
	"CHF": "CHF",
}

var (
	currencyCodeRe = regexp.MustCompile(`[A-Za-z]{3}`)
	digitsRe       = regexp.MustCompile(`^[0-9]+([.,'][0-9]+)*[.,]?[0-9]*$`)
	spaceReplacer  = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "\u2009", "", "\t", "")
)

// ParseAmount parses a money string such as "EUR 1.234,56", "25,50 €" or
// "-25.50". Separators are resolved against the locale: when both '.' and ','
// appear, the right-most one is the decimal separator; a lone grouping
// separator followed by exactly three digits is treated as grouping.
func (l Locale) ParseAmount(raw string) (Amount, error) {
	var out Amount
	text := strings.TrimSpace(raw)
	if text == "" {
		return out, fmt.Errorf("empty amount")
	}
	// Drop a leading label such as "Totale:".
	if i := strings.LastIndexByte(text, ':'); i >= 0 {
		text = text[i+1:]
	}

	// Currency symbols first, longest first so "US$" wins over "$".
	for _, sym := range []string{"US$", "CHF", "€", "£", "$", "¥"} {
		if strings.Contains(text, sym) {
			out.Currency = currencySymbols[sym]
			text = strings.ReplaceAll(text, sym, " ")
			break
		}
	}
	if out.Currency == "" {
		for _, code := range currencyCodeRe.FindAllString(text, -1) {
			unit, err := currency.ParseISO(strings.ToUpper(code))
			if err != nil {
				continue
			}
			out.Currency = unit.String()
			text = strings.Replace(text, code, " ", 1)
			break
		}
	}

	text = strings.ReplaceAll(text, "−", "-")
	text = strings.TrimSpace(text)

	negative := false
	switch {
	case strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")"):
		negative, out.Signed = true, true
		text = text[1 : len(text)-1]
	case strings.HasPrefix(text, "-"):
		negative, out.Signed = true, true
		text = text[1:]
	case strings.HasSuffix(text, "-"):
		negative, out.Signed = true, true
		text = text[:len(text)-1]
	case strings.HasPrefix(text, "+"):
		out.Signed = true
		text = text[1:]
	}

	number := spaceReplacer.Replace(text)
	if number == "" || !digitsRe.MatchString(number) {
		return Amount{}, fmt.Errorf("unrecognised amount %q", raw)
	}

	value, err := decimal.NewFromString(l.canonicalNumber(number))
	if err != nil {
		return Amount{}, fmt.Errorf("unrecognised amount %q: %w", raw, err)
	}
	if negative {
		value = value.Neg()
	}
	out.Value = value
	return out, nil
}

// canonicalNumber rewrites a grouped, locale-formatted number into the plain
// "1234.56" form decimal.NewFromString accepts.
func (l Locale) canonicalNumber(s string) string {
	s = strings.ReplaceAll(s, "'", "")
	s = strings.TrimSuffix(s, ",")
	s = strings.TrimSuffix(s, ".")

	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			return strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastDot < 0 && lastComma < 0:
		return s
	}

	sep := byte('.')
	if lastComma >= 0 {
		sep = ','
	}
	if strings.Count(s, string(sep)) > 1 {
		return strings.ReplaceAll(s, string(sep), "")
	}
	idx := strings.IndexByte(s, sep)
	if sep == l.GroupSep && len(s)-idx-1 == 3 {
		return strings.ReplaceAll(s, string(sep), "")
	}
	return strings.Replace(s, string(sep), ".", 1)
}

// NormalizeCurrency maps a currency code or symbol ("eur", "€") onto its
// ISO 4217 code.
func NormalizeCurrency(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if code, ok := currencySymbols[s]; ok {
		return code, nil
	}
	unit, err := currency.ParseISO(strings.ToUpper(s))
	if err != nil {
		return "", fmt.Errorf("unknown currency %q", raw)
	}
	return unit.String(), nil
}
