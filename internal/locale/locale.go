// Package locale parses merchant-locale dates and money amounts as they appear
// on order history pages ("15 gen 2024", "1.234,56 €", "EUR 25,50").
package locale

import "strings"

// Locale describes how a merchant renders dates and numbers.
type Locale struct {
	Name       string
	DayFirst   bool // numeric dates are dd/mm/yyyy
	DecimalSep byte
	GroupSep   byte
	Currency   string // currency implied by the storefront
}

var locales = map[string]Locale{
	"it":    {Name: "it", DayFirst: true, DecimalSep: ',', GroupSep: '.', Currency: "EUR"},
	"de":    {Name: "de", DayFirst: true, DecimalSep: ',', GroupSep: '.', Currency: "EUR"},
	"fr":    {Name: "fr", DayFirst: true, DecimalSep: ',', GroupSep: ' ', Currency: "EUR"},
	"es":    {Name: "es", DayFirst: true, DecimalSep: ',', GroupSep: '.', Currency: "EUR"},
	"en-gb": {Name: "en-GB", DayFirst: true, DecimalSep: '.', GroupSep: ',', Currency: "GBP"},
	"en-us": {Name: "en-US", DayFirst: false, DecimalSep: '.', GroupSep: ',', Currency: "USD"},
}

// ForName returns the locale registered under name. Region-less names fall
// back to their language ("it-IT" → "it"); unknown names fall back to "it".
func ForName(name string) Locale {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", "-"))
	if l, ok := locales[key]; ok {
		return l
	}
	if i := strings.IndexByte(key, '-'); i > 0 {
		if l, ok := locales[key[:i]]; ok {
			return l
		}
	}
	if key == "en" {
		return locales["en-us"]
	}
	return locales["it"]
}
