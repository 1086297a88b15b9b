package pipeline

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/dvloznov/order-ledger/internal/config"
	"github.com/dvloznov/order-ledger/internal/domain"
	"github.com/dvloznov/order-ledger/internal/locale"
)

// RawFields is one order row as the browsing collaborator captured it: field
// names mapped to raw string or number content.
type RawFields map[string]interface{}

// MaxDescriptionRunes bounds the normalized description length.
const MaxDescriptionRunes = 100

var (
	orderIDKeys     = []string{"order_id", "id"}
	orderDateKeys   = []string{"order_date", "date"}
	amountKeys      = []string{"amount", "total"}
	descriptionKeys = []string{"description", "title"}
	currencyKeys    = []string{"currency"}
	merchantKeys    = []string{"merchant"}
)

var (
	descriptionPolicy = bluemonday.StrictPolicy()
	whitespaceRe      = regexp.MustCompile(`\s+`)
)

// NewOrderRecord validates raw fields and builds an OrderRecord. Every failure
// is a *domain.ValidationError naming the offending field.
func NewOrderRecord(fields RawFields, src domain.SourcePage, settings config.Settings) (*domain.OrderRecord, error) {
	loc := locale.ForName(settings.Locale)

	orderID, err := rawString(fields, orderIDKeys)
	if err != nil {
		return nil, &domain.ValidationError{Field: "order_id", Reason: err.Error()}
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, &domain.ValidationError{Field: "order_id", Reason: "missing"}
	}

	invalid := func(field, format string, args ...interface{}) error {
		return &domain.ValidationError{OrderID: orderID, Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	// Date
	rawDate, err := rawString(fields, orderDateKeys)
	if err != nil {
		return nil, invalid("order_date", "%v", err)
	}
	if strings.TrimSpace(rawDate) == "" {
		return nil, invalid("order_date", "missing")
	}
	orderDate, err := loc.ParseDate(rawDate)
	if err != nil {
		return nil, invalid("order_date", "%v", err)
	}
	if years := settings.Years(); !years.Contains(orderDate.Year()) {
		return nil, invalid("order_date", "%s is outside %s", orderDate.Format(domain.DateLayout), years)
	}

	// Amount
	amount, amountCurrency, err := parseAmountField(fields, loc, settings.NegateUnsigned())
	if err != nil {
		return nil, invalid("amount", "%v", err)
	}

	// Currency
	cur := amountCurrency
	rawCurrency, err := rawString(fields, currencyKeys)
	if err != nil {
		return nil, invalid("currency", "%v", err)
	}
	if strings.TrimSpace(rawCurrency) != "" {
		cur, err = locale.NormalizeCurrency(rawCurrency)
		if err != nil {
			return nil, invalid("currency", "%v", err)
		}
	}
	if cur == "" {
		cur = settings.DefaultCurrency
	}

	// Description
	rawDesc, err := rawString(fields, descriptionKeys)
	if err != nil {
		return nil, invalid("description", "%v", err)
	}
	desc := NormalizeDescription(rawDesc)
	if desc == "" {
		return nil, invalid("description", "empty after normalization")
	}

	// Merchant
	rawMerchant, err := rawString(fields, merchantKeys)
	if err != nil {
		return nil, invalid("merchant", "%v", err)
	}
	merchant := NormalizeDescription(rawMerchant)
	if merchant == "" {
		merchant = settings.DefaultMerchant
	}

	return &domain.OrderRecord{
		OrderID:     orderID,
		OrderDate:   orderDate,
		Amount:      amount,
		Currency:    cur,
		Description: desc,
		Merchant:    merchant,
		Source:      src,
	}, nil
}

// NormalizeDescription strips markup, unescapes entities, applies NFC,
// collapses whitespace and truncates to MaxDescriptionRunes.
func NormalizeDescription(raw string) string {
	s := descriptionPolicy.Sanitize(raw)
	s = html.UnescapeString(s)
	s = norm.NFC.String(s)
	s = strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
	if utf8.RuneCountInString(s) > MaxDescriptionRunes {
		s = strings.TrimSpace(string([]rune(s)[:MaxDescriptionRunes]))
	}
	return s
}

// parseAmountField returns the signed amount and any currency found next to it.
// When negateUnsigned is set, text amounts without an explicit sign and
// positive typed numbers are booked as expenditures.
func parseAmountField(fields RawFields, loc locale.Locale, negateUnsigned bool) (decimal.Decimal, string, error) {
	key, v, ok := lookup(fields, amountKeys)
	if !ok || v == nil {
		return decimal.Decimal{}, "", fmt.Errorf("missing")
	}

	var d decimal.Decimal
	switch val := v.(type) {
	case json.Number:
		n, err := decimal.NewFromString(val.String())
		if err != nil {
			return decimal.Decimal{}, "", fmt.Errorf("field %q: %w", key, err)
		}
		d = n
	case float64:
		d = decimal.NewFromFloat(val)
	case int:
		d = decimal.NewFromInt(int64(val))
	case int64:
		d = decimal.NewFromInt(val)
	case decimal.Decimal:
		d = val
	case string:
		if strings.TrimSpace(val) == "" {
			return decimal.Decimal{}, "", fmt.Errorf("missing")
		}
		parsed, err := loc.ParseAmount(val)
		if err != nil {
			return decimal.Decimal{}, "", err
		}
		d = parsed.Value
		if !parsed.Signed && negateUnsigned {
			d = d.Neg()
		}
		return d, parsed.Currency, nil
	default:
		return decimal.Decimal{}, "", fmt.Errorf("field %q has type %T, want string or number", key, v)
	}

	// Numbers carry no explicit "+", so a positive one is unsigned.
	if negateUnsigned && d.IsPositive() {
		d = d.Neg()
	}
	return d, "", nil
}

// rawString returns the first present alias as text. Numbers are rendered
// verbatim so numeric order ids survive.
func rawString(fields RawFields, keys []string) (string, error) {
	key, v, ok := lookup(fields, keys)
	if !ok || v == nil {
		return "", nil
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case float64:
		return decimal.NewFromFloat(val).String(), nil
	case int:
		return fmt.Sprintf("%d", val), nil
	case int64:
		return fmt.Sprintf("%d", val), nil
	default:
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
}

func lookup(fields RawFields, keys []string) (string, interface{}, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return k, v, true
		}
	}
	return "", nil, false
}
