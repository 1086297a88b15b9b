package domain

import (
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func sampleRecord() *OrderRecord {
	return &OrderRecord{
		OrderID:     "A1",
		OrderDate:   time.Date(2023, 3, 12, 0, 0, 0, 0, time.UTC),
		Amount:      decimal.RequireFromString("-25.50"),
		Currency:    "EUR",
		Description: "Cavo USB",
		Merchant:    "Amazon",
		Source:      SourcePage{Year: 2023, Page: 1},
	}
}

func TestContentHash_IgnoresProvenanceAndScale(t *testing.T) {
	a := sampleRecord()
	b := sampleRecord()
	b.Source = SourcePage{Year: 2023, Page: 4}
	b.Amount = decimal.RequireFromString("-25.5")

	if a.ContentHash() != b.ContentHash() {
		t.Error("Expected equal hashes for records differing only in provenance and amount scale")
	}
	if !a.SameContent(b) {
		t.Error("Expected SameContent to be true")
	}

	b.Description = "Cavo USB-C"
	if a.ContentHash() == b.ContentHash() {
		t.Error("Expected different hashes for different descriptions")
	}
}

func TestContentHashWithDefault(t *testing.T) {
	a := sampleRecord()
	b := sampleRecord()
	b.Currency = ""

	if a.ContentHash() == b.ContentHash() {
		t.Error("Expected raw hashes to differ when currency is missing")
	}
	if a.ContentHashWithDefault("EUR") != b.ContentHashWithDefault("EUR") {
		t.Error("Expected hashes to match once the default currency is applied")
	}
}

func TestOrderRecord_Less(t *testing.T) {
	early := sampleRecord()
	late := sampleRecord()
	late.OrderDate = late.OrderDate.AddDate(0, 0, 1)

	if !early.Less(late) || late.Less(early) {
		t.Error("Expected ordering by date first")
	}

	sameDay := sampleRecord()
	sameDay.OrderID = "B1"
	if !early.Less(sameDay) {
		t.Error("Expected ordering by order id on equal dates")
	}
	if early.Less(early) {
		t.Error("Expected Less to be irreflexive")
	}
}

func TestYearRange(t *testing.T) {
	yr := YearRange{Start: 2021, End: 2023}

	years := yr.Years()
	if len(years) != 3 || years[0] != 2021 || years[2] != 2023 {
		t.Errorf("Years() = %v, want [2021 2022 2023]", years)
	}
	if !yr.Contains(2022) || yr.Contains(2020) || yr.Contains(2024) {
		t.Error("Contains returned wrong result")
	}
	if got := (YearRange{Start: 2024, End: 2023}).Years(); got != nil {
		t.Errorf("Expected nil years for empty range, got %v", got)
	}
	if yr.String() != "2021-2023" {
		t.Errorf("String() = %q", yr.String())
	}
}

func TestCaptureSession_AppendAndSeal(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewCaptureSession(YearRange{Start: 2023, End: 2023}, now)

	if err := s.Append(sampleRecord(), sampleRecord()); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}

	s.Seal()
	s.Seal()
	if !s.Sealed() {
		t.Fatal("Expected session to be sealed")
	}
	if err := s.Append(sampleRecord()); err == nil {
		t.Error("Expected error appending to a sealed session")
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d after rejected append, want 2", s.Len())
	}
}

func TestCaptureSession_RecordsAreCopies(t *testing.T) {
	s := RestoreCaptureSession("id", time.Now(), YearRange{Start: 2023, End: 2023}, false, []*OrderRecord{sampleRecord()})

	recs := s.Records()
	recs[0].Description = "changed"

	if got := s.Records()[0].Description; got != "Cavo USB" {
		t.Errorf("Session record mutated through copy: %q", got)
	}
	if !s.Sealed() {
		t.Error("Expected restored session to be sealed")
	}
}

func TestNewSessionID(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	id := NewSessionID(now)

	if !regexp.MustCompile(`^20240102T030405Z-[0-9a-f]{8}$`).MatchString(id) {
		t.Errorf("Unexpected session id format: %s", id)
	}
	if id == NewSessionID(now) {
		t.Error("Expected distinct ids for sessions created in the same second")
	}
}

func TestLedgerRow_Columns(t *testing.T) {
	row := LedgerRow{
		Date:        "2023-03-12",
		Amount:      "-25.50",
		Description: "Cavo USB",
		Currency:    "EUR",
	}
	cols := row.Columns()
	if len(cols) != len(LedgerHeader) {
		t.Fatalf("Columns() has %d fields, want %d", len(cols), len(LedgerHeader))
	}
	if cols[4] != "" || cols[5] != "" {
		t.Errorf("Expected empty optional columns, got %q %q", cols[4], cols[5])
	}

	row.Tags = []string{"amazon", TagAmbiguousDuplicate}
	if got := row.Columns()[5]; got != "amazon,ambiguous-duplicate" {
		t.Errorf("tags column = %q", got)
	}
}

func TestLedgerRow_Key(t *testing.T) {
	base := LedgerRow{
		OrderID:     "A1",
		OrderDate:   time.Date(2023, 3, 12, 0, 0, 0, 0, time.UTC),
		Value:       decimal.RequireFromString("-25.50"),
		Currency:    "EUR",
		Description: "Cavo USB",
	}
	same := base
	same.Category = "Electronics"
	same.Value = decimal.RequireFromString("-25.5")
	other := base
	other.Value = decimal.RequireFromString("-26")
	otherSeller := base
	otherSeller.Merchant = "Seller Srl"

	if base.Key() != same.Key() {
		t.Error("Expected category and amount scale not to affect the key")
	}
	if base.Key() == other.Key() {
		t.Error("Expected rows with different amounts to have different keys")
	}
	if base.Key() == otherSeller.Key() {
		t.Error("Expected rows with different merchants to have different keys")
	}
	if !regexp.MustCompile(`^A1/[0-9a-f]{12}$`).MatchString(base.Key()) {
		t.Errorf("Key() = %q", base.Key())
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"-25.5", "-25.50"},
		{"12", "12.00"},
		{"0", "0.00"},
		{"1234.56", "1234.56"},
		{"0.125", "0.125"},
		{"-25.500", "-25.50"},
		{"-25.5010", "-25.501"},
		{"100", "100.00"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := FormatAmount(decimal.RequireFromString(tt.input)); got != tt.want {
				t.Errorf("FormatAmount(%s) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestErrors_Unwrap(t *testing.T) {
	base := fmt.Errorf("disk full")

	var corrupt *CacheCorruptError
	err := fmt.Errorf("Load: %w", &CacheCorruptError{Key: "k", Err: base})
	if !errors.As(err, &corrupt) || !errors.Is(err, base) {
		t.Error("Expected CacheCorruptError to be matchable and unwrap to its cause")
	}

	var werr *WriteError
	err = fmt.Errorf("Write: %w", &WriteError{Path: "out.csv", Err: base})
	if !errors.As(err, &werr) || werr.Path != "out.csv" {
		t.Error("Expected WriteError to be matchable")
	}

	v := &ValidationError{OrderID: "A1", Field: "amount", Reason: "missing"}
	if v.Error() != "validation error on 'amount' (order A1): missing" {
		t.Errorf("Unexpected message: %s", v.Error())
	}
}
