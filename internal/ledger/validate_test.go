package ledger

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/order-ledger/internal/domain"
)

func TestValidate_WrittenLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	rows := []domain.LedgerRow{
		{Date: "2023-03-12", Amount: "-25.50", Description: "Cavo USB", Currency: "EUR"},
		{Date: "2023-03-13", Amount: "-1234.567", Description: "Monitor, 27\"", Currency: "EUR", Tags: []string{"a", "b"}},
	}
	if err := Write(rows, path); err != nil {
		t.Fatal(err)
	}

	n, err := Validate(path, domain.DateLayout)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Validate() = %d rows, want 2", n)
	}
}

func TestValidateReader_Errors(t *testing.T) {
	header := "date,amount,description,currency,category,tags\n"

	tests := []struct {
		name  string
		input string
	}{
		{"no header", ""},
		{"wrong header", "day,amount,description,currency,category,tags\n2023-01-01,-1,x,EUR,,\n"},
		{"missing column", header + "2023-01-01,-1,x,EUR,\n"},
		{"bad date", header + "01/01/2023,-1,x,EUR,,\n"},
		{"bad amount", header + "2023-01-01,\"1.234,00\",x,EUR,,\n"},
		{"empty description", header + "2023-01-01,-1,,EUR,,\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValidateReader(strings.NewReader(tt.input), domain.DateLayout); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestValidateReader_Empty(t *testing.T) {
	_, err := ValidateReader(strings.NewReader("date,amount,description,currency,category,tags\n"), domain.DateLayout)
	if !errors.Is(err, ErrEmptyLedger) {
		t.Errorf("Expected ErrEmptyLedger, got %v", err)
	}
}

func TestDefaultFilename(t *testing.T) {
	got := DefaultFilename(time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC))
	if got != "orders_20240203_040506.csv" {
		t.Errorf("DefaultFilename() = %q", got)
	}
}
