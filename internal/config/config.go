package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"gopkg.in/yaml.v3"

	"github.com/dvloznov/order-ledger/internal/domain"
)

// Defaults for the reference merchant (Amazon Italy).
const (
	DefaultCurrency         = "EUR"
	DefaultMerchant         = "Amazon"
	DefaultLocale           = "it"
	DefaultOutputDateFormat = "2006-01-02"
	DefaultCacheDir         = "cache"
	DefaultOutputDir        = "output"
	DefaultPageBudget       = 50
)

// Settings is the immutable configuration handed to every pipeline component.
// It is built once by Load (or by tests) and passed by value.
type Settings struct {
	StartYear         int      `yaml:"start_year"`
	EndYear           int      `yaml:"end_year"`
	DefaultCurrency   string   `yaml:"default_currency"`
	DefaultMerchant   string   `yaml:"default_merchant"`
	DefaultCategory   string   `yaml:"default_category"`
	DefaultTags       []string `yaml:"default_tags"`
	Locale            string   `yaml:"locale"`
	OutputDateFormat  string   `yaml:"output_date_format"`
	CacheDir          string   `yaml:"cache_dir"`
	OutputDir         string   `yaml:"output_dir"`
	PageBudget        int      `yaml:"page_budget"`
	UnsignedIsExpense *bool    `yaml:"unsigned_is_expense"`
	CategoriesFile    string   `yaml:"categories_file"`
	HistoryDB         string   `yaml:"history_db"`
}

// Years returns the requested extraction range.
func (s Settings) Years() domain.YearRange {
	return domain.YearRange{Start: s.StartYear, End: s.EndYear}
}

// NegateUnsigned reports whether unsigned raw amounts are expenditures.
func (s Settings) NegateUnsigned() bool {
	return s.UnsignedIsExpense == nil || *s.UnsignedIsExpense
}

// Default returns settings for the current year with every default applied.
func Default() Settings {
	var s Settings
	s.applyDefaults(time.Now())
	return s
}

// Load reads settings from a YAML file (JSON settings files parse too), then
// applies environment variable overrides and defaults. A missing file is not
// an error.
func Load(path string) (Settings, error) {
	var s Settings

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, &s); err != nil {
				return Settings{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	// Environment variable overrides
	if v := os.Getenv("LEDGER_START_YEAR"); v != "" {
		if year, err := strconv.Atoi(v); err == nil {
			s.StartYear = year
		}
	}
	if v := os.Getenv("LEDGER_END_YEAR"); v != "" {
		if year, err := strconv.Atoi(v); err == nil {
			s.EndYear = year
		}
	}
	if v := os.Getenv("LEDGER_CACHE_DIR"); v != "" {
		s.CacheDir = v
	}
	if v := os.Getenv("LEDGER_DEFAULT_CURRENCY"); v != "" {
		s.DefaultCurrency = v
	}
	if v := os.Getenv("LEDGER_LOCALE"); v != "" {
		s.Locale = v
	}

	s.applyDefaults(time.Now())
	return s, nil
}

// WithYears returns a copy of s with the year range replaced. Zero values keep
// the current bound.
func (s Settings) WithYears(start, end int) Settings {
	if start != 0 {
		s.StartYear = start
	}
	if end != 0 {
		s.EndYear = end
	}
	if s.StartYear > s.EndYear {
		s.StartYear, s.EndYear = s.EndYear, s.StartYear
	}
	return s
}

func (s *Settings) applyDefaults(now time.Time) {
	if s.StartYear == 0 {
		s.StartYear = now.Year()
	}
	if s.EndYear == 0 {
		s.EndYear = now.Year()
	}
	if s.StartYear > s.EndYear {
		s.StartYear, s.EndYear = s.EndYear, s.StartYear
	}
	if s.DefaultCurrency == "" {
		s.DefaultCurrency = DefaultCurrency
	}
	s.DefaultCurrency = strings.ToUpper(strings.TrimSpace(s.DefaultCurrency))
	if s.DefaultMerchant == "" {
		s.DefaultMerchant = DefaultMerchant
	}
	if s.Locale == "" {
		s.Locale = DefaultLocale
	}
	if s.OutputDateFormat == "" {
		s.OutputDateFormat = DefaultOutputDateFormat
	}
	if s.CacheDir == "" {
		s.CacheDir = DefaultCacheDir
	}
	if s.OutputDir == "" {
		s.OutputDir = DefaultOutputDir
	}
	if s.PageBudget == 0 {
		s.PageBudget = DefaultPageBudget
	}
}

// Validate checks that the settings are usable by the pipeline.
func (s Settings) Validate() error {
	if s.StartYear < 1990 || s.EndYear > 9999 {
		return fmt.Errorf("year range %d-%d is out of bounds", s.StartYear, s.EndYear)
	}
	if s.StartYear > s.EndYear {
		return fmt.Errorf("start_year %d is after end_year %d", s.StartYear, s.EndYear)
	}
	if _, err := currency.ParseISO(s.DefaultCurrency); err != nil {
		return fmt.Errorf("default_currency %q is not an ISO 4217 code", s.DefaultCurrency)
	}
	if s.PageBudget < 0 {
		return fmt.Errorf("page_budget must not be negative")
	}
	sample := time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC)
	parsed, err := time.Parse(s.OutputDateFormat, sample.Format(s.OutputDateFormat))
	if err != nil || !parsed.Equal(sample) {
		return fmt.Errorf("output_date_format %q does not round-trip a calendar date", s.OutputDateFormat)
	}
	return nil
}
