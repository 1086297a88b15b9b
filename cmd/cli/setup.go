package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/dvloznov/order-ledger/internal/cache"
	"github.com/dvloznov/order-ledger/internal/categorize"
	"github.com/dvloznov/order-ledger/internal/config"
	"github.com/dvloznov/order-ledger/internal/logger"
	"github.com/dvloznov/order-ledger/internal/metrics"
	"github.com/dvloznov/order-ledger/internal/recorder"
	"github.com/dvloznov/order-ledger/internal/runner"
)

const defaultConfigPath = "order-ledger.yaml"

// commonFlags are shared by the commands that build a ledger.
type commonFlags struct {
	configPath  *string
	startYear   *int
	endYear     *int
	output      *string
	debug       *bool
	strict      *bool
	categorize  *string
	metricsFile *string
	history     *string

	stdout bool
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		configPath:  fs.String("config", defaultConfigPath, "Path to the settings file"),
		startYear:   fs.Int("start-year", 0, "First year to extract (overrides start_year)"),
		endYear:     fs.Int("end-year", 0, "Last year to extract (overrides end_year)"),
		output:      fs.String("o", "", "Ledger output path, '-' for stdout (default: timestamped file in output_dir)"),
		debug:       fs.Bool("debug", false, "Enable debug logging"),
		strict:      fs.Bool("strict", false, "Abort on the first order that cannot be mapped"),
		categorize:  fs.String("categorize", "", "Categorization: none, keywords or gemini (default: keywords when categories_file is set)"),
		metricsFile: fs.String("metrics-file", "", "Write run metrics in Prometheus text format to this file"),
		history:     fs.String("history", "", "Run history database (overrides history_db)"),
	}
}

func (c *commonFlags) logger(log zerolog.Logger) zerolog.Logger {
	logger.SetDebug(*c.debug)
	return log
}

func (c *commonFlags) options() runner.Options {
	opts := runner.Options{Output: *c.output, Strict: *c.strict}
	if *c.output == "-" {
		c.stdout = true
		opts.Output = ""
		opts.NoWrite = true
	}
	return opts
}

// env holds what a ledger-building command needs.
type env struct {
	settings    config.Settings
	store       *cache.Store
	runner      *runner.Runner
	recorder    recorder.Recorder
	metrics     *metrics.Metrics
	metricsFile string
	closed      bool
}

func (c *commonFlags) setup(ctx context.Context) (*env, error) {
	settings, err := loadSettings(*c.configPath)
	if err != nil {
		return nil, err
	}
	settings = settings.WithYears(*c.startYear, *c.endYear)
	if *c.history != "" {
		settings.HistoryDB = *c.history
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	rec := recorder.Recorder(recorder.NewNoopRecorder())
	if settings.HistoryDB != "" {
		rec, err = openRecorder(ctx, settings.HistoryDB)
		if err != nil {
			return nil, err
		}
	}

	cat, err := buildCategorizer(ctx, *c.categorize, settings.CategoriesFile)
	if err != nil {
		rec.Close()
		return nil, err
	}

	e := &env{
		settings:    settings,
		store:       cache.NewStore(settings.CacheDir),
		recorder:    rec,
		metrics:     metrics.New(),
		metricsFile: *c.metricsFile,
	}
	e.runner = runner.New(settings, runner.Deps{
		Store:       e.store,
		Recorder:    rec,
		Metrics:     e.metrics,
		Categorizer: cat,
	})
	return e, nil
}

func (e *env) close() {
	if e.closed {
		return
	}
	e.closed = true
	e.recorder.Close()
}

// exit closes the run history, which deferred calls would skip, and ends the
// process with code.
func (e *env) exit(code int) {
	e.close()
	os.Exit(code)
}

// fatal logs err at fatal level and exits 1 after closing the run history.
func (e *env) fatal(log zerolog.Logger, err error, msg string) {
	log.WithLevel(zerolog.FatalLevel).Err(err).Msg(msg)
	e.exit(1)
}

// writeMetrics dumps the run metrics when a textfile was requested. Failures
// are logged; they never fail the run.
func (e *env) writeMetrics(log zerolog.Logger) {
	if e.metricsFile == "" {
		return
	}
	if err := e.metrics.WriteTextfile(e.metricsFile); err != nil {
		log.Error().Err(err).Str("path", e.metricsFile).Msg("Failed to write metrics file")
		return
	}
	log.Debug().Str("path", e.metricsFile).Msg("Metrics written")
}

func loadSettings(path string) (config.Settings, error) {
	settings, err := config.Load(path)
	if err != nil {
		return config.Settings{}, fmt.Errorf("load settings from %s: %w", path, err)
	}
	return settings, nil
}

func openRecorder(ctx context.Context, path string) (recorder.Recorder, error) {
	rec, err := recorder.NewSQLiteRecorder(ctx, path)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// buildCategorizer picks the categorizer for mode. Gemini runs after the
// keyword rules and only sees rows they left uncategorized.
func buildCategorizer(ctx context.Context, mode, rulesPath string) (categorize.Categorizer, error) {
	if mode == "" {
		mode = "none"
		if rulesPath != "" {
			mode = "keywords"
		}
	}
	if mode == "none" {
		return nil, nil
	}
	if mode != "keywords" && mode != "gemini" {
		return nil, fmt.Errorf("unknown categorize mode %q", mode)
	}
	if rulesPath == "" {
		return nil, fmt.Errorf("categorize mode %q needs categories_file", mode)
	}

	rules, err := categorize.LoadRules(rulesPath)
	if err != nil {
		return nil, err
	}
	keywords := categorize.NewKeywordCategorizer(rules)
	if mode == "keywords" {
		return keywords, nil
	}

	validator, err := categorize.NewCategoryValidator(ctx, rules)
	if err != nil {
		return nil, err
	}
	gen, err := categorize.NewGenAIGenerator(ctx, categorize.DefaultModelName)
	if err != nil {
		return nil, err
	}
	return categorize.Chain(keywords, categorize.NewGeminiCategorizer(gen, validator)), nil
}
