package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/order-ledger/internal/cache"
	"github.com/dvloznov/order-ledger/internal/capture"
	"github.com/dvloznov/order-ledger/internal/gcsuploader"
	infraBQ "github.com/dvloznov/order-ledger/internal/infra/bigquery"
	"github.com/dvloznov/order-ledger/internal/ledger"
	"github.com/dvloznov/order-ledger/internal/logger"
	"github.com/dvloznov/order-ledger/internal/runner"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "extract":
		runExtract(log)
	case "replay":
		runReplay(log)
	case "cache":
		runCache(log)
	case "runs":
		runRuns(log)
	case "upload":
		runUpload(log)
	case "export-bq":
		runExportBQ(log)
	case "validate":
		runValidate(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Order Ledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  extract     Extract orders from page captures and write a ledger")
	fmt.Println("  replay      Rebuild a ledger from one or more cached sessions")
	fmt.Println("  cache       List cached sessions or show one (cache list | cache info KEY)")
	fmt.Println("  runs        Show the run history")
	fmt.Println("  upload      Upload ledgers or cache files to GCS")
	fmt.Println("  export-bq   Insert a cached session's ledger rows into BigQuery")
	fmt.Println("  validate    Check a written ledger file")
	fmt.Println("  help        Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func runExtract(log zerolog.Logger) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	common := addCommonFlags(fs)
	captures := fs.String("captures", "", "Directory of page captures (<dir>/<year>/page-NNN.json)")
	noCache := fs.Bool("no-cache", false, "Do not cache the capture session")
	upload := fs.String("upload", "", "Upload the ledger and session to this gs://bucket/prefix")
	fs.Parse(os.Args[2:])

	if *captures == "" {
		log.Fatal().Msg("Error: --captures is required")
	}
	log = common.logger(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	env, err := common.setup(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Setup failed")
	}
	defer env.close()

	log.Info().
		Str("captures", *captures).
		Str("years", env.settings.Years().String()).
		Int("page_budget", env.settings.PageBudget).
		Msg("Starting extraction")

	res, err := env.runner.Extract(ctx, runner.ExtractOptions{
		Options: common.options(),
		Source:  capture.NewDirSource(*captures),
		NoCache: *noCache,
	})
	env.writeMetrics(log)

	if errors.Is(err, context.Canceled) && res != nil {
		printSummary(res)
		if res.SessionKey != "" {
			fmt.Printf("Interrupted. Partial session cached as %s; replay it together with a later run for the remaining years.\n", res.SessionKey)
		}
		env.exit(130)
	}
	finishRun(log, env, res, err)

	if common.stdout {
		if err := ledger.Encode(os.Stdout, res.Rows); err != nil {
			env.fatal(log, err, "Failed to write ledger to stdout")
		}
	}

	if *upload != "" {
		var files []string
		if res.Output != "" {
			files = append(files, res.Output)
		}
		if res.SessionKey != "" {
			files = append(files, env.store.Path(res.SessionKey))
		}
		uris, err := gcsuploader.Publish(ctx, gcsuploader.NewGCSStorageService(), *upload, files...)
		if err != nil {
			env.fatal(log, err, "Upload failed")
		}
		for _, u := range uris {
			fmt.Printf("Uploaded %s\n", u)
		}
	}
}

func runReplay(log zerolog.Logger) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	common := addCommonFlags(fs)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: cli replay [options] [KEY|latest|gs://bucket/session.json ...]")
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[2:])
	log = common.logger(log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	env, err := common.setup(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Setup failed")
	}
	defer env.close()

	keys, err := resolveKeys(ctx, env.store, fs.Args())
	if err != nil {
		env.fatal(log, err, "Failed to import sessions")
	}

	res, err := env.runner.Replay(ctx, keys, common.options())
	env.writeMetrics(log)
	finishRun(log, env, res, err)

	if common.stdout {
		if err := ledger.Encode(os.Stdout, res.Rows); err != nil {
			env.fatal(log, err, "Failed to write ledger to stdout")
		}
	}
}

func runCache(log zerolog.Logger) {
	if len(os.Args) < 3 {
		log.Fatal().Msg("Usage: cli cache list | cli cache info [KEY]")
	}
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to the settings file")
	fs.Parse(os.Args[3:])

	settings, err := loadSettings(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load settings")
	}
	store := cache.NewStore(settings.CacheDir)

	switch os.Args[2] {
	case "list":
		keys, err := store.List()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list cache")
		}
		if len(keys) == 0 {
			fmt.Printf("No cached sessions in %s\n", store.Dir())
			return
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tCREATED\tYEARS\tRECORDS\tPARTIAL")
		for _, key := range keys {
			info, err := store.Info(key)
			if err != nil {
				fmt.Fprintf(tw, "%s\t-\t-\t-\t%v\n", key, err)
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%v\n", info.Key, info.CreatedAt.Format(time.RFC3339), info.Years, info.Records, info.Partial)
		}
		tw.Flush()
	case "info":
		key := cache.Latest
		if fs.NArg() > 0 {
			key = fs.Arg(0)
		}
		info, err := store.Info(key)
		if err != nil {
			log.Fatal().Err(err).Str("key", key).Msg("Failed to read cached session")
		}
		fmt.Printf("Key:      %s\n", info.Key)
		fmt.Printf("Created:  %s\n", info.CreatedAt.Format(time.RFC3339))
		fmt.Printf("Years:    %s\n", info.Years)
		fmt.Printf("Records:  %d\n", info.Records)
		fmt.Printf("Partial:  %v\n", info.Partial)
		fmt.Printf("File:     %s (%d bytes)\n", info.Path, info.SizeBytes)
	default:
		log.Fatal().Str("subcommand", os.Args[2]).Msg("Unknown cache subcommand")
	}
}

func runRuns(log zerolog.Logger) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to the settings file")
	history := fs.String("history", "", "Run history database (overrides history_db)")
	limit := fs.Int("limit", 20, "Number of runs to show")
	fs.Parse(os.Args[2:])

	settings, err := loadSettings(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load settings")
	}
	if *history != "" {
		settings.HistoryDB = *history
	}
	if settings.HistoryDB == "" {
		log.Fatal().Msg("Error: no run history configured (set history_db or --history)")
	}

	ctx := logger.WithContext(context.Background(), log)
	rec, err := openRecorder(ctx, settings.HistoryDB)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open run history")
	}
	defer rec.Close()

	runs, err := rec.ListRuns(ctx, *limit)
	if err != nil {
		rec.Close()
		log.Fatal().Err(err).Msg("Failed to list runs")
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tKIND\tYEARS\tSTATUS\tPAGES\tEXTRACTED\tSKIPPED\tDUPES\tAMBIGUOUS\tROWS\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.StartedAt.Local().Format(time.RFC3339), r.Kind, r.Years, r.Status,
			r.Summary.Pages, r.Summary.Extracted, r.Summary.Skipped, r.Summary.DuplicatesCollapsed,
			r.Summary.Ambiguous, r.Summary.RowsWritten, r.Error)
	}
	tw.Flush()
}

func runUpload(log zerolog.Logger) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	dest := fs.String("dest", "", "Destination gs://bucket/prefix")
	fs.Parse(os.Args[2:])

	if *dest == "" || fs.NArg() == 0 {
		log.Fatal().Msg("Usage: cli upload -dest gs://bucket/prefix FILE...")
	}

	ctx := logger.WithContext(context.Background(), log)
	log.Info().Str("dest", *dest).Int("files", fs.NArg()).Msg("Uploading files to GCS")

	uris, err := gcsuploader.Publish(ctx, gcsuploader.NewGCSStorageService(), *dest, fs.Args()...)
	if err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}
	for _, u := range uris {
		fmt.Printf("Uploaded %s\n", u)
	}
}

func runExportBQ(log zerolog.Logger) {
	fs := flag.NewFlagSet("export-bq", flag.ExitOnError)
	common := addCommonFlags(fs)
	project := fs.String("project", os.Getenv("GOOGLE_CLOUD_PROJECT"), "GCP project (defaults to the detected project)")
	dataset := fs.String("dataset", infraBQ.DefaultDataset, "BigQuery dataset holding the orders table")
	fs.Parse(os.Args[2:])
	log = common.logger(log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	env, err := common.setup(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Setup failed")
	}
	defer env.close()

	keys, err := resolveKeys(ctx, env.store, fs.Args())
	if err != nil {
		env.fatal(log, err, "Failed to import sessions")
	}
	opts := common.options()
	opts.NoWrite = true
	res, err := env.runner.Replay(ctx, keys, opts)
	finishRun(log, env, res, err)

	repo, err := infraBQ.NewBigQueryOrderRepository(ctx, infraBQ.Target{ProjectID: *project, DatasetID: *dataset})
	if err != nil {
		env.fatal(log, err, "Failed to initialize BigQuery repository")
	}
	defer repo.Close()

	exp, err := infraBQ.ExportLedger(ctx, repo, res.Rows, res.RunID, time.Now())
	if err != nil {
		repo.Close()
		env.fatal(log, err, "Export failed")
	}
	fmt.Printf("Exported %d rows (%d already present).\n", exp.Inserted, exp.Existing)
}

func runValidate(log zerolog.Logger) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to the settings file")
	fs.Parse(os.Args[2:])

	if fs.NArg() != 1 {
		log.Fatal().Msg("Usage: cli validate [-config FILE] LEDGER.csv")
	}
	settings, err := loadSettings(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load settings")
	}

	n, err := ledger.Validate(fs.Arg(0), settings.OutputDateFormat)
	if err != nil {
		log.Fatal().Err(err).Str("file", fs.Arg(0)).Msg("Ledger is not valid")
	}
	fmt.Printf("%s: %d rows, valid\n", fs.Arg(0), n)
}

// resolveKeys imports gs:// session documents into the store and returns the
// keys to replay.
func resolveKeys(ctx context.Context, store *cache.Store, args []string) ([]string, error) {
	keys := make([]string, 0, len(args))
	var svc gcsuploader.StorageService
	for _, arg := range args {
		if !strings.HasPrefix(arg, "gs://") {
			keys = append(keys, arg)
			continue
		}
		if svc == nil {
			svc = gcsuploader.NewGCSStorageService()
		}
		data, err := gcsuploader.FetchFromGCS(ctx, svc, arg)
		if err != nil {
			return nil, err
		}
		key, err := store.Import(data)
		if err != nil {
			return nil, err
		}
		log := logger.FromContext(ctx)
		log.Info().Str("uri", arg).Str("session", key).Msg("Imported cached session")
		keys = append(keys, key)
	}
	return keys, nil
}

// finishRun prints the run summary and exits on failure.
func finishRun(log zerolog.Logger, e *env, res *runner.Result, err error) {
	if res != nil {
		printSummary(res)
	}
	if errors.Is(err, runner.ErrNoOrders) {
		log.Warn().Msg("No orders found to process")
		e.exit(1)
	}
	if err != nil {
		e.fatal(log, err, "Run failed")
	}
}

func printSummary(res *runner.Result) {
	w := os.Stderr
	fmt.Fprintln(w, "Run summary")
	fmt.Fprintf(w, "  run id:               %s\n", res.RunID)
	if res.Capture != nil {
		for _, y := range res.Capture.Years {
			budget := ""
			if y.BudgetHit {
				budget = " (page budget reached)"
			}
			fmt.Fprintf(w, "  %d:                 %d pages, %d extracted, %d skipped%s\n", y.Year, y.Pages, y.Extracted, y.Skipped, budget)
		}
	}
	if res.SessionKey != "" {
		partial := ""
		if res.Partial {
			partial = " (partial)"
		}
		fmt.Fprintf(w, "  session:              %s%s\n", res.SessionKey, partial)
	}
	if res.Report != nil {
		fmt.Fprintf(w, "  records:              %d\n", res.Report.Input)
		fmt.Fprintf(w, "  duplicates collapsed: %d\n", res.Report.DuplicatesCollapsed)
		fmt.Fprintf(w, "  ambiguous rows:       %d\n", res.Report.Ambiguous)
		fmt.Fprintf(w, "  skipped:              %d\n", res.Report.Skipped)
		fmt.Fprintf(w, "  ledger rows:          %d\n", len(res.Rows))
	}
	if res.Output != "" {
		fmt.Fprintf(w, "  output:               %s\n", res.Output)
	}
}
