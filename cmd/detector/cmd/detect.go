package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"duplicates-detection-service/cmd/detector/config"
	"duplicates-detection-service/internal/cache"
	"duplicates-detection-service/internal/detector"
	"duplicates-detection-service/internal/feed"
	"duplicates-detection-service/internal/report"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the detect command
var (
	feedFile      string
	backfillFiles []string
	bankPreset    string
	companyID     string
	defaultBank   string
	accountNumber string
	bankWhitelist []string
	strictRows    bool
	maxRowErrors  int

	profile         string
	maxLevenshtein  int
	minCosine       float64
	minJaroWinkler  float64
	amountTolerance float64
	topK            int
	maxConcurrency  int

	cacheTTL         time.Duration
	cacheMaxPerScope int
	trackRecurrence  bool

	sinkType       string
	sqliteDB       string
	bqProject      string
	bqDataset      string
	bqCredentials  string
	bqEnsureTables bool
	buffered       bool

	outputFormat    string
	outputFile      string
	includeDistinct bool
	maxItems        int
	showProgress    bool
)

// detectCmd represents the detect command
var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Classify feed transactions against the known-transaction cache",
	Long: `Detect reads a transaction feed, classifies every transaction as an
exact duplicate, a modified duplicate, or distinct, and writes conflict
and update records to the configured sink.

Each transaction is compared only against cached transactions in the
same (company, bank, account) scope. Text similarity uses Levenshtein
distance, cosine similarity, and Jaro-Winkler; a candidate crossing any
threshold is reported as a modified duplicate.

Examples:
  # Classify a feed against an empty cache, report to stdout
  detector detect --feed-file movements.csv

  # Seed the cache from history first, then classify
  detector detect --feed-file today.csv --backfill-files jan.csv,feb.csv

  # Persist results to SQLite with a BBVA column layout
  detector detect --feed-file feed.csv --bank-preset bbva \
    --sink sqlite --sqlite-db results.db

  # Stream results to BigQuery, creating tables on first run
  detector detect --feed-file feed.ndjson --sink bigquery \
    --bq-project my-project --bq-dataset dedup --bq-ensure-tables

  # Stricter thresholds and a JSON report
  detector detect --feed-file feed.csv --profile strict \
    --output-format json --output-file report.json

  # Progress indicators for large feeds
  detector detect --feed-file big.csv --progress`,

	PreRunE: validateDetectFlags,
	RunE:    runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)

	// Input flags
	detectCmd.Flags().StringVarP(&feedFile, "feed-file", "i", "", "path to transaction feed file, CSV or NDJSON (required)")
	detectCmd.Flags().StringSliceVar(&backfillFiles, "backfill-files", []string{}, "comma-separated historical files to seed the cache before classification")
	detectCmd.Flags().StringVar(&bankPreset, "bank-preset", "", "bank column layout: standard, bbva, bbvaempresas, santander (default: auto-detect)")
	detectCmd.Flags().StringVar(&companyID, "company-id", "", "company id for rows missing one")
	detectCmd.Flags().StringVar(&defaultBank, "default-bank", "", "bank name for rows missing one")
	detectCmd.Flags().StringVar(&accountNumber, "account-number", "", "account number for rows missing one")
	detectCmd.Flags().StringSliceVar(&bankWhitelist, "bank-whitelist", []string{}, "only process rows from these banks (default: all banks)")
	detectCmd.Flags().BoolVar(&strictRows, "strict-rows", false, "abort on the first malformed feed row")
	detectCmd.Flags().IntVar(&maxRowErrors, "max-row-errors", 0, "abort after this many malformed rows (0 uses the reader default)")

	// Detection flags
	detectCmd.Flags().StringVar(&profile, "profile", "default", "threshold profile: default, strict, relaxed")
	detectCmd.Flags().IntVar(&maxLevenshtein, "max-levenshtein", 3, "maximum edit distance for a modified duplicate (overrides profile)")
	detectCmd.Flags().Float64Var(&minCosine, "min-cosine", 0.8, "minimum cosine similarity for a modified duplicate (overrides profile)")
	detectCmd.Flags().Float64Var(&minJaroWinkler, "min-jaro-winkler", 0.9, "minimum Jaro-Winkler similarity for a modified duplicate (overrides profile)")
	detectCmd.Flags().Float64Var(&amountTolerance, "amount-tolerance", 0.01, "absolute amount difference treated as matching (overrides profile)")
	detectCmd.Flags().IntVar(&topK, "top-k", 50, "candidates compared per transaction (overrides profile)")
	detectCmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 4, "scopes classified concurrently (overrides profile)")

	// Cache flags
	detectCmd.Flags().DurationVar(&cacheTTL, "cache-ttl", 360*time.Hour, "candidate retention window")
	detectCmd.Flags().IntVar(&cacheMaxPerScope, "cache-max-per-scope", 1000, "maximum cached candidates per scope")
	detectCmd.Flags().BoolVar(&trackRecurrence, "recurrence", true, "annotate modified duplicates with monthly recurrence history")

	// Sink flags
	detectCmd.Flags().StringVar(&sinkType, "sink", "memory", "result sink: memory, sqlite, bigquery")
	detectCmd.Flags().StringVar(&sqliteDB, "sqlite-db", "", "SQLite database path (required for --sink sqlite)")
	detectCmd.Flags().StringVar(&bqProject, "bq-project", "", "BigQuery project id (required for --sink bigquery)")
	detectCmd.Flags().StringVar(&bqDataset, "bq-dataset", "", "BigQuery dataset id (required for --sink bigquery)")
	detectCmd.Flags().StringVar(&bqCredentials, "bq-credentials", "", "service account credentials file (default: application default credentials)")
	detectCmd.Flags().BoolVar(&bqEnsureTables, "bq-ensure-tables", false, "create missing BigQuery tables before writing")
	detectCmd.Flags().BoolVar(&buffered, "buffered", true, "buffer sink writes and retry transient failures")

	// Output flags
	detectCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	detectCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")
	detectCmd.Flags().BoolVar(&includeDistinct, "include-distinct", false, "include distinct transactions in the report")
	detectCmd.Flags().IntVar(&maxItems, "max-items", 50, "maximum items per console report section")
	detectCmd.Flags().BoolVar(&showProgress, "progress", false, "show progress indicators")

	// Mark required flags
	detectCmd.MarkFlagRequired("feed-file")

	// Bind flags to viper. Threshold flags stay unbound; they override
	// the profile only when set explicitly on the command line.
	viper.BindPFlag("feed-file", detectCmd.Flags().Lookup("feed-file"))
	viper.BindPFlag("backfill-files", detectCmd.Flags().Lookup("backfill-files"))
	viper.BindPFlag("bank-preset", detectCmd.Flags().Lookup("bank-preset"))
	viper.BindPFlag("company-id", detectCmd.Flags().Lookup("company-id"))
	viper.BindPFlag("default-bank", detectCmd.Flags().Lookup("default-bank"))
	viper.BindPFlag("account-number", detectCmd.Flags().Lookup("account-number"))
	viper.BindPFlag("bank-whitelist", detectCmd.Flags().Lookup("bank-whitelist"))
	viper.BindPFlag("strict-rows", detectCmd.Flags().Lookup("strict-rows"))
	viper.BindPFlag("max-row-errors", detectCmd.Flags().Lookup("max-row-errors"))
	viper.BindPFlag("profile", detectCmd.Flags().Lookup("profile"))
	viper.BindPFlag("cache-ttl", detectCmd.Flags().Lookup("cache-ttl"))
	viper.BindPFlag("cache-max-per-scope", detectCmd.Flags().Lookup("cache-max-per-scope"))
	viper.BindPFlag("recurrence", detectCmd.Flags().Lookup("recurrence"))
	viper.BindPFlag("sink", detectCmd.Flags().Lookup("sink"))
	viper.BindPFlag("sqlite-db", detectCmd.Flags().Lookup("sqlite-db"))
	viper.BindPFlag("bq-project", detectCmd.Flags().Lookup("bq-project"))
	viper.BindPFlag("bq-dataset", detectCmd.Flags().Lookup("bq-dataset"))
	viper.BindPFlag("bq-credentials", detectCmd.Flags().Lookup("bq-credentials"))
	viper.BindPFlag("bq-ensure-tables", detectCmd.Flags().Lookup("bq-ensure-tables"))
	viper.BindPFlag("buffered", detectCmd.Flags().Lookup("buffered"))
	viper.BindPFlag("output-format", detectCmd.Flags().Lookup("output-format"))
	viper.BindPFlag("output-file", detectCmd.Flags().Lookup("output-file"))
	viper.BindPFlag("include-distinct", detectCmd.Flags().Lookup("include-distinct"))
	viper.BindPFlag("max-items", detectCmd.Flags().Lookup("max-items"))
	viper.BindPFlag("progress", detectCmd.Flags().Lookup("progress"))
}

func validateDetectFlags(cmd *cobra.Command, args []string) error {
	// Get values from viper (allows override from config file)
	feedFile = viper.GetString("feed-file")
	backfillFiles = viper.GetStringSlice("backfill-files")
	bankPreset = viper.GetString("bank-preset")
	companyID = viper.GetString("company-id")
	defaultBank = viper.GetString("default-bank")
	accountNumber = viper.GetString("account-number")
	bankWhitelist = viper.GetStringSlice("bank-whitelist")
	strictRows = viper.GetBool("strict-rows")
	maxRowErrors = viper.GetInt("max-row-errors")
	profile = viper.GetString("profile")
	cacheTTL = viper.GetDuration("cache-ttl")
	cacheMaxPerScope = viper.GetInt("cache-max-per-scope")
	trackRecurrence = viper.GetBool("recurrence")
	sinkType = viper.GetString("sink")
	sqliteDB = viper.GetString("sqlite-db")
	bqProject = viper.GetString("bq-project")
	bqDataset = viper.GetString("bq-dataset")
	bqCredentials = viper.GetString("bq-credentials")
	bqEnsureTables = viper.GetBool("bq-ensure-tables")
	buffered = viper.GetBool("buffered")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")
	includeDistinct = viper.GetBool("include-distinct")
	maxItems = viper.GetInt("max-items")
	showProgress = viper.GetBool("progress")

	// Validate required flags
	if feedFile == "" {
		return fmt.Errorf("feed-file is required")
	}

	// Validate file existence
	if err := validateFileExists(feedFile, "feed file"); err != nil {
		return err
	}

	for i, backfillFile := range backfillFiles {
		if err := validateFileExists(backfillFile, fmt.Sprintf("backfill file %d", i+1)); err != nil {
			return err
		}
	}

	// Validate output format
	validFormats := map[string]bool{"console": true, "json": true, "csv": true}
	if !validFormats[outputFormat] {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", outputFormat)
	}

	// Validate profile
	switch profile {
	case "", "default", "strict", "relaxed":
	default:
		return fmt.Errorf("invalid profile '%s'. Valid profiles: default, strict, relaxed", profile)
	}

	// Validate thresholds
	if maxLevenshtein < 0 {
		return fmt.Errorf("max-levenshtein cannot be negative")
	}
	if minCosine < 0.0 || minCosine > 1.0 {
		return fmt.Errorf("min-cosine must be between 0.0 and 1.0")
	}
	if minJaroWinkler < 0.0 || minJaroWinkler > 1.0 {
		return fmt.Errorf("min-jaro-winkler must be between 0.0 and 1.0")
	}
	if amountTolerance < 0.0 {
		return fmt.Errorf("amount-tolerance cannot be negative")
	}
	if topK < 0 {
		return fmt.Errorf("top-k cannot be negative")
	}
	if maxConcurrency < 0 {
		return fmt.Errorf("max-concurrency cannot be negative")
	}

	// Validate cache settings
	if cacheTTL < 0 {
		return fmt.Errorf("cache-ttl cannot be negative")
	}
	if cacheMaxPerScope < 0 {
		return fmt.Errorf("cache-max-per-scope cannot be negative")
	}
	if maxItems < 0 {
		return fmt.Errorf("max-items cannot be negative")
	}

	// Validate sink selection
	sinkOpts := &config.SinkOptions{
		Type:            sinkType,
		SQLitePath:      sqliteDB,
		BigQueryProject: bqProject,
		BigQueryDataset: bqDataset,
	}
	if err := sinkOpts.Validate(); err != nil {
		return err
	}

	// Validate output file directory exists if specified
	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("output directory does not exist: %s", dir)
			}
		}
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	// Check if file is readable
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("%s is not readable: %w", description, err)
	}
	file.Close()

	return nil
}

// applyThresholdOverrides layers explicitly set CLI flags on top of the
// profile thresholds
func applyThresholdOverrides(cmd *cobra.Command, cfg *detector.Config) {
	flags := cmd.Flags()
	if flags.Changed("max-levenshtein") {
		cfg.MaxLevenshteinDistance = maxLevenshtein
	}
	if flags.Changed("min-cosine") {
		cfg.MinCosineSimilarity = minCosine
	}
	if flags.Changed("min-jaro-winkler") {
		cfg.MinJaroWinklerSimilarity = minJaroWinkler
	}
	if flags.Changed("amount-tolerance") {
		cfg.AmountTolerance = decimal.NewFromFloat(amountTolerance)
	}
	if flags.Changed("top-k") {
		cfg.TopK = topK
	}
	if flags.Changed("max-concurrency") {
		cfg.MaxConcurrentScopes = maxConcurrency
	}
}

// seedFromFile loads one historical file into the candidate cache
func seedFromFile(ctx context.Context, det *detector.Detector, feedConfig *feed.ReaderConfig, filePath string) error {
	reader, err := feed.Open(filePath, feedConfig)
	if err != nil {
		return fmt.Errorf("failed to open backfill file %s: %w", filePath, err)
	}

	txs, stats, err := reader.ReadAll(ctx, filePath)
	if err != nil {
		return fmt.Errorf("failed to read backfill file %s: %w", filePath, err)
	}

	seeded, err := det.Backfill(ctx, txs)
	if err != nil {
		return fmt.Errorf("failed to seed cache from %s: %w", filePath, err)
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Seeded %d transactions from %s (%d already cached, %d invalid, %d failed, %d row errors)\n",
			seeded.Seeded, filePath, seeded.AlreadyCached, seeded.Invalid, seeded.Failed, stats.ErrorCount)
	}

	return nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Starting duplicate detection...\n")
		fmt.Fprintf(os.Stderr, "Feed file: %s\n", feedFile)
		if len(backfillFiles) > 0 {
			fmt.Fprintf(os.Stderr, "Backfill files: %s\n", strings.Join(backfillFiles, ", "))
		}
		fmt.Fprintf(os.Stderr, "Sink: %s\n", sinkType)
		fmt.Fprintf(os.Stderr, "Output format: %s\n", outputFormat)
		if outputFile != "" {
			fmt.Fprintf(os.Stderr, "Output file: %s\n", outputFile)
		}
	}

	// Create configurations
	feedConfig, err := config.CreateFeedConfig(bankPreset, companyID, defaultBank, accountNumber, bankWhitelist, strictRows, maxRowErrors)
	if err != nil {
		return fmt.Errorf("failed to create feed config: %w", err)
	}

	detectorConfig, err := config.CreateDetectorConfig(profile)
	if err != nil {
		return fmt.Errorf("failed to create detector config: %w", err)
	}
	applyThresholdOverrides(cmd, detectorConfig)

	cacheConfig := config.CreateCacheConfig(cacheTTL, cacheMaxPerScope)

	if err := config.ValidateConfig(feedConfig, detectorConfig, cacheConfig); err != nil {
		return err
	}

	// Assemble the pipeline
	candidates, err := cache.NewMemoryCache(cacheConfig)
	if err != nil {
		return fmt.Errorf("failed to create candidate cache: %w", err)
	}

	recurrenceTracker, err := config.CreateRecurrenceTracker(trackRecurrence)
	if err != nil {
		return fmt.Errorf("failed to create recurrence tracker: %w", err)
	}

	resultSink, err := config.CreateSink(ctx, &config.SinkOptions{
		Type:            sinkType,
		SQLitePath:      sqliteDB,
		BigQueryProject: bqProject,
		BigQueryDataset: bqDataset,
		CredentialsFile: bqCredentials,
		EnsureTables:    bqEnsureTables,
		Buffered:        buffered,
	})
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}
	defer resultSink.Close()

	det, err := detector.NewDetector(detectorConfig, candidates, resultSink, recurrenceTracker)
	if err != nil {
		return fmt.Errorf("failed to create detector: %w", err)
	}

	// Seed the cache from history before reading the feed
	for _, backfillFile := range backfillFiles {
		if err := seedFromFile(ctx, det, feedConfig, backfillFile); err != nil {
			return err
		}
	}

	// Read the feed
	reader, err := feed.Open(feedFile, feedConfig)
	if err != nil {
		return err
	}

	txs, feedStats, err := reader.ReadAll(ctx, feedFile)
	if err != nil {
		return err
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Feed parsed: %d rows valid, %d banks skipped, %d row errors\n",
			feedStats.RowsValid, feedStats.BanksSkipped, feedStats.ErrorCount)
	}

	// Show progress if requested
	if showProgress {
		det.AddProgressCallback(func(progress *detector.BatchProgress) {
			fmt.Fprintf(os.Stderr, "\r[%d/%d] exact=%d modified=%d distinct=%d (%.1f%% complete)",
				progress.Processed, progress.Total,
				progress.ExactDuplicates, progress.ModifiedDuplicates, progress.Distinct,
				progress.PercentComplete)
		})
		fmt.Fprintf(os.Stderr, "Classifying %d transactions...\n", len(txs))
	}

	// Classify
	batch, err := det.ProcessBatch(ctx, txs)
	if showProgress {
		fmt.Fprintf(os.Stderr, "\n") // New line after progress
	}
	if err != nil {
		if batch != nil {
			classified := int64(batch.Stats.ExactDuplicates + batch.Stats.ModifiedDuplicates + batch.Stats.Distinct)
			ShowProgressError("detect", classified, int64(batch.Stats.Total), err)
		}
		return err
	}

	// Make buffered writes durable before reporting
	if err := resultSink.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to flush sink: %v\n", err)
	}

	// Generate report
	runReport := report.BuildRunReport(feedFile, feedStats, batch)
	reportConfig := config.CreateReportConfig(outputFormat, includeDistinct, maxItems)

	generator, err := report.NewSafeReportGenerator(reportConfig, nil)
	if err != nil {
		return fmt.Errorf("failed to create report generator: %w", err)
	}

	// Determine output destination
	var output *os.File
	if outputFile != "" {
		output, err = os.Create(outputFile)
		if err != nil {
			fmt.Fprint(os.Stderr, FormatFileError(outputFile, err))
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer output.Close()
	} else {
		output = os.Stdout
	}

	if err := generator.GenerateReportSafely(runReport, output); err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	// Show completion message
	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "\nDetection completed successfully.\n")
		fmt.Fprintf(os.Stderr, "Classified %d transactions across %d scopes.\n",
			batch.Stats.Total, batch.Stats.Scopes)
		fmt.Fprintf(os.Stderr, "Found %d exact duplicates, %d modified duplicates, %d distinct.\n",
			batch.Stats.ExactDuplicates, batch.Stats.ModifiedDuplicates, batch.Stats.Distinct)
		if batch.Stats.Degraded > 0 {
			fmt.Fprintf(os.Stderr, "Classified %d transactions in degraded mode.\n", batch.Stats.Degraded)
		}
		if batch.Stats.Failed > 0 {
			fmt.Fprintf(os.Stderr, "Failed to classify %d transactions.\n", batch.Stats.Failed)
		}
		fmt.Fprintf(os.Stderr, "Processing time: %v\n", batch.Stats.Duration)
	}

	return nil
}
