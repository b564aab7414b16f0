package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"duplicates-detection-service/internal/cache"
	"duplicates-detection-service/internal/detector"
	"duplicates-detection-service/internal/feed"
	"duplicates-detection-service/internal/recurrence"
	"duplicates-detection-service/internal/report"
	"duplicates-detection-service/internal/sink"
)

// CreateFeedConfig creates the feed reader configuration for a run.
// An empty bankPreset leaves format auto-detection to the reader.
func CreateFeedConfig(bankPreset, companyID, bank, accountNumber string, whitelist []string, strictRows bool, maxRowErrors int) (*feed.ReaderConfig, error) {
	config := feed.DefaultReaderConfig()
	config.DefaultCompanyID = companyID
	config.DefaultBank = bank
	config.DefaultAccountNumber = accountNumber
	config.BankWhitelist = whitelist
	config.ContinueOnError = !strictRows
	if maxRowErrors > 0 {
		config.MaxErrors = maxRowErrors
	}

	if bankPreset != "" {
		preset := feed.GetBankPreset(bankPreset)
		if preset == nil {
			return nil, fmt.Errorf("unknown bank preset '%s'. Available presets: %s",
				bankPreset, strings.Join(ListPresetNames(), ", "))
		}
		config.Preset = preset
	}

	return config, nil
}

// ListPresetNames returns the names of all predefined bank presets
func ListPresetNames() []string {
	presets := feed.ListBankPresets()
	names := make([]string, 0, len(presets))
	for _, preset := range presets {
		names = append(names, preset.Name)
	}
	return names
}

// CreateDetectorConfig maps a profile name onto classification thresholds
func CreateDetectorConfig(profile string) (*detector.Config, error) {
	switch profile {
	case "", "default":
		return detector.DefaultConfig(), nil
	case "strict":
		return detector.StrictConfig(), nil
	case "relaxed":
		return detector.RelaxedConfig(), nil
	default:
		return nil, fmt.Errorf("unknown detection profile '%s'. Valid profiles: default, strict, relaxed", profile)
	}
}

// CreateCacheConfig creates the candidate cache configuration with the
// specified overrides. Zero values keep the defaults.
func CreateCacheConfig(ttl time.Duration, maxPerScope int) *cache.Config {
	config := cache.DefaultConfig()

	if ttl > 0 {
		config.TTL = ttl
	}
	if maxPerScope > 0 {
		config.MaxPerScope = maxPerScope
	}

	return config
}

// CreateRecurrenceTracker creates the monthly recurrence tracker, or
// returns nil when annotation is disabled
func CreateRecurrenceTracker(enabled bool) (*recurrence.Tracker, error) {
	if !enabled {
		return nil, nil
	}
	return recurrence.NewTracker(nil)
}

// SinkOptions selects and parameterizes the result sink
type SinkOptions struct {
	Type            string
	SQLitePath      string
	BigQueryProject string
	BigQueryDataset string
	CredentialsFile string
	EnsureTables    bool
	Buffered        bool
}

// Validate checks the sink selection for completeness
func (o *SinkOptions) Validate() error {
	switch o.Type {
	case "", "memory":
		return nil
	case "sqlite":
		if o.SQLitePath == "" {
			return fmt.Errorf("sqlite sink requires --sqlite-db")
		}
		return nil
	case "bigquery":
		if o.BigQueryProject == "" || o.BigQueryDataset == "" {
			return fmt.Errorf("bigquery sink requires --bq-project and --bq-dataset")
		}
		return nil
	default:
		return fmt.Errorf("unknown sink type '%s'. Valid sinks: memory, sqlite, bigquery", o.Type)
	}
}

// CreateSink creates the configured result sink, optionally wrapped
// with the retry buffer. The returned sink owns its backend.
func CreateSink(ctx context.Context, opts *SinkOptions) (sink.Sink, error) {
	if opts == nil {
		opts = &SinkOptions{}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var backend sink.Sink
	switch opts.Type {
	case "", "memory":
		backend = sink.NewMemorySink()
	case "sqlite":
		sqliteSink, err := sink.NewSQLiteSink(ctx, opts.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite sink: %w", err)
		}
		backend = sqliteSink
	case "bigquery":
		bqConfig := sink.DefaultBigQueryConfig()
		bqConfig.ProjectID = opts.BigQueryProject
		bqConfig.DatasetID = opts.BigQueryDataset
		bqConfig.CredentialsFile = opts.CredentialsFile

		bqSink, err := sink.NewBigQuerySink(ctx, bqConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect bigquery sink: %w", err)
		}
		if opts.EnsureTables {
			if err := bqSink.EnsureTables(ctx); err != nil {
				bqSink.Close()
				return nil, fmt.Errorf("failed to ensure bigquery tables: %w", err)
			}
		}
		backend = bqSink
	}

	if !opts.Buffered {
		return backend, nil
	}

	buffered, err := sink.NewBufferedSink(backend, nil)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to wrap sink with retry buffer: %w", err)
	}
	return buffered, nil
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string, includeDistinct bool, maxItems int) *report.ReportConfig {
	config := report.DefaultReportConfig()
	config.IncludeDistinct = includeDistinct
	if maxItems > 0 {
		config.MaxItems = maxItems
	}

	// Set output format
	switch format {
	case "console":
		config.Format = report.FormatConsole
	case "json":
		config.Format = report.FormatJSON
		config.IncludeResults = true
	case "csv":
		config.Format = report.FormatCSV
		config.IncludeResults = true
		config.CSVHeaders = true
		config.CSVDelimiter = ','
	}

	return config
}

// ValidateConfig validates that all required configurations are valid
func ValidateConfig(feedConfig *feed.ReaderConfig, detectorConfig *detector.Config, cacheConfig *cache.Config) error {
	if err := feedConfig.Validate(); err != nil {
		return fmt.Errorf("invalid feed config: %w", err)
	}

	if err := detectorConfig.Validate(); err != nil {
		return fmt.Errorf("invalid detector config: %w", err)
	}

	if err := cacheConfig.Validate(); err != nil {
		return fmt.Errorf("invalid cache config: %w", err)
	}

	return nil
}
