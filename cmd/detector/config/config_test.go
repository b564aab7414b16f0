package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"duplicates-detection-service/internal/cache"
	"duplicates-detection-service/internal/detector"
	"duplicates-detection-service/internal/feed"
	"duplicates-detection-service/internal/report"
	"duplicates-detection-service/internal/sink"
)

func TestCreateFeedConfig(t *testing.T) {
	tests := []struct {
		name        string
		preset      string
		strictRows  bool
		maxErrors   int
		expectError bool
		check       func(t *testing.T, config *feed.ReaderConfig)
	}{
		{
			name:   "no preset auto-detects",
			preset: "",
			check: func(t *testing.T, config *feed.ReaderConfig) {
				if config.Preset != nil {
					t.Errorf("expected nil preset, got %v", config.Preset.Name)
				}
				if !config.ContinueOnError {
					t.Error("expected ContinueOnError to be true by default")
				}
				if config.MaxErrors != 100 {
					t.Errorf("expected MaxErrors 100, got %d", config.MaxErrors)
				}
			},
		},
		{
			name:   "bbva preset",
			preset: "bbva",
			check: func(t *testing.T, config *feed.ReaderConfig) {
				if config.Preset == nil {
					t.Fatal("expected preset to be set")
				}
				if config.Preset.Name != "bbva" {
					t.Errorf("expected preset 'bbva', got '%s'", config.Preset.Name)
				}
			},
		},
		{
			name:   "preset lookup is case-insensitive",
			preset: "Santander",
			check: func(t *testing.T, config *feed.ReaderConfig) {
				if config.Preset == nil || config.Preset.Name != "santander" {
					t.Errorf("expected santander preset, got %v", config.Preset)
				}
			},
		},
		{
			name:        "unknown preset",
			preset:      "hsbc",
			expectError: true,
		},
		{
			name:       "strict rows aborts on first error",
			strictRows: true,
			check: func(t *testing.T, config *feed.ReaderConfig) {
				if config.ContinueOnError {
					t.Error("expected ContinueOnError to be false with strict rows")
				}
			},
		},
		{
			name:      "max errors override",
			maxErrors: 5,
			check: func(t *testing.T, config *feed.ReaderConfig) {
				if config.MaxErrors != 5 {
					t.Errorf("expected MaxErrors 5, got %d", config.MaxErrors)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := CreateFeedConfig(tt.preset, "company-001", "bbva", "0156057799", nil, tt.strictRows, tt.maxErrors)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error for preset '%s'", tt.preset)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if config.DefaultCompanyID != "company-001" {
				t.Errorf("expected DefaultCompanyID 'company-001', got '%s'", config.DefaultCompanyID)
			}
			if config.DefaultBank != "bbva" {
				t.Errorf("expected DefaultBank 'bbva', got '%s'", config.DefaultBank)
			}
			if config.DefaultAccountNumber != "0156057799" {
				t.Errorf("expected DefaultAccountNumber '0156057799', got '%s'", config.DefaultAccountNumber)
			}

			if tt.check != nil {
				tt.check(t, config)
			}

			if err := config.Validate(); err != nil {
				t.Errorf("feed config should be valid: %v", err)
			}
		})
	}
}

func TestCreateFeedConfigWhitelist(t *testing.T) {
	config, err := CreateFeedConfig("", "", "", "", []string{"bbva", "santander"}, false, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(config.BankWhitelist) != 2 {
		t.Errorf("expected 2 whitelisted banks, got %d", len(config.BankWhitelist))
	}
}

func TestListPresetNames(t *testing.T) {
	names := ListPresetNames()

	if len(names) == 0 {
		t.Fatal("expected at least one preset name")
	}

	expected := []string{"standard", "bbva", "bbvaempresas", "santander"}
	for _, want := range expected {
		found := false
		for _, name := range names {
			if name == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected to find preset '%s' in %v", want, names)
		}
	}
}

func TestCreateDetectorConfig(t *testing.T) {
	tests := []struct {
		name            string
		profile         string
		expectError     bool
		wantLevenshtein int
		wantTopK        int
	}{
		{"empty profile uses defaults", "", false, 3, 50},
		{"default profile", "default", false, 3, 50},
		{"strict profile", "strict", false, 1, 20},
		{"relaxed profile", "relaxed", false, 5, 100},
		{"unknown profile", "aggressive", true, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := CreateDetectorConfig(tt.profile)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error for profile '%s'", tt.profile)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if config.MaxLevenshteinDistance != tt.wantLevenshtein {
				t.Errorf("expected MaxLevenshteinDistance %d, got %d", tt.wantLevenshtein, config.MaxLevenshteinDistance)
			}
			if config.TopK != tt.wantTopK {
				t.Errorf("expected TopK %d, got %d", tt.wantTopK, config.TopK)
			}

			if err := config.Validate(); err != nil {
				t.Errorf("detector config should be valid: %v", err)
			}
		})
	}
}

func TestCreateCacheConfig(t *testing.T) {
	tests := []struct {
		name            string
		ttl             time.Duration
		maxPerScope     int
		wantTTL         time.Duration
		wantMaxPerScope int
	}{
		{"zero values keep defaults", 0, 0, 360 * time.Hour, 1000},
		{"ttl override", 24 * time.Hour, 0, 24 * time.Hour, 1000},
		{"max per scope override", 0, 250, 360 * time.Hour, 250},
		{"both overridden", time.Hour, 10, time.Hour, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := CreateCacheConfig(tt.ttl, tt.maxPerScope)

			if config.TTL != tt.wantTTL {
				t.Errorf("expected TTL %v, got %v", tt.wantTTL, config.TTL)
			}
			if config.MaxPerScope != tt.wantMaxPerScope {
				t.Errorf("expected MaxPerScope %d, got %d", tt.wantMaxPerScope, config.MaxPerScope)
			}

			if err := config.Validate(); err != nil {
				t.Errorf("cache config should be valid: %v", err)
			}
		})
	}
}

func TestCreateRecurrenceTracker(t *testing.T) {
	tracker, err := CreateRecurrenceTracker(false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tracker != nil {
		t.Error("expected nil tracker when disabled")
	}

	tracker, err = CreateRecurrenceTracker(true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tracker == nil {
		t.Error("expected tracker when enabled")
	}
}

func TestSinkOptionsValidate(t *testing.T) {
	tests := []struct {
		name        string
		opts        SinkOptions
		expectError bool
	}{
		{"empty type means memory", SinkOptions{}, false},
		{"memory", SinkOptions{Type: "memory"}, false},
		{"sqlite with path", SinkOptions{Type: "sqlite", SQLitePath: "/tmp/results.db"}, false},
		{"sqlite without path", SinkOptions{Type: "sqlite"}, true},
		{"bigquery complete", SinkOptions{Type: "bigquery", BigQueryProject: "p", BigQueryDataset: "d"}, false},
		{"bigquery without project", SinkOptions{Type: "bigquery", BigQueryDataset: "d"}, true},
		{"bigquery without dataset", SinkOptions{Type: "bigquery", BigQueryProject: "p"}, true},
		{"unknown type", SinkOptions{Type: "kafka"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()

			if tt.expectError && err == nil {
				t.Error("expected validation error")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCreateSink(t *testing.T) {
	ctx := context.Background()

	t.Run("memory unbuffered", func(t *testing.T) {
		s, err := CreateSink(ctx, &SinkOptions{Type: "memory"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer s.Close()

		if _, ok := s.(*sink.MemorySink); !ok {
			t.Errorf("expected *sink.MemorySink, got %T", s)
		}
	})

	t.Run("memory buffered", func(t *testing.T) {
		s, err := CreateSink(ctx, &SinkOptions{Type: "memory", Buffered: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer s.Close()

		if _, ok := s.(*sink.BufferedSink); !ok {
			t.Errorf("expected *sink.BufferedSink, got %T", s)
		}
	})

	t.Run("nil options default to memory", func(t *testing.T) {
		s, err := CreateSink(ctx, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer s.Close()

		if _, ok := s.(*sink.MemorySink); !ok {
			t.Errorf("expected *sink.MemorySink, got %T", s)
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "results.db")
		s, err := CreateSink(ctx, &SinkOptions{Type: "sqlite", SQLitePath: dbPath})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer s.Close()

		if _, ok := s.(*sink.SQLiteSink); !ok {
			t.Errorf("expected *sink.SQLiteSink, got %T", s)
		}
	})

	t.Run("sqlite without path", func(t *testing.T) {
		_, err := CreateSink(ctx, &SinkOptions{Type: "sqlite"})
		if err == nil {
			t.Error("expected error for sqlite sink without a path")
		}
	})
}

func TestCreateReportConfig(t *testing.T) {
	tests := []struct {
		name         string
		format       string
		expectedType report.OutputFormat
	}{
		{"console format", "console", report.FormatConsole},
		{"json format", "json", report.FormatJSON},
		{"csv format", "csv", report.FormatCSV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := CreateReportConfig(tt.format, false, 0)

			if config.Format != tt.expectedType {
				t.Errorf("expected Format %s, got %s", tt.expectedType, config.Format)
			}

			// Test format-specific settings
			switch tt.format {
			case "json":
				if !config.IncludeResults {
					t.Error("JSON format should include results")
				}
			case "csv":
				if !config.CSVHeaders {
					t.Error("CSV format should include headers")
				}
				if config.CSVDelimiter != ',' {
					t.Error("CSV format should use comma delimiter")
				}
			}

			if err := config.Validate(); err != nil {
				t.Errorf("report config should be valid: %v", err)
			}
		})
	}
}

func TestCreateReportConfigOverrides(t *testing.T) {
	config := CreateReportConfig("console", true, 10)

	if !config.IncludeDistinct {
		t.Error("expected IncludeDistinct to be true")
	}
	if config.MaxItems != 10 {
		t.Errorf("expected MaxItems 10, got %d", config.MaxItems)
	}

	config = CreateReportConfig("console", false, 0)
	if config.MaxItems != 50 {
		t.Errorf("expected default MaxItems 50, got %d", config.MaxItems)
	}
}

func TestValidateConfig(t *testing.T) {
	feedConfig, _ := CreateFeedConfig("", "", "", "", nil, false, 0)
	detectorConfig, _ := CreateDetectorConfig("default")
	cacheConfig := CreateCacheConfig(0, 0)

	tests := []struct {
		name           string
		feedConfig     func() *feed.ReaderConfig
		detectorConfig func() *detector.Config
		cacheConfig    func() *cache.Config
		expectError    bool
	}{
		{
			name:           "all valid",
			feedConfig:     func() *feed.ReaderConfig { return feedConfig },
			detectorConfig: func() *detector.Config { return detectorConfig },
			cacheConfig:    func() *cache.Config { return cacheConfig },
			expectError:    false,
		},
		{
			name: "invalid feed config",
			feedConfig: func() *feed.ReaderConfig {
				invalid := *feedConfig
				invalid.Preset = &feed.BankPreset{Name: "broken"} // no columns
				return &invalid
			},
			detectorConfig: func() *detector.Config { return detectorConfig },
			cacheConfig:    func() *cache.Config { return cacheConfig },
			expectError:    true,
		},
		{
			name:       "invalid detector config",
			feedConfig: func() *feed.ReaderConfig { return feedConfig },
			detectorConfig: func() *detector.Config {
				invalid := detectorConfig.Clone()
				invalid.TopK = 0
				return invalid
			},
			cacheConfig: func() *cache.Config { return cacheConfig },
			expectError: true,
		},
		{
			name:           "invalid cache config",
			feedConfig:     func() *feed.ReaderConfig { return feedConfig },
			detectorConfig: func() *detector.Config { return detectorConfig },
			cacheConfig: func() *cache.Config {
				invalid := cacheConfig.Clone()
				invalid.TTL = -time.Hour
				return invalid
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.feedConfig(), tt.detectorConfig(), tt.cacheConfig())

			if tt.expectError && err == nil {
				t.Error("expected validation error")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}
