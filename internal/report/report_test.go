package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"duplicates-detection-service/internal/detector"
	"duplicates-detection-service/internal/feed"
	"duplicates-detection-service/internal/models"
	"duplicates-detection-service/internal/recurrence"
	"duplicates-detection-service/internal/similarity"
)

func createSampleRunReport() *RunReport {
	feedStats := feed.NewFeedStats()
	feedStats.TotalLines = 6
	feedStats.RowsParsed = 5
	feedStats.RowsValid = 4
	feedStats.BanksSkipped = 1
	feedStats.AddError(&feed.RowError{
		Line:    3,
		Field:   "amount",
		Value:   "x",
		Message: "invalid amount",
	})

	results := []*detector.Result{
		{
			Classification: models.ConflictDistinct,
			ChecksumNew:    "d41d8cd98f00b204e9800998ecf8427e",
			MosaicReason:   "no_match_above_threshold",
		},
		{
			Classification: models.ConflictExactDuplicate,
			ChecksumNew:    "9e107d9d372bb6826bd81d3542a419d6",
			ChecksumOld:    "9e107d9d372bb6826bd81d3542a419d6",
			Score: similarity.Score{
				LevenshteinDistance:   0,
				CosineSimilarity:      1.0,
				JaroWinklerSimilarity: 1.0,
			},
			MosaicReason: "checksum_match",
		},
		{
			Classification: models.ConflictModifiedDuplicate,
			ChecksumNew:    "e4d909c290d0fb1ca068ffaddf22cbd0",
			ChecksumOld:    "a3f5c9e102bb4471886d9cbb54fe20aa",
			Score: similarity.Score{
				LevenshteinDistance:   1,
				CosineSimilarity:      0.9315,
				JaroWinklerSimilarity: 0.9712,
			},
			MosaicReason: "levenshtein_distance,jaro_winkler_similarity",
			Recurrence: &recurrence.Pattern{
				Recurring: true,
				MonthlyCounts: map[string]int{
					"count_1_month_ago": 2,
					"count_2_month_ago": 0,
				},
			},
		},
	}

	return &RunReport{
		GeneratedAt: time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC),
		FeedPath:    "movements.csv",
		Feed:        feedStats,
		Stats: detector.BatchStats{
			Total:              4,
			ExactDuplicates:    1,
			ModifiedDuplicates: 1,
			Distinct:           1,
			Degraded:           0,
			Failed:             1,
			Scopes:             2,
			Duration:           120 * time.Millisecond,
		},
		Results:  results,
		Failures: []string{"transaction 3: transaction cannot be nil"},
	}
}

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{
			name:        "default config",
			config:      nil,
			expectError: false,
		},
		{
			name:        "valid config",
			config:      DefaultReportConfig(),
			expectError: false,
		},
		{
			name: "invalid format",
			config: &ReportConfig{
				Format: "invalid",
			},
			expectError: true,
		},
		{
			name: "negative max items",
			config: &ReportConfig{
				Format:   FormatConsole,
				MaxItems: -1,
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if generator == nil {
					t.Errorf("expected generator but got nil")
				}
			}
		})
	}
}

func TestOutputFormatValidation(t *testing.T) {
	tests := []struct {
		format OutputFormat
		valid  bool
	}{
		{FormatConsole, true},
		{FormatJSON, true},
		{FormatCSV, true},
		{"invalid", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			if tt.format.IsValid() != tt.valid {
				t.Errorf("expected IsValid() = %v for format %s", tt.valid, tt.format)
			}
		})
	}
}

func TestGenerateReport(t *testing.T) {
	report := createSampleRunReport()

	tests := []struct {
		name        string
		config      *ReportConfig
		report      *RunReport
		expectError bool
		checkOutput func(t *testing.T, output string)
	}{
		{
			name: "console format",
			config: &ReportConfig{
				Format:            FormatConsole,
				IncludeResults:    true,
				IncludeRowErrors:  true,
				IncludeRecurrence: true,
				MaxItems:          50,
			},
			report:      report,
			expectError: false,
			checkOutput: func(t *testing.T, output string) {
				for _, section := range []string{
					"DUPLICATE DETECTION REPORT",
					"=== FEED ===",
					"=== CLASSIFICATION ===",
					"=== MODIFIED DUPLICATES ===",
					"=== EXACT DUPLICATES ===",
					"=== RECURRING CONCEPTS ===",
					"=== FAILURES ===",
					"=== ROW ERRORS ===",
				} {
					if !strings.Contains(output, section) {
						t.Errorf("console output should contain %q", section)
					}
				}
				if !strings.Contains(output, "Exact Duplicates:    1 (25.0%)") {
					t.Errorf("console output should show exact duplicate percentage, got:\n%s", output)
				}
				if !strings.Contains(output, "count_1_month_ago=2") {
					t.Errorf("console output should show monthly counts")
				}
			},
		},
		{
			name: "JSON format",
			config: &ReportConfig{
				Format:           FormatJSON,
				IncludeResults:   true,
				IncludeRowErrors: true,
			},
			report:      report,
			expectError: false,
			checkOutput: func(t *testing.T, output string) {
				var jsonData map[string]interface{}
				if err := json.Unmarshal([]byte(output), &jsonData); err != nil {
					t.Errorf("output should be valid JSON: %v", err)
				}

				if _, exists := jsonData["classification"]; !exists {
					t.Errorf("JSON output should contain classification")
				}
				if _, exists := jsonData["feed"]; !exists {
					t.Errorf("JSON output should contain feed")
				}
				if _, exists := jsonData["failures"]; !exists {
					t.Errorf("JSON output should contain failures")
				}

				// Distinct results are filtered out by default.
				results, ok := jsonData["results"].([]interface{})
				if !ok {
					t.Fatalf("JSON output should contain results array")
				}
				if len(results) != 2 {
					t.Errorf("results length = %d, want 2 with distinct excluded", len(results))
				}
			},
		},
		{
			name: "CSV format",
			config: &ReportConfig{
				Format:         FormatCSV,
				IncludeResults: true,
				CSVHeaders:     true,
				CSVDelimiter:   ',',
			},
			report:      report,
			expectError: false,
			checkOutput: func(t *testing.T, output string) {
				lines := strings.Split(strings.TrimSpace(output), "\n")
				if !strings.Contains(lines[0], "Classification,Checksum_New,Checksum_Old") {
					t.Errorf("CSV should contain expected headers, got %q", lines[0])
				}
				if len(lines) != 3 {
					t.Errorf("CSV should have header plus 2 rows, got %d lines", len(lines))
				}
				if !strings.Contains(output, "MODIFIED_DUPLICATE") {
					t.Errorf("CSV should contain the modified duplicate row")
				}
			},
		},
		{
			name: "CSV format including distinct",
			config: &ReportConfig{
				Format:          FormatCSV,
				IncludeResults:  true,
				IncludeDistinct: true,
				CSVHeaders:      true,
				CSVDelimiter:    ',',
			},
			report:      report,
			expectError: false,
			checkOutput: func(t *testing.T, output string) {
				lines := strings.Split(strings.TrimSpace(output), "\n")
				if len(lines) != 4 {
					t.Errorf("CSV should have header plus 3 rows, got %d lines", len(lines))
				}
			},
		},
		{
			name:        "nil report",
			config:      DefaultReportConfig(),
			report:      nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)
			if err != nil {
				t.Fatalf("failed to create report generator: %v", err)
			}

			var buffer bytes.Buffer
			err = generator.GenerateReport(tt.report, &buffer)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}

				if tt.checkOutput != nil {
					tt.checkOutput(t, buffer.String())
				}
			}
		})
	}
}

func TestBuildRunReport(t *testing.T) {
	batch := &detector.BatchResult{
		Results: []*detector.Result{
			{Classification: models.ConflictDistinct, ChecksumNew: "aa"},
			nil,
			{Classification: models.ConflictExactDuplicate, ChecksumNew: "bb", ChecksumOld: "bb"},
		},
		Errors: []detector.BatchError{
			{Index: 1, Err: bytes.ErrTooLarge},
		},
		Stats: detector.BatchStats{Total: 3, Distinct: 1, ExactDuplicates: 1, Failed: 1},
	}

	report := BuildRunReport("feed.csv", feed.NewFeedStats(), batch)

	if report.FeedPath != "feed.csv" {
		t.Errorf("FeedPath = %q, want feed.csv", report.FeedPath)
	}
	if len(report.Results) != 2 {
		t.Errorf("len(Results) = %d, want 2 with nil entries dropped", len(report.Results))
	}
	if len(report.Failures) != 1 || !strings.Contains(report.Failures[0], "transaction 1") {
		t.Errorf("Failures = %v, want one entry naming transaction 1", report.Failures)
	}
	if report.Stats.Total != 3 {
		t.Errorf("Stats.Total = %d, want 3", report.Stats.Total)
	}
	if report.GeneratedAt.IsZero() {
		t.Error("GeneratedAt should be set")
	}
}

func TestConsoleTruncatesLongLists(t *testing.T) {
	results := make([]*detector.Result, 0, 5)
	for i := 0; i < 5; i++ {
		results = append(results, &detector.Result{
			Classification: models.ConflictModifiedDuplicate,
			ChecksumNew:    "new-checksum",
			ChecksumOld:    "old-checksum",
			MosaicReason:   "levenshtein_distance",
		})
	}
	report := &RunReport{
		GeneratedAt: time.Now(),
		Stats:       detector.BatchStats{Total: 5, ModifiedDuplicates: 5},
		Results:     results,
	}

	config := DefaultReportConfig()
	config.MaxItems = 2

	generator, err := NewReportGenerator(config)
	if err != nil {
		t.Fatalf("failed to create report generator: %v", err)
	}

	var buffer bytes.Buffer
	if err := generator.GenerateReport(report, &buffer); err != nil {
		t.Fatalf("GenerateReport() error = %v", err)
	}

	if !strings.Contains(buffer.String(), "... and 3 more") {
		t.Errorf("long lists should be truncated, got:\n%s", buffer.String())
	}
}

func TestCalculatePercentage(t *testing.T) {
	generator, _ := NewReportGenerator(DefaultReportConfig())

	tests := []struct {
		name     string
		part     int
		total    int
		expected float64
	}{
		{"normal case", 25, 100, 25.0},
		{"zero total", 10, 0, 0.0},
		{"zero part", 0, 100, 0.0},
		{"equal parts", 50, 50, 100.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := generator.calculatePercentage(tt.part, tt.total)
			if result != tt.expected {
				t.Errorf("calculatePercentage(%d, %d) = %f, expected %f",
					tt.part, tt.total, result, tt.expected)
			}
		})
	}
}

func TestFormatMonthlyCounts(t *testing.T) {
	counts := map[string]int{
		"count_2_month_ago": 0,
		"count_1_month_ago": 3,
		"count_3_month_ago": 1,
	}

	got := formatMonthlyCounts(counts)
	want := "count_1_month_ago=3, count_2_month_ago=0, count_3_month_ago=1"
	if got != want {
		t.Errorf("formatMonthlyCounts() = %q, want %q", got, want)
	}

	if got := formatMonthlyCounts(nil); got != "no history" {
		t.Errorf("formatMonthlyCounts(nil) = %q, want no history", got)
	}
}

func TestGenerateBackupPath(t *testing.T) {
	tests := []struct {
		original string
		expected string
	}{
		{"reports/run.json", "reports/run_backup.json"},
		{"run.csv", "run_backup.csv"},
		{"/tmp/report", "/tmp/report_backup"},
	}

	for _, tt := range tests {
		t.Run(tt.original, func(t *testing.T) {
			if got := generateBackupPath(tt.original); got != tt.expected {
				t.Errorf("generateBackupPath(%q) = %q, want %q", tt.original, got, tt.expected)
			}
		})
	}
}

func TestGenerateReportSafely(t *testing.T) {
	generator, err := NewSafeReportGenerator(DefaultReportConfig(), nil)
	if err != nil {
		t.Fatalf("NewSafeReportGenerator() error = %v", err)
	}

	var buffer bytes.Buffer
	if err := generator.GenerateReportSafely(createSampleRunReport(), &buffer); err != nil {
		t.Errorf("GenerateReportSafely() error = %v", err)
	}
	if buffer.Len() == 0 {
		t.Error("expected report output")
	}

	if err := generator.GenerateReportSafely(nil, &buffer); err == nil {
		t.Error("expected error for nil report")
	}
	if err := generator.GenerateReportSafely(createSampleRunReport(), nil); err == nil {
		t.Error("expected error for nil writer")
	}
}
