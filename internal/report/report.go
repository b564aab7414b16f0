// Package report renders the outcome of a detection run in multiple formats.
//
// A RunReport aggregates what one run produced: the feed read statistics,
// the classification counts, and the per-transaction results. Generators
// render it for different audiences:
//   - Console: human-readable summary for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: per-transaction rows for spreadsheet analysis
//
// Example usage:
//
//	report := report.BuildRunReport(feedPath, feedStats, batchResult)
//	generator, err := report.NewReportGenerator(nil)
//	err = generator.GenerateReport(report, os.Stdout)
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"duplicates-detection-service/internal/detector"
	"duplicates-detection-service/internal/feed"
	"duplicates-detection-service/internal/models"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	// Output format
	Format OutputFormat `json:"format"`

	// Detail level options
	IncludeResults    bool `json:"include_results"`
	IncludeDistinct   bool `json:"include_distinct"`
	IncludeRowErrors  bool `json:"include_row_errors"`
	IncludeRecurrence bool `json:"include_recurrence"`

	// Console formatting options
	SortByScore bool `json:"sort_by_score"`
	MaxItems    int  `json:"max_items"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:            FormatConsole,
		IncludeResults:    true,
		IncludeDistinct:   false,
		IncludeRowErrors:  true,
		IncludeRecurrence: true,
		SortByScore:       false,
		MaxItems:          50,
		CSVDelimiter:      ',',
		CSVHeaders:        true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.MaxItems < 0 {
		return fmt.Errorf("max items cannot be negative, got %d", c.MaxItems)
	}

	return nil
}

// RunReport aggregates everything one detection run produced.
type RunReport struct {
	GeneratedAt time.Time           `json:"generated_at"`
	FeedPath    string              `json:"feed_path,omitempty"`
	Feed        *feed.FeedStats     `json:"feed,omitempty"`
	Stats       detector.BatchStats `json:"classification"`
	Results     []*detector.Result  `json:"results,omitempty"`
	Failures    []string            `json:"failures,omitempty"`
}

// BuildRunReport assembles a run report from the feed and batch
// outcomes. Either part may be nil when the run skipped that stage.
func BuildRunReport(feedPath string, feedStats *feed.FeedStats, batch *detector.BatchResult) *RunReport {
	report := &RunReport{
		GeneratedAt: time.Now(),
		FeedPath:    feedPath,
		Feed:        feedStats,
	}

	if batch != nil {
		report.Stats = batch.Stats
		for _, result := range batch.Results {
			if result != nil {
				report.Results = append(report.Results, result)
			}
		}
		for _, batchErr := range batch.Errors {
			report.Failures = append(report.Failures,
				fmt.Sprintf("transaction %d: %v", batchErr.Index, batchErr.Err))
		}
	}

	return report
}

// ReportGenerator generates detection run reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// GenerateReport renders the run report and writes it to the provided writer
func (rg *ReportGenerator) GenerateReport(report *RunReport, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("run report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, writer)
	case FormatCSV:
		return rg.generateCSVReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(report *RunReport, writer io.Writer) error {
	fmt.Fprintf(writer, "DUPLICATE DETECTION REPORT\n")
	fmt.Fprintf(writer, "Generated: %s\n", report.GeneratedAt.Format(time.RFC3339))
	if report.FeedPath != "" {
		fmt.Fprintf(writer, "Feed: %s\n", report.FeedPath)
	}
	fmt.Fprintf(writer, "Processing Duration: %v\n\n", report.Stats.Duration)

	if report.Feed != nil {
		fmt.Fprintf(writer, "=== FEED ===\n")
		rg.printFeedSummary(report.Feed, writer)
		fmt.Fprintf(writer, "\n")
	}

	fmt.Fprintf(writer, "=== CLASSIFICATION ===\n")
	rg.printClassificationTable(report.Stats, writer)
	fmt.Fprintf(writer, "\n")

	if rg.config.IncludeResults {
		modified := rg.filterByClass(report.Results, models.ConflictModifiedDuplicate)
		if len(modified) > 0 {
			fmt.Fprintf(writer, "=== MODIFIED DUPLICATES ===\n")
			rg.printModifiedDuplicates(modified, writer)
			fmt.Fprintf(writer, "\n")
		}

		exact := rg.filterByClass(report.Results, models.ConflictExactDuplicate)
		if len(exact) > 0 {
			fmt.Fprintf(writer, "=== EXACT DUPLICATES ===\n")
			rg.printExactDuplicates(exact, writer)
			fmt.Fprintf(writer, "\n")
		}
	}

	if rg.config.IncludeRecurrence {
		recurring := rg.filterRecurring(report.Results)
		if len(recurring) > 0 {
			fmt.Fprintf(writer, "=== RECURRING CONCEPTS ===\n")
			rg.printRecurring(recurring, writer)
			fmt.Fprintf(writer, "\n")
		}
	}

	if len(report.Failures) > 0 {
		fmt.Fprintf(writer, "=== FAILURES ===\n")
		for _, failure := range report.Failures {
			fmt.Fprintf(writer, "  - %s\n", failure)
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeRowErrors && report.Feed != nil && report.Feed.HasErrors() {
		fmt.Fprintf(writer, "=== ROW ERRORS ===\n")
		rg.printRowErrors(report.Feed, writer)
	}

	return nil
}

// generateJSONReport generates a structured JSON report
func (rg *ReportGenerator) generateJSONReport(report *RunReport, writer io.Writer) error {
	filtered := rg.filterReportForOutput(report)

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	return encoder.Encode(filtered)
}

// generateCSVReport generates a CSV report with one row per classified transaction
func (rg *ReportGenerator) generateCSVReport(report *RunReport, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter
	defer csvWriter.Flush()

	if rg.config.CSVHeaders {
		headers := []string{
			"Classification",
			"Checksum_New",
			"Checksum_Old",
			"Levenshtein",
			"Cosine",
			"Jaro_Winkler",
			"Reason",
			"Degraded",
			"Candidates_Compared",
			"Recurring",
		}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, result := range report.Results {
		if result.Classification == models.ConflictDistinct && !rg.config.IncludeDistinct {
			continue
		}

		recurring := ""
		if result.Recurrence != nil {
			recurring = strconv.FormatBool(result.Recurrence.Recurring)
		}

		record := []string{
			result.Classification.String(),
			result.ChecksumNew,
			result.ChecksumOld,
			strconv.Itoa(result.Score.LevenshteinDistance),
			fmt.Sprintf("%.4f", result.Score.CosineSimilarity),
			fmt.Sprintf("%.4f", result.Score.JaroWinklerSimilarity),
			result.MosaicReason,
			strconv.FormatBool(result.Degraded),
			strconv.Itoa(result.CandidatesCompared),
			recurring,
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write result record: %w", err)
		}
	}

	return nil
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printFeedSummary(stats *feed.FeedStats, writer io.Writer) {
	fmt.Fprintf(writer, "Lines Read:    %d\n", stats.TotalLines)
	fmt.Fprintf(writer, "Rows Parsed:   %d\n", stats.RowsParsed)
	fmt.Fprintf(writer, "Rows Valid:    %d\n", stats.RowsValid)
	fmt.Fprintf(writer, "Banks Skipped: %d\n", stats.BanksSkipped)
	fmt.Fprintf(writer, "Row Errors:    %d\n", stats.ErrorCount)
}

func (rg *ReportGenerator) printClassificationTable(stats detector.BatchStats, writer io.Writer) {
	fmt.Fprintf(writer, "Total Classified:    %d\n", stats.Total)
	fmt.Fprintf(writer, "Exact Duplicates:    %d (%.1f%%)\n",
		stats.ExactDuplicates, rg.calculatePercentage(stats.ExactDuplicates, stats.Total))
	fmt.Fprintf(writer, "Modified Duplicates: %d (%.1f%%)\n",
		stats.ModifiedDuplicates, rg.calculatePercentage(stats.ModifiedDuplicates, stats.Total))
	fmt.Fprintf(writer, "Distinct:            %d (%.1f%%)\n",
		stats.Distinct, rg.calculatePercentage(stats.Distinct, stats.Total))
	fmt.Fprintf(writer, "Degraded:            %d\n", stats.Degraded)
	fmt.Fprintf(writer, "Failed:              %d\n", stats.Failed)
	fmt.Fprintf(writer, "Scopes Touched:      %d\n", stats.Scopes)
}

func (rg *ReportGenerator) printModifiedDuplicates(results []*detector.Result, writer io.Writer) {
	if rg.config.SortByScore {
		sort.Slice(results, func(i, j int) bool {
			return results[i].Score.JaroWinklerSimilarity > results[j].Score.JaroWinklerSimilarity
		})
	}

	fmt.Fprintf(writer, "Total Modified Duplicates: %d\n\n", len(results))

	for i, result := range results {
		fmt.Fprintf(writer, "  %d. %s -> %s  lev=%d cos=%.4f jw=%.4f  %s\n",
			i+1,
			shortChecksum(result.ChecksumOld),
			shortChecksum(result.ChecksumNew),
			result.Score.LevenshteinDistance,
			result.Score.CosineSimilarity,
			result.Score.JaroWinklerSimilarity,
			result.MosaicReason)

		if rg.truncateList(i, len(results), writer) {
			break
		}
	}
}

func (rg *ReportGenerator) printExactDuplicates(results []*detector.Result, writer io.Writer) {
	fmt.Fprintf(writer, "Total Exact Duplicates: %d\n\n", len(results))

	for i, result := range results {
		fmt.Fprintf(writer, "  %d. %s matches cached %s\n",
			i+1,
			shortChecksum(result.ChecksumNew),
			shortChecksum(result.ChecksumOld))

		if rg.truncateList(i, len(results), writer) {
			break
		}
	}
}

func (rg *ReportGenerator) printRecurring(results []*detector.Result, writer io.Writer) {
	fmt.Fprintf(writer, "Recurring Transactions: %d\n\n", len(results))

	for i, result := range results {
		fmt.Fprintf(writer, "  %d. %s  %s\n",
			i+1,
			shortChecksum(result.ChecksumNew),
			formatMonthlyCounts(result.Recurrence.MonthlyCounts))

		if rg.truncateList(i, len(results), writer) {
			break
		}
	}
}

func (rg *ReportGenerator) printRowErrors(stats *feed.FeedStats, writer io.Writer) {
	fmt.Fprintf(writer, "Total Row Errors: %d\n\n", stats.ErrorCount)

	for i, rowErr := range stats.Errors {
		fmt.Fprintf(writer, "  - %s\n", rowErr.Error())

		if rg.truncateList(i, len(stats.Errors), writer) {
			break
		}
	}
}

// truncateList caps long console lists at MaxItems and prints the
// remainder count. Returns true when the caller should stop printing.
func (rg *ReportGenerator) truncateList(index, total int, writer io.Writer) bool {
	if rg.config.MaxItems <= 0 {
		return false
	}
	if index >= rg.config.MaxItems-1 && total > rg.config.MaxItems {
		fmt.Fprintf(writer, "  ... and %d more\n", total-rg.config.MaxItems)
		return true
	}
	return false
}

// Helper methods

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func (rg *ReportGenerator) filterByClass(results []*detector.Result, class models.ConflictType) []*detector.Result {
	filtered := make([]*detector.Result, 0)
	for _, result := range results {
		if result.Classification == class {
			filtered = append(filtered, result)
		}
	}
	return filtered
}

func (rg *ReportGenerator) filterRecurring(results []*detector.Result) []*detector.Result {
	filtered := make([]*detector.Result, 0)
	for _, result := range results {
		if result.Recurrence != nil && result.Recurrence.Recurring {
			filtered = append(filtered, result)
		}
	}
	return filtered
}

func (rg *ReportGenerator) filterReportForOutput(report *RunReport) map[string]interface{} {
	output := map[string]interface{}{
		"generated_at":   report.GeneratedAt,
		"classification": report.Stats,
	}

	if report.FeedPath != "" {
		output["feed_path"] = report.FeedPath
	}

	if report.Feed != nil {
		feedOut := *report.Feed
		if !rg.config.IncludeRowErrors {
			feedOut.Errors = nil
		}
		output["feed"] = &feedOut
	}

	if rg.config.IncludeResults && report.Results != nil {
		results := report.Results
		if !rg.config.IncludeDistinct {
			results = make([]*detector.Result, 0, len(report.Results))
			for _, result := range report.Results {
				if result.Classification != models.ConflictDistinct {
					results = append(results, result)
				}
			}
		}
		output["results"] = results
	}

	if len(report.Failures) > 0 {
		output["failures"] = report.Failures
	}

	return output
}

func shortChecksum(checksum string) string {
	return models.Fingerprint(checksum).Short()
}

// formatMonthlyCounts renders "count_N_month_ago" labels in a stable order.
func formatMonthlyCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "no history"
	}

	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		parts = append(parts, fmt.Sprintf("%s=%d", label, counts[label]))
	}
	return strings.Join(parts, ", ")
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
