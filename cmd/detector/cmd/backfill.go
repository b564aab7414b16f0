package cmd

import (
	"context"
	"fmt"
	"os"

	"duplicates-detection-service/cmd/detector/config"
	"duplicates-detection-service/internal/cache"
	"duplicates-detection-service/internal/detector"
	"duplicates-detection-service/internal/feed"
	"duplicates-detection-service/internal/sink"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the backfill command. Kept separate from the detect flags
// so the two commands never alias each other through viper.
var (
	backfillFeedFiles []string
	backfillPreset    string
	backfillCompanyID string
	backfillBank      string
	backfillAccount   string
	backfillStrict    bool
)

// backfillCmd represents the backfill command
var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Validate historical feed files for cache seeding",
	Long: `Backfill parses historical feed files, fingerprints every transaction,
and seeds a fresh candidate cache, reporting exactly what a detect run
with --backfill-files would load.

The candidate cache lives in process memory, so this command is a
validation pass: it surfaces malformed rows, transactions too incomplete
to fingerprint, and duplicates already present within the history
itself. To seed a real detection run, pass the same files to
'detector detect --backfill-files'.

Examples:
  # Validate one month of history
  detector backfill --feed-files january.csv

  # Validate several files with a bank layout preset
  detector backfill --feed-files jan.csv,feb.csv --bank-preset bbva`,

	PreRunE: validateBackfillFlags,
	RunE:    runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)

	backfillCmd.Flags().StringSliceVar(&backfillFeedFiles, "feed-files", []string{}, "comma-separated historical feed files (required)")
	backfillCmd.Flags().StringVar(&backfillPreset, "bank-preset", "", "bank column layout: standard, bbva, bbvaempresas, santander (default: auto-detect)")
	backfillCmd.Flags().StringVar(&backfillCompanyID, "company-id", "", "company id for rows missing one")
	backfillCmd.Flags().StringVar(&backfillBank, "default-bank", "", "bank name for rows missing one")
	backfillCmd.Flags().StringVar(&backfillAccount, "account-number", "", "account number for rows missing one")
	backfillCmd.Flags().BoolVar(&backfillStrict, "strict-rows", false, "abort on the first malformed feed row")

	backfillCmd.MarkFlagRequired("feed-files")
}

func validateBackfillFlags(cmd *cobra.Command, args []string) error {
	if len(backfillFeedFiles) == 0 {
		return fmt.Errorf("at least one feed file is required")
	}

	for i, feedFile := range backfillFeedFiles {
		if err := validateFileExists(feedFile, fmt.Sprintf("feed file %d", i+1)); err != nil {
			return err
		}
	}

	return nil
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	feedConfig, err := config.CreateFeedConfig(backfillPreset, backfillCompanyID, backfillBank, backfillAccount, nil, backfillStrict, 0)
	if err != nil {
		return fmt.Errorf("failed to create feed config: %w", err)
	}

	candidates, err := cache.NewMemoryCache(nil)
	if err != nil {
		return fmt.Errorf("failed to create candidate cache: %w", err)
	}

	det, err := detector.NewDetector(detector.DefaultConfig(), candidates, sink.NewMemorySink(), nil)
	if err != nil {
		return fmt.Errorf("failed to create detector: %w", err)
	}

	total := detector.BackfillStats{}
	totalRows := 0
	totalRowErrors := 0
	var fileErrors []error

	for _, feedFile := range backfillFeedFiles {
		reader, err := feed.Open(feedFile, feedConfig)
		if err != nil {
			fmt.Fprint(os.Stderr, FormatFileError(feedFile, err))
			fileErrors = append(fileErrors, fmt.Errorf("%s: %w", feedFile, err))
			continue
		}

		txs, stats, err := reader.ReadAll(ctx, feedFile)
		if err != nil {
			fmt.Fprint(os.Stderr, FormatFileError(feedFile, err))
			fileErrors = append(fileErrors, fmt.Errorf("%s: %w", feedFile, err))
			continue
		}

		seeded, err := det.Backfill(ctx, txs)
		if err != nil {
			fileErrors = append(fileErrors, fmt.Errorf("%s: %w", feedFile, err))
			continue
		}

		fmt.Printf("%s: seeded %d, already cached %d, invalid %d, row errors %d\n",
			feedFile, seeded.Seeded, seeded.AlreadyCached, seeded.Invalid, stats.ErrorCount)

		total.Seeded += seeded.Seeded
		total.AlreadyCached += seeded.AlreadyCached
		total.Invalid += seeded.Invalid
		total.Failed += seeded.Failed
		totalRows += stats.RowsValid
		totalRowErrors += stats.ErrorCount

		if viper.GetBool("verbose") && stats.ErrorCount > 0 {
			for _, sample := range stats.SampleErrors(5) {
				fmt.Fprintf(os.Stderr, "  %s: %s\n", feedFile, sample)
			}
		}
	}

	fmt.Printf("\nBackfill summary:\n")
	fmt.Printf("  Files processed:  %d\n", len(backfillFeedFiles)-len(fileErrors))
	fmt.Printf("  Rows parsed:      %d\n", totalRows)
	fmt.Printf("  Seeded:           %d\n", total.Seeded)
	fmt.Printf("  Already cached:   %d\n", total.AlreadyCached)
	fmt.Printf("  Invalid:          %d\n", total.Invalid)
	fmt.Printf("  Cache failures:   %d\n", total.Failed)
	fmt.Printf("  Row errors:       %d\n", totalRowErrors)

	if len(fileErrors) > 0 {
		fmt.Fprintf(os.Stderr, "\n%s\n", FormatValidationErrors(fileErrors))
		return fmt.Errorf("%d of %d feed files failed", len(fileErrors), len(backfillFeedFiles))
	}

	return nil
}
