package cmd

import (
	"context"
	"fmt"

	"duplicates-detection-service/internal/models"
	"duplicates-detection-service/internal/sink"

	"github.com/spf13/cobra"
)

// Flags for the stats command
var (
	statsDB        string
	statsCompanyID string
	statsBank      string
	statsAccount   string
)

// statsCmd reports conflict counts from a SQLite sink database
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show conflict counts from a SQLite results database",
	Long: `Stats counts the conflict records a previous detect run wrote to a
SQLite sink. With --company-id, --bank and --account-number it counts a
single scope; otherwise it counts all records.

Examples:
  # All conflicts recorded in a results database
  detector stats --sqlite-db results.db

  # One scope only
  detector stats --sqlite-db results.db \
    --company-id company-001 --bank bbva --account-number 0156057799`,

	PreRunE: validateStatsFlags,
	RunE:    runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().StringVar(&statsDB, "sqlite-db", "", "SQLite database path (required)")
	statsCmd.Flags().StringVar(&statsCompanyID, "company-id", "", "restrict the count to this company")
	statsCmd.Flags().StringVar(&statsBank, "bank", "", "restrict the count to this bank")
	statsCmd.Flags().StringVar(&statsAccount, "account-number", "", "restrict the count to this account")

	statsCmd.MarkFlagRequired("sqlite-db")
}

func validateStatsFlags(cmd *cobra.Command, args []string) error {
	if err := validateFileExists(statsDB, "results database"); err != nil {
		return err
	}

	// Scope filters only make sense together
	scopeFlags := 0
	for _, v := range []string{statsCompanyID, statsBank, statsAccount} {
		if v != "" {
			scopeFlags++
		}
	}
	if scopeFlags != 0 && scopeFlags != 3 {
		return fmt.Errorf("scope filtering requires all of --company-id, --bank and --account-number")
	}

	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	sqliteSink, err := sink.NewSQLiteSink(ctx, statsDB)
	if err != nil {
		return fmt.Errorf("failed to open results database: %w", err)
	}
	defer sqliteSink.Close()

	// Records store the normalized bank name; match it
	var scope *models.ScopeKey
	if statsCompanyID != "" {
		scope = &models.ScopeKey{
			CompanyID:     statsCompanyID,
			Bank:          models.NormalizeBank(statsBank),
			AccountNumber: statsAccount,
		}
	}

	count, err := sqliteSink.CountConflicts(ctx, scope)
	if err != nil {
		return fmt.Errorf("failed to count conflicts: %w", err)
	}

	if scope != nil {
		fmt.Printf("Conflicts for %s/%s/%s: %d\n", scope.CompanyID, scope.Bank, scope.AccountNumber, count)
	} else {
		fmt.Printf("Conflicts recorded: %d\n", count)
	}

	return nil
}
