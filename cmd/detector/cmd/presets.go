package cmd

import (
	"fmt"

	"duplicates-detection-service/internal/feed"

	"github.com/spf13/cobra"
)

// presetsCmd lists the predefined bank column layouts
var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the predefined bank column layouts",
	Long: `Presets lists the bank layouts the feed reader understands. A preset
maps a bank's column names onto the transaction fields, sets the date
format, and implies the bank name for rows that do not carry one.

Pass a preset to 'detector detect --bank-preset' when auto-detection
cannot tell layouts apart.`,
	RunE: runPresets,
}

func init() {
	rootCmd.AddCommand(presetsCmd)
}

func runPresets(cmd *cobra.Command, args []string) error {
	for _, preset := range feed.ListBankPresets() {
		fmt.Printf("%s\n", preset.Name)
		if preset.Description != "" {
			fmt.Printf("  %s\n", preset.Description)
		}
		fmt.Printf("  concept=%s amount=%s date=%s (format %s)\n",
			preset.ConceptColumn, preset.AmountColumn, preset.DateColumn, preset.DateFormat)
		if preset.ChecksumColumn != "" {
			fmt.Printf("  checksum=%s\n", preset.ChecksumColumn)
		}
		fmt.Printf("  delimiter=%q\n", preset.Delimiter)
		fmt.Println()
	}
	return nil
}
