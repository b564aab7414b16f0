package cmd

import (
	"fmt"
	"os"

	"duplicates-detection-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "detector",
	Short: "Duplicate transaction detection tool",
	Long: `Detector classifies bank transactions against the recent history of
their (company, bank, account) scope: exact duplicates, modified
duplicates (the same movement re-reported with edited text or amount),
or distinct transactions. Results are written to a configurable sink
and summarized in console, JSON, or CSV reports.

Examples:
  detector detect --feed-file movements.csv
  detector detect --feed-file feed.ndjson --sink sqlite --sqlite-db results.db
  detector detect --feed-file today.csv --backfill-files history.csv --progress
  detector backfill --feed-files jan.csv,feb.csv
  detector presets`,
	Version:       getVersionString(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig, initLogging)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text, json")

	// Bind flags to viper
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)

		// If a config file is specified, read it in.
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}

		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	// Read environment variables that match
	viper.SetEnvPrefix("DETECTOR")
	viper.AutomaticEnv()
}

// initLogging configures the global logger from the CLI flags.
func initLogging() {
	logConfig := logger.DefaultConfig()
	logConfig.Level = logger.Level(viper.GetString("log-level"))
	logConfig.Format = logger.Format(viper.GetString("log-format"))
	if viper.GetBool("verbose") {
		logConfig.Level = logger.DebugLevel
	}

	log, err := logger.NewLogger(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logger: %s\n", err)
		os.Exit(1)
	}
	logger.SetGlobalLogger(log)
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
