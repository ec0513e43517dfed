package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hsa-reconciliation-service/cmd/reconciler/config"
	"hsa-reconciliation-service/internal/reconciler"
	"hsa-reconciliation-service/internal/store"
	"hsa-reconciliation-service/pkg/errors"
	"hsa-reconciliation-service/pkg/logger"
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
	Use:   "reconciler",
	Short: "HSA medical expense reconciliation tool",
	Long: `Reconciler keeps a ledger of medical expense records (receipts, provider
statements, insurance EOBs) and reconciles them for HSA reimbursement. It
detects duplicate imports, links EOB claims to the statements they cover,
suggests likely matches and reports out-of-pocket progress.

Examples:
  reconciler ingest --file candidates.json
  reconciler suggest --year 2026 --min-stars 3 --apply
  reconciler reconcile --year 2026 --output-format json --output-file report.json
  reconciler version`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (optional, YAML)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String("ledger", "hsa-ledger.csv", "ledger path (CSV file or SQLite database)")
	flags.String("backend", config.BackendCSV, "ledger backend: csv, sqlite, memory")
	flags.String("log-level", string(logger.WarnLevel), "log level: debug, info, warn, error")
	flags.String("log-format", string(logger.TextFormat), "log format: text, json")

	// Bind flags to viper
	viper.BindPFlag("verbose", flags.Lookup("verbose"))
	viper.BindPFlag(config.KeyStorePath, flags.Lookup("ledger"))
	viper.BindPFlag(config.KeyStoreBackend, flags.Lookup("backend"))
	viper.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	viper.BindPFlag(config.KeyLogFormat, flags.Lookup("log-format"))
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)

		// If a config file is specified, read it in.
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(4)
		}

		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	// Read environment variables that match, HSA_OOP_MAX for oop.max
	viper.SetEnvPrefix("HSA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// setupLogging installs the global logger configured by log.level and log.format
func setupLogging(cmd *cobra.Command, args []string) error {
	logConfig, err := config.CreateLoggerConfig(viper.GetViper(), viper.GetBool("verbose"))
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", viper.GetString(config.KeyLogLevel), err)
	}

	log, err := logger.NewLogger(logConfig)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", logConfig.Level, err)
	}
	logger.SetGlobalLogger(log)
	return nil
}

// session bundles the service of one command run with its ledger backend
type session struct {
	service *reconciler.Service
	close   func() error
}

// openSession loads the configured ledger and builds an ingestion service on it
func openSession(ctx context.Context) (*session, error) {
	v := viper.GetViper()

	sessionConfig, err := config.CreateSessionConfig(v)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "session", "", err).
			WithSuggestion("Check the family, hsa, oop, matching and review settings")
	}

	sheet, closeSheet, err := config.OpenSheet(v)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, config.KeyStoreBackend,
			v.GetString(config.KeyStoreBackend), err)
	}

	st, err := store.Open(ctx, sheet)
	if err != nil {
		closeSheet()
		return nil, err
	}

	service, err := reconciler.NewService(st, sessionConfig)
	if err != nil {
		closeSheet()
		return nil, err
	}

	logger.GetGlobalLogger().WithFields(logger.Fields{
		"session_id": service.SessionID(),
		"backend":    v.GetString(config.KeyStoreBackend),
		"ledger":     v.GetString(config.KeyStorePath),
		"records":    st.Len(),
	}).Debug("Opened ledger")

	return &session{service: service, close: closeSheet}, nil
}

// currentYear is the default service year of the year-scoped commands
func currentYear() int {
	return time.Now().Year()
}

func validateYear(year int) error {
	if year < 1900 || year > 9999 {
		return errors.ValidationError(errors.CodeOutOfRange, "year", year, nil).
			WithSuggestion("Pass a four-digit service year, e.g. --year 2026")
	}
	return nil
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
