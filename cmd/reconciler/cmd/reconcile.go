package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hsa-reconciliation-service/cmd/reconciler/config"
	"hsa-reconciliation-service/internal/reporter"
	"hsa-reconciliation-service/internal/store"
	"hsa-reconciliation-service/pkg/errors"
	"hsa-reconciliation-service/pkg/logger"
)

// Flags for the reconcile command
var (
	reconcileYear int
	outputFormat  string
	outputFile    string
	summarySheet  string
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Report what still needs reconciling for a service year",
	Long: `Reconcile builds the reconciliation view of one service year: out-of-pocket
progress per patient, statements without a matching EOB, EOB claims without
a statement, amount variances between linked records, suggested links and
records whose extraction confidence needs a manual look. The ledger is only
read.

Examples:
  # Console report for the current year
  reconciler reconcile

  # JSON report written to a file
  reconciler reconcile --year 2026 --output-format json --output-file report.json

  # Also write the summary worksheet
  reconciler reconcile --year 2026 --summary-sheet summary-2026.csv`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().IntVar(&reconcileYear, "year", currentYear(), "service year")

	// Output flags
	reconcileCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	reconcileCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")
	reconcileCmd.Flags().StringVar(&summarySheet, "summary-sheet", "", "also write the summary worksheet to this CSV file")

	// Bind flags to viper
	viper.BindPFlag("reconcile.year", reconcileCmd.Flags().Lookup("year"))
	viper.BindPFlag("output-format", reconcileCmd.Flags().Lookup("output-format"))
	viper.BindPFlag("output-file", reconcileCmd.Flags().Lookup("output-file"))
	viper.BindPFlag("summary-sheet", reconcileCmd.Flags().Lookup("summary-sheet"))
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	// Get values from viper (allows override from config file)
	reconcileYear = viper.GetInt("reconcile.year")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")
	summarySheet = viper.GetString("summary-sheet")

	if err := validateYear(reconcileYear); err != nil {
		return err
	}

	if !reporter.OutputFormat(outputFormat).IsValid() {
		return errors.ValidationError(errors.CodeInvalidData, "output-format", outputFormat, nil).
			WithSuggestion("Valid formats: console, json, csv")
	}

	for _, path := range []string{outputFile, summarySheet} {
		if err := validateOutputDir(path); err != nil {
			return err
		}
	}
	if outputFile != "" && outputFile == summarySheet {
		return errors.ConfigurationError(errors.CodeConfigConflict, "summary-sheet", summarySheet,
			fmt.Errorf("the report and the summary worksheet cannot share a file"))
	}

	return nil
}

// validateOutputDir checks that the directory of an output path exists
func validateOutputDir(path string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return errors.FileError(errors.CodeDirectoryError, dir, err)
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	log := logger.GetGlobalLogger().WithComponent("cli")

	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.close()

	reconciler, err := reporter.NewReconciler(config.CreateReconcileConfig(sess.service.Config()))
	if err != nil {
		return err
	}

	var report *reporter.ReconciliationReport
	err = logger.TimedOperation("reconcile", log.WithField("year", reconcileYear), func() error {
		report = reconciler.Reconcile(sess.service.Store().Snapshot(ctx), reconcileYear)
		return nil
	})
	if err != nil {
		return err
	}

	reportConfig, err := config.CreateReportConfig(outputFormat)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", outputFormat, err)
	}
	generator, err := reporter.NewSafeReportGenerator(reportConfig, log)
	if err != nil {
		return err
	}

	// Determine output destination
	output := os.Stdout
	if outputFile != "" {
		output, err = os.Create(outputFile)
		if err != nil {
			return errors.FileError(errors.CodeFilePermission, outputFile, err)
		}
		defer output.Close()
	}

	if err := generator.GenerateReportSafely(report, output); err != nil {
		return err
	}

	if summarySheet != "" {
		if err := writeSummarySheet(ctx, summarySheet, report); err != nil {
			return err
		}
		if viper.GetBool("verbose") {
			fmt.Fprintf(cmd.ErrOrStderr(), "Summary worksheet written to %s\n", summarySheet)
		}
	}

	return nil
}

// writeSummarySheet replaces path with the summary worksheet of report
func writeSummarySheet(ctx context.Context, path string, report *reporter.ReconciliationReport) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	return reporter.WriteSummarySheet(ctx, store.NewCSVSheet(path), report)
}
