package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hsa-reconciliation-service/internal/reconciler"
	"hsa-reconciliation-service/pkg/errors"
)

// Flags for the ingest command
var (
	ingestFile     string
	ingestFormat   string
	ingestDryRun   bool
	ingestProgress bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Commit extracted candidate records to the ledger",
	Long: `Ingest reads the output of document extraction (a JSON list of documents
with claim lines, or a flat CSV of candidate rows) and commits every line
to the ledger. Exact duplicates are rejected, EOB claims are linked to the
statements they cover, and lines dated before the HSA start date are
skipped. A failing claim line never blocks its siblings.

Examples:
  # Ingest an extraction run
  reconciler ingest --file candidates.json

  # See what would happen without touching the ledger
  reconciler ingest --file candidates.csv --dry-run --progress`,

	PreRunE: validateIngestFlags,
	RunE:    runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "candidate file to ingest, .json or .csv (required)")
	ingestCmd.Flags().StringVar(&ingestFormat, "format", "", "input format: json, csv (default: by extension)")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "ingest into a copy of the ledger and discard it")
	ingestCmd.Flags().BoolVar(&ingestProgress, "progress", false, "show progress indicators")

	ingestCmd.MarkFlagRequired("file")

	viper.BindPFlag("ingest.file", ingestCmd.Flags().Lookup("file"))
	viper.BindPFlag("ingest.format", ingestCmd.Flags().Lookup("format"))
	viper.BindPFlag("ingest.dry_run", ingestCmd.Flags().Lookup("dry-run"))
	viper.BindPFlag("ingest.progress", ingestCmd.Flags().Lookup("progress"))
}

func validateIngestFlags(cmd *cobra.Command, args []string) error {
	ingestFile = viper.GetString("ingest.file")
	ingestFormat = viper.GetString("ingest.format")
	ingestDryRun = viper.GetBool("ingest.dry_run")
	ingestProgress = viper.GetBool("ingest.progress")

	if ingestFile == "" {
		return errors.ValidationError(errors.CodeMissingField, "file", "", nil).
			WithSuggestion("Pass the extraction output with --file")
	}
	if err := validateFileExists(ingestFile, "candidate file"); err != nil {
		return err
	}

	request := &reconciler.IngestRequest{FilePath: ingestFile, Format: ingestFormat}
	return request.Validate()
}

// validateFileExists checks that filePath names a readable regular file
func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	// Check if file is readable
	file, err := os.Open(filePath)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	file.Close()

	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.close()

	orchestrator, err := reconciler.NewIngestionOrchestrator(sess.service)
	if err != nil {
		return err
	}

	if ingestProgress {
		stderr := cmd.ErrOrStderr()
		orchestrator.AddProgressCallback(func(progress *reconciler.IngestionProgress) {
			fmt.Fprintf(stderr, "\r[%d/%d] %s (%.1f%% complete, %d/%d documents)",
				progress.CompletedSteps, progress.TotalSteps,
				progress.CurrentStep, progress.PercentComplete,
				progress.DocumentsProcessed, progress.TotalDocuments)
		})
	}

	report, err := orchestrator.IngestFile(ctx, &reconciler.IngestRequest{
		FilePath: ingestFile,
		Format:   ingestFormat,
		DryRun:   ingestDryRun,
	})
	if ingestProgress {
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	if err != nil {
		return err
	}

	printIngestReport(cmd.OutOrStdout(), report)
	return nil
}

func printIngestReport(w io.Writer, report *reconciler.IngestReport) {
	mode := ""
	if report.DryRun {
		mode = " (dry run, ledger unchanged)"
	}
	fmt.Fprintf(w, "Ingested %s%s\n", report.FilePath, mode)
	rows := []struct {
		label string
		count int
	}{
		{"Documents", len(report.Documents)},
		{"Inserted", report.Inserted},
		{"Duplicates", report.Duplicates},
		{"Skipped (pre-HSA)", report.SkippedPreHSA},
		{"Failed lines", report.FailedLines},
		{"Rejected docs", report.RejectedDocs},
		{"Ledger size", report.LedgerSize},
	}
	for _, row := range rows {
		fmt.Fprintf(w, "  %-18s %d\n", row.label+":", row.count)
	}
	if report.NeedsReview > 0 {
		fmt.Fprintf(w, "  %-18s %d (low extraction confidence)\n", "Needs review:", report.NeedsReview)
	}

	failures := report.Failures()
	if failures.Total == 0 {
		return
	}
	errs := make([]error, 0, len(failures.Errors))
	for _, e := range failures.Errors {
		errs = append(errs, e)
	}
	fmt.Fprintf(w, "\n%s\n", FormatValidationErrors(errs))
}
