package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"hsa-reconciliation-service/internal/aggregator"
	"hsa-reconciliation-service/internal/models"
)

var summaryYear int

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show ledger totals",
	Long: `Summary totals the countable records of the ledger: billed amounts,
insurance payments, patient responsibility, reimbursements and the amount
still claimable from the HSA. Records linked under an EOB are never counted
twice. Without --year every service year is listed.

Examples:
  reconciler summary
  reconciler summary --year 2026`,

	PreRunE: validateSummaryFlags,
	RunE:    runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)

	summaryCmd.Flags().IntVar(&summaryYear, "year", 0, "service year (default: all years)")
}

func validateSummaryFlags(cmd *cobra.Command, args []string) error {
	if summaryYear == 0 {
		return nil
	}
	return validateYear(summaryYear)
}

func runSummary(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.close()

	records := sess.service.Store().Snapshot(ctx)
	out := cmd.OutOrStdout()

	if summaryYear != 0 {
		printSummary(out, aggregator.Summarize(records, summaryYear))
		limits := sess.service.Config().OOPLimits
		progress := aggregator.Progress(records, summaryYear, "", limits)
		fmt.Fprintf(out, "  Out-of-pocket:    %s of %s (%.1f%%, %s)\n",
			models.FormatMoney(progress.Spent), models.FormatMoney(progress.Max), progress.Percent, progress.Level)
		return nil
	}

	summaries := aggregator.SummaryByYear(records)
	if len(summaries) == 0 {
		fmt.Fprintln(out, "The ledger is empty")
		return nil
	}
	for i, s := range summaries {
		if i > 0 {
			fmt.Fprintln(out)
		}
		printSummary(out, s)
	}
	return nil
}

func printSummary(w io.Writer, s aggregator.Summary) {
	fmt.Fprintf(w, "Summary %d: %d record(s), %d linked under an EOB\n", s.Year, s.Count, s.ExcludedCount)
	fmt.Fprintf(w, "  Billed:           %s\n", models.FormatMoney(s.BilledTotal))
	fmt.Fprintf(w, "  Insurance paid:   %s\n", models.FormatMoney(s.InsuranceTotal))
	fmt.Fprintf(w, "  Patient cost:     %s\n", models.FormatMoney(s.PatientCostTotal))
	fmt.Fprintf(w, "  Reimbursed:       %s\n", models.FormatMoney(s.ReimbursedTotal))
	fmt.Fprintf(w, "  Unreimbursed:     %s\n", models.FormatMoney(s.UnreimbursedTotal))

	categories := make([]string, 0, len(s.ByCategory))
	for category := range s.ByCategory {
		categories = append(categories, string(category))
	}
	sort.Strings(categories)
	for _, category := range categories {
		fmt.Fprintf(w, "    %-14s %s\n", category+":", models.FormatMoney(s.ByCategory[models.Category(category)]))
	}
}
