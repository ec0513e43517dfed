package reporter

import (
	"context"
	"fmt"
	"strconv"

	"hsa-reconciliation-service/internal/models"
	"hsa-reconciliation-service/internal/store"
	"hsa-reconciliation-service/pkg/errors"
)

// SummaryTimeLayout is how the generated-at cell is rendered
const SummaryTimeLayout = "2006-01-02 15:04"

// SummaryRows lays out the reconciliation summary worksheet: a title block,
// the household OOP figures, one row per patient and the attention counts.
func SummaryRows(report *ReconciliationReport) [][]string {
	household := report.Household
	rows := [][]string{
		{fmt.Sprintf("HSA Reconciliation %d", report.Year)},
		{"Generated", report.GeneratedAt.Format(SummaryTimeLayout)},
		{},
		{"Out-of-Pocket", "Spent", "Maximum", "Progress"},
		{"Household", models.FormatMoney(household.Spent), models.FormatMoney(household.Max), formatPercent(household.Percent)},
		{},
		{"Patient", "Spent", "Progress"},
	}

	for _, p := range report.OOPBreakdown {
		rows = append(rows, []string{p.Patient, models.FormatMoney(p.Spent), formatPercent(p.Percent)})
	}

	rows = append(rows,
		[]string{},
		[]string{"Unmatched statements", strconv.Itoa(len(report.UnmatchedStatements))},
		[]string{"Unmatched EOBs", strconv.Itoa(len(report.UnmatchedEOBs))},
		[]string{"Variances", strconv.Itoa(len(report.VarianceAlerts))},
	)
	return rows
}

// WriteSummarySheet appends the summary rows to sheet. The caller hands in
// an empty sheet; existing rows are left where they are.
func WriteSummarySheet(ctx context.Context, sheet store.Sheet, report *ReconciliationReport) error {
	if report == nil {
		return errors.ValidationError(errors.CodeMissingField, "report", nil, nil)
	}

	for i, row := range SummaryRows(report) {
		if err := sheet.AppendRow(ctx, row); err != nil {
			return errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStorageWrite,
				fmt.Sprintf("failed to write summary row %d", i+1))
		}
	}
	return nil
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', 1, 64) + "%"
}
