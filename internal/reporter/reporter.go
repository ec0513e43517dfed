// Package reporter provides reporting capabilities for reconciliation results.
//
// This package assembles the yearly reconciliation view of the ledger
// (out-of-pocket progress, unmatched EOBs and statements, variance alerts,
// suggested links) and renders it in several output formats.
//
// Supported output formats:
//   - Console: Human-readable tabular output for terminal display
//   - JSON: Structured data format for programmatic consumption
//   - CSV: Comma-separated format for spreadsheet applications
//
// Example usage:
//
//	reconciler, _ := reporter.NewReconciler(reporter.DefaultReconcileConfig())
//	report := reconciler.Reconcile(ledger.Snapshot(ctx), 2026)
//
//	generator, _ := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatJSON, TableMaxWidth: 120})
//	err := generator.GenerateReport(report, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"hsa-reconciliation-service/internal/aggregator"
	"hsa-reconciliation-service/internal/models"
)

// OutputFormat represents the supported report output formats.
// Each format is optimized for different use cases and audiences.
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
	IncludeBreakdown   bool `json:"include_breakdown"`
	IncludeUnmatched   bool `json:"include_unmatched"`
	IncludeVariances   bool `json:"include_variances"`
	IncludeSuggestions bool `json:"include_suggestions"`
	IncludeNeedsReview bool `json:"include_needs_review"`
	IncludeViolations  bool `json:"include_violations"`

	// Console formatting options
	ShowProgressBars bool `json:"show_progress_bars"`
	TableMaxWidth    int  `json:"table_max_width"`

	// MaxItems limits the rows printed per console section; 0 means no limit
	MaxItems int `json:"max_items"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`

	// SortByAmount orders record lists by patient responsibility instead of id
	SortByAmount bool `json:"sort_by_amount"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:             FormatConsole,
		IncludeBreakdown:   true,
		IncludeUnmatched:   true,
		IncludeVariances:   true,
		IncludeSuggestions: true,
		IncludeNeedsReview: true,
		IncludeViolations:  true,
		ShowProgressBars:   true,
		TableMaxWidth:      120,
		MaxItems:           0,
		CSVDelimiter:       ',',
		CSVHeaders:         true,
		SortByAmount:       false,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}

	if c.MaxItems < 0 {
		return fmt.Errorf("max items cannot be negative, got %d", c.MaxItems)
	}

	return nil
}

// ReportGenerator renders reconciliation reports in various formats
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

// GenerateReport renders report and writes it to the provided writer
func (rg *ReportGenerator) GenerateReport(report *ReconciliationReport, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("reconciliation report cannot be nil")
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
func (rg *ReportGenerator) generateConsoleReport(report *ReconciliationReport, writer io.Writer) error {
	fmt.Fprintf(writer, "HSA RECONCILIATION REPORT %d\n", report.Year)
	fmt.Fprintf(writer, "Generated: %s\n", report.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Report ID: %s\n\n", report.ReportID)

	fmt.Fprintf(writer, "=== OUT-OF-POCKET PROGRESS ===\n")
	rg.printProgress("Household", report.Household, writer)
	if rg.config.IncludeBreakdown {
		for _, p := range report.OOPBreakdown {
			rg.printProgress(p.Patient, p, writer)
		}
	}
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== FINANCIAL SUMMARY ===\n")
	rg.printFinancialSummary(report.Summary, writer)
	fmt.Fprintf(writer, "\n")

	if rg.config.IncludeUnmatched {
		fmt.Fprintf(writer, "=== STATEMENTS WITHOUT MATCHING EOB ===\n")
		rg.printRecordList(report.UnmatchedStatements, "All statements have matching EOBs", writer)
		fmt.Fprintf(writer, "\n")

		fmt.Fprintf(writer, "=== EOB CLAIMS WITHOUT MATCHING STATEMENT ===\n")
		rg.printRecordList(report.UnmatchedEOBs, "All EOB claims have matching statements", writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeVariances {
		fmt.Fprintf(writer, "=== AMOUNT VARIANCES ===\n")
		rg.printVariances(report.VarianceAlerts, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeSuggestions && len(report.SuggestedLinks) > 0 {
		fmt.Fprintf(writer, "=== SUGGESTED LINKS ===\n")
		for i, s := range report.SuggestedLinks {
			if rg.truncated(i, len(report.SuggestedLinks), writer) {
				break
			}
			fmt.Fprintf(writer, "  %-3s EOB #%d -> statement #%d  %d day(s) apart, variance %s\n",
				s.Stars, s.EOBID, s.StatementID, s.DateDiff, signedMoney(s.Variance.StringFixed(2)))
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeNeedsReview && len(report.NeedsReview) > 0 {
		fmt.Fprintf(writer, "=== NEEDS REVIEW ===\n")
		rg.printRecordList(report.NeedsReview, "", writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeViolations && len(report.Violations) > 0 {
		fmt.Fprintf(writer, "=== LEDGER INCONSISTENCIES ===\n")
		for _, v := range report.Violations {
			fmt.Fprintf(writer, "  - %s\n", v)
		}
		fmt.Fprintf(writer, "\n")
	}

	// The footer write surfaces a broken writer to the caller
	var err error
	if n := report.AttentionCount(); n > 0 {
		_, err = fmt.Fprintf(writer, "%d items need attention\n", n)
	} else {
		_, err = fmt.Fprintf(writer, "All reconciled\n")
	}
	return err
}

// generateJSONReport generates a structured JSON report
func (rg *ReportGenerator) generateJSONReport(report *ReconciliationReport, writer io.Writer) error {
	filtered := rg.filterReportForOutput(report)

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	return encoder.Encode(filtered)
}

// generateCSVReport generates one row per finding
func (rg *ReportGenerator) generateCSVReport(report *ReconciliationReport, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if err := rg.writeCSVRows(report, csvWriter); err != nil {
		return err
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

func (rg *ReportGenerator) writeCSVRows(report *ReconciliationReport, csvWriter *csv.Writer) error {
	if rg.config.CSVHeaders {
		headers := []string{
			"Type",
			"Record_ID",
			"Related_ID",
			"Date",
			"Patient",
			"Provider",
			"Amount",
			"Related_Amount",
			"Variance",
			"Stars",
			"Notes",
		}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	write := func(row []string) error {
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write %s record: %w", strings.ToLower(row[0]), err)
		}
		return nil
	}

	if rg.config.IncludeUnmatched {
		for _, rec := range report.UnmatchedStatements {
			if err := write(recordRow("Unmatched Statement", rec, "No matching EOB found")); err != nil {
				return err
			}
		}
		for _, rec := range report.UnmatchedEOBs {
			if err := write(recordRow("Unmatched EOB", rec, "No matching statement found")); err != nil {
				return err
			}
		}
	}

	if rg.config.IncludeVariances {
		for _, v := range report.VarianceAlerts {
			row := []string{
				"Variance",
				strconv.Itoa(v.EOBID),
				strconv.Itoa(v.StatementID),
				v.ServiceDate,
				v.Patient,
				v.Provider,
				v.EOBAmount.StringFixed(2),
				v.StatementAmount.StringFixed(2),
				v.Variance.StringFixed(2),
				"",
				fmt.Sprintf("Exceeds allowance of %s", v.Allowance.StringFixed(2)),
			}
			if err := write(row); err != nil {
				return err
			}
		}
	}

	if rg.config.IncludeSuggestions {
		for _, s := range report.SuggestedLinks {
			row := []string{
				"Suggestion",
				strconv.Itoa(s.EOBID),
				strconv.Itoa(s.StatementID),
				"",
				"",
				"",
				"",
				"",
				s.Variance.StringFixed(2),
				strconv.Itoa(int(s.Stars)),
				fmt.Sprintf("%s confidence, %d day(s) apart", s.Confidence, s.DateDiff),
			}
			if err := write(row); err != nil {
				return err
			}
		}
	}

	if rg.config.IncludeNeedsReview {
		for _, rec := range report.NeedsReview {
			note := fmt.Sprintf("Extraction confidence %.0f%%", rec.Confidence*100)
			if err := write(recordRow("Needs Review", rec, note)); err != nil {
				return err
			}
		}
	}

	return nil
}

func recordRow(kind string, rec *models.Record, note string) []string {
	return []string{
		kind,
		strconv.Itoa(rec.ID),
		rec.LinkedRecordIDs.String(),
		models.FormatDate(rec.DateOfService),
		rec.Patient,
		rec.ProviderName,
		rec.PatientResponsibility.StringFixed(2),
		"",
		"",
		"",
		note,
	}
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printProgress(label string, p aggregator.OOPProgress, writer io.Writer) {
	if rg.config.ShowProgressBars {
		fmt.Fprintf(writer, "  %-10s %s  %s / %s (%.0f%%)",
			label, progressBar(p.Percent, 30), models.FormatMoney(p.Spent), models.FormatMoney(p.Max), p.Percent)
	} else {
		fmt.Fprintf(writer, "  %-10s %s / %s (%.1f%%)",
			label, models.FormatMoney(p.Spent), models.FormatMoney(p.Max), p.Percent)
	}
	if p.Level != aggregator.LevelNominal {
		fmt.Fprintf(writer, " [%s]", strings.ToUpper(string(p.Level)))
	}
	fmt.Fprintf(writer, "\n")
}

func (rg *ReportGenerator) printFinancialSummary(summary aggregator.Summary, writer io.Writer) {
	fmt.Fprintf(writer, "Counted Records:      %d (%d linked records excluded)\n", summary.Count, summary.ExcludedCount)
	fmt.Fprintf(writer, "Total Billed:         %s\n", models.FormatMoney(summary.BilledTotal))
	fmt.Fprintf(writer, "Insurance Paid:       %s\n", models.FormatMoney(summary.InsuranceTotal))
	fmt.Fprintf(writer, "Patient Cost:         %s\n", models.FormatMoney(summary.PatientCostTotal))
	fmt.Fprintf(writer, "Reimbursed:           %s\n", models.FormatMoney(summary.ReimbursedTotal))
	fmt.Fprintf(writer, "Unreimbursed:         %s\n", models.FormatMoney(summary.UnreimbursedTotal))
}

func (rg *ReportGenerator) printRecordList(records []*models.Record, emptyMessage string, writer io.Writer) {
	if len(records) == 0 {
		if emptyMessage != "" {
			fmt.Fprintf(writer, "%s\n", emptyMessage)
		}
		return
	}

	list := append([]*models.Record(nil), records...)
	if rg.config.SortByAmount {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].PatientResponsibility.GreaterThan(list[j].PatientResponsibility)
		})
	}

	fmt.Fprintf(writer, "Total: %d\n", len(list))
	for i, rec := range list {
		if rg.truncated(i, len(list), writer) {
			break
		}
		provider := rec.ProviderName
		if rec.IsEOB() && rec.OriginalProvider != "" {
			provider = rec.OriginalProvider
		}
		fmt.Fprintf(writer, "  #%-4d %-10s %-28s %-10s %12s  %s\n",
			rec.ID,
			models.FormatDate(rec.DateOfService),
			rg.fit(provider, 28),
			rec.Patient,
			models.FormatMoney(rec.PatientResponsibility),
			rec.DocumentType)
	}
}

func (rg *ReportGenerator) printVariances(alerts []VarianceAlert, writer io.Writer) {
	if len(alerts) == 0 {
		fmt.Fprintf(writer, "No amount variances between linked records\n")
		return
	}

	fmt.Fprintf(writer, "Total: %d\n", len(alerts))
	for i, v := range alerts {
		if rg.truncated(i, len(alerts), writer) {
			break
		}
		fmt.Fprintf(writer, "  EOB #%d / statement #%d  %s %s %s  EOB %s, statement %s, variance %s\n",
			v.EOBID,
			v.StatementID,
			v.ServiceDate,
			rg.fit(v.Provider, 28),
			v.Patient,
			models.FormatMoney(v.EOBAmount),
			models.FormatMoney(v.StatementAmount),
			signedMoney(v.Variance.StringFixed(2)))
	}
}

// truncated prints the overflow line and reports true once MaxItems rows were printed
func (rg *ReportGenerator) truncated(i, total int, writer io.Writer) bool {
	if rg.config.MaxItems == 0 || i < rg.config.MaxItems {
		return false
	}
	fmt.Fprintf(writer, "  ... and %d more\n", total-i)
	return true
}

// fit shortens s to width runes, bounded by the table width
func (rg *ReportGenerator) fit(s string, width int) string {
	if width > rg.config.TableMaxWidth {
		width = rg.config.TableMaxWidth
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}

func progressBar(percent float64, width int) string {
	filled := int(float64(width) * percent / 100)
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

func signedMoney(fixed string) string {
	if strings.HasPrefix(fixed, "-") {
		return "-$" + fixed[1:]
	}
	return "+$" + fixed
}

func (rg *ReportGenerator) filterReportForOutput(report *ReconciliationReport) map[string]interface{} {
	output := map[string]interface{}{
		"report_id":    report.ReportID,
		"year":         report.Year,
		"generated_at": report.GeneratedAt,
		"summary":      report.Summary,
		"oop_progress": report.Household,
	}

	if rg.config.IncludeBreakdown {
		output["oop_breakdown"] = report.OOPBreakdown
	}

	if rg.config.IncludeUnmatched {
		output["unmatched_eobs"] = report.UnmatchedEOBs
		output["unmatched_statements"] = report.UnmatchedStatements
	}

	if rg.config.IncludeVariances {
		output["variance_alerts"] = report.VarianceAlerts
	}

	if rg.config.IncludeSuggestions {
		output["suggested_links"] = report.SuggestedLinks
	}

	if rg.config.IncludeNeedsReview {
		output["needs_review"] = report.NeedsReview
	}

	if rg.config.IncludeViolations {
		output["violations"] = report.Violations
	}

	return output
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
