package reporter

import (
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"hsa-reconciliation-service/internal/aggregator"
	"hsa-reconciliation-service/internal/authority"
	"hsa-reconciliation-service/internal/matcher"
	"hsa-reconciliation-service/internal/models"
	"hsa-reconciliation-service/pkg/errors"
	"hsa-reconciliation-service/pkg/logger"
)

// ReconcileConfig holds the settings the reconciliation view depends on
type ReconcileConfig struct {
	// Family lists the patients that always appear in the OOP breakdown
	Family []string

	OOPLimits aggregator.OOPLimits
	Matching  *matcher.MatchingConfig

	// ReviewThreshold is the extraction confidence below which a record is
	// listed for manual review
	ReviewThreshold float64
}

// DefaultReconcileConfig returns a configuration with sensible defaults
func DefaultReconcileConfig() *ReconcileConfig {
	return &ReconcileConfig{
		Family:          models.DefaultFamilyMembers(),
		OOPLimits:       aggregator.DefaultOOPLimits(),
		Matching:        matcher.DefaultMatchingConfig(),
		ReviewThreshold: 0.70,
	}
}

// Validate validates the configuration
func (c *ReconcileConfig) Validate() error {
	if err := c.OOPLimits.Validate(); err != nil {
		return err
	}
	if c.Matching == nil {
		return fmt.Errorf("matching configuration is required")
	}
	if err := c.Matching.Validate(); err != nil {
		return fmt.Errorf("invalid matching configuration: %w", err)
	}
	if c.ReviewThreshold < 0 || c.ReviewThreshold > 1 {
		return fmt.Errorf("review threshold must be between 0 and 1, got %.2f", c.ReviewThreshold)
	}
	return nil
}

// VarianceAlert flags a linked EOB/statement pair whose amounts drifted apart
type VarianceAlert struct {
	EOBID         int        `json:"eob_id"`
	StatementID   int        `json:"statement_id"`
	DateOfService civil.Date `json:"-"`
	ServiceDate   string     `json:"service_date"`
	Provider      string     `json:"provider"`
	Patient       string     `json:"patient"`

	EOBAmount       decimal.Decimal `json:"eob_amount"`
	StatementAmount decimal.Decimal `json:"statement_amount"`

	// Variance is eob - statement; negative when the statement asks for more
	Variance  decimal.Decimal `json:"variance"`
	Allowance decimal.Decimal `json:"allowance"`
}

// ReconciliationReport is the read-only view of one service year
type ReconciliationReport struct {
	ReportID    string    `json:"report_id"`
	Year        int       `json:"year"`
	GeneratedAt time.Time `json:"generated_at"`

	Summary      aggregator.Summary       `json:"summary"`
	Household    aggregator.OOPProgress   `json:"oop_progress"`
	OOPBreakdown []aggregator.OOPProgress `json:"oop_breakdown"`

	UnmatchedEOBs       []*models.Record     `json:"unmatched_eobs"`
	UnmatchedStatements []*models.Record     `json:"unmatched_statements"`
	VarianceAlerts      []VarianceAlert      `json:"variance_alerts"`
	SuggestedLinks      []matcher.Suggestion `json:"suggested_links"`

	NeedsReview []*models.Record      `json:"needs_review"`
	Violations  []authority.Violation `json:"violations"`
}

// AttentionCount is the number of items an operator still has to look at
func (r *ReconciliationReport) AttentionCount() int {
	return len(r.UnmatchedEOBs) + len(r.UnmatchedStatements) + len(r.VarianceAlerts)
}

// Reconciler assembles reconciliation reports. It composes the aggregator
// and the auto-suggest matcher and never mutates records.
type Reconciler struct {
	config    *ReconcileConfig
	suggester *matcher.AutoSuggestMatcher
	logger    logger.Logger
	now       func() time.Time
}

// NewReconciler creates a reconciler; a nil config uses the defaults
func NewReconciler(config *ReconcileConfig) (*Reconciler, error) {
	if config == nil {
		config = DefaultReconcileConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconcile_config", "", err)
	}

	return &Reconciler{
		config:    config,
		suggester: matcher.NewAutoSuggestMatcher(config.Matching),
		logger:    logger.GetGlobalLogger().WithComponent("reconciliation_reporter"),
		now:       time.Now,
	}, nil
}

// SetClock overrides the time source used for GeneratedAt
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// Reconcile builds the report for year from a snapshot of the ledger
func (r *Reconciler) Reconcile(records []*models.Record, year int) *ReconciliationReport {
	suggestions := r.suggester.Suggest(records, year)

	report := &ReconciliationReport{
		ReportID:            uuid.NewString(),
		Year:                year,
		GeneratedAt:         r.now(),
		Summary:             aggregator.Summarize(records, year),
		Household:           aggregator.Progress(records, year, "", r.config.OOPLimits),
		OOPBreakdown:        aggregator.Breakdown(records, year, r.config.Family, r.config.OOPLimits),
		UnmatchedEOBs:       suggestions.EOBsWithoutSuggestion(),
		UnmatchedStatements: suggestions.StatementsWithoutSuggestion(),
		VarianceAlerts:      VarianceAlerts(records, year, r.config.Matching),
		SuggestedLinks:      suggestions.Suggestions,
		NeedsReview:         NeedsReview(records, year, r.config.ReviewThreshold),
		Violations:          authority.Verify(records),
	}

	r.logger.WithFields(logger.Fields{
		"report_id":            report.ReportID,
		"year":                 year,
		"records":              len(records),
		"unmatched_eobs":       len(report.UnmatchedEOBs),
		"unmatched_statements": len(report.UnmatchedStatements),
		"variance_alerts":      len(report.VarianceAlerts),
		"suggestions":          len(report.SuggestedLinks),
		"violations":           len(report.Violations),
	}).Info("Reconciliation report assembled")

	return report
}

// VarianceAlerts checks every committed EOB/non-EOB link of year. A pair is
// reported once even when both ends carry the link, and only when the
// absolute variance exceeds the allowance for the EOB amount.
func VarianceAlerts(records []*models.Record, year int, config *matcher.MatchingConfig) []VarianceAlert {
	if config == nil {
		config = matcher.DefaultMatchingConfig()
	}

	byID := make(map[int]*models.Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	type pair struct{ eob, statement int }
	seen := make(map[pair]bool)
	alerts := []VarianceAlert{}

	for _, rec := range records {
		for _, id := range rec.LinkedRecordIDs.IDs() {
			other, ok := byID[id]
			if !ok || rec.IsEOB() == other.IsEOB() {
				continue
			}

			eob, statement := rec, other
			if !eob.IsEOB() {
				eob, statement = other, rec
			}
			if eob.Year() != year {
				continue
			}

			key := pair{eob.ID, statement.ID}
			if seen[key] {
				continue
			}
			seen[key] = true

			variance := eob.PatientResponsibility.Sub(statement.PatientResponsibility)
			allowance := config.VarianceAllowance(eob.PatientResponsibility)
			if variance.Abs().LessThanOrEqual(allowance) {
				continue
			}

			provider := eob.OriginalProvider
			if provider == "" {
				provider = eob.ProviderName
			}
			alerts = append(alerts, VarianceAlert{
				EOBID:           eob.ID,
				StatementID:     statement.ID,
				DateOfService:   eob.DateOfService,
				ServiceDate:     models.FormatDate(eob.DateOfService),
				Provider:        provider,
				Patient:         eob.Patient,
				EOBAmount:       eob.PatientResponsibility,
				StatementAmount: statement.PatientResponsibility,
				Variance:        variance,
				Allowance:       allowance,
			})
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].EOBID != alerts[j].EOBID {
			return alerts[i].EOBID < alerts[j].EOBID
		}
		return alerts[i].StatementID < alerts[j].StatementID
	})
	return alerts
}

// NeedsReview returns the records of year whose extraction confidence is
// below threshold, ordered by id
func NeedsReview(records []*models.Record, year int, threshold float64) []*models.Record {
	result := []*models.Record{}
	for _, rec := range records {
		if rec.Year() == year && rec.Confidence < threshold {
			result = append(result, rec)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
