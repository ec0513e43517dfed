// Package aggregator computes totals and out-of-pocket progress over the
// ledger. Every figure routes through IsCountable; nothing here inspects
// links to decide whether a record counts.
package aggregator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"hsa-reconciliation-service/internal/models"
)

// IsCountable reports whether a record contributes to totals. Only an
// explicit "No" excludes a record; link presence is irrelevant.
func IsCountable(r *models.Record) bool {
	return r.Authority != models.AuthoritySubordinate
}

// Summary holds the totals of one year (or of every year when Year is zero)
type Summary struct {
	Year              int             `json:"year"`
	Count             int             `json:"count"`
	ExcludedCount     int             `json:"excluded_count"`
	BilledTotal       decimal.Decimal `json:"billed_total"`
	InsuranceTotal    decimal.Decimal `json:"insurance_total"`
	PatientCostTotal  decimal.Decimal `json:"patient_cost_total"`
	ReimbursedTotal   decimal.Decimal `json:"reimbursed_total"`
	UnreimbursedTotal decimal.Decimal `json:"unreimbursed_total"`

	ByCategory map[models.Category]decimal.Decimal `json:"by_category"`
}

// Summarize totals the countable records of year. A zero year covers the
// whole ledger, undated records included.
func Summarize(records []*models.Record, year int) Summary {
	s := Summary{
		Year:              year,
		BilledTotal:       decimal.Zero,
		InsuranceTotal:    decimal.Zero,
		PatientCostTotal:  decimal.Zero,
		ReimbursedTotal:   decimal.Zero,
		UnreimbursedTotal: decimal.Zero,
		ByCategory:        make(map[models.Category]decimal.Decimal),
	}

	for _, r := range records {
		if year != 0 && r.Year() != year {
			continue
		}
		if !IsCountable(r) {
			s.ExcludedCount++
			continue
		}

		s.Count++
		s.BilledTotal = s.BilledTotal.Add(r.BilledAmount)
		s.InsuranceTotal = s.InsuranceTotal.Add(r.InsurancePaid)
		s.PatientCostTotal = s.PatientCostTotal.Add(r.PatientResponsibility)
		s.ByCategory[r.Category] = s.ByCategory[r.Category].Add(r.PatientResponsibility)

		if r.Reimbursed {
			s.ReimbursedTotal = s.ReimbursedTotal.Add(r.ReimbursementAmount)
		} else if r.HSAEligible {
			s.UnreimbursedTotal = s.UnreimbursedTotal.Add(r.PatientResponsibility)
		}
	}

	return s
}

// SummaryByYear returns one summary per service year present in records,
// oldest first. Undated records are left out.
func SummaryByYear(records []*models.Record) []Summary {
	years := make(map[int]bool)
	for _, r := range records {
		if r.HasDate() {
			years[r.Year()] = true
		}
	}

	ordered := make([]int, 0, len(years))
	for y := range years {
		ordered = append(ordered, y)
	}
	sort.Ints(ordered)

	summaries := make([]Summary, 0, len(ordered))
	for _, y := range ordered {
		summaries = append(summaries, Summarize(records, y))
	}
	return summaries
}

// UnreimbursedTotal sums patient responsibility over countable, HSA-eligible
// records of year that have not been reimbursed yet
func UnreimbursedTotal(records []*models.Record, year int) decimal.Decimal {
	return Summarize(records, year).UnreimbursedTotal
}

// Level classifies OOP progress for display
type Level string

const (
	LevelNominal  Level = "nominal"
	LevelWarning  Level = "warning"
	LevelExceeded Level = "exceeded"
)

// Display thresholds, in percent
const (
	WarningPercent  = 75.0
	ExceededPercent = 100.0
)

// LevelOf classifies spending against a maximum. It compares exact
// amounts, so $5,999.99 of $6,000 is a warning even though it displays
// as 100%.
func LevelOf(spent, max decimal.Decimal) Level {
	if !max.IsPositive() {
		if spent.IsPositive() {
			return LevelExceeded
		}
		return LevelNominal
	}
	percent := spent.Mul(decimal.NewFromInt(100)).Div(max)
	switch {
	case percent.GreaterThanOrEqual(decimal.NewFromFloat(ExceededPercent)):
		return LevelExceeded
	case percent.GreaterThanOrEqual(decimal.NewFromFloat(WarningPercent)):
		return LevelWarning
	default:
		return LevelNominal
	}
}

// OOPLimits holds the annual out-of-pocket maximum shared by every record
// kind, with optional per-patient overrides
type OOPLimits struct {
	Default    decimal.Decimal            `json:"default"`
	PerPatient map[string]decimal.Decimal `json:"per_patient,omitempty"`
}

// DefaultOOPLimits returns the $6,000 household default with no overrides
func DefaultOOPLimits() OOPLimits {
	return OOPLimits{Default: decimal.NewFromInt(6000)}
}

// Validate checks that every maximum is positive
func (l OOPLimits) Validate() error {
	if !l.Default.IsPositive() {
		return fmt.Errorf("OOP maximum must be positive, got %s", l.Default)
	}
	for patient, max := range l.PerPatient {
		if !max.IsPositive() {
			return fmt.Errorf("OOP maximum for %s must be positive, got %s", patient, max)
		}
	}
	return nil
}

// For returns the maximum that applies to patient. An empty patient means
// the household, which uses the default.
func (l OOPLimits) For(patient string) decimal.Decimal {
	for name, max := range l.PerPatient {
		if patient != "" && strings.EqualFold(name, patient) {
			return max
		}
	}
	return l.Default
}

// Clone returns a deep copy
func (l OOPLimits) Clone() OOPLimits {
	out := OOPLimits{Default: l.Default}
	if l.PerPatient != nil {
		out.PerPatient = make(map[string]decimal.Decimal, len(l.PerPatient))
		for k, v := range l.PerPatient {
			out.PerPatient[k] = v
		}
	}
	return out
}

// OOPProgress is spending against an out-of-pocket maximum
type OOPProgress struct {
	Year    int             `json:"year"`
	Patient string          `json:"patient,omitempty"`
	Spent   decimal.Decimal `json:"spent"`
	Max     decimal.Decimal `json:"max"`
	Percent float64         `json:"percent"`
	Level   Level           `json:"level"`
}

// Progress computes OOP progress for patient in year; an empty patient
// covers the whole household.
func Progress(records []*models.Record, year int, patient string, limits OOPLimits) OOPProgress {
	spent := decimal.Zero
	for _, r := range records {
		if r.Year() != year || !IsCountable(r) {
			continue
		}
		if patient != "" && !strings.EqualFold(r.Patient, patient) {
			continue
		}
		spent = spent.Add(r.PatientResponsibility)
	}

	max := limits.For(patient)
	return OOPProgress{
		Year:    year,
		Patient: patient,
		Spent:   spent,
		Max:     max,
		Percent: ProgressPercent(spent, max),
		Level:   LevelOf(spent, max),
	}
}

// ProgressPercent is min(spent/max, 1)*100, rounded to one decimal place
func ProgressPercent(spent, max decimal.Decimal) float64 {
	if !max.IsPositive() {
		if spent.IsPositive() {
			return 100
		}
		return 0
	}
	ratio := spent.Div(max)
	if ratio.GreaterThan(decimal.NewFromInt(1)) {
		ratio = decimal.NewFromInt(1)
	}
	percent, _ := ratio.Mul(decimal.NewFromInt(100)).Round(1).Float64()
	return percent
}

// Breakdown returns per-patient OOP progress for year, highest spend first.
// Every listed patient appears even with no spending; patients found in the
// records but not listed are added.
func Breakdown(records []*models.Record, year int, patients []string, limits OOPLimits) []OOPProgress {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			return
		}
		seen[key] = true
		names = append(names, name)
	}
	for _, p := range patients {
		add(p)
	}
	for _, r := range records {
		if r.Year() == year {
			add(r.Patient)
		}
	}

	breakdown := make([]OOPProgress, 0, len(names))
	for _, name := range names {
		breakdown = append(breakdown, Progress(records, year, name, limits))
	}

	sort.SliceStable(breakdown, func(i, j int) bool {
		if c := breakdown[i].Spent.Cmp(breakdown[j].Spent); c != 0 {
			return c > 0
		}
		return breakdown[i].Patient < breakdown[j].Patient
	})
	return breakdown
}
