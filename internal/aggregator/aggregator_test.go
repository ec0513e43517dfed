package aggregator

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"hsa-reconciliation-service/internal/models"
)

func rec(id int, patient string, kind models.DocumentType, authority models.Authority, year int, cost string, links ...int) *models.Record {
	r := &models.Record{
		ID:                    id,
		Patient:               patient,
		ProviderName:          "Provider",
		Category:              models.CategoryMedical,
		DocumentType:          kind,
		Authority:             authority,
		LinkedRecordIDs:       models.NewLinkSet(links...),
		PatientResponsibility: decimal.RequireFromString(cost),
		BilledAmount:          decimal.RequireFromString(cost).Mul(decimal.NewFromInt(2)),
		HSAEligible:           true,
	}
	if year != 0 {
		r.DateOfService = civil.Date{Year: year, Month: time.March, Day: 10}
	}
	return r
}

func TestIsCountable_AllCombinations(t *testing.T) {
	kinds := []models.DocumentType{models.DocumentEOB, models.DocumentStatement, models.DocumentReceipt}
	flags := []struct {
		authority models.Authority
		want      bool
	}{
		{models.AuthorityAuthoritative, true},
		{models.AuthoritySubordinate, false},
		{models.AuthorityStandalone, true},
	}

	for _, kind := range kinds {
		for _, flag := range flags {
			for _, linked := range []bool{false, true} {
				name := string(kind) + "/" + flag.authority.String()
				if linked {
					name += "/linked"
				}
				t.Run(name, func(t *testing.T) {
					r := rec(1, "Alice", kind, flag.authority, 2026, "10")
					if linked {
						r.LinkedRecordIDs = models.NewLinkSet(2)
					}
					if got := IsCountable(r); got != flag.want {
						t.Errorf("IsCountable() = %v, want %v", got, flag.want)
					}
				})
			}
		}
	}
}

func TestSummarize_NoDoubleCount(t *testing.T) {
	records := []*models.Record{
		rec(1, "Alice", models.DocumentStatement, models.AuthoritySubordinate, 2026, "47.50", 2),
		rec(2, "Alice", models.DocumentEOB, models.AuthorityAuthoritative, 2026, "45.00", 1),
		rec(3, "Bob", models.DocumentReceipt, models.AuthorityStandalone, 2026, "12.99"),
		rec(4, "Bob", models.DocumentReceipt, models.AuthorityStandalone, 2025, "100.00"),
		rec(5, "Bob", models.DocumentReceipt, models.AuthorityStandalone, 0, "5.00"),
	}
	records[2].Reimbursed = true
	records[2].ReimbursementAmount = decimal.RequireFromString("12.99")

	s := Summarize(records, 2026)
	if s.Count != 2 || s.ExcludedCount != 1 {
		t.Errorf("Count = %d, ExcludedCount = %d", s.Count, s.ExcludedCount)
	}
	if got := s.PatientCostTotal.StringFixed(2); got != "57.99" {
		t.Errorf("PatientCostTotal = %s, want 57.99", got)
	}
	if got := s.BilledTotal.StringFixed(2); got != "115.98" {
		t.Errorf("BilledTotal = %s, want 115.98", got)
	}
	if got := s.ReimbursedTotal.StringFixed(2); got != "12.99" {
		t.Errorf("ReimbursedTotal = %s, want 12.99", got)
	}
	if got := s.UnreimbursedTotal.StringFixed(2); got != "45.00" {
		t.Errorf("UnreimbursedTotal = %s, want 45.00", got)
	}
	if got := s.ByCategory[models.CategoryMedical].StringFixed(2); got != "57.99" {
		t.Errorf("medical total = %s", got)
	}

	if all := Summarize(records, 0); all.Count != 4 {
		t.Errorf("whole-ledger count = %d, want 4", all.Count)
	}
}

func TestUnreimbursedTotal_SkipsIneligible(t *testing.T) {
	eligible := rec(1, "Alice", models.DocumentReceipt, models.AuthorityStandalone, 2026, "20")
	ineligible := rec(2, "Alice", models.DocumentReceipt, models.AuthorityStandalone, 2026, "30")
	ineligible.HSAEligible = false

	records := []*models.Record{eligible, ineligible}
	if got := UnreimbursedTotal(records, 2026).StringFixed(2); got != "20.00" {
		t.Errorf("UnreimbursedTotal() = %s, want 20.00", got)
	}
	if got := Summarize(records, 2026).PatientCostTotal.StringFixed(2); got != "50.00" {
		t.Errorf("ineligible records still count toward totals, got %s", got)
	}
}

func TestSummaryByYear(t *testing.T) {
	records := []*models.Record{
		rec(1, "Alice", models.DocumentReceipt, models.AuthorityStandalone, 2026, "1"),
		rec(2, "Alice", models.DocumentReceipt, models.AuthorityStandalone, 2024, "2"),
		rec(3, "Alice", models.DocumentReceipt, models.AuthorityStandalone, 2026, "3"),
		rec(4, "Alice", models.DocumentReceipt, models.AuthorityStandalone, 0, "4"),
	}

	got := SummaryByYear(records)
	if len(got) != 2 || got[0].Year != 2024 || got[1].Year != 2026 {
		t.Fatalf("SummaryByYear() years = %+v", got)
	}
	if got[1].PatientCostTotal.StringFixed(2) != "4.00" {
		t.Errorf("2026 total = %s", got[1].PatientCostTotal)
	}
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		spent, max string
		want       float64
		level      Level
	}{
		{"0", "6000", 0, LevelNominal},
		{"1500", "6000", 25, LevelNominal},
		{"4500", "6000", 75, LevelWarning},
		{"5999.99", "6000", 100, LevelWarning},
		{"6000", "6000", 100, LevelExceeded},
		{"9000", "6000", 100, LevelExceeded},
		{"10", "0", 100, LevelExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.spent+"/"+tt.max, func(t *testing.T) {
			spent, max := decimal.RequireFromString(tt.spent), decimal.RequireFromString(tt.max)
			if got := ProgressPercent(spent, max); got != tt.want {
				t.Errorf("ProgressPercent() = %v, want %v", got, tt.want)
			}
			if level := LevelOf(spent, max); level != tt.level {
				t.Errorf("LevelOf() = %s, want %s", level, tt.level)
			}
		})
	}
}

func TestProgressAndBreakdown(t *testing.T) {
	records := []*models.Record{
		rec(1, "Alice", models.DocumentStatement, models.AuthoritySubordinate, 2026, "500", 2),
		rec(2, "Alice", models.DocumentEOB, models.AuthorityAuthoritative, 2026, "450", 1),
		rec(3, "Bob", models.DocumentReceipt, models.AuthorityStandalone, 2026, "900"),
		rec(4, "Dana", models.DocumentReceipt, models.AuthorityStandalone, 2026, "10"),
	}
	limits := OOPLimits{
		Default:    decimal.NewFromInt(6000),
		PerPatient: map[string]decimal.Decimal{"bob": decimal.NewFromInt(1000)},
	}

	household := Progress(records, 2026, "", limits)
	if household.Spent.StringFixed(2) != "1360.00" || !household.Max.Equal(decimal.NewFromInt(6000)) {
		t.Errorf("household progress = %+v", household)
	}

	bob := Progress(records, 2026, "Bob", limits)
	if bob.Percent != 90 || bob.Level != LevelWarning {
		t.Errorf("Bob progress = %+v", bob)
	}

	breakdown := Breakdown(records, 2026, []string{"Alice", "Bob", "Charlie"}, limits)
	order := []string{"Bob", "Alice", "Dana", "Charlie"}
	if len(breakdown) != len(order) {
		t.Fatalf("Breakdown() returned %d rows", len(breakdown))
	}
	for i, name := range order {
		if breakdown[i].Patient != name {
			t.Errorf("row %d = %s, want %s", i, breakdown[i].Patient, name)
		}
	}
	if !breakdown[3].Spent.IsZero() {
		t.Errorf("Charlie spent = %s, want 0", breakdown[3].Spent)
	}
}

func TestOOPLimits(t *testing.T) {
	limits := DefaultOOPLimits()
	if err := limits.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	limits.PerPatient = map[string]decimal.Decimal{"Alice": decimal.NewFromInt(3000)}
	clone := limits.Clone()
	clone.PerPatient["Alice"] = decimal.NewFromInt(1)
	if !limits.For("alice").Equal(decimal.NewFromInt(3000)) {
		t.Error("Clone() shares the override map")
	}
	if !limits.For("").Equal(decimal.NewFromInt(6000)) {
		t.Error("household should use the default maximum")
	}

	limits.PerPatient["Bob"] = decimal.Zero
	if err := limits.Validate(); err == nil {
		t.Error("expected error for a zero override")
	}
}
