package matcher

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"hsa-reconciliation-service/internal/models"
)

func date(y, m, d int) civil.Date {
	return civil.Date{Year: y, Month: time.Month(m), Day: d}
}

func rec(id int, patient, provider string, kind models.DocumentType, d civil.Date, cost string) *models.Record {
	return &models.Record{
		ID:                    id,
		DateOfService:         d,
		Patient:               patient,
		ProviderName:          provider,
		Category:              models.CategoryMedical,
		DocumentType:          kind,
		PatientResponsibility: decimal.RequireFromString(cost),
	}
}

func TestRecordIndex_Lookups(t *testing.T) {
	records := []*models.Record{
		rec(1, "Alice", "Sutter Health", models.DocumentStatement, date(2026, 3, 10), "45.00"),
		rec(2, "Alice", "Sutter Health", models.DocumentEOB, date(2026, 3, 12), "45.00"),
		rec(3, "Bob", "Kaiser", models.DocumentReceipt, date(2026, 3, 10), "20.00"),
		rec(4, "Alice", "CVS", models.DocumentReceipt, civil.Date{}, "12.00"),
		rec(5, "Alice", "Sutter Health", models.DocumentStatement, date(2025, 11, 2), "90.00"),
	}
	index := NewRecordIndex(records)

	if index.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", index.Len())
	}

	if got := index.GetByPatientDate("Alice", date(2026, 3, 10)); len(got) != 1 || got[0].ID != 1 {
		t.Errorf("GetByPatientDate() = %v", got)
	}

	within := index.GetByPatientWithin("Alice", date(2026, 3, 11), 1)
	if len(within) != 2 || within[0].ID != 1 || within[1].ID != 2 {
		t.Errorf("GetByPatientWithin() returned %d records", len(within))
	}

	if got := index.GetByPatientWithin("Alice", civil.Date{}, 3); got != nil {
		t.Errorf("undated lookups should return nothing, got %v", got)
	}

	if got := index.GetByYear(2026); len(got) != 3 {
		t.Errorf("GetByYear(2026) returned %d records, want 3", len(got))
	}

	if r, ok := index.GetByID(3); !ok || r.Patient != "Bob" {
		t.Errorf("GetByID(3) = %v, %v", r, ok)
	}
	if _, ok := index.GetByID(42); ok {
		t.Error("GetByID(42) should not be found")
	}

	stats := index.GetIndexStats()
	if stats.TotalRecords != 5 || stats.UniquePatients != 2 || stats.UndatedRecords != 1 || stats.UniqueDates != 3 {
		t.Errorf("GetIndexStats() = %+v", stats)
	}
}

func TestRecordIndex_AddIgnoresNil(t *testing.T) {
	index := NewRecordIndex(nil)
	index.Add(nil)
	if index.Len() != 0 {
		t.Errorf("Len() = %d, want 0", index.Len())
	}
}
