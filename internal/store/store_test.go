package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"hsa-reconciliation-service/internal/authority"
	"hsa-reconciliation-service/internal/models"
	"hsa-reconciliation-service/pkg/errors"
)

var fixedNow = func() time.Time { return time.Date(2026, time.April, 1, 9, 0, 0, 0, time.UTC) }

func candidate(kind models.DocumentType, patient, provider string, day int, cost string) *models.Record {
	return &models.Record{
		DateOfService:         civil.Date{Year: 2026, Month: time.March, Day: day},
		Patient:               patient,
		ProviderName:          provider,
		Category:              models.CategoryMedical,
		DocumentType:          kind,
		PatientResponsibility: decimal.RequireFromString(cost),
		HSAEligible:           true,
		Confidence:            0.9,
		SourceFiles:           []string{fmt.Sprintf("%s-%d.pdf", kind, day)},
	}
}

func openMemory(t *testing.T) (*RecordStore, *MemorySheet) {
	t.Helper()
	sheet := NewMemorySheet()
	s, err := Open(context.Background(), sheet, WithClock(fixedNow))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s, sheet
}

func commit(t *testing.T, s *RecordStore, recs ...*models.Record) []int {
	t.Helper()
	var ids []int
	err := s.Update(context.Background(), func(tx *Tx) error {
		for _, rec := range recs {
			committed, err := tx.Commit(rec)
			if err != nil {
				return err
			}
			ids = append(ids, committed.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	return ids
}

func cellOf(t *testing.T, sheet Sheet, row int, column string) string {
	t.Helper()
	rows, err := sheet.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	layout, err := NewLayout(rows[0])
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}
	col, _ := layout.Col(column)
	if row >= len(rows) || col >= len(rows[row]) {
		return ""
	}
	return rows[row][col]
}

func TestOpen_InitialisesHeader(t *testing.T) {
	_, sheet := openMemory(t)

	rows, _ := sheet.ReadAll(context.Background())
	if len(rows) != 1 || len(rows[0]) != len(Columns) || rows[0][0] != ColID {
		t.Errorf("expected a single header row, got %v", rows)
	}
}

func TestCommit_AssignsIDsAndPersists(t *testing.T) {
	s, sheet := openMemory(t)

	ids := commit(t, s,
		candidate(models.DocumentStatement, "Alice", "Sutter Health", 10, "45.00"),
		candidate(models.DocumentReceipt, "Bob", "CVS", 11, "12.99"),
	)
	if ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("ids = %v, want [1 2]", ids)
	}

	if got := cellOf(t, sheet, 2, ColProvider); got != "CVS" {
		t.Errorf("row 2 provider = %q, want CVS", got)
	}
	if got := cellOf(t, sheet, 1, ColDateAdded); got != "2026-04-01" {
		t.Errorf("date added = %q, want 2026-04-01", got)
	}
	if got := cellOf(t, sheet, 1, ColConfidence); got != "90%" {
		t.Errorf("confidence = %q, want 90%%", got)
	}

	rec, err := s.LookupByID(context.Background(), 2)
	if err != nil || rec.Patient != "Bob" {
		t.Errorf("LookupByID(2) = %v, %v", rec, err)
	}
	if _, err := s.LookupByID(context.Background(), 9); !errors.HasCode(err, errors.CodeRecordNotFound) {
		t.Errorf("LookupByID(9) error = %v", err)
	}
}

func TestCommit_DanglingLink(t *testing.T) {
	s, sheet := openMemory(t)
	commit(t, s, candidate(models.DocumentStatement, "Alice", "Sutter Health", 10, "45.00"))

	rec := candidate(models.DocumentEOB, "Alice", "Blue Shield", 10, "45.00")
	rec.LinkedRecordIDs = models.NewLinkSet(1, 42)

	err := s.Update(context.Background(), func(tx *Tx) error {
		_, err := tx.Commit(rec)
		return err
	})
	if !errors.HasCode(err, errors.CodeLinkIntegrity) {
		t.Fatalf("Update() error = %v, want link integrity error", err)
	}

	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
	rows, _ := sheet.ReadAll(context.Background())
	if len(rows) != 2 {
		t.Errorf("sheet has %d rows, want header plus one record", len(rows))
	}
	if ids := commit(t, s, candidate(models.DocumentReceipt, "Bob", "CVS", 11, "1.00")); ids[0] != 2 {
		t.Errorf("next id = %d, want 2", ids[0])
	}
}

func TestLinkRecords_AppendsAndPersists(t *testing.T) {
	s, sheet := openMemory(t)
	commit(t, s,
		candidate(models.DocumentStatement, "Alice", "Sutter Health", 10, "45.00"),
		candidate(models.DocumentEOB, "Alice", "Blue Shield", 10, "45.00"),
		candidate(models.DocumentEOB, "Alice", "Blue Shield", 12, "10.00"),
	)

	for _, target := range []int{2, 3, 2} {
		if _, err := s.LinkRecords(context.Background(), 1, target, authority.RelationshipCovers); err != nil {
			t.Fatalf("LinkRecords(1, %d) error = %v", target, err)
		}
	}

	if got := cellOf(t, sheet, 1, ColLinkedRecordID); got != "2|3" {
		t.Errorf("linked ids cell = %q, want 2|3", got)
	}
	if got := cellOf(t, sheet, 1, ColIsAuthoritative); got != "No" {
		t.Errorf("statement authority cell = %q, want No", got)
	}
	if got := cellOf(t, sheet, 2, ColIsAuthoritative); got != "Yes" {
		t.Errorf("EOB authority cell = %q, want Yes", got)
	}
	if got := cellOf(t, sheet, 3, ColLinkedRecordID); got != "1" {
		t.Errorf("second EOB linked ids = %q, want 1", got)
	}

	if _, err := s.LinkRecords(context.Background(), 1, 99, ""); !errors.HasCode(err, errors.CodeLinkIntegrity) {
		t.Errorf("LinkRecords to a missing record error = %v", err)
	}
	if _, err := s.LinkRecords(context.Background(), 1, 1, ""); !errors.HasCode(err, errors.CodeSelfLink) {
		t.Errorf("LinkRecords to itself error = %v", err)
	}
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	s, sheet := openMemory(t)
	commit(t, s,
		candidate(models.DocumentStatement, "Alice", "Sutter Health", 10, "45.00"),
		candidate(models.DocumentEOB, "Alice", "Blue Shield", 10, "45.00"),
	)

	failure := fmt.Errorf("boom")
	err := s.Update(context.Background(), func(tx *Tx) error {
		if _, err := tx.Commit(candidate(models.DocumentReceipt, "Bob", "CVS", 11, "3.00")); err != nil {
			return err
		}
		if _, err := tx.Link(1, 2, ""); err != nil {
			return err
		}
		if _, err := tx.AddSourceReference(2, "again.pdf"); err != nil {
			return err
		}
		return failure
	})
	if err != failure {
		t.Fatalf("Update() error = %v, want %v", err, failure)
	}

	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	stmt, _ := s.LookupByID(context.Background(), 1)
	if !stmt.LinkedRecordIDs.IsEmpty() || stmt.Authority != models.AuthorityStandalone {
		t.Errorf("statement not restored: %s links=%s", stmt, stmt.LinkedRecordIDs)
	}
	eob, _ := s.LookupByID(context.Background(), 2)
	if len(eob.SourceFiles) != 1 {
		t.Errorf("source files not restored: %v", eob.SourceFiles)
	}
	if len(s.Query(context.Background(), Filter{Patient: "Bob"})) != 0 {
		t.Error("rolled back record is still indexed")
	}

	rows, _ := sheet.ReadAll(context.Background())
	if len(rows) != 3 {
		t.Errorf("sheet has %d rows, want 3", len(rows))
	}
	if ids := commit(t, s, candidate(models.DocumentReceipt, "Bob", "CVS", 11, "3.00")); ids[0] != 3 {
		t.Errorf("id after rollback = %d, want 3", ids[0])
	}
}

func TestAddSourceReference(t *testing.T) {
	s, sheet := openMemory(t)
	commit(t, s, candidate(models.DocumentStatement, "Alice", "Sutter Health", 10, "45.00"))

	for i, ref := range []string{"scan-2.pdf", "scan-2.pdf"} {
		var added bool
		err := s.Update(context.Background(), func(tx *Tx) error {
			var err error
			added, err = tx.AddSourceReference(1, ref)
			return err
		})
		if err != nil {
			t.Fatalf("AddSourceReference() error = %v", err)
		}
		if added != (i == 0) {
			t.Errorf("call %d added = %v", i, added)
		}
	}

	if got := cellOf(t, sheet, 1, ColSourceFile); got != "statement-10.pdf|scan-2.pdf" {
		t.Errorf("source file cell = %q", got)
	}
}

func TestCorrectRecord(t *testing.T) {
	s, _ := openMemory(t)
	commit(t, s,
		candidate(models.DocumentStatement, "Alice", "Sutter Health", 10, "45.00"),
		candidate(models.DocumentEOB, "Alice", "Blue Shield", 10, "40.00"),
	)

	amount := decimal.RequireFromString("40.00")
	rec, err := s.CorrectRecord(context.Background(), 1, Correction{PatientResponsibility: &amount, Note: "matched EOB"})
	if err != nil {
		t.Fatalf("CorrectRecord() error = %v", err)
	}
	if !rec.PatientResponsibility.Equal(amount) || rec.Notes != "matched EOB" {
		t.Errorf("correction not applied: %s notes=%q", rec, rec.Notes)
	}

	no := models.AuthoritySubordinate
	rec, err = s.CorrectRecord(context.Background(), 2, Correction{Authority: &no})
	if err != nil {
		t.Fatalf("CorrectRecord() error = %v", err)
	}
	if rec.Authority != models.AuthorityAuthoritative {
		t.Errorf("EOB authority = %v, want Yes", rec.Authority)
	}

	negative := decimal.NewFromInt(-1)
	if _, err := s.CorrectRecord(context.Background(), 1, Correction{PatientResponsibility: &negative}); !errors.HasCode(err, errors.CodeInvalidAmount) {
		t.Errorf("negative correction error = %v", err)
	}
}

func TestMarkReimbursed(t *testing.T) {
	s, sheet := openMemory(t)
	commit(t, s, candidate(models.DocumentReceipt, "Bob", "CVS", 11, "12.99"))

	rec, err := s.MarkReimbursed(context.Background(), 1, decimal.RequireFromString("12.99"), civil.Date{})
	if err != nil {
		t.Fatalf("MarkReimbursed() error = %v", err)
	}
	if !rec.Reimbursed || rec.ReimbursementDate.String() != "2026-04-01" {
		t.Errorf("unexpected record: reimbursed=%v date=%s", rec.Reimbursed, rec.ReimbursementDate)
	}
	if got := cellOf(t, sheet, 1, ColReimbursementAmount); got != "12.99" {
		t.Errorf("reimbursement amount cell = %q", got)
	}

	tests := []struct {
		name string
		id   int
		amt  string
		code errors.ErrorCode
	}{
		{"zero amount", 1, "0", errors.CodeInvalidAmount},
		{"unknown record", 7, "1", errors.CodeRecordNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.MarkReimbursed(context.Background(), tt.id, decimal.RequireFromString(tt.amt), civil.Date{})
			if !errors.HasCode(err, tt.code) {
				t.Errorf("MarkReimbursed() error = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestQuery(t *testing.T) {
	s, _ := openMemory(t)
	commit(t, s,
		candidate(models.DocumentStatement, "Alice", "Sutter Health", 10, "45.00"),
		candidate(models.DocumentEOB, "Alice", "Blue Shield", 10, "45.00"),
		candidate(models.DocumentReceipt, "Bob", "CVS", 11, "12.99"),
	)
	if _, err := s.LinkRecords(context.Background(), 1, 2, ""); err != nil {
		t.Fatalf("LinkRecords() error = %v", err)
	}

	flag := func(a models.Authority) *models.Authority { return &a }

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"subordinate", Filter{Authority: flag(models.AuthoritySubordinate)}, 1},
		{"standalone", Filter{Authority: flag(models.AuthorityStandalone)}, 1},
		{"authoritative", Filter{Authority: flag(models.AuthorityAuthoritative)}, 1},
		{"subordinate for bob", Filter{Patient: "Bob", Authority: flag(models.AuthoritySubordinate)}, 0},
		{"everything", Filter{}, 3},
		{"year", Filter{Year: 2026}, 3},
		{"other year", Filter{Year: 2025}, 0},
		{"patient", Filter{Patient: "alice"}, 2},
		{"document type", Filter{DocumentType: models.DocumentEOB}, 1},
		{"category", Filter{Category: models.CategoryPharmacy}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(s.Query(context.Background(), tt.filter)); got != tt.want {
				t.Errorf("Query() returned %d records, want %d", got, tt.want)
			}
		})
	}

	snapshot := s.Snapshot(context.Background())
	snapshot[0].Patient = "Mallory"
	if rec, _ := s.LookupByID(context.Background(), 1); rec.Patient != "Alice" {
		t.Error("snapshot shares memory with the store")
	}
}

func TestFilter_MatchesAuthority(t *testing.T) {
	rec := candidate(models.DocumentStatement, "Alice", "Sutter Health", 10, "47.50")
	rec.Authority = models.AuthoritySubordinate

	subordinate, standalone := models.AuthoritySubordinate, models.AuthorityStandalone
	if !(Filter{Authority: &subordinate}).Matches(rec) {
		t.Error("subordinate record should match a subordinate filter")
	}
	if (Filter{Authority: &standalone}).Matches(rec) {
		t.Error("subordinate record should not match a standalone filter")
	}
	if !(Filter{}).Matches(rec) {
		t.Error("empty filter should match every record")
	}
}

func TestUpdate_ConcurrentCommits(t *testing.T) {
	s, _ := openMemory(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(day int) {
			defer wg.Done()
			_ = s.Update(context.Background(), func(tx *Tx) error {
				_, err := tx.Commit(candidate(models.DocumentReceipt, "Bob", "CVS", day%28+1, "1.00"))
				return err
			})
		}(i)
	}
	wg.Wait()

	records := s.Snapshot(context.Background())
	if len(records) != 20 {
		t.Fatalf("committed %d records, want 20", len(records))
	}
	for i, rec := range records {
		if rec.ID != i+1 {
			t.Errorf("record %d has id %d", i, rec.ID)
		}
	}
}

func TestFileBackends_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	backends := []struct {
		name string
		open func(t *testing.T) Sheet
	}{
		{"csv", func(t *testing.T) Sheet { return NewCSVSheet(filepath.Join(dir, "ledger.csv")) }},
		{"sqlite", func(t *testing.T) Sheet {
			sheet, err := NewSQLiteSheet(filepath.Join(dir, "ledger.db"))
			if err != nil {
				t.Fatalf("NewSQLiteSheet() error = %v", err)
			}
			t.Cleanup(func() { sheet.Close() })
			return sheet
		}},
	}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			sheet := b.open(t)
			s, err := Open(context.Background(), sheet, WithClock(fixedNow))
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}

			stmt := candidate(models.DocumentStatement, "Alice", "Sutter Health, Inc", 10, "1045.50")
			stmt.Notes = `said "final notice"`
			commit(t, s, stmt, candidate(models.DocumentEOB, "Alice", "Blue Shield", 10, "45.00"))
			if _, err := s.LinkRecords(context.Background(), 1, 2, ""); err != nil {
				t.Fatalf("LinkRecords() error = %v", err)
			}

			reopened, err := Open(context.Background(), sheet)
			if err != nil {
				t.Fatalf("reopen error = %v", err)
			}
			got := reopened.Snapshot(context.Background())
			if len(got) != 2 {
				t.Fatalf("reopened store has %d records", len(got))
			}
			if got[0].ProviderName != "Sutter Health, Inc" || got[0].Notes != `said "final notice"` {
				t.Errorf("text fields not preserved: %+v", got[0])
			}
			if !got[0].PatientResponsibility.Equal(decimal.RequireFromString("1045.50")) {
				t.Errorf("amount = %s", got[0].PatientResponsibility)
			}
			if got[0].Authority != models.AuthoritySubordinate || got[0].LinkedRecordIDs.String() != "2" {
				t.Errorf("statement = %s links=%s", got[0], got[0].LinkedRecordIDs)
			}
			if got[1].Authority != models.AuthorityAuthoritative || got[1].Confidence != 0.9 {
				t.Errorf("eob = %s confidence=%v", got[1], got[1].Confidence)
			}
			if ids := commit(t, reopened, candidate(models.DocumentReceipt, "Bob", "CVS", 11, "2.00")); ids[0] != 3 {
				t.Errorf("next id after reopen = %d, want 3", ids[0])
			}
		})
	}
}
