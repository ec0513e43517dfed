package reconciler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hsa-reconciliation-service/pkg/errors"
)

const candidatesJSON = `[
  {
    "source_file": "sutter-statement.pdf",
    "document_type": "statement",
    "lines": [
      {"provider_name": "Sutter Health", "service_date": "2026-03-10", "patient_name": "Alice",
       "billed_amount": 120.00, "insurance_paid": 72.50, "patient_responsibility": 47.50, "confidence_score": 0.95}
    ]
  },
  {
    "source_file": "aetna-eob.pdf",
    "document_type": "eob",
    "lines": [
      {"provider_name": "Sutter Health", "service_date": "2026-03-10", "patient_name": "Alice",
       "billed_amount": 120.00, "insurance_paid": 75.00, "patient_responsibility": 45.00, "confidence_score": 0.98},
      {"provider_name": "Quest Diagnostics", "service_date": "2025-12-28", "patient_name": "Bob",
       "billed_amount": 40.00, "insurance_paid": 30.00, "patient_responsibility": 10.00, "confidence_score": 0.98}
    ]
  },
  {
    "source_file": "sutter-statement-scan.pdf",
    "document_type": "statement",
    "lines": [
      {"provider_name": "Sutter Health", "service_date": "2026-03-10", "patient_name": "Alice",
       "billed_amount": 120.00, "insurance_paid": 72.50, "patient_responsibility": 47.50, "confidence_score": 0.80}
    ]
  },
  {
    "source_file": "blurry-eob.pdf",
    "document_type": "eob",
    "lines": [
      {"provider_name": "Kaiser Permanente", "patient_name": "Charlie", "patient_responsibility": 20.00},
      {"provider_name": "Kaiser Permanente", "patient_name": "Charlie", "patient_responsibility": 30.00}
    ]
  }
]`

const candidatesCSV = `source_file,document_type,date_of_service,patient,provider_name,category,billed_amount,insurance_paid,patient_responsibility,confidence
cvs-receipt.jpg,receipt,2026-02-14,Bob,CVS Pharmacy,pharmacy,12.99,0,12.99,0.9
kaiser-eob.pdf,eob,2026-03-01,Charlie,Kaiser Permanente,medical,200,150,50,0.6
kaiser-eob.pdf,eob,2026-03-02,Charlie,Kaiser Permanente,medical,80,60,20,0.95
broken.pdf,eob,2026-03-05,Charlie,Kaiser Permanente,medical,abc,0,10,0.9
`

func writeCandidates(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func newTestOrchestrator(t *testing.T) (*IngestionOrchestrator, *Service) {
	t.Helper()
	svc := newTestService(t)
	orchestrator, err := NewIngestionOrchestrator(svc)
	if err != nil {
		t.Fatalf("NewIngestionOrchestrator() error = %v", err)
	}
	return orchestrator, svc
}

func TestNewIngestionOrchestrator_NilService(t *testing.T) {
	if _, err := NewIngestionOrchestrator(nil); !errors.HasCode(err, errors.CodeMissingField) {
		t.Errorf("NewIngestionOrchestrator(nil) error = %v", err)
	}
}

func TestIngestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     IngestRequest
		code    errors.ErrorCode
		format  string
		wantErr bool
	}{
		{name: "json by extension", req: IngestRequest{FilePath: "out/candidates.JSON"}, format: FormatJSON},
		{name: "csv by extension", req: IngestRequest{FilePath: "candidates.csv"}, format: FormatCSV},
		{name: "explicit format wins", req: IngestRequest{FilePath: "candidates.txt", Format: "CSV"}, format: FormatCSV},
		{name: "empty path", req: IngestRequest{FilePath: " "}, code: errors.CodeMissingField, wantErr: true},
		{name: "unsupported extension", req: IngestRequest{FilePath: "ledger.xlsx"}, code: errors.CodeInvalidData, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				if !errors.HasCode(err, tt.code) {
					t.Errorf("Validate() error = %v, want %s", err, tt.code)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if format, _ := tt.req.format(); format != tt.format {
				t.Errorf("format() = %s, want %s", format, tt.format)
			}
		})
	}
}

func TestIngestFile_JSON(t *testing.T) {
	orchestrator, svc := newTestOrchestrator(t)
	path := writeCandidates(t, "candidates.json", candidatesJSON)

	report, err := orchestrator.IngestFile(context.Background(), &IngestRequest{FilePath: path})
	if err != nil {
		t.Fatalf("IngestFile() error = %v", err)
	}

	if report.Inserted != 2 || report.Duplicates != 1 || report.SkippedPreHSA != 1 {
		t.Errorf("inserted=%d duplicates=%d skipped=%d", report.Inserted, report.Duplicates, report.SkippedPreHSA)
	}
	if report.RejectedDocs != 1 || report.FailedLines != 0 {
		t.Errorf("rejected=%d failed lines=%d", report.RejectedDocs, report.FailedLines)
	}
	if report.LedgerSize != 2 || svc.Store().Len() != 2 {
		t.Errorf("ledger size = %d (store %d), want 2", report.LedgerSize, svc.Store().Len())
	}
	if report.SessionID != svc.SessionID() || report.DryRun {
		t.Errorf("report session=%s dry=%v", report.SessionID, report.DryRun)
	}

	failures := report.Failures()
	if failures.Total != 1 || !failures.HasCode(errors.CodeAmbiguousDate) {
		t.Errorf("failures = %+v", failures)
	}

	statement := lookup(t, svc, 1)
	if len(statement.SourceFiles) != 2 || statement.SourceFiles[1] != "sutter-statement-scan.pdf" {
		t.Errorf("statement sources = %v", statement.SourceFiles)
	}
	if statement.LinkedRecordIDs.String() != "2" {
		t.Errorf("statement links = %s, want 2", statement.LinkedRecordIDs)
	}
}

func TestIngestFile_CSV(t *testing.T) {
	orchestrator, svc := newTestOrchestrator(t)
	path := writeCandidates(t, "candidates.csv", candidatesCSV)

	report, err := orchestrator.IngestFile(context.Background(), &IngestRequest{FilePath: path})
	if err != nil {
		t.Fatalf("IngestFile() error = %v", err)
	}

	if len(report.Documents) != 2 {
		t.Fatalf("documents = %d, want 2", len(report.Documents))
	}
	if report.Inserted != 3 || svc.Store().Len() != 3 {
		t.Errorf("inserted = %d, ledger = %d, want 3", report.Inserted, svc.Store().Len())
	}
	if report.NeedsReview != 1 {
		t.Errorf("needs review = %d, want 1", report.NeedsReview)
	}
	if report.ParseStats == nil || report.ParseStats.ErrorCount != 1 {
		t.Errorf("parse stats = %+v, want one invalid row", report.ParseStats)
	}

	progress := orchestrator.GetCurrentProgress()
	if len(progress.Warnings) != 1 || !strings.Contains(progress.Warnings[0], "invalid rows") {
		t.Errorf("warnings = %v", progress.Warnings)
	}
}

func TestIngestFile_DryRun(t *testing.T) {
	orchestrator, svc := newTestOrchestrator(t)
	path := writeCandidates(t, "candidates.json", candidatesJSON)

	report, err := orchestrator.IngestFile(context.Background(), &IngestRequest{FilePath: path, DryRun: true})
	if err != nil {
		t.Fatalf("IngestFile() error = %v", err)
	}

	if !report.DryRun || report.Inserted != 2 || report.LedgerSize != 2 {
		t.Errorf("dry run report = %+v", report)
	}
	if n := svc.Store().Len(); n != 0 {
		t.Errorf("dry run wrote %d records to the ledger", n)
	}
}

func TestIngestFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		req  *IngestRequest
		code errors.ErrorCode
	}{
		{"unsupported extension", &IngestRequest{FilePath: "candidates.xlsx"}, errors.CodeInvalidData},
		{"missing file", &IngestRequest{FilePath: filepath.Join(t.TempDir(), "missing.json")}, errors.CodeFileNotFound},
		{"malformed json", &IngestRequest{FilePath: writeCandidates(t, "broken.json", `{"lines": [`)}, errors.CodeInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orchestrator, _ := newTestOrchestrator(t)
			report, err := orchestrator.IngestFile(context.Background(), tt.req)
			if report != nil || !errors.HasCode(err, tt.code) {
				t.Errorf("IngestFile() = %v, %v, want %s", report, err, tt.code)
			}
		})
	}
}

func TestIngestFile_ProgressCallbacks(t *testing.T) {
	orchestrator, _ := newTestOrchestrator(t)
	path := writeCandidates(t, "candidates.json", candidatesJSON)

	var updates []IngestionProgress
	orchestrator.AddProgressCallback(func(p *IngestionProgress) {
		updates = append(updates, *p)
	})

	if _, err := orchestrator.IngestFile(context.Background(), &IngestRequest{FilePath: path}); err != nil {
		t.Fatalf("IngestFile() error = %v", err)
	}

	if len(updates) == 0 {
		t.Fatal("no progress updates received")
	}
	for i := 1; i < len(updates); i++ {
		if updates[i].PercentComplete < updates[i-1].PercentComplete {
			t.Errorf("progress went backwards at update %d", i)
		}
	}

	last := updates[len(updates)-1]
	if last.PercentComplete != 100 || last.CurrentStep != "Completed" {
		t.Errorf("final progress = %.1f%% %q", last.PercentComplete, last.CurrentStep)
	}
	if last.TotalDocuments != 4 || last.DocumentsProcessed != 4 {
		t.Errorf("documents %d/%d, want 4/4", last.DocumentsProcessed, last.TotalDocuments)
	}
}
