// Package reconciler ingests extracted candidate records into the ledger.
//
// This package coordinates the ingestion workflow, including:
//   - Loading candidate documents from JSON or CSV extraction output
//   - Candidate preprocessing and validation
//   - The HSA start-date filter and the multi-claim date fallback
//   - Duplicate detection and authority resolution per claim line
//   - Progress tracking and dry runs against a copy of the ledger
//
// The IngestionOrchestrator provides the main entry point for ingesting a
// whole extraction file.
//
// Example usage:
//
//	service, _ := reconciler.NewService(ledger, reconciler.DefaultSessionConfig())
//	orchestrator, _ := reconciler.NewIngestionOrchestrator(service)
//	orchestrator.AddProgressCallback(func(progress *IngestionProgress) {
//		fmt.Printf("Progress: %.1f%% - %s\n", progress.PercentComplete, progress.CurrentStep)
//	})
//
//	report, err := orchestrator.IngestFile(ctx, &IngestRequest{FilePath: "candidates.json"})
package reconciler

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hsa-reconciliation-service/internal/models"
	"hsa-reconciliation-service/internal/parsers"
	"hsa-reconciliation-service/pkg/errors"
	"hsa-reconciliation-service/pkg/logger"
)

// Input formats accepted by IngestFile
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

const ingestionSteps = 4

// IngestionOrchestrator loads extraction output and feeds it to a Service
// with progress tracking.
type IngestionOrchestrator struct {
	service      *Service
	parserConfig *parsers.CandidateParserConfig
	logger       logger.Logger

	// Progress tracking
	progressCallbacks []ProgressCallback
	currentProgress   *IngestionProgress
	progressMutex     sync.RWMutex
}

// IngestionProgress tracks the progress of an ingestion run
type IngestionProgress struct {
	TotalSteps         int           `json:"total_steps"`
	CompletedSteps     int           `json:"completed_steps"`
	CurrentStep        string        `json:"current_step"`
	PercentComplete    float64       `json:"percent_complete"`
	StartTime          time.Time     `json:"start_time"`
	ElapsedTime        time.Duration `json:"elapsed_time"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`

	TotalDocuments     int `json:"total_documents"`
	DocumentsProcessed int `json:"documents_processed"`

	Warnings []string `json:"warnings,omitempty"`
}

// ProgressCallback is called to report ingestion progress
type ProgressCallback func(*IngestionProgress)

// IngestRequest names the extraction output to ingest
type IngestRequest struct {
	FilePath string

	// Format is json or csv; empty means pick by file extension
	Format string

	// DryRun ingests into an in-memory copy of the ledger and leaves the
	// real one untouched
	DryRun bool
}

// Validate validates the request
func (r *IngestRequest) Validate() error {
	if strings.TrimSpace(r.FilePath) == "" {
		return errors.ValidationError(errors.CodeMissingField, "file", r.FilePath, nil)
	}
	if _, err := r.format(); err != nil {
		return err
	}
	return nil
}

func (r *IngestRequest) format() (string, error) {
	format := strings.ToLower(strings.TrimSpace(r.Format))
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(r.FilePath)), ".")
	}
	switch format {
	case FormatJSON, FormatCSV:
		return format, nil
	default:
		return "", errors.ValidationError(errors.CodeInvalidData, "format", format, nil).
			WithSuggestion("ingest a .json or .csv extraction file, or pass the format explicitly")
	}
}

// IngestReport summarizes one ingestion run
type IngestReport struct {
	SessionID string            `json:"session_id"`
	FilePath  string            `json:"file_path"`
	DryRun    bool              `json:"dry_run"`
	Documents []*DocumentResult `json:"documents"`

	// ParseStats is set for CSV input, where bad rows are skipped
	ParseStats *parsers.ParseStats `json:"parse_stats,omitempty"`

	Inserted       int                `json:"inserted"`
	Duplicates     int                `json:"duplicates"`
	SkippedPreHSA  int                `json:"skipped_pre_hsa"`
	FailedLines    int                `json:"failed_lines"`
	RejectedDocs   int                `json:"rejected_documents"`
	NeedsReview    int                `json:"needs_review"`
	LedgerSize     int                `json:"ledger_size"`
	ProcessingTime time.Duration      `json:"processing_time"`
	Preprocessing  PreprocessingStats `json:"preprocessing"`
}

// Failures summarizes every rejected document and claim line
func (r *IngestReport) Failures() *errors.ErrorSummary {
	var errs []*errors.ReconcilerError
	for _, doc := range r.Documents {
		errs = append(errs, doc.Errors().Errors...)
	}
	return errors.NewErrorSummary(errs)
}

// NewIngestionOrchestrator creates a new ingestion orchestrator
func NewIngestionOrchestrator(service *Service) (*IngestionOrchestrator, error) {
	if service == nil {
		return nil, errors.ValidationError(
			errors.CodeMissingField,
			"reconciliation_service",
			nil,
			nil,
		).WithSuggestion("Provide a valid Service instance")
	}

	log := logger.GetGlobalLogger().WithComponent("ingestion_orchestrator")
	log.Debug("Creating ingestion orchestrator")

	return &IngestionOrchestrator{
		service:      service,
		parserConfig: parsers.DefaultCandidateParserConfig(),
		logger:       log,
		currentProgress: &IngestionProgress{
			TotalSteps: ingestionSteps, // validate, load, prepare ledger, ingest
		},
	}, nil
}

// SetParserConfig overrides the CSV column configuration
func (o *IngestionOrchestrator) SetParserConfig(config *parsers.CandidateParserConfig) error {
	if err := config.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "candidate_parser", "", err)
	}
	o.parserConfig = config
	return nil
}

// AddProgressCallback adds a progress callback function
func (o *IngestionOrchestrator) AddProgressCallback(callback ProgressCallback) {
	o.progressCallbacks = append(o.progressCallbacks, callback)
}

// GetCurrentProgress returns a copy of the current progress
func (o *IngestionOrchestrator) GetCurrentProgress() IngestionProgress {
	o.progressMutex.RLock()
	defer o.progressMutex.RUnlock()

	progress := *o.currentProgress
	progress.Warnings = append([]string(nil), o.currentProgress.Warnings...)
	return progress
}

// IngestFile loads the extraction output named by req and ingests every
// document in it. Per-document and per-line failures are collected in the
// report; only failures that prevent ingestion altogether are returned.
func (o *IngestionOrchestrator) IngestFile(ctx context.Context, req *IngestRequest) (*IngestReport, error) {
	o.initializeProgress()
	startTime := time.Now()

	o.updateProgress("Validating request", 0, 0)
	if err := req.Validate(); err != nil {
		o.logger.WithError(err).Error("Ingestion request validation failed")
		return nil, err
	}
	format, _ := req.format()

	log := o.logger.WithFields(logger.Fields{
		"file":       req.FilePath,
		"format":     format,
		"dry_run":    req.DryRun,
		"session_id": o.service.SessionID(),
	})
	log.Info("Starting ingestion")

	o.updateProgress("Loading candidates", 1, time.Since(startTime))
	docs, stats, err := o.load(ctx, req.FilePath, format)
	if err != nil {
		log.WithError(err).Error("Failed to load candidates")
		return nil, err
	}
	o.setDocumentTotal(len(docs))
	if stats != nil && stats.ErrorCount > 0 {
		o.addWarning("skipped invalid rows in " + req.FilePath)
		log.WithField("invalid_rows", stats.ErrorCount).Warn("Skipped invalid candidate rows")
	}

	o.updateProgress("Preparing ledger", 2, time.Since(startTime))
	service := o.service
	if req.DryRun {
		fork, err := o.service.Store().Fork(ctx)
		if err != nil {
			return nil, err
		}
		service = o.service.withStore(fork)
	}

	o.updateProgress("Ingesting documents", 3, time.Since(startTime))
	results, err := service.IngestDocuments(ctx, docs, func(*DocumentResult) {
		o.documentProcessed()
	})
	if err != nil {
		log.WithError(err).Error("Ingestion interrupted")
		return nil, err
	}

	report := &IngestReport{
		SessionID:      service.SessionID(),
		FilePath:       req.FilePath,
		DryRun:         req.DryRun,
		Documents:      results,
		ParseStats:     stats,
		LedgerSize:     service.Store().Len(),
		ProcessingTime: time.Since(startTime),
		Preprocessing:  service.PreprocessingStats(),
	}
	for _, doc := range results {
		if doc.Err != nil {
			report.RejectedDocs++
		}
		report.Inserted += doc.Count(StatusInserted)
		report.Duplicates += doc.Count(StatusDuplicateRejected)
		report.SkippedPreHSA += doc.Count(StatusSkippedPreHSA)
		report.FailedLines += len(doc.Failed())
		for _, line := range doc.Lines {
			if line.Result != nil && line.Result.NeedsReview {
				report.NeedsReview++
			}
		}
	}

	o.updateProgress("Completed", ingestionSteps, time.Since(startTime))
	log.WithFields(logger.Fields{
		"inserted":      report.Inserted,
		"duplicates":    report.Duplicates,
		"skipped":       report.SkippedPreHSA,
		"failed_lines":  report.FailedLines,
		"rejected_docs": report.RejectedDocs,
		"elapsed_time":  report.ProcessingTime,
	}).Info("Ingestion completed")
	return report, nil
}

func (o *IngestionOrchestrator) load(ctx context.Context, path, format string) ([]*models.Document, *parsers.ParseStats, error) {
	if format == FormatJSON {
		docs, err := parsers.LoadCandidateJSON(ctx, path)
		return docs, nil, err
	}

	parser, err := parsers.NewCandidateParser(o.parserConfig)
	if err != nil {
		return nil, nil, err
	}
	return parser.ParseFile(ctx, path)
}

// initializeProgress resets progress tracking
func (o *IngestionOrchestrator) initializeProgress() {
	o.progressMutex.Lock()
	defer o.progressMutex.Unlock()

	o.currentProgress = &IngestionProgress{
		TotalSteps: ingestionSteps,
		StartTime:  time.Now(),
	}
}

// updateProgress updates the current progress and notifies callbacks
func (o *IngestionOrchestrator) updateProgress(step string, completed int, elapsed time.Duration) {
	o.progressMutex.Lock()
	defer o.progressMutex.Unlock()

	o.currentProgress.CurrentStep = step
	o.currentProgress.CompletedSteps = completed
	o.currentProgress.ElapsedTime = elapsed
	o.currentProgress.PercentComplete = float64(completed) / float64(o.currentProgress.TotalSteps) * 100

	// Estimate remaining time
	if completed > 0 && completed < o.currentProgress.TotalSteps {
		avgTimePerStep := elapsed / time.Duration(completed)
		remainingSteps := o.currentProgress.TotalSteps - completed
		o.currentProgress.EstimatedRemaining = avgTimePerStep * time.Duration(remainingSteps)
	} else {
		o.currentProgress.EstimatedRemaining = 0
	}

	o.notify()
}

func (o *IngestionOrchestrator) setDocumentTotal(total int) {
	o.progressMutex.Lock()
	defer o.progressMutex.Unlock()
	o.currentProgress.TotalDocuments = total
}

func (o *IngestionOrchestrator) documentProcessed() {
	o.progressMutex.Lock()
	defer o.progressMutex.Unlock()
	o.currentProgress.DocumentsProcessed++
	o.notify()
}

func (o *IngestionOrchestrator) addWarning(message string) {
	o.progressMutex.Lock()
	defer o.progressMutex.Unlock()
	o.currentProgress.Warnings = append(o.currentProgress.Warnings, message)
}

// notify must be called with progressMutex held
func (o *IngestionOrchestrator) notify() {
	for _, callback := range o.progressCallbacks {
		snapshot := *o.currentProgress
		callback(&snapshot)
	}
}
