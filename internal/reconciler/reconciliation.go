package reconciler

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"hsa-reconciliation-service/internal/aggregator"
	"hsa-reconciliation-service/internal/authority"
	"hsa-reconciliation-service/internal/matcher"
	"hsa-reconciliation-service/internal/models"
	"hsa-reconciliation-service/internal/store"
	"hsa-reconciliation-service/pkg/errors"
	"hsa-reconciliation-service/pkg/logger"
)

// Service ingests candidate records into one ledger. All mutations go
// through the record store's critical section; the service itself holds
// no mutable state besides preprocessing counters.
type Service struct {
	sessionID    string
	config       *SessionConfig
	family       *models.Family
	store        *store.RecordStore
	detector     *matcher.DuplicateDetector
	resolver     *authority.Resolver
	suggester    *matcher.AutoSuggestMatcher
	preprocessor *CandidatePreprocessor
	logger       logger.Logger
}

// SessionConfig is the immutable input of a reconciliation session
type SessionConfig struct {
	// Family lists the patients the ledger may reference
	Family []string

	// HSAStartDate is the first day expenses are reimbursable
	HSAStartDate civil.Date

	OOPLimits aggregator.OOPLimits

	// ReviewThreshold and AutoThreshold classify extraction confidence:
	// below review is low, at or above auto is high.
	ReviewThreshold float64
	AutoThreshold   float64

	Matching *matcher.MatchingConfig
}

// DefaultSessionConfig returns a configuration with sensible defaults
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		Family:          models.DefaultFamilyMembers(),
		HSAStartDate:    civil.Date{Year: 2026, Month: time.January, Day: 1},
		OOPLimits:       aggregator.DefaultOOPLimits(),
		ReviewThreshold: 0.70,
		AutoThreshold:   0.85,
		Matching:        matcher.DefaultMatchingConfig(),
	}
}

// Validate validates the configuration
func (c *SessionConfig) Validate() error {
	if _, err := models.NewFamily(c.Family); err != nil {
		return fmt.Errorf("invalid family: %w", err)
	}

	if !c.HSAStartDate.IsValid() {
		return fmt.Errorf("HSA start date is not a valid date: %s", c.HSAStartDate)
	}

	if err := c.OOPLimits.Validate(); err != nil {
		return err
	}

	if c.ReviewThreshold < 0 || c.ReviewThreshold > 1 {
		return fmt.Errorf("review threshold must be between 0 and 1, got %.2f", c.ReviewThreshold)
	}
	if c.AutoThreshold < c.ReviewThreshold || c.AutoThreshold > 1 {
		return fmt.Errorf("auto threshold must be between the review threshold and 1, got %.2f", c.AutoThreshold)
	}

	if c.Matching == nil {
		return fmt.Errorf("matching configuration is required")
	}
	if err := c.Matching.Validate(); err != nil {
		return fmt.Errorf("invalid matching configuration: %w", err)
	}

	return nil
}

// Clone creates a deep copy of the configuration
func (c *SessionConfig) Clone() *SessionConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Family = append([]string(nil), c.Family...)
	clone.OOPLimits = c.OOPLimits.Clone()
	clone.Matching = c.Matching.Clone()
	return &clone
}

// ClassifyConfidence maps an extraction confidence score onto high, medium or low
func (c *SessionConfig) ClassifyConfidence(score float64) string {
	switch {
	case score >= c.AutoThreshold:
		return matcher.ConfidenceHigh
	case score >= c.ReviewThreshold:
		return matcher.ConfidenceMedium
	default:
		return matcher.ConfidenceLow
	}
}

// NeedsReview reports whether a record's confidence is below the review threshold
func (c *SessionConfig) NeedsReview(rec *models.Record) bool {
	return rec.Confidence < c.ReviewThreshold
}

// CommitStatus is the outcome of ingesting one candidate
type CommitStatus string

const (
	// StatusInserted means the candidate became a new ledger row
	StatusInserted CommitStatus = "inserted"

	// StatusDuplicateRejected means the candidate repeats a stored record.
	// It is not an error: the existing record gains a source reference.
	StatusDuplicateRejected CommitStatus = "duplicate_rejected"

	// StatusSkippedPreHSA means an EOB claim line predates the HSA start
	// date and was not committed.
	StatusSkippedPreHSA CommitStatus = "skipped_pre_hsa"
)

// CommitResult describes what happened to one candidate
type CommitResult struct {
	Status CommitStatus `json:"status"`

	// RecordID is the new record, or the existing one for a duplicate
	RecordID int `json:"record_id,omitempty"`

	// Record is a copy of the committed record as stored
	Record *models.Record `json:"record,omitempty"`

	LinkedTo      int                    `json:"linked_to,omitempty"`
	Relationship  authority.Relationship `json:"relationship,omitempty"`
	DemotedTarget bool                   `json:"demoted_target,omitempty"`

	Authority   models.Authority `json:"is_authoritative"`
	Confidence  string           `json:"confidence,omitempty"`
	NeedsReview bool             `json:"needs_review,omitempty"`
	Reason      string           `json:"reason,omitempty"`
}

// LineResult is the outcome of one claim line of a document. Exactly one
// of Result and Err is set.
type LineResult struct {
	Index  int           `json:"index"`
	Result *CommitResult `json:"result,omitempty"`
	Err    error         `json:"-"`
}

// DocumentResult collects the per-line outcomes of one source document.
// Err is set when the document as a whole was rejected.
type DocumentResult struct {
	SourceFile string       `json:"source_file"`
	Lines      []LineResult `json:"lines"`
	Err        error        `json:"-"`
}

// Count returns how many lines ended with status
func (r *DocumentResult) Count(status CommitStatus) int {
	n := 0
	for _, line := range r.Lines {
		if line.Result != nil && line.Result.Status == status {
			n++
		}
	}
	return n
}

// Failed returns the lines that were rejected with an error
func (r *DocumentResult) Failed() []LineResult {
	var failed []LineResult
	for _, line := range r.Lines {
		if line.Err != nil {
			failed = append(failed, line)
		}
	}
	return failed
}

// PartialSuccess reports whether some lines failed while others went through
func (r *DocumentResult) PartialSuccess() bool {
	failed := len(r.Failed())
	return r.Err == nil && failed > 0 && failed < len(r.Lines)
}

// Errors summarizes every failure of the document
func (r *DocumentResult) Errors() *errors.ErrorSummary {
	var errs []*errors.ReconcilerError
	if r.Err != nil {
		errs = append(errs, errors.WrapIfNeeded(r.Err, errors.CategoryReconciliation, errors.CodeProcessingError, r.SourceFile))
	}
	for _, line := range r.Failed() {
		errs = append(errs, errors.WrapIfNeeded(line.Err, errors.CategoryReconciliation, errors.CodeProcessingError,
			fmt.Sprintf("%s line %d", r.SourceFile, line.Index+1)).WithContext("line", line.Index+1))
	}
	return errors.NewErrorSummary(errs)
}

// NewService creates an ingestion service over st
func NewService(st *store.RecordStore, config *SessionConfig) (*Service, error) {
	if st == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "record_store", nil, nil).
			WithSuggestion("open the ledger before creating the service")
	}
	if config == nil {
		config = DefaultSessionConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "session", "", err)
	}

	config = config.Clone()
	family, err := models.NewFamily(config.Family)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "family", config.Family, err)
	}

	sessionID := uuid.NewString()
	return &Service{
		sessionID:    sessionID,
		config:       config,
		family:       family,
		store:        st,
		detector:     matcher.NewDuplicateDetector(config.Matching),
		resolver:     authority.NewResolver(),
		suggester:    matcher.NewAutoSuggestMatcher(config.Matching),
		preprocessor: NewCandidatePreprocessor(DefaultPreprocessingConfig(), family),
		logger:       logger.GetGlobalLogger().WithComponent("reconciler").WithField("session_id", sessionID),
	}, nil
}

// SessionID identifies this service's log lines and reports
func (s *Service) SessionID() string {
	return s.sessionID
}

// Config returns a copy of the session configuration
func (s *Service) Config() *SessionConfig {
	return s.config.Clone()
}

// Store returns the ledger the service writes to
func (s *Service) Store() *store.RecordStore {
	return s.store
}

// Family returns the configured family
func (s *Service) Family() *models.Family {
	return s.family
}

// PreprocessingStats returns the counters of the candidate preprocessor
func (s *Service) PreprocessingStats() PreprocessingStats {
	return s.preprocessor.GetStatistics()
}
