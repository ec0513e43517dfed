package reconciler

import (
	"strings"
	"sync"

	"cloud.google.com/go/civil"

	"hsa-reconciliation-service/internal/models"
	"hsa-reconciliation-service/pkg/errors"
)

// CandidatePreprocessor normalizes extracted candidates before they reach
// the duplicate detector. It never touches the ledger.
type CandidatePreprocessor struct {
	config *PreprocessingConfig
	family *models.Family

	mu    sync.Mutex
	stats PreprocessingStats
}

// PreprocessingConfig contains configuration for candidate preprocessing
type PreprocessingConfig struct {
	// String normalization options
	TrimWhitespace     bool
	CollapseWhitespace bool

	// NormalizeDecimalPlaces rounds amounts; -1 means no rounding
	NormalizeDecimalPlaces int

	// NormalizePatients maps extracted names onto family members
	NormalizePatients bool

	// FixCommonErrors repairs extraction slips that have one obvious fix:
	// a missing category, mixed-case enumerations, a confidence given in percent.
	FixCommonErrors bool
	DefaultCategory models.Category
}

// DefaultPreprocessingConfig returns a default preprocessing configuration
func DefaultPreprocessingConfig() *PreprocessingConfig {
	return &PreprocessingConfig{
		TrimWhitespace:         true,
		CollapseWhitespace:     true,
		NormalizeDecimalPlaces: 2,
		NormalizePatients:      true,
		FixCommonErrors:        true,
		DefaultCategory:        models.CategoryMedical,
	}
}

// PreprocessingStats contains statistics about preprocessing operations
type PreprocessingStats struct {
	TotalRecordsProcessed int `json:"total_records_processed"`
	RecordsFixed          int `json:"records_fixed"`
	PatientsNormalized    int `json:"patients_normalized"`
	ValidationErrors      int `json:"validation_errors"`
}

// NewCandidatePreprocessor creates a preprocessor. family may be nil to
// skip patient normalization and the family check.
func NewCandidatePreprocessor(config *PreprocessingConfig, family *models.Family) *CandidatePreprocessor {
	if config == nil {
		config = DefaultPreprocessingConfig()
	}
	return &CandidatePreprocessor{config: config, family: family}
}

// Prepare returns a normalized, validated copy of candidate. The id and
// date-added of the copy are cleared; the store assigns both.
func (p *CandidatePreprocessor) Prepare(candidate *models.Record) (*models.Record, error) {
	if candidate == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "candidate", nil, nil)
	}

	rec := candidate.Clone()
	rec.ID = 0
	rec.DateAdded = civil.Date{}

	rec.Patient = p.normalizeString(rec.Patient)
	rec.ProviderName = p.normalizeString(rec.ProviderName)
	rec.OriginalProvider = p.normalizeString(rec.OriginalProvider)
	rec.ServiceType = p.normalizeString(rec.ServiceType)
	rec.Notes = strings.TrimSpace(rec.Notes)

	if p.config.NormalizeDecimalPlaces >= 0 {
		places := int32(p.config.NormalizeDecimalPlaces)
		rec.BilledAmount = rec.BilledAmount.Round(places)
		rec.InsurancePaid = rec.InsurancePaid.Round(places)
		rec.PatientResponsibility = rec.PatientResponsibility.Round(places)
		rec.ReimbursementAmount = rec.ReimbursementAmount.Round(places)
	}

	normalized := false
	if p.config.NormalizePatients && p.family != nil {
		if name, ok := p.family.Normalize(rec.Patient); ok && name != rec.Patient {
			rec.Patient = name
			normalized = true
		}
	}

	fixed := false
	if p.config.FixCommonErrors {
		fixed = p.fixCommonErrors(rec)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.TotalRecordsProcessed++
	if normalized {
		p.stats.PatientsNormalized++
	}
	if fixed {
		p.stats.RecordsFixed++
	}

	if err := rec.Validate(p.family); err != nil {
		p.stats.ValidationErrors++
		return nil, err
	}
	return rec, nil
}

// fixCommonErrors repairs rec in place and reports whether it changed anything
func (p *CandidatePreprocessor) fixCommonErrors(rec *models.Record) bool {
	fixed := false

	if rec.Category == "" && p.config.DefaultCategory != "" {
		rec.Category = p.config.DefaultCategory
		fixed = true
	} else if !rec.Category.IsValid() {
		if c, err := models.ParseCategory(string(rec.Category)); err == nil {
			rec.Category = c
			fixed = true
		}
	}

	if !rec.DocumentType.IsValid() {
		if d, err := models.ParseDocumentType(string(rec.DocumentType)); err == nil {
			rec.DocumentType = d
			fixed = true
		}
	}

	// A score between 1 and 100 was given in percent
	if rec.Confidence > 1 && rec.Confidence <= 100 {
		rec.Confidence /= 100
		fixed = true
	}

	return fixed
}

// normalizeString applies string normalization rules
func (p *CandidatePreprocessor) normalizeString(s string) string {
	if p.config.CollapseWhitespace {
		return strings.Join(strings.Fields(s), " ")
	}
	if p.config.TrimWhitespace {
		return strings.TrimSpace(s)
	}
	return s
}

// GetStatistics returns preprocessing statistics
func (p *CandidatePreprocessor) GetStatistics() PreprocessingStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
