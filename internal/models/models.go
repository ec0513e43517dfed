// Package models defines the ledger record and the value types it is built from.
//
// A Record is one financial event as reported by one document: a receipt, a
// provider statement, an insurance EOB claim line or a prescription. Several
// records may describe the same medical event; the authority flag and the
// linked-record set decide which of them counts toward totals.
package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"hsa-reconciliation-service/pkg/errors"
)

// Category is the kind of care an expense belongs to
type Category string

const (
	CategoryMedical  Category = "medical"
	CategoryDental   Category = "dental"
	CategoryVision   Category = "vision"
	CategoryPharmacy Category = "pharmacy"
)

// Categories lists every valid category in display order
var Categories = []Category{CategoryMedical, CategoryDental, CategoryVision, CategoryPharmacy}

// IsValid checks if the category is one of the known values
func (c Category) IsValid() bool {
	switch c {
	case CategoryMedical, CategoryDental, CategoryVision, CategoryPharmacy:
		return true
	default:
		return false
	}
}

// ParseCategory parses a category case-insensitively
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", errors.ValidationError(errors.CodeUnknownCategory, "category", s, nil)
	}
	return c, nil
}

// DocumentType is the kind of document a record was extracted from
type DocumentType string

const (
	DocumentReceipt      DocumentType = "receipt"
	DocumentStatement    DocumentType = "statement"
	DocumentEOB          DocumentType = "eob"
	DocumentPrescription DocumentType = "prescription"
)

// IsValid checks if the document type is one of the known values
func (d DocumentType) IsValid() bool {
	switch d {
	case DocumentReceipt, DocumentStatement, DocumentEOB, DocumentPrescription:
		return true
	default:
		return false
	}
}

// ParseDocumentType parses a document type case-insensitively
func ParseDocumentType(s string) (DocumentType, error) {
	d := DocumentType(strings.ToLower(strings.TrimSpace(s)))
	if !d.IsValid() {
		return "", errors.ValidationError(errors.CodeUnknownDocument, "document_type", s, nil)
	}
	return d, nil
}

// Record is one committed (or candidate) ledger entry
type Record struct {
	// ID is assigned by the store at commit time; zero for candidates.
	ID        int        `json:"id,omitempty"`
	DateAdded civil.Date `json:"date_added"`

	// DateOfService may be zero for receipts and for claim lines whose date
	// is resolved from sibling lines during ingestion.
	DateOfService    civil.Date   `json:"date_of_service"`
	Patient          string       `json:"patient"`
	ProviderName     string       `json:"provider_name"`
	OriginalProvider string       `json:"original_provider,omitempty"`
	ServiceType      string       `json:"service_type,omitempty"`
	Category         Category     `json:"category"`
	DocumentType     DocumentType `json:"document_type"`

	BilledAmount          decimal.Decimal `json:"billed_amount"`
	InsurancePaid         decimal.Decimal `json:"insurance_paid"`
	PatientResponsibility decimal.Decimal `json:"patient_responsibility"`

	HSAEligible bool `json:"hsa_eligible"`
	// EligibilitySet marks a candidate whose extraction stated hsa_eligible.
	// Otherwise ingestion derives eligibility from the HSA start date.
	EligibilitySet bool `json:"-"`

	Authority       Authority `json:"is_authoritative"`
	LinkedRecordIDs LinkSet   `json:"linked_record_ids"`
	Confidence      float64   `json:"confidence"`
	SourceFiles     []string  `json:"source_files,omitempty"`

	Reimbursed          bool            `json:"reimbursed"`
	ReimbursementAmount decimal.Decimal `json:"reimbursement_amount"`
	ReimbursementDate   civil.Date      `json:"reimbursement_date"`
	Notes               string          `json:"notes,omitempty"`
}

// Year returns the service year, or zero when the date is unknown
func (r *Record) Year() int {
	if r.DateOfService.IsZero() {
		return 0
	}
	return r.DateOfService.Year
}

// HasDate reports whether the date of service is known
func (r *Record) HasDate() bool {
	return !r.DateOfService.IsZero()
}

// IsEOB reports whether the record is an insurance claim line
func (r *Record) IsEOB() bool {
	return r.DocumentType == DocumentEOB
}

// AddSourceFile appends ref to the record's provenance, ignoring repeats
func (r *Record) AddSourceFile(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false
	}
	for _, existing := range r.SourceFiles {
		if existing == ref {
			return false
		}
	}
	r.SourceFiles = append(r.SourceFiles, ref)
	return true
}

// Clone returns a deep copy safe to hand to readers outside the store
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.LinkedRecordIDs = r.LinkedRecordIDs.Clone()
	if r.SourceFiles != nil {
		c.SourceFiles = append([]string(nil), r.SourceFiles...)
	}
	return &c
}

// Validate checks the candidate fields. family may be nil to skip the
// patient enumeration check.
func (r *Record) Validate(family *Family) error {
	if strings.TrimSpace(r.Patient) == "" {
		return errors.ValidationError(errors.CodeMissingField, "patient", r.Patient, nil)
	}
	if family != nil && !family.Contains(r.Patient) {
		return errors.ValidationError(errors.CodeUnknownPatient, "patient", r.Patient, nil).
			WithContext("family", family.Members())
	}
	if strings.TrimSpace(r.ProviderName) == "" {
		return errors.ValidationError(errors.CodeMissingField, "provider_name", r.ProviderName, nil)
	}
	if !r.Category.IsValid() {
		return errors.ValidationError(errors.CodeUnknownCategory, "category", r.Category, nil)
	}
	if !r.DocumentType.IsValid() {
		return errors.ValidationError(errors.CodeUnknownDocument, "document_type", r.DocumentType, nil)
	}

	amounts := []struct {
		field string
		value decimal.Decimal
	}{
		{"billed_amount", r.BilledAmount},
		{"insurance_paid", r.InsurancePaid},
		{"patient_responsibility", r.PatientResponsibility},
		{"reimbursement_amount", r.ReimbursementAmount},
	}
	for _, a := range amounts {
		if a.value.IsNegative() {
			return errors.ValidationError(errors.CodeInvalidAmount, a.field, a.value.String(), nil)
		}
	}

	if r.Confidence < 0 || r.Confidence > 1 {
		return errors.ValidationError(errors.CodeOutOfRange, "confidence", r.Confidence, nil).
			WithSuggestion("confidence is a score between 0 and 1")
	}

	if r.HasDate() && !r.DateOfService.IsValid() {
		return errors.ValidationError(errors.CodeInvalidDate, "date_of_service", r.DateOfService.String(), nil)
	}
	if r.IsEOB() && !r.HasDate() {
		return errors.ValidationError(errors.CodeMissingField, "date_of_service", "", nil).
			WithSuggestion("EOB claim lines must carry a date of service")
	}

	return nil
}

// String returns a short human-readable description
func (r *Record) String() string {
	return fmt.Sprintf("Record{ID: %d, Date: %s, Patient: %s, Provider: %s, Type: %s, Cost: %s, Authoritative: %q}",
		r.ID, FormatDate(r.DateOfService), r.Patient, r.ProviderName, r.DocumentType,
		r.PatientResponsibility.StringFixed(2), r.Authority.String())
}

// MarshalJSON renders dates as YYYY-MM-DD (empty when unknown) and amounts with two decimals
func (r *Record) MarshalJSON() ([]byte, error) {
	type Alias Record
	return json.Marshal(&struct {
		DateAdded             string `json:"date_added"`
		DateOfService         string `json:"date_of_service"`
		ReimbursementDate     string `json:"reimbursement_date"`
		BilledAmount          string `json:"billed_amount"`
		InsurancePaid         string `json:"insurance_paid"`
		PatientResponsibility string `json:"patient_responsibility"`
		ReimbursementAmount   string `json:"reimbursement_amount"`
		*Alias
	}{
		DateAdded:             FormatDate(r.DateAdded),
		DateOfService:         FormatDate(r.DateOfService),
		ReimbursementDate:     FormatDate(r.ReimbursementDate),
		BilledAmount:          r.BilledAmount.StringFixed(2),
		InsurancePaid:         r.InsurancePaid.StringFixed(2),
		PatientResponsibility: r.PatientResponsibility.StringFixed(2),
		ReimbursementAmount:   r.ReimbursementAmount.StringFixed(2),
		Alias:                 (*Alias)(r),
	})
}

// UnmarshalJSON accepts the extraction output: dates in any supported layout
// (empty when unknown) and amounts as JSON numbers or strings.
func (r *Record) UnmarshalJSON(data []byte) error {
	type Alias Record
	aux := &struct {
		DateAdded         string `json:"date_added"`
		DateOfService     string `json:"date_of_service"`
		ReimbursementDate string `json:"reimbursement_date"`
		*Alias
	}{
		Alias: (*Alias)(r),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var err error
	if r.DateAdded, err = ParseDate(aux.DateAdded); err != nil {
		return fmt.Errorf("invalid date_added: %w", err)
	}
	if r.DateOfService, err = ParseDate(aux.DateOfService); err != nil {
		return fmt.Errorf("invalid date_of_service: %w", err)
	}
	if r.ReimbursementDate, err = ParseDate(aux.ReimbursementDate); err != nil {
		return fmt.Errorf("invalid reimbursement_date: %w", err)
	}

	return nil
}

// Document is one source document as delivered by extraction. Multi-claim
// EOBs carry several lines; receipts and statements usually carry one.
type Document struct {
	SourceFile   string       `json:"source_file"`
	DocumentType DocumentType `json:"document_type,omitempty"`
	Lines        []*Record    `json:"lines"`
}

// LinesWithDate counts lines whose date of service is known
func (d *Document) LinesWithDate() int {
	n := 0
	for _, line := range d.Lines {
		if line != nil && line.HasDate() {
			n++
		}
	}
	return n
}

// EarliestDate returns the minimum date among lines, and false when none has one
func (d *Document) EarliestDate() (civil.Date, bool) {
	var earliest civil.Date
	found := false
	for _, line := range d.Lines {
		if line == nil || !line.HasDate() {
			continue
		}
		if !found || line.DateOfService.Before(earliest) {
			earliest = line.DateOfService
			found = true
		}
	}
	return earliest, found
}
