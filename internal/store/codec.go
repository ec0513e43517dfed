package store

import (
	"fmt"
	"strconv"
	"strings"

	"hsa-reconciliation-service/internal/models"
	"hsa-reconciliation-service/internal/parsers"
	"hsa-reconciliation-service/pkg/errors"
)

// Ledger column names, in the order a fresh sheet is created with
const (
	ColID                  = "ID"
	ColDate                = "Date"
	ColProvider            = "Provider"
	ColPatient             = "Patient"
	ColCategory            = "Category"
	ColBilled              = "Billed"
	ColInsurancePaid       = "Insurance Paid"
	ColYourCost            = "Your Cost"
	ColOriginalProvider    = "Original Provider"
	ColLinkedRecordID      = "Linked Record ID"
	ColIsAuthoritative     = "Is Authoritative"
	ColConfidence          = "Confidence"
	ColDocumentType        = "Document Type"
	ColSourceFile          = "Source File"
	ColHSAEligible         = "HSA Eligible"
	ColReimbursed          = "Reimbursed"
	ColReimbursementAmount = "Reimbursement Amount"
	ColReimbursementDate   = "Reimbursement Date"
	ColServiceType         = "Service Type"
	ColDateAdded           = "Date Added"
	ColNotes               = "Notes"
)

// Columns is the default header row
var Columns = []string{
	ColID, ColDate, ColProvider, ColPatient, ColCategory,
	ColBilled, ColInsurancePaid, ColYourCost,
	ColOriginalProvider, ColLinkedRecordID, ColIsAuthoritative,
	ColConfidence, ColDocumentType, ColSourceFile, ColHSAEligible,
	ColReimbursed, ColReimbursementAmount, ColReimbursementDate,
	ColServiceType, ColDateAdded, ColNotes,
}

const sourceSeparator = "|"

// Layout maps column names to positions in a particular sheet's header
type Layout struct {
	header []string
	index  map[string]int
}

// NewLayout builds a layout from a header row. Lookup ignores case and
// surrounding whitespace; unknown columns are carried but never written.
func NewLayout(header []string) (*Layout, error) {
	l := &Layout{header: append([]string(nil), header...), index: make(map[string]int, len(header))}
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if _, dup := l.index[key]; dup {
			return nil, errors.StorageError(errors.CodeStorageRead, "read_header",
				fmt.Errorf("column %q appears twice", name))
		}
		l.index[key] = i
	}
	if _, ok := l.Col(ColID); !ok {
		return nil, errors.StorageError(errors.CodeStorageRead, "read_header",
			fmt.Errorf("ledger header has no %q column", ColID))
	}
	return l, nil
}

// DefaultLayout is the layout of a sheet created by this package
func DefaultLayout() *Layout {
	l, _ := NewLayout(Columns)
	return l
}

// Header returns the header row
func (l *Layout) Header() []string {
	return append([]string(nil), l.header...)
}

// Col returns the position of a column
func (l *Layout) Col(name string) (int, bool) {
	i, ok := l.index[strings.ToLower(name)]
	return i, ok
}

// Encode renders a record as a row in this layout
func (l *Layout) Encode(r *models.Record) []string {
	row := make([]string, len(l.header))
	for name, value := range encodeFields(r) {
		if i, ok := l.Col(name); ok {
			row[i] = value
		}
	}
	return row
}

func encodeFields(r *models.Record) map[string]string {
	reimbursementAmount := ""
	if r.Reimbursed || !r.ReimbursementAmount.IsZero() {
		reimbursementAmount = r.ReimbursementAmount.StringFixed(2)
	}

	return map[string]string{
		ColID:                  strconv.Itoa(r.ID),
		ColDate:                models.FormatDate(r.DateOfService),
		ColProvider:            r.ProviderName,
		ColPatient:             r.Patient,
		ColCategory:            string(r.Category),
		ColBilled:              r.BilledAmount.StringFixed(2),
		ColInsurancePaid:       r.InsurancePaid.StringFixed(2),
		ColYourCost:            r.PatientResponsibility.StringFixed(2),
		ColOriginalProvider:    r.OriginalProvider,
		ColLinkedRecordID:      r.LinkedRecordIDs.String(),
		ColIsAuthoritative:     r.Authority.String(),
		ColConfidence:          formatConfidence(r.Confidence),
		ColDocumentType:        string(r.DocumentType),
		ColSourceFile:          strings.Join(r.SourceFiles, sourceSeparator),
		ColHSAEligible:         yesNo(r.HSAEligible),
		ColReimbursed:          yesNo(r.Reimbursed),
		ColReimbursementAmount: reimbursementAmount,
		ColReimbursementDate:   models.FormatDate(r.ReimbursementDate),
		ColServiceType:         r.ServiceType,
		ColDateAdded:           models.FormatDate(r.DateAdded),
		ColNotes:               r.Notes,
	}
}

// ledgerName locates decode failures in error messages
const ledgerName = "ledger"

// Decode parses a data row. rowIndex is only used for error messages.
func (l *Layout) Decode(row []string, rowIndex int) (*models.Record, error) {
	cell := func(name string) string {
		i, ok := l.Col(name)
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	fail := func(column, value string, err error) error {
		return errors.NewRowError(errors.CodeInvalidData, &errors.ParseContext{
			File: ledgerName, Line: rowIndex, Column: column, Value: value,
		}, fmt.Sprintf("invalid value in ledger column '%s'", column), err)
	}

	r := &models.Record{
		ProviderName:     cell(ColProvider),
		Patient:          cell(ColPatient),
		OriginalProvider: cell(ColOriginalProvider),
		ServiceType:      cell(ColServiceType),
		Notes:            cell(ColNotes),
		Category:         models.Category(strings.ToLower(cell(ColCategory))),
		DocumentType:     models.DocumentType(strings.ToLower(cell(ColDocumentType))),
		HSAEligible:      true,
		Confidence:       1,
	}

	var err error
	raw := cell(ColID)
	if r.ID, err = strconv.Atoi(raw); err != nil || r.ID <= 0 {
		return nil, fail(ColID, raw, fmt.Errorf("record id must be a positive integer"))
	}

	dates := []struct {
		column string
		set    func(string) error
	}{
		{ColDate, func(s string) (err error) { r.DateOfService, err = models.ParseDate(s); return }},
		{ColReimbursementDate, func(s string) (err error) { r.ReimbursementDate, err = models.ParseDate(s); return }},
		{ColDateAdded, func(s string) (err error) { r.DateAdded, err = models.ParseDate(s); return }},
	}
	for _, d := range dates {
		if raw := cell(d.column); raw != "" {
			if err := d.set(raw); err != nil {
				return nil, errors.InvalidDateError(ledgerName, rowIndex, d.column, raw)
			}
		}
	}

	amounts := []struct {
		column string
		set    func(string) error
	}{
		{ColBilled, func(s string) (err error) { r.BilledAmount, err = models.ParseAmount(s); return }},
		{ColInsurancePaid, func(s string) (err error) { r.InsurancePaid, err = models.ParseAmount(s); return }},
		{ColYourCost, func(s string) (err error) { r.PatientResponsibility, err = models.ParseAmount(s); return }},
		{ColReimbursementAmount, func(s string) (err error) { r.ReimbursementAmount, err = models.ParseAmount(s); return }},
	}
	for _, a := range amounts {
		raw := cell(a.column)
		if err := a.set(raw); err != nil {
			return nil, errors.InvalidAmountError(ledgerName, rowIndex, a.column, raw)
		}
	}

	raw = cell(ColLinkedRecordID)
	if r.LinkedRecordIDs, err = models.ParseLinkSet(raw); err != nil {
		return nil, fail(ColLinkedRecordID, raw, err)
	}

	raw = cell(ColIsAuthoritative)
	if r.Authority, err = models.ParseAuthority(raw); err != nil {
		return nil, fail(ColIsAuthoritative, raw, err)
	}

	if raw = cell(ColConfidence); raw != "" {
		if r.Confidence, err = parsers.ParseConfidence(raw); err != nil {
			return nil, fail(ColConfidence, raw, err)
		}
	}

	flags := []struct {
		column string
		target *bool
	}{
		{ColHSAEligible, &r.HSAEligible},
		{ColReimbursed, &r.Reimbursed},
	}
	for _, f := range flags {
		raw := cell(f.column)
		if raw == "" {
			continue
		}
		value, ok := parseYesNo(raw)
		if !ok {
			return nil, fail(f.column, raw, fmt.Errorf("expected Yes or No"))
		}
		*f.target = value
	}

	for _, ref := range strings.Split(cell(ColSourceFile), sourceSeparator) {
		r.AddSourceFile(ref)
	}

	return r, nil
}

// formatConfidence renders a score as a percentage, e.g. "69.5%"
func formatConfidence(c float64) string {
	return strconv.FormatFloat(float64(int64(c*10000+0.5))/100, 'f', -1, 64) + "%"
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func parseYesNo(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "yes", "y", "true":
		return true, true
	case "no", "n", "false":
		return false, true
	}
	return false, false
}
