package parsers

import (
	"fmt"
	"strings"
)

// Standard candidate column names
const (
	ColumnSourceFile       = "source_file"
	ColumnDocumentType     = "document_type"
	ColumnDateOfService    = "date_of_service"
	ColumnPatient          = "patient"
	ColumnProvider         = "provider_name"
	ColumnOriginalProvider = "original_provider"
	ColumnServiceType      = "service_type"
	ColumnCategory         = "category"
	ColumnBilled           = "billed_amount"
	ColumnInsurancePaid    = "insurance_paid"
	ColumnPatientCost      = "patient_responsibility"
	ColumnHSAEligible      = "hsa_eligible"
	ColumnConfidence       = "confidence"
	ColumnNotes            = "notes"
)

// CandidateParserConfig holds configuration for parsing candidate CSV files
type CandidateParserConfig struct {
	HasHeader     bool              `json:"has_header"`
	Delimiter     rune              `json:"delimiter"`
	ColumnAliases map[string]string `json:"column_aliases,omitempty"`

	// DefaultDocumentType applies to rows whose document type cell is empty
	DefaultDocumentType string `json:"default_document_type,omitempty"`
}

// DefaultCandidateParserConfig returns a configuration with standard defaults
func DefaultCandidateParserConfig() *CandidateParserConfig {
	return &CandidateParserConfig{
		HasHeader:     true,
		Delimiter:     ',',
		ColumnAliases: make(map[string]string),
	}
}

// Validate checks if the candidate parser configuration is valid
func (c *CandidateParserConfig) Validate() error {
	if !c.HasHeader {
		return fmt.Errorf("candidate files must have a header row")
	}
	if c.Delimiter == 0 || c.Delimiter == '\n' || c.Delimiter == '"' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	for standard, alias := range c.ColumnAliases {
		if strings.TrimSpace(alias) == "" {
			return fmt.Errorf("alias for column %s cannot be empty", standard)
		}
	}
	return nil
}

// GetColumnName returns the actual column name, checking aliases first
func (c *CandidateParserConfig) GetColumnName(standardName string) string {
	if alias, exists := c.ColumnAliases[standardName]; exists {
		return alias
	}
	return standardName
}

// RequiredColumns returns the columns every candidate file must carry
func (c *CandidateParserConfig) RequiredColumns() []string {
	return []string{
		c.GetColumnName(ColumnSourceFile),
		c.GetColumnName(ColumnPatient),
		c.GetColumnName(ColumnProvider),
		c.GetColumnName(ColumnPatientCost),
	}
}
