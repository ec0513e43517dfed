package parsers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"hsa-reconciliation-service/internal/models"
	"hsa-reconciliation-service/pkg/errors"
	"hsa-reconciliation-service/pkg/logger"
)

// candidateDocument is the JSON shape produced by the extraction step
type candidateDocument struct {
	SourceFile   string          `json:"source_file"`
	DocumentType string          `json:"document_type"`
	Lines        []candidateLine `json:"lines"`
}

type candidateLine struct {
	ProviderName          string          `json:"provider_name"`
	OriginalProvider      string          `json:"original_provider"`
	ServiceDate           *string         `json:"service_date"`
	ServiceType           string          `json:"service_type"`
	PatientName           string          `json:"patient_name"`
	BilledAmount          decimal.Decimal `json:"billed_amount"`
	InsurancePaid         decimal.Decimal `json:"insurance_paid"`
	PatientResponsibility decimal.Decimal `json:"patient_responsibility"`
	HSAEligible           *bool           `json:"hsa_eligible"`
	Category              string          `json:"category"`
	DocumentType          string          `json:"document_type"`
	ConfidenceScore       *float64        `json:"confidence_score"`
	Notes                 string          `json:"notes"`
}

// LoadCandidateJSON reads a JSON array of extracted documents. Each
// document names its source file and carries one or more claim lines.
func LoadCandidateJSON(ctx context.Context, path string) ([]*models.Document, error) {
	log := logger.GetGlobalLogger().WithComponent("candidate_loader")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	}

	var raw []candidateDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, path, 0, "", "", err).
			WithSuggestion("Candidate JSON must be an array of {source_file, document_type, lines} objects")
	}

	documents := make([]*models.Document, 0, len(raw))
	for i, doc := range raw {
		if ctx.Err() != nil {
			return nil, errors.InternalError(errors.CodeUnexpectedError, "load_candidates", ctx.Err())
		}

		converted, err := convertDocument(doc)
		if err != nil {
			return nil, errors.ParseError(errors.CodeInvalidData, path, i+1, "", doc.SourceFile, err)
		}
		documents = append(documents, converted)
	}

	log.WithFields(logger.Fields{
		"file_path": path,
		"documents": len(documents),
	}).Info("Loaded candidate documents")

	return documents, nil
}

func convertDocument(doc candidateDocument) (*models.Document, error) {
	source := strings.TrimSpace(doc.SourceFile)
	if source == "" {
		return nil, fmt.Errorf("document has no source_file")
	}
	if len(doc.Lines) == 0 {
		return nil, fmt.Errorf("document %s has no lines", source)
	}

	docType, err := models.ParseDocumentType(doc.DocumentType)
	if err != nil && doc.DocumentType != "" {
		return nil, err
	}

	result := &models.Document{SourceFile: source, DocumentType: docType}
	for i, line := range doc.Lines {
		rec, err := convertLine(line, docType, doc.DocumentType != "")
		if err != nil {
			return nil, fmt.Errorf("line %d of %s: %w", i+1, source, err)
		}
		rec.AddSourceFile(source)
		result.Lines = append(result.Lines, rec)
	}
	if doc.DocumentType == "" {
		result.DocumentType = result.Lines[0].DocumentType
	}
	return result, nil
}

func convertLine(line candidateLine, docType models.DocumentType, inherit bool) (*models.Record, error) {
	rec := &models.Record{
		Patient:               strings.TrimSpace(line.PatientName),
		ProviderName:          strings.TrimSpace(line.ProviderName),
		OriginalProvider:      strings.TrimSpace(line.OriginalProvider),
		ServiceType:           strings.TrimSpace(line.ServiceType),
		Notes:                 line.Notes,
		BilledAmount:          line.BilledAmount,
		InsurancePaid:         line.InsurancePaid,
		PatientResponsibility: line.PatientResponsibility,
		DocumentType:          docType,
		Category:              models.CategoryMedical,
		HSAEligible:           true,
		Confidence:            1,
	}

	if line.DocumentType != "" {
		kind, err := models.ParseDocumentType(line.DocumentType)
		if err != nil {
			return nil, err
		}
		rec.DocumentType = kind
	} else if !inherit {
		return nil, fmt.Errorf("document_type is required")
	}

	if line.Category != "" {
		category, err := models.ParseCategory(line.Category)
		if err != nil {
			return nil, err
		}
		rec.Category = category
	}

	if line.ServiceDate != nil {
		date, err := models.ParseDate(*line.ServiceDate)
		if err != nil {
			return nil, err
		}
		rec.DateOfService = date
	}

	if line.HSAEligible != nil {
		rec.HSAEligible = *line.HSAEligible
		rec.EligibilitySet = true
	}
	if line.ConfidenceScore != nil {
		if *line.ConfidenceScore < 0 || *line.ConfidenceScore > 1 {
			return nil, fmt.Errorf("confidence_score %v is outside 0..1", *line.ConfidenceScore)
		}
		rec.Confidence = *line.ConfidenceScore
	}

	return rec, nil
}
