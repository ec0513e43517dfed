package parsers

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"hsa-reconciliation-service/internal/models"
	"hsa-reconciliation-service/pkg/errors"
	"hsa-reconciliation-service/pkg/logger"
)

// CandidateParser reads extraction output in CSV form: one row per claim
// line. Consecutive rows sharing a source file form one document.
type CandidateParser struct {
	*BaseParser
	config *CandidateParserConfig
	logger logger.Logger
}

// NewCandidateParser creates a new CandidateParser with the given configuration
func NewCandidateParser(config *CandidateParserConfig) (*CandidateParser, error) {
	if config == nil {
		config = DefaultCandidateParserConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"candidate_parser_config",
			config,
			err,
		).WithSuggestion("Check the candidate parser configuration values")
	}

	parseConfig := DefaultParseConfig()
	parseConfig.Delimiter = config.Delimiter

	return &CandidateParser{
		BaseParser: NewBaseParser(parseConfig),
		config:     config,
		logger:     logger.GetGlobalLogger().WithComponent("candidate_parser"),
	}, nil
}

// ParseFile parses a candidate CSV file. Rows that cannot be converted are
// reported in the returned stats and left out; they never abort the file.
func (cp *CandidateParser) ParseFile(ctx context.Context, filePath string) ([]*models.Document, *ParseStats, error) {
	cp.logger.WithFields(logger.Fields{
		"file_path": filePath,
		"operation": "parse_candidates",
	}).Info("Starting candidate parsing")

	file, reader, err := cp.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	parseCtx := NewParseContext(ctx)
	stats := NewParseStats()

	if err := cp.ReadHeaders(reader, parseCtx, cp.config.RequiredColumns()); err != nil {
		if rerr, ok := errors.AsReconcilerError(err); ok {
			rerr.WithContext("file", filePath)
		}
		return nil, stats, err
	}

	var documents []*models.Document
	var current *models.Document

	for {
		record, err := cp.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if parseCtx.IsCancelled() {
				return documents, stats, err
			}
			stats.AddError(&ParseError{Line: parseCtx.LineNumber, Message: "unreadable row", Err: err})
			continue
		}

		stats.RecordsParsed++

		source, line, parseErr := cp.parseRow(record, parseCtx)
		if parseErr != nil {
			stats.AddError(parseErr)
			continue
		}
		stats.RecordsValid++

		if current == nil || current.SourceFile != source {
			current = &models.Document{SourceFile: source, DocumentType: line.DocumentType}
			documents = append(documents, current)
		}
		current.Lines = append(current.Lines, line)
	}

	stats.TotalLines = parseCtx.LineNumber

	cp.logger.WithFields(logger.Fields{
		"file_path":      filePath,
		"documents":      len(documents),
		"records_parsed": stats.RecordsParsed,
		"records_valid":  stats.RecordsValid,
		"error_count":    stats.ErrorCount,
	}).Info("Candidate parsing completed")

	if stats.HasErrors() {
		cp.logger.WithField("sample_errors", stats.GetSampleErrors(3)).Warn("Encountered errors during parsing")
	}

	return documents, stats, nil
}

// parseRow converts one CSV row into a candidate line. Semantic checks
// (known patient, non-negative amounts) are left to ingestion.
func (cp *CandidateParser) parseRow(record []string, parseCtx *ParseContext) (string, *models.Record, *ParseError) {
	field := func(name string) string {
		return cp.GetFieldValue(record, parseCtx, cp.config.GetColumnName(name))
	}
	fail := func(name, value, message string, err error) *ParseError {
		return parseCtx.AddError(parseCtx.GetColumnIndex(cp.config.GetColumnName(name)), name, value, message, err)
	}

	source := field(ColumnSourceFile)
	if source == "" {
		return "", nil, fail(ColumnSourceFile, "", "source file is required", nil)
	}

	line := &models.Record{
		Patient:          field(ColumnPatient),
		ProviderName:     field(ColumnProvider),
		OriginalProvider: field(ColumnOriginalProvider),
		ServiceType:      field(ColumnServiceType),
		Notes:            field(ColumnNotes),
		HSAEligible:      true,
		Confidence:       1,
	}
	line.AddSourceFile(source)

	docType := field(ColumnDocumentType)
	if docType == "" {
		docType = cp.config.DefaultDocumentType
	}
	kind, err := models.ParseDocumentType(docType)
	if err != nil {
		return "", nil, fail(ColumnDocumentType, docType, "unknown document type", err)
	}
	line.DocumentType = kind

	if raw := field(ColumnCategory); raw != "" {
		category, err := models.ParseCategory(raw)
		if err != nil {
			return "", nil, fail(ColumnCategory, raw, "unknown category", err)
		}
		line.Category = category
	} else {
		line.Category = models.CategoryMedical
	}

	raw := field(ColumnDateOfService)
	if line.DateOfService, err = models.ParseDate(raw); err != nil {
		return "", nil, fail(ColumnDateOfService, raw, "invalid date", err)
	}

	amounts := []struct {
		column string
		target *decimal.Decimal
	}{
		{ColumnBilled, &line.BilledAmount},
		{ColumnInsurancePaid, &line.InsurancePaid},
		{ColumnPatientCost, &line.PatientResponsibility},
	}
	for _, a := range amounts {
		raw := field(a.column)
		value, err := models.ParseAmount(raw)
		if err != nil {
			return "", nil, fail(a.column, raw, "invalid amount", err)
		}
		*a.target = value
	}

	if raw := field(ColumnHSAEligible); raw != "" {
		eligible, err := parseBool(raw)
		if err != nil {
			return "", nil, fail(ColumnHSAEligible, raw, "invalid flag", err)
		}
		line.HSAEligible = eligible
		line.EligibilitySet = true
	}

	if raw := field(ColumnConfidence); raw != "" {
		confidence, err := ParseConfidence(raw)
		if err != nil {
			return "", nil, fail(ColumnConfidence, raw, "invalid confidence", err)
		}
		line.Confidence = confidence
	}

	return source, line, nil
}

// ParseConfidence accepts a fraction ("0.92") or a percentage ("92%")
func ParseConfidence(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	percent := strings.HasSuffix(raw, "%")
	value, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(raw, "%")), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid confidence '%s': %w", raw, err)
	}
	if percent {
		value /= 100
	}
	if value < 0 || value > 1 {
		return 0, fmt.Errorf("confidence %s is outside 0..1", raw)
	}
	return value, nil
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "y", "true", "1":
		return true, nil
	case "no", "n", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected yes or no, got '%s'", raw)
	}
}
