package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"hsa-reconciliation-service/internal/aggregator"
	"hsa-reconciliation-service/internal/matcher"
	"hsa-reconciliation-service/internal/models"
	"hsa-reconciliation-service/internal/reconciler"
	"hsa-reconciliation-service/internal/reporter"
	"hsa-reconciliation-service/internal/store"
	"hsa-reconciliation-service/pkg/logger"
)

// Configuration keys. Environment variables use the HSA_ prefix with dots
// replaced by underscores, e.g. HSA_OOP_MAX.
const (
	KeyFamily              = "family"
	KeyHSAStartDate        = "hsa.start_date"
	KeyOOPMax              = "oop.max"
	KeyOOPPatientMax       = "oop.patient_max"
	KeyDayTolerance        = "matching.day_tolerance"
	KeyDuplicateEpsilon    = "matching.duplicate_epsilon"
	KeyProviderContainment = "matching.provider_containment"
	KeyVarianceTolerance   = "matching.variance_tolerance"
	KeyVariancePercent     = "matching.variance_percent"
	KeyReviewThreshold     = "review.threshold"
	KeyAutoThreshold       = "review.auto_threshold"
	KeyStoreBackend        = "store.backend"
	KeyStorePath           = "store.path"
	KeyLogLevel            = "log.level"
	KeyLogFormat           = "log.format"
)

// Ledger backends
const (
	BackendCSV    = "csv"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// SetDefaults registers the default value of every key on v
func SetDefaults(v *viper.Viper) {
	session := reconciler.DefaultSessionConfig()

	v.SetDefault(KeyFamily, session.Family)
	v.SetDefault(KeyHSAStartDate, session.HSAStartDate.String())
	v.SetDefault(KeyOOPMax, session.OOPLimits.Default.StringFixed(2))
	v.SetDefault(KeyDayTolerance, session.Matching.DayTolerance)
	v.SetDefault(KeyDuplicateEpsilon, session.Matching.DuplicateEpsilon.String())
	v.SetDefault(KeyProviderContainment, session.Matching.ProviderContainment)
	v.SetDefault(KeyVarianceTolerance, session.Matching.VarianceTolerance.String())
	v.SetDefault(KeyVariancePercent, session.Matching.VariancePercent)
	v.SetDefault(KeyReviewThreshold, session.ReviewThreshold)
	v.SetDefault(KeyAutoThreshold, session.AutoThreshold)
	v.SetDefault(KeyStoreBackend, BackendCSV)
	v.SetDefault(KeyStorePath, "hsa-ledger.csv")
	v.SetDefault(KeyLogLevel, string(logger.WarnLevel))
	v.SetDefault(KeyLogFormat, string(logger.TextFormat))
}

// CreateMatchingConfig builds the matching configuration from v
func CreateMatchingConfig(v *viper.Viper) (*matcher.MatchingConfig, error) {
	config := matcher.DefaultMatchingConfig()

	config.DayTolerance = v.GetInt(KeyDayTolerance)
	config.ProviderContainment = v.GetBool(KeyProviderContainment)
	config.VariancePercent = v.GetFloat64(KeyVariancePercent)

	epsilon, err := getDecimal(v, KeyDuplicateEpsilon)
	if err != nil {
		return nil, err
	}
	config.DuplicateEpsilon = epsilon

	tolerance, err := getDecimal(v, KeyVarianceTolerance)
	if err != nil {
		return nil, err
	}
	config.VarianceTolerance = tolerance

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matching config: %w", err)
	}
	return config, nil
}

// CreateOOPLimits builds the household maximum and per-patient overrides
func CreateOOPLimits(v *viper.Viper) (aggregator.OOPLimits, error) {
	limits := aggregator.DefaultOOPLimits()

	max, err := getDecimal(v, KeyOOPMax)
	if err != nil {
		return limits, err
	}
	limits.Default = max

	for patient, raw := range v.GetStringMapString(KeyOOPPatientMax) {
		amount, err := models.ParseAmount(raw)
		if err != nil {
			return limits, fmt.Errorf("invalid %s.%s: %w", KeyOOPPatientMax, patient, err)
		}
		if limits.PerPatient == nil {
			limits.PerPatient = make(map[string]decimal.Decimal)
		}
		limits.PerPatient[patient] = amount
	}

	if err := limits.Validate(); err != nil {
		return limits, err
	}
	return limits, nil
}

// CreateSessionConfig builds the ingestion session configuration
func CreateSessionConfig(v *viper.Viper) (*reconciler.SessionConfig, error) {
	config := reconciler.DefaultSessionConfig()

	if family := v.GetStringSlice(KeyFamily); len(family) > 0 {
		config.Family = family
	}

	start, err := models.ParseDate(v.GetString(KeyHSAStartDate))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyHSAStartDate, err)
	}
	if !start.IsZero() {
		config.HSAStartDate = start
	}

	limits, err := CreateOOPLimits(v)
	if err != nil {
		return nil, err
	}
	config.OOPLimits = limits

	matching, err := CreateMatchingConfig(v)
	if err != nil {
		return nil, err
	}
	config.Matching = matching

	config.ReviewThreshold = v.GetFloat64(KeyReviewThreshold)
	config.AutoThreshold = v.GetFloat64(KeyAutoThreshold)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateReconcileConfig derives the reporting view settings from a session config
func CreateReconcileConfig(session *reconciler.SessionConfig) *reporter.ReconcileConfig {
	return &reporter.ReconcileConfig{
		Family:          append([]string(nil), session.Family...),
		OOPLimits:       session.OOPLimits.Clone(),
		Matching:        session.Matching.Clone(),
		ReviewThreshold: session.ReviewThreshold,
	}
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(format))

	switch config.Format {
	case reporter.FormatConsole:
		config.ShowProgressBars = true
	case reporter.FormatJSON:
		config.ShowProgressBars = false
	case reporter.FormatCSV:
		config.CSVHeaders = true
		config.CSVDelimiter = ','
		// CSV rows are per record; violations have no row shape
		config.IncludeViolations = false
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateLoggerConfig maps log.level and log.format onto a logger config.
// Verbose forces debug output.
func CreateLoggerConfig(v *viper.Viper, verbose bool) (*logger.Config, error) {
	config := logger.DefaultConfig()
	config.Level = logger.Level(strings.ToLower(v.GetString(KeyLogLevel)))
	config.Format = logger.Format(strings.ToLower(v.GetString(KeyLogFormat)))
	if verbose {
		config.Level = logger.DebugLevel
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// OpenSheet returns the ledger sheet selected by store.backend. The closer
// releases backend resources and is never nil.
func OpenSheet(v *viper.Viper) (store.Sheet, func() error, error) {
	noop := func() error { return nil }
	backend := strings.ToLower(v.GetString(KeyStoreBackend))
	path := v.GetString(KeyStorePath)

	switch backend {
	case BackendMemory:
		return store.NewMemorySheet(), noop, nil
	case BackendCSV, BackendSQLite:
		if strings.TrimSpace(path) == "" {
			return nil, noop, fmt.Errorf("%s is required for the %s backend", KeyStorePath, backend)
		}
	default:
		return nil, noop, fmt.Errorf("unknown ledger backend %q (valid: csv, sqlite, memory)", backend)
	}

	if backend == BackendCSV {
		return store.NewCSVSheet(path), noop, nil
	}

	sheet, err := store.NewSQLiteSheet(path)
	if err != nil {
		return nil, noop, err
	}
	return sheet, sheet.Close, nil
}

func getDecimal(v *viper.Viper, key string) (decimal.Decimal, error) {
	amount, err := models.ParseAmount(v.GetString(key))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return amount, nil
}
