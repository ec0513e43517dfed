// Package matcher decides how ledger records relate to each other.
//
// It holds the two comparison algorithms of the reconciliation core:
//   - the Duplicate Detector, run on every commit, which classifies a
//     candidate as new, an exact duplicate of a stored record, or a probable
//     counterpart that should be linked;
//   - the Auto-Suggest Matcher, run on demand, which proposes links between
//     unmatched EOB claim lines and unmatched provider statements.
//
// Both share the same patient, provider and date-proximity rules so that a
// pair the detector would link at commit time is also a pair the matcher
// would suggest afterwards.
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.DayTolerance = 2
//
//	detector := matcher.NewDuplicateDetector(config)
//	detection := detector.Detect(candidate, matcher.NewRecordIndex(existing), nil)
//
//	suggester := matcher.NewAutoSuggestMatcher(config)
//	result := suggester.Suggest(existing, 2026)
package matcher

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TierThresholds are the inclusive day limits of each confidence tier of the
// Auto-Suggest Matcher. A date difference above OneStarDays is not suggested.
type TierThresholds struct {
	ThreeStarDays int `json:"three_star_days"`
	TwoStarDays   int `json:"two_star_days"`
	OneStarDays   int `json:"one_star_days"`
}

// Validate checks the thresholds are non-negative and non-decreasing
func (t TierThresholds) Validate() error {
	if t.ThreeStarDays < 0 {
		return fmt.Errorf("three star days cannot be negative: %d", t.ThreeStarDays)
	}
	if t.TwoStarDays < t.ThreeStarDays {
		return fmt.Errorf("two star days (%d) must be at least three star days (%d)", t.TwoStarDays, t.ThreeStarDays)
	}
	if t.OneStarDays < t.TwoStarDays {
		return fmt.Errorf("one star days (%d) must be at least two star days (%d)", t.OneStarDays, t.TwoStarDays)
	}
	return nil
}

// MatchingConfig holds the tolerances used by duplicate detection, link
// suggestion and variance alerts.
//
// Use the provided factory functions for common scenarios:
//   - DefaultMatchingConfig(): same-day probable links, containment on
//   - StrictMatchingConfig(): exact provider names only
//   - RelaxedMatchingConfig(): probable links within a few days
type MatchingConfig struct {
	// DayTolerance is how many days apart two records may be and still be
	// considered probable duplicates of one event.
	DayTolerance int `json:"day_tolerance"`

	// DuplicateEpsilon is the largest patient responsibility difference two
	// records may have and still be exact duplicates.
	DuplicateEpsilon decimal.Decimal `json:"duplicate_epsilon"`

	// ProviderContainment lets "Sutter" match "Sutter Health" in the probable
	// duplicate test and in suggestions. Exact duplicates never use it.
	ProviderContainment bool `json:"provider_containment"`

	// Tiers ranks suggestion confidence by date proximity
	Tiers TierThresholds `json:"tiers"`

	// VarianceTolerance is the absolute amount drift allowed between linked records
	VarianceTolerance decimal.Decimal `json:"variance_tolerance"`

	// VariancePercent optionally widens the tolerance to a share of the EOB amount (0.0 to 100.0)
	VariancePercent float64 `json:"variance_percent"`
}

// DefaultTierThresholds returns 3 stars for the same day, 2 within 3 days and 1 within a week
func DefaultTierThresholds() TierThresholds {
	return TierThresholds{
		ThreeStarDays: 0,
		TwoStarDays:   3,
		OneStarDays:   7,
	}
}

// DefaultMatchingConfig returns a configuration with sensible defaults
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DayTolerance:        0,
		DuplicateEpsilon:    decimal.New(1, -2),
		ProviderContainment: true,
		Tiers:               DefaultTierThresholds(),
		VarianceTolerance:   decimal.New(1, -2),
		VariancePercent:     0,
	}
}

// StrictMatchingConfig returns a configuration for strict matching
func StrictMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.ProviderContainment = false
	config.DuplicateEpsilon = decimal.Zero
	config.VarianceTolerance = decimal.Zero
	return config
}

// RelaxedMatchingConfig returns a configuration for relaxed matching
func RelaxedMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.DayTolerance = 3
	config.VariancePercent = 1.0
	return config
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.DayTolerance < 0 {
		return fmt.Errorf("day tolerance cannot be negative: %d", mc.DayTolerance)
	}

	if mc.DuplicateEpsilon.IsNegative() {
		return fmt.Errorf("duplicate epsilon cannot be negative: %s", mc.DuplicateEpsilon)
	}

	if mc.VarianceTolerance.IsNegative() {
		return fmt.Errorf("variance tolerance cannot be negative: %s", mc.VarianceTolerance)
	}

	if mc.VariancePercent < 0.0 || mc.VariancePercent > 100.0 {
		return fmt.Errorf("variance percent must be between 0.0 and 100.0: %f", mc.VariancePercent)
	}

	if err := mc.Tiers.Validate(); err != nil {
		return fmt.Errorf("invalid tiers: %w", err)
	}

	return nil
}

// Clone creates a deep copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}

	clone := *mc
	return &clone
}

// VarianceAllowance returns the drift allowed for a linked pair whose
// authoritative amount is eobAmount: the absolute tolerance, or the relative
// one when that is wider.
func (mc *MatchingConfig) VarianceAllowance(eobAmount decimal.Decimal) decimal.Decimal {
	allowance := mc.VarianceTolerance
	if mc.VariancePercent == 0.0 {
		return allowance
	}

	relative := eobAmount.Abs().Mul(decimal.NewFromFloat(mc.VariancePercent / 100.0)).Round(2)
	if relative.GreaterThan(allowance) {
		return relative
	}
	return allowance
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{DayTolerance: %d days, Epsilon: %s, Containment: %t, Tiers: %d/%d/%d days, Variance: %s or %.2f%%}",
		mc.DayTolerance, mc.DuplicateEpsilon.StringFixed(2), mc.ProviderContainment,
		mc.Tiers.ThreeStarDays, mc.Tiers.TwoStarDays, mc.Tiers.OneStarDays,
		mc.VarianceTolerance.StringFixed(2), mc.VariancePercent)
}
