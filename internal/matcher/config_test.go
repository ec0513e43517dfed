package matcher

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMatchingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *MatchingConfig)
		wantErr string
	}{
		{"default", func(c *MatchingConfig) {}, ""},
		{"negative day tolerance", func(c *MatchingConfig) { c.DayTolerance = -1 }, "day tolerance"},
		{"negative epsilon", func(c *MatchingConfig) { c.DuplicateEpsilon = decimal.NewFromInt(-1) }, "epsilon"},
		{"negative variance", func(c *MatchingConfig) { c.VarianceTolerance = decimal.NewFromInt(-1) }, "variance tolerance"},
		{"percent above 100", func(c *MatchingConfig) { c.VariancePercent = 120 }, "variance percent"},
		{"tiers out of order", func(c *MatchingConfig) { c.Tiers.OneStarDays = 2 }, "tiers"},
		{"negative three star", func(c *MatchingConfig) { c.Tiers.ThreeStarDays = -1 }, "tiers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultMatchingConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestMatchingConfig_Presets(t *testing.T) {
	for name, c := range map[string]*MatchingConfig{
		"default": DefaultMatchingConfig(),
		"strict":  StrictMatchingConfig(),
		"relaxed": RelaxedMatchingConfig(),
	} {
		t.Run(name, func(t *testing.T) {
			if err := c.Validate(); err != nil {
				t.Errorf("preset is invalid: %v", err)
			}
		})
	}

	if StrictMatchingConfig().ProviderContainment {
		t.Error("strict config should disable provider containment")
	}
	if RelaxedMatchingConfig().DayTolerance <= DefaultMatchingConfig().DayTolerance {
		t.Error("relaxed config should widen the day tolerance")
	}
}

func TestMatchingConfig_Clone(t *testing.T) {
	original := DefaultMatchingConfig()
	clone := original.Clone()
	clone.DayTolerance = 5
	clone.Tiers.OneStarDays = 30

	if original.DayTolerance != 0 || original.Tiers.OneStarDays != 7 {
		t.Errorf("mutating the clone changed the original: %s", original)
	}

	var nilConfig *MatchingConfig
	if nilConfig.Clone() != nil {
		t.Error("Clone() of nil should be nil")
	}
}

func TestMatchingConfig_VarianceAllowance(t *testing.T) {
	c := DefaultMatchingConfig()
	if got := c.VarianceAllowance(decimal.NewFromInt(1000)); !got.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("absolute allowance = %s, want 0.01", got)
	}

	c.VariancePercent = 1.0
	if got := c.VarianceAllowance(decimal.NewFromInt(1000)); !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("relative allowance = %s, want 10", got)
	}
	if got := c.VarianceAllowance(decimal.Zero); !got.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("allowance for zero amount = %s, want 0.01", got)
	}
}
