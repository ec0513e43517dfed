package matcher

import (
	"strings"

	"cloud.google.com/go/civil"

	"hsa-reconciliation-service/internal/models"
)

// Stars is the confidence tier of a suggested link
type Stars int

const (
	NoStars Stars = iota
	OneStar
	TwoStars
	ThreeStars
)

// Confidence labels of a suggestion tier
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// RankDateProximity ranks two service dates by how close they are. A missing
// date on either side is never suggested.
func RankDateProximity(a, b civil.Date, t TierThresholds) Stars {
	if a.IsZero() || b.IsZero() {
		return NoStars
	}

	days := models.DaysApart(a, b)
	switch {
	case days <= t.ThreeStarDays:
		return ThreeStars
	case days <= t.TwoStarDays:
		return TwoStars
	case days <= t.OneStarDays:
		return OneStar
	default:
		return NoStars
	}
}

// Confidence returns the label used in suggestion listings
func (s Stars) Confidence() string {
	switch s {
	case ThreeStars:
		return ConfidenceHigh
	case TwoStars:
		return ConfidenceMedium
	case OneStar:
		return ConfidenceLow
	default:
		return ""
	}
}

// String renders the tier as asterisks
func (s Stars) String() string {
	if s <= NoStars {
		return "-"
	}
	return strings.Repeat("*", int(s))
}
