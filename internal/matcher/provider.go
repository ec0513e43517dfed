package matcher

import (
	"strings"

	"hsa-reconciliation-service/internal/models"
)

// minContainmentLength keeps short fragments like "dr" from matching every provider
const minContainmentLength = 4

// NormalizeProvider lowercases a provider name and collapses whitespace
func NormalizeProvider(name string) string {
	return models.NormalizeName(name)
}

// SameProvider reports whether both records name the same provider after
// normalisation. Used by the exact-duplicate test.
func SameProvider(a, b *models.Record) bool {
	na := NormalizeProvider(a.ProviderName)
	return na != "" && na == NormalizeProvider(b.ProviderName)
}

// ProvidersMatch reports whether two records refer to the same provider,
// either directly or through an original_provider cross-reference (an EOB's
// clinic named on the claim against a statement's provider).
func ProvidersMatch(a, b *models.Record, containment bool) bool {
	pairs := [][2]string{
		{a.ProviderName, b.ProviderName},
		{a.OriginalProvider, b.ProviderName},
		{a.ProviderName, b.OriginalProvider},
	}

	for _, pair := range pairs {
		if namesMatch(NormalizeProvider(pair[0]), NormalizeProvider(pair[1]), containment) {
			return true
		}
	}
	return false
}

func namesMatch(a, b string, containment bool) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if !containment || len(a) < minContainmentLength || len(b) < minContainmentLength {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
