package matcher

import (
	"sort"

	"hsa-reconciliation-service/internal/models"
)

// DetectionKind classifies a candidate against the stored records
type DetectionKind int

const (
	// NoMatch means the candidate describes an expense not yet in the ledger
	NoMatch DetectionKind = iota

	// ExactDuplicate means the candidate repeats a stored record and must not
	// become a second row
	ExactDuplicate

	// ProbableLinkTarget means the candidate likely describes the same medical
	// event as a stored record from a different document. It does not block
	// insertion.
	ProbableLinkTarget
)

// String returns the string representation of DetectionKind
func (k DetectionKind) String() string {
	switch k {
	case NoMatch:
		return "NoMatch"
	case ExactDuplicate:
		return "ExactDuplicate"
	case ProbableLinkTarget:
		return "ProbableLinkTarget"
	default:
		return "Unknown"
	}
}

// Detection is the result of running the Duplicate Detector on one candidate
type Detection struct {
	Kind DetectionKind

	// Duplicate is the stored record the candidate repeats (ExactDuplicate)
	Duplicate *models.Record

	// Target is the preferred record to link to (ProbableLinkTarget)
	Target *models.Record

	// Candidates lists every probable target in preference order
	Candidates []*models.Record
}

// DuplicateDetector classifies candidate records. It never mutates the
// records it inspects.
type DuplicateDetector struct {
	Config *MatchingConfig
}

// NewDuplicateDetector creates a detector with the given configuration
func NewDuplicateDetector(config *MatchingConfig) *DuplicateDetector {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &DuplicateDetector{Config: config}
}

// Detect classifies candidate against the indexed records. Records for which
// ignore returns true are invisible to both tests; ingestion uses it to keep
// the other lines of the document being committed out of the comparison.
func (d *DuplicateDetector) Detect(candidate *models.Record, index *RecordIndex, ignore func(*models.Record) bool) *Detection {
	if dup := d.findExactDuplicate(candidate, index, ignore); dup != nil {
		return &Detection{Kind: ExactDuplicate, Duplicate: dup}
	}

	targets := d.findProbableTargets(candidate, index, ignore)
	if len(targets) == 0 {
		return &Detection{Kind: NoMatch}
	}

	return &Detection{
		Kind:       ProbableLinkTarget,
		Target:     targets[0],
		Candidates: targets,
	}
}

// IsExactDuplicate reports whether two records describe the same expense from
// the same kind of document: same patient, normalised provider and service
// date with patient responsibility within epsilon. An EOB line and a provider
// statement never duplicate each other; they are linked instead.
func (d *DuplicateDetector) IsExactDuplicate(candidate, existing *models.Record) bool {
	if candidate.Patient != existing.Patient {
		return false
	}
	if candidate.DateOfService != existing.DateOfService {
		return false
	}
	if candidate.IsEOB() != existing.IsEOB() {
		return false
	}
	if !SameProvider(candidate, existing) {
		return false
	}
	return models.AmountsWithin(candidate.PatientResponsibility, existing.PatientResponsibility, d.Config.DuplicateEpsilon)
}

// IsProbableTarget reports whether existing is a plausible counterpart of
// candidate regardless of amount. An EOB candidate only targets non-EOB records.
func (d *DuplicateDetector) IsProbableTarget(candidate, existing *models.Record) bool {
	if candidate.Patient != existing.Patient {
		return false
	}
	if !candidate.HasDate() || !existing.HasDate() {
		return false
	}
	if models.DaysApart(candidate.DateOfService, existing.DateOfService) > d.Config.DayTolerance {
		return false
	}
	if candidate.IsEOB() && existing.IsEOB() {
		return false
	}
	return ProvidersMatch(candidate, existing, d.Config.ProviderContainment)
}

func (d *DuplicateDetector) findExactDuplicate(candidate *models.Record, index *RecordIndex, ignore func(*models.Record) bool) *models.Record {
	for _, existing := range index.GetByPatientDate(candidate.Patient, candidate.DateOfService) {
		if skip(candidate, existing, ignore) {
			continue
		}
		if d.IsExactDuplicate(candidate, existing) {
			return existing
		}
	}
	return nil
}

func (d *DuplicateDetector) findProbableTargets(candidate *models.Record, index *RecordIndex, ignore func(*models.Record) bool) []*models.Record {
	var targets []*models.Record
	for _, existing := range index.GetByPatientWithin(candidate.Patient, candidate.DateOfService, d.Config.DayTolerance) {
		if skip(candidate, existing, ignore) {
			continue
		}
		if d.IsProbableTarget(candidate, existing) {
			targets = append(targets, existing)
		}
	}

	// A non-EOB candidate prefers EOB counterparts and an EOB candidate
	// prefers records still counted toward totals. Then closer dates, then
	// amounts closer to its own, then the earliest committed record.
	sort.SliceStable(targets, func(i, j int) bool {
		a, b := targets[i], targets[j]
		if !candidate.IsEOB() && a.IsEOB() != b.IsEOB() {
			return a.IsEOB()
		}
		if candidate.IsEOB() {
			sa, sb := a.Authority == models.AuthoritySubordinate, b.Authority == models.AuthoritySubordinate
			if sa != sb {
				return !sa
			}
		}
		da := models.DaysApart(candidate.DateOfService, a.DateOfService)
		db := models.DaysApart(candidate.DateOfService, b.DateOfService)
		if da != db {
			return da < db
		}
		va := candidate.PatientResponsibility.Sub(a.PatientResponsibility).Abs()
		vb := candidate.PatientResponsibility.Sub(b.PatientResponsibility).Abs()
		if !va.Equal(vb) {
			return va.LessThan(vb)
		}
		return a.ID < b.ID
	})

	return targets
}

func skip(candidate, existing *models.Record, ignore func(*models.Record) bool) bool {
	if existing == candidate {
		return true
	}
	if candidate.ID > 0 && existing.ID == candidate.ID {
		return true
	}
	return ignore != nil && ignore(existing)
}
