// Package authority decides which record of a linked group counts toward totals.
//
// Insurance EOBs are the ground truth for what a patient owes. Provider
// statements and receipts describing an event an EOB already covers are kept
// as supporting evidence but demoted so they are never counted twice.
package authority

import (
	"fmt"
	"strings"

	"hsa-reconciliation-service/internal/matcher"
	"hsa-reconciliation-service/internal/models"
	"hsa-reconciliation-service/pkg/errors"
)

// Relationship describes how two linked records relate
type Relationship string

const (
	// RelationshipCovers links an EOB claim line and the non-EOB record it
	// covers. Both ends carry the other's id and the non-EOB end is demoted.
	RelationshipCovers Relationship = "covers"

	// RelationshipSupports marks the source as supporting evidence for the
	// target. Only the source carries the link and it is demoted unless it
	// is an EOB.
	RelationshipSupports Relationship = "supports"
)

// ParseRelationship parses a relationship name. An empty name yields "" and
// lets the caller pick one from the record kinds with RelationshipFor.
func ParseRelationship(s string) (Relationship, error) {
	switch rel := Relationship(strings.ToLower(strings.TrimSpace(s))); rel {
	case "", RelationshipCovers, RelationshipSupports:
		return rel, nil
	default:
		return "", errors.ValidationError(errors.CodeInvalidData, "relationship", s, nil).
			WithSuggestion("use 'covers' or 'supports'")
	}
}

// RelationshipFor returns covers when either record is an EOB, supports otherwise
func RelationshipFor(source, target *models.Record) Relationship {
	if source.IsEOB() || target.IsEOB() {
		return RelationshipCovers
	}
	return RelationshipSupports
}

// Decision is the resolver's verdict for a candidate about to be committed
type Decision struct {
	Authority models.Authority

	// Target is the stored record the candidate links to, or nil
	Target       *models.Record
	Relationship Relationship

	// DemotesTarget is set when committing the candidate retroactively
	// demotes a standalone target (an EOB arriving after its statement).
	DemotesTarget bool

	Reason string
}

// Resolver assigns the authority flag and linkage of candidates
type Resolver struct{}

// NewResolver creates a resolver
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve applies the rules in order: an EOB is always authoritative; a
// record with a probable counterpart is subordinate and linked to it;
// anything else is standalone. Exact duplicates are never committed and
// must be handled by the caller before resolving.
func (r *Resolver) Resolve(candidate *models.Record, detection *matcher.Detection) Decision {
	var target *models.Record
	if detection != nil && detection.Kind == matcher.ProbableLinkTarget {
		target = detection.Target
	}

	if candidate.IsEOB() {
		d := Decision{
			Authority: models.AuthorityAuthoritative,
			Reason:    "EOB claim lines are authoritative",
		}
		if target != nil {
			d.Target = target
			d.Relationship = RelationshipCovers
			d.DemotesTarget = !target.IsEOB() && target.Authority != models.AuthoritySubordinate
			d.Reason = fmt.Sprintf("EOB covers record %d", target.ID)
		}
		return d
	}

	if target != nil {
		return Decision{
			Authority:    models.AuthoritySubordinate,
			Target:       target,
			Relationship: RelationshipFor(candidate, target),
			Reason:       fmt.Sprintf("probable duplicate of record %d", target.ID),
		}
	}

	return Decision{
		Authority: models.AuthorityStandalone,
		Reason:    "no counterpart found",
	}
}

// Link adds a link between two stored records according to rel and enforces
// the authority invariants on both. It reports whether either record changed,
// so linking the same pair twice is a no-op.
func Link(source, target *models.Record, rel Relationship) (bool, error) {
	if source.ID == target.ID {
		return false, errors.LinkError(errors.CodeSelfLink, source.ID, target.ID, "")
	}
	if rel == "" {
		rel = RelationshipFor(source, target)
	}

	changed := false
	switch rel {
	case RelationshipCovers:
		if !source.IsEOB() && !target.IsEOB() {
			return false, errors.LinkError(errors.CodeRelationship, source.ID, target.ID,
				"'covers' requires one of the records to be an EOB")
		}
		changed = source.LinkedRecordIDs.Add(target.ID)
		if target.LinkedRecordIDs.Add(source.ID) {
			changed = true
		}
		if Enforce(target) {
			changed = true
		}
	case RelationshipSupports:
		changed = source.LinkedRecordIDs.Add(target.ID)
	default:
		return false, errors.LinkError(errors.CodeRelationship, source.ID, target.ID,
			fmt.Sprintf("unknown relationship %q", rel))
	}

	if Enforce(source) {
		changed = true
	}
	return changed, nil
}

// Enforce brings a record's authority flag in line with its kind and links:
// an EOB is authoritative, a linked non-EOB record is subordinate, and an
// unlinked non-EOB record is never subordinate. It reports whether the flag
// changed.
func Enforce(rec *models.Record) bool {
	want := Expected(rec)
	if rec.Authority == want {
		return false
	}
	rec.Authority = want
	return true
}

// Expected returns the authority a record must carry given its kind and links.
// An unlinked non-EOB record keeps an explicit "Yes" set by an operator.
func Expected(rec *models.Record) models.Authority {
	switch {
	case rec.IsEOB():
		return models.AuthorityAuthoritative
	case !rec.LinkedRecordIDs.IsEmpty():
		return models.AuthoritySubordinate
	case rec.Authority == models.AuthorityAuthoritative:
		return models.AuthorityAuthoritative
	default:
		return models.AuthorityStandalone
	}
}
