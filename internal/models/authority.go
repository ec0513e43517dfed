package models

import (
	"strings"

	"hsa-reconciliation-service/pkg/errors"
)

// Authority is the tri-state "Is Authoritative" flag of a record.
//
// Only the persistence boundary sees the {"Yes","No",""} vocabulary; the
// rest of the code works with the three variants below.
type Authority int

const (
	// AuthorityStandalone is a record with no counterpart. It counts toward totals.
	AuthorityStandalone Authority = iota
	// AuthorityAuthoritative is the trusted record for an event. It counts toward totals.
	AuthorityAuthoritative
	// AuthoritySubordinate is a linked record superseded by another. It never counts.
	AuthoritySubordinate
)

// Serialized forms of Authority at the persistence boundary
const (
	AuthorityYes = "Yes"
	AuthorityNo  = "No"
)

// String returns the persisted form
func (a Authority) String() string {
	switch a {
	case AuthorityAuthoritative:
		return AuthorityYes
	case AuthoritySubordinate:
		return AuthorityNo
	default:
		return ""
	}
}

// ParseAuthority parses the persisted form. Case and surrounding whitespace
// are tolerated because the ledger may be hand-edited.
func ParseAuthority(s string) (Authority, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return AuthorityStandalone, nil
	case strings.EqualFold(s, AuthorityYes):
		return AuthorityAuthoritative, nil
	case strings.EqualFold(s, AuthorityNo):
		return AuthoritySubordinate, nil
	default:
		return AuthorityStandalone, errors.ValidationError(errors.CodeInvalidData, "is_authoritative", s, nil).
			WithSuggestion(`use "Yes", "No" or leave the cell empty`)
	}
}

// MarshalText implements encoding.TextMarshaler
func (a Authority) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *Authority) UnmarshalText(text []byte) error {
	parsed, err := ParseAuthority(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
