package models

import (
	"encoding/json"
	"strconv"
	"strings"

	"hsa-reconciliation-service/pkg/errors"
)

// LinkSeparator joins linked record ids in a single ledger cell. A comma
// would be read back as a thousands separator by spreadsheet tooling.
const LinkSeparator = "|"

// LinkSet is an insertion-ordered set of record ids. The zero value is empty.
type LinkSet struct {
	ids []int
}

// NewLinkSet builds a set from ids, dropping repeats
func NewLinkSet(ids ...int) LinkSet {
	var s LinkSet
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add appends id unless already present and reports whether it was added
func (s *LinkSet) Add(id int) bool {
	if s.Contains(id) {
		return false
	}
	s.ids = append(s.ids, id)
	return true
}

// Contains reports whether id is in the set
func (s LinkSet) Contains(id int) bool {
	for _, existing := range s.ids {
		if existing == id {
			return true
		}
	}
	return false
}

// Len returns the number of ids
func (s LinkSet) Len() int { return len(s.ids) }

// IsEmpty reports whether the set holds no ids
func (s LinkSet) IsEmpty() bool { return len(s.ids) == 0 }

// IDs returns a copy of the ids in insertion order
func (s LinkSet) IDs() []int {
	return append([]int(nil), s.ids...)
}

// Clone returns an independent copy
func (s LinkSet) Clone() LinkSet {
	return LinkSet{ids: s.IDs()}
}

// String returns the pipe-joined persisted form
func (s LinkSet) String() string {
	parts := make([]string, len(s.ids))
	for i, id := range s.ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, LinkSeparator)
}

// ParseLinkSet parses the persisted form. Empty segments are ignored and
// repeated ids collapse to their first occurrence.
func ParseLinkSet(cell string) (LinkSet, error) {
	var s LinkSet
	for _, part := range strings.Split(cell, LinkSeparator) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil || id <= 0 {
			return LinkSet{}, errors.ValidationError(errors.CodeInvalidData, "linked_record_id", cell, err).
				WithSuggestion("linked record ids are positive integers separated by '|'")
		}
		s.Add(id)
	}
	return s, nil
}

// MarshalJSON renders the set as a JSON array
func (s LinkSet) MarshalJSON() ([]byte, error) {
	ids := s.ids
	if ids == nil {
		ids = []int{}
	}
	return json.Marshal(ids)
}

// UnmarshalJSON accepts a JSON array of ids
func (s *LinkSet) UnmarshalJSON(data []byte) error {
	var ids []int
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewLinkSet(ids...)
	return nil
}
