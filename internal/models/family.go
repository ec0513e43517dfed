package models

import (
	"fmt"
	"strings"
)

// DefaultFamilyMembers is used when no family list is configured
func DefaultFamilyMembers() []string {
	return []string{"Alice", "Bob", "Charlie"}
}

// Family is the closed set of patients a ledger may reference
type Family struct {
	members []string
}

// NewFamily builds a family from display names. Names are trimmed and must
// be unique ignoring case.
func NewFamily(names []string) (*Family, error) {
	f := &Family{}
	seen := make(map[string]bool)
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("family member name cannot be empty")
		}
		key := strings.ToLower(name)
		if seen[key] {
			return nil, fmt.Errorf("duplicate family member: %s", name)
		}
		seen[key] = true
		f.members = append(f.members, name)
	}
	if len(f.members) == 0 {
		return nil, fmt.Errorf("at least one family member is required")
	}
	return f, nil
}

// Members returns the configured names in order
func (f *Family) Members() []string {
	return append([]string(nil), f.members...)
}

// Contains reports whether name is exactly a configured member
func (f *Family) Contains(name string) bool {
	for _, m := range f.members {
		if m == name {
			return true
		}
	}
	return false
}

// Normalize maps an extracted patient name onto a family member: exact
// match, then case-insensitive match, then a member's name appearing as a
// word in the extracted text ("ALICE SMITH"). The longest matching member
// wins so that "Ann" does not shadow "Anna".
func (f *Family) Normalize(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	if f.Contains(name) {
		return name, true
	}
	for _, m := range f.members {
		if strings.EqualFold(m, name) {
			return m, true
		}
	}

	words := strings.Fields(strings.ToLower(name))
	best := ""
	for _, m := range f.members {
		memberWords := strings.Fields(strings.ToLower(m))
		if containsWords(words, memberWords) && len(m) > len(best) {
			best = m
		}
	}
	return best, best != ""
}

func containsWords(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if strings.Trim(haystack[i+j], ".,") != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
