package authority

import (
	"fmt"
	"sort"

	"hsa-reconciliation-service/internal/models"
)

// Rules checked by Verify
const (
	RuleEOBNotAuthoritative = "eob_not_authoritative"
	RuleLinkedCounted       = "linked_record_counted"
	RuleUnlinkedSubordinate = "unlinked_subordinate"
	RuleDanglingLink        = "dangling_link"
	RuleSelfLink            = "self_link"
)

// Violation is one record breaking an authority or link invariant. They only
// arise from ledgers edited outside this program.
type Violation struct {
	RecordID int    `json:"record_id"`
	Rule     string `json:"rule"`
	Detail   string `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("record %d: %s (%s)", v.RecordID, v.Rule, v.Detail)
}

// Verify audits a full record set and returns violations ordered by record id
func Verify(records []*models.Record) []Violation {
	ids := make(map[int]bool, len(records))
	for _, r := range records {
		ids[r.ID] = true
	}

	violations := []Violation{}
	for _, r := range records {
		for _, id := range r.LinkedRecordIDs.IDs() {
			switch {
			case id == r.ID:
				violations = append(violations, Violation{r.ID, RuleSelfLink, "record links to itself"})
			case !ids[id]:
				violations = append(violations, Violation{r.ID, RuleDanglingLink, fmt.Sprintf("linked record %d does not exist", id)})
			}
		}

		want := Expected(r)
		if r.Authority == want {
			continue
		}
		switch {
		case r.IsEOB():
			violations = append(violations, Violation{r.ID, RuleEOBNotAuthoritative,
				fmt.Sprintf("EOB flagged %q", r.Authority.String())})
		case want == models.AuthoritySubordinate:
			violations = append(violations, Violation{r.ID, RuleLinkedCounted,
				fmt.Sprintf("linked to %s but flagged %q", r.LinkedRecordIDs, r.Authority.String())})
		default:
			violations = append(violations, Violation{r.ID, RuleUnlinkedSubordinate,
				"flagged \"No\" without a linked record"})
		}
	}

	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].RecordID < violations[j].RecordID
	})
	return violations
}
