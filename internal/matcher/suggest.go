package matcher

import (
	"sort"

	"github.com/shopspring/decimal"

	"hsa-reconciliation-service/internal/models"
)

// Suggestion proposes linking an unmatched EOB claim line to an unmatched
// provider statement.
type Suggestion struct {
	EOBID       int             `json:"eob_id"`
	StatementID int             `json:"statement_id"`
	Stars       Stars           `json:"stars"`
	Confidence  string          `json:"confidence"`
	DateDiff    int             `json:"date_diff_days"`
	Variance    decimal.Decimal `json:"amount_variance"`
}

// EOBSuggestions groups the ranked matches of one EOB claim line
type EOBSuggestions struct {
	EOB     *models.Record `json:"eob"`
	Matches []Suggestion   `json:"matches"`
}

// StatementSuggestions groups the EOBs proposed for one statement
type StatementSuggestions struct {
	Statement *models.Record `json:"statement"`
	Matches   []Suggestion   `json:"matches"`
}

// SuggestionResult is the complete output of one matcher pass for a year
type SuggestionResult struct {
	Year int `json:"year"`

	// Suggestions is ordered by EOB id, then by rank within each EOB
	Suggestions []Suggestion `json:"suggestions"`

	EOBSuggestions       []EOBSuggestions       `json:"eob_suggestions"`
	StatementSuggestions []StatementSuggestions `json:"statement_suggestions"`

	// UnmatchedEOBs and UnmatchedStatements are the matcher inputs
	UnmatchedEOBs       []*models.Record `json:"unmatched_eobs"`
	UnmatchedStatements []*models.Record `json:"unmatched_statements"`
}

// AutoSuggestMatcher proposes links between unmatched EOBs and statements.
// It never applies links itself.
type AutoSuggestMatcher struct {
	Config *MatchingConfig
}

// NewAutoSuggestMatcher creates a matcher with the specified configuration
func NewAutoSuggestMatcher(config *MatchingConfig) *AutoSuggestMatcher {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &AutoSuggestMatcher{Config: config}
}

// FindUnmatched splits the records of year into EOB lines without an outgoing
// link and non-EOB records with no link in either direction. Both lists are
// ordered by id.
func FindUnmatched(records []*models.Record, year int) (eobs, statements []*models.Record) {
	linkedTo := make(map[int]bool)
	for _, r := range records {
		for _, id := range r.LinkedRecordIDs.IDs() {
			linkedTo[id] = true
		}
	}

	for _, r := range records {
		if r.Year() != year || year == 0 {
			continue
		}
		if r.IsEOB() {
			if r.LinkedRecordIDs.IsEmpty() {
				eobs = append(eobs, r)
			}
			continue
		}
		if r.LinkedRecordIDs.IsEmpty() && !linkedTo[r.ID] {
			statements = append(statements, r)
		}
	}

	byID := func(list []*models.Record) {
		sort.SliceStable(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	}
	byID(eobs)
	byID(statements)
	return eobs, statements
}

// Suggest scans the records of year and proposes candidate pairs. Patient
// equality and a provider match are mandatory; date proximity decides the tier.
// The result depends only on the records passed in, so running it twice on
// the same snapshot yields identical suggestions.
func (m *AutoSuggestMatcher) Suggest(records []*models.Record, year int) *SuggestionResult {
	eobs, statements := FindUnmatched(records, year)

	result := &SuggestionResult{
		Year:                year,
		Suggestions:         []Suggestion{},
		UnmatchedEOBs:       eobs,
		UnmatchedStatements: statements,
	}

	byStatement := make(map[int][]Suggestion)
	for _, eob := range eobs {
		matches := m.rankStatements(eob, statements)
		if len(matches) == 0 {
			continue
		}

		result.Suggestions = append(result.Suggestions, matches...)
		result.EOBSuggestions = append(result.EOBSuggestions, EOBSuggestions{EOB: eob, Matches: matches})
		for _, s := range matches {
			byStatement[s.StatementID] = append(byStatement[s.StatementID], s)
		}
	}

	for _, stmt := range statements {
		matches := byStatement[stmt.ID]
		if len(matches) == 0 {
			continue
		}
		sortSuggestions(matches, func(s Suggestion) int { return s.EOBID })
		result.StatementSuggestions = append(result.StatementSuggestions, StatementSuggestions{
			Statement: stmt,
			Matches:   matches,
		})
	}

	return result
}

// rankStatements returns the statements eligible for eob, best first
func (m *AutoSuggestMatcher) rankStatements(eob *models.Record, statements []*models.Record) []Suggestion {
	var matches []Suggestion
	for _, stmt := range statements {
		if stmt.Patient != eob.Patient {
			continue
		}
		if !ProvidersMatch(eob, stmt, m.Config.ProviderContainment) {
			continue
		}

		stars := RankDateProximity(eob.DateOfService, stmt.DateOfService, m.Config.Tiers)
		if stars == NoStars {
			continue
		}

		matches = append(matches, Suggestion{
			EOBID:       eob.ID,
			StatementID: stmt.ID,
			Stars:       stars,
			Confidence:  stars.Confidence(),
			DateDiff:    models.DaysApart(eob.DateOfService, stmt.DateOfService),
			Variance:    eob.PatientResponsibility.Sub(stmt.PatientResponsibility),
		})
	}

	sortSuggestions(matches, func(s Suggestion) int { return s.StatementID })
	return matches
}

// sortSuggestions orders by tier, then closer date, then smaller absolute
// variance, then the lowest id returned by tiebreak.
func sortSuggestions(list []Suggestion, tiebreak func(Suggestion) int) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Stars != b.Stars {
			return a.Stars > b.Stars
		}
		if a.DateDiff != b.DateDiff {
			return a.DateDiff < b.DateDiff
		}
		va, vb := a.Variance.Abs(), b.Variance.Abs()
		if !va.Equal(vb) {
			return va.LessThan(vb)
		}
		return tiebreak(a) < tiebreak(b)
	})
}

// Best returns the top-ranked suggestion of every EOB that reaches minStars,
// ordered by EOB id. A statement may be chosen by more than one EOB, since
// one provider statement can be covered by several claim lines.
func (r *SuggestionResult) Best(minStars Stars) []Suggestion {
	var best []Suggestion
	for _, group := range r.EOBSuggestions {
		if len(group.Matches) == 0 || group.Matches[0].Stars < minStars {
			continue
		}
		best = append(best, group.Matches[0])
	}
	return best
}

// EOBsWithoutSuggestion returns unmatched EOBs that received no suggestion at all
func (r *SuggestionResult) EOBsWithoutSuggestion() []*models.Record {
	suggested := make(map[int]bool)
	for _, s := range r.Suggestions {
		suggested[s.EOBID] = true
	}
	return without(r.UnmatchedEOBs, suggested)
}

// StatementsWithoutSuggestion returns unmatched statements that no EOB was matched to
func (r *SuggestionResult) StatementsWithoutSuggestion() []*models.Record {
	suggested := make(map[int]bool)
	for _, s := range r.Suggestions {
		suggested[s.StatementID] = true
	}
	return without(r.UnmatchedStatements, suggested)
}

func without(records []*models.Record, exclude map[int]bool) []*models.Record {
	result := []*models.Record{}
	for _, rec := range records {
		if !exclude[rec.ID] {
			result = append(result, rec)
		}
	}
	return result
}
