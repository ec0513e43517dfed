package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"hsa-reconciliation-service/internal/matcher"
	"hsa-reconciliation-service/internal/models"
	"hsa-reconciliation-service/pkg/errors"
)

var (
	suggestYear     int
	suggestMinStars int
	suggestApply    bool
)

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Propose links between unmatched EOBs and statements",
	Long: `Suggest scans the unmatched EOB claims and statements of a service year
and proposes pairs for the same patient and provider, ranked by how close
their service dates are (*** same day, ** within 3 days, * within a week).
Nothing is linked unless --apply is given; --apply links each EOB to its
best statement when that suggestion has at least --min-stars.

Examples:
  reconciler suggest --year 2026
  reconciler suggest --year 2026 --min-stars 3 --apply`,

	PreRunE: validateSuggestFlags,
	RunE:    runSuggest,
}

func init() {
	rootCmd.AddCommand(suggestCmd)

	suggestCmd.Flags().IntVar(&suggestYear, "year", currentYear(), "service year")
	suggestCmd.Flags().IntVar(&suggestMinStars, "min-stars", int(matcher.ThreeStars), "minimum tier to list or apply (1-3)")
	suggestCmd.Flags().BoolVar(&suggestApply, "apply", false, "link each EOB to its best suggestion")
}

func validateSuggestFlags(cmd *cobra.Command, args []string) error {
	if err := validateYear(suggestYear); err != nil {
		return err
	}
	_, err := parseStars(suggestMinStars)
	return err
}

func parseStars(n int) (matcher.Stars, error) {
	stars := matcher.Stars(n)
	if stars < matcher.OneStar || stars > matcher.ThreeStars {
		return matcher.NoStars, errors.ValidationError(errors.CodeOutOfRange, "min-stars", n, nil).
			WithSuggestion("Use 1, 2 or 3")
	}
	return stars, nil
}

func runSuggest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	minStars, _ := parseStars(suggestMinStars)

	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.close()

	out := cmd.OutOrStdout()
	if suggestApply {
		applied, err := sess.service.ApplySuggestions(ctx, suggestYear, minStars)
		for _, a := range applied {
			if a.Changed {
				fmt.Fprintf(out, "Linked EOB #%d to statement #%d (%s)\n",
					a.Suggestion.EOBID, a.Suggestion.StatementID, a.Suggestion.Stars)
			}
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Applied %d suggestion(s)\n", len(applied))
		return nil
	}

	printSuggestions(out, sess.service.Suggest(ctx, suggestYear), minStars)
	return nil
}

func printSuggestions(w io.Writer, result *matcher.SuggestionResult, minStars matcher.Stars) {
	byID := make(map[int]*models.Record, len(result.UnmatchedStatements))
	for _, stmt := range result.UnmatchedStatements {
		byID[stmt.ID] = stmt
	}

	fmt.Fprintf(w, "Suggestions for %d: %d unmatched EOB(s), %d unmatched statement(s)\n",
		result.Year, len(result.UnmatchedEOBs), len(result.UnmatchedStatements))

	shown := 0
	for _, group := range result.EOBSuggestions {
		var matches []matcher.Suggestion
		for _, s := range group.Matches {
			if s.Stars >= minStars {
				matches = append(matches, s)
			}
		}
		if len(matches) == 0 {
			continue
		}

		eob := group.EOB
		fmt.Fprintf(w, "\nEOB #%d  %s  %s  %s  %s\n", eob.ID, models.FormatDate(eob.DateOfService),
			eob.Patient, eob.ProviderName, models.FormatMoney(eob.PatientResponsibility))
		for _, s := range matches {
			stmt := byID[s.StatementID]
			fmt.Fprintf(w, "  %-3s statement #%d  %s  %s  %d day(s) apart, variance %s\n",
				s.Stars, s.StatementID, models.FormatDate(stmt.DateOfService),
				models.FormatMoney(stmt.PatientResponsibility), s.DateDiff, models.FormatMoney(s.Variance))
			shown++
		}
	}

	if shown == 0 {
		fmt.Fprintf(w, "\nNo suggestions with at least %s\n", minStars)
	}
}
