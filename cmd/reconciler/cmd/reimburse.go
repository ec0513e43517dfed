package cmd

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"hsa-reconciliation-service/internal/models"
	"hsa-reconciliation-service/pkg/errors"
)

var (
	reimburseID     int
	reimburseAmount string
	reimburseDate   string
)

var reimburseCmd = &cobra.Command{
	Use:   "reimburse",
	Short: "Record an HSA reimbursement against a ledger record",
	Long: `Reimburse marks a committed record as reimbursed from the HSA. The amount
is what was withdrawn; the date defaults to today.

Examples:
  reconciler reimburse --id 12 --amount 45.00
  reconciler reimburse --id 12 --amount 45.00 --date 2026-05-01`,

	PreRunE: validateReimburseFlags,
	RunE:    runReimburse,
}

func init() {
	rootCmd.AddCommand(reimburseCmd)

	reimburseCmd.Flags().IntVar(&reimburseID, "id", 0, "record id (required)")
	reimburseCmd.Flags().StringVar(&reimburseAmount, "amount", "", "reimbursed amount (required)")
	reimburseCmd.Flags().StringVar(&reimburseDate, "date", "", "reimbursement date, YYYY-MM-DD (default: today)")

	reimburseCmd.MarkFlagRequired("id")
	reimburseCmd.MarkFlagRequired("amount")
}

func validateReimburseFlags(cmd *cobra.Command, args []string) error {
	if reimburseID <= 0 {
		return errors.ValidationError(errors.CodeOutOfRange, "id", reimburseID, nil)
	}
	if _, err := parseReimbursedAmount(reimburseAmount); err != nil {
		return err
	}
	_, err := parseReimbursementDate(reimburseDate)
	return err
}

func parseReimbursedAmount(raw string) (decimal.Decimal, error) {
	amount, err := models.ParseAmount(raw)
	if err != nil {
		return decimal.Zero, errors.ValidationError(errors.CodeInvalidAmount, "amount", raw, err)
	}
	if !amount.IsPositive() {
		return decimal.Zero, errors.ValidationError(errors.CodeInvalidAmount, "amount", raw, nil).
			WithSuggestion("The reimbursed amount must be greater than zero")
	}
	return amount, nil
}

// parseReimbursementDate returns the zero date for an empty flag, which the
// store reads as today
func parseReimbursementDate(raw string) (civil.Date, error) {
	d, err := models.ParseDate(raw)
	if err != nil {
		return civil.Date{}, errors.ValidationError(errors.CodeInvalidDate, "date", raw, err)
	}
	return d, nil
}

func runReimburse(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	amount, _ := parseReimbursedAmount(reimburseAmount)
	date, _ := parseReimbursementDate(reimburseDate)

	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.close()

	rec, err := sess.service.MarkReimbursed(ctx, reimburseID, amount, date)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Record #%d reimbursed %s on %s\n",
		rec.ID, models.FormatMoney(rec.ReimbursementAmount), models.FormatDate(rec.ReimbursementDate))
	return nil
}
