package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"hsa-reconciliation-service/internal/authority"
	"hsa-reconciliation-service/pkg/errors"
)

var (
	linkSource       int
	linkTarget       int
	linkRelationship string
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link two ledger records",
	Long: `Link records that describe the same medical event. A covers link ties an
EOB claim to the statement or receipt it covers; the non-EOB side stops
counting toward totals. A supports link marks the source as supporting
evidence for the target. Without --relationship the record kinds decide.

Examples:
  reconciler link --source 12 --target 7
  reconciler link --source 15 --target 9 --relationship supports`,

	PreRunE: validateLinkFlags,
	RunE:    runLink,
}

func init() {
	rootCmd.AddCommand(linkCmd)

	linkCmd.Flags().IntVar(&linkSource, "source", 0, "source record id (required)")
	linkCmd.Flags().IntVar(&linkTarget, "target", 0, "target record id (required)")
	linkCmd.Flags().StringVar(&linkRelationship, "relationship", "", "covers or supports (default: by record kind)")

	linkCmd.MarkFlagRequired("source")
	linkCmd.MarkFlagRequired("target")
}

func validateLinkFlags(cmd *cobra.Command, args []string) error {
	if linkSource <= 0 {
		return errors.ValidationError(errors.CodeOutOfRange, "source", linkSource, nil)
	}
	if linkTarget <= 0 {
		return errors.ValidationError(errors.CodeOutOfRange, "target", linkTarget, nil)
	}
	_, err := authority.ParseRelationship(linkRelationship)
	return err
}

func runLink(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.close()

	changed, err := sess.service.LinkRecords(ctx, linkSource, linkTarget, linkRelationship)
	if err != nil {
		return err
	}

	if !changed {
		fmt.Fprintf(cmd.OutOrStdout(), "Records #%d and #%d were already linked\n", linkSource, linkTarget)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Linked record #%d to #%d\n", linkSource, linkTarget)
	return nil
}
