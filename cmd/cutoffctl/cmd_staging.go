package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
)

var (
	stagingStatus string
	stagingKind   string
	stagingPage   int
	stagingLimit  int
)

var stagingCmd = &cobra.Command{
	Use:   "staging",
	Short: "Inspect and review staged name matches",
}

var stagingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List staging records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := models.StagingFilter{Status: models.StagingStatus(stagingStatus), EntityKind: models.EntityKind(stagingKind)}
		if filter.Status != "" && !filter.Status.IsValid() {
			return fmt.Errorf("unknown status %q", stagingStatus)
		}
		if filter.EntityKind != "" && !filter.EntityKind.IsValid() {
			return fmt.Errorf("unknown kind %q", stagingKind)
		}

		ctx, cancel := commandContext()
		defer cancel()
		a, err := boot(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		recs, total, err := a.svc.Reconciler.ListStaging(ctx, filter, models.Page{Page: stagingPage, Limit: stagingLimit})
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tRAW NAME\tCANDIDATE\tCONFIDENCE")
		for _, rec := range recs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.3f\n",
				rec.ID, rec.EntityKind, rec.Status, rec.RawName, rec.CandidateName, rec.Confidence)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d records\n", len(recs), total)
		return nil
	},
}

var stagingApproveCmd = &cobra.Command{
	Use:   "approve <staging-id>",
	Short: "Approve the proposed candidate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewStaging(cmd, func(a *app, who models.Caller) (*models.StagingRecord, error) {
			return a.svc.Reconciler.ApproveMatch(cmd.Context(), who, args[0])
		})
	},
}

var stagingRejectCmd = &cobra.Command{
	Use:   "reject <staging-id>",
	Short: "Reject the proposed candidate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewStaging(cmd, func(a *app, who models.Caller) (*models.StagingRecord, error) {
			return a.svc.Reconciler.RejectMatch(cmd.Context(), who, args[0])
		})
	},
}

var stagingMatchCmd = &cobra.Command{
	Use:   "match <staging-id> <canonical-id>",
	Short: "Link a staging record to a canonical entity by hand",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewStaging(cmd, func(a *app, who models.Caller) (*models.StagingRecord, error) {
			return a.svc.Reconciler.ManualMatch(cmd.Context(), who, args[0], args[1])
		})
	},
}

func init() {
	stagingListCmd.Flags().StringVar(&stagingStatus, "status", "", "filter by status (unmatched, pending_review, approved, rejected)")
	stagingListCmd.Flags().StringVar(&stagingKind, "kind", "", "filter by entity kind (college, course)")
	stagingListCmd.Flags().IntVar(&stagingPage, "page", 1, "page number")
	stagingListCmd.Flags().IntVar(&stagingLimit, "limit", models.DefaultPageLimit, "records per page")

	stagingCmd.AddCommand(stagingListCmd, stagingApproveCmd, stagingRejectCmd, stagingMatchCmd)
}

// reviewStaging boots the pipeline, runs one review transition and prints
// the resulting record.
func reviewStaging(cmd *cobra.Command, fn func(a *app, who models.Caller) (*models.StagingRecord, error)) error {
	who, err := caller()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()
	cmd.SetContext(ctx)

	a, err := boot(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := fn(a, who)
	if err != nil {
		return err
	}
	return printJSON(cmd, rec)
}
