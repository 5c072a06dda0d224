package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/seoagent/governor/pkg/policy"
	"github.com/seoagent/governor/pkg/stores"
)

func newApprovalsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "approvals",
		Aliases: []string{"approval"},
		Short:   "Inspect and decide approval requests",
	}
	cmd.AddCommand(newApprovalsListCommand())
	cmd.AddCommand(newApprovalsGetCommand())
	cmd.AddCommand(newApprovalsDecideCommand("approve", true))
	cmd.AddCommand(newApprovalsDecideCommand("reject", false))
	return cmd
}

func newApprovalsListCommand() *cobra.Command {
	var (
		filter stores.ApprovalFilter
		status string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approval requests, oldest first",
		Example: `  # Pending requests
  governor approvals list --status pending

  # Everything a user asked for
  governor approvals list --user u1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = policy.ApprovalStatus(status)
			return withRuntime(cmd.Context(), log.Logger, func(ctx context.Context, rt *runtime) error {
				items, err := rt.approvals.ListApprovals(ctx, filter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Action", "User", "Site", "Type", "Risk", "Status", "Requested"})
				for _, a := range items {
					tw.AppendRow(table.Row{
						a.ID, a.ActionID, a.UserToken, a.SiteURL, a.ActionType,
						a.Risk.Level, a.Status, a.RequestedAt.Local().Format(time.DateTime),
					})
				}
				tw.Render()
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "status filter (pending, approved, rejected, expired)")
	cmd.Flags().StringVarP(&filter.UserToken, "user", "u", "", "user token filter")
	cmd.Flags().IntVar(&filter.Limit, "limit", 100, "maximum number of requests")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "requests to skip")

	return cmd
}

func newApprovalsGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <approval-id>",
		Short: "Show one approval request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), log.Logger, func(ctx context.Context, rt *runtime) error {
				req, err := rt.engine.Approvals().Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(req)
			})
		},
	}
}

func newApprovalsDecideCommand(verb string, approve bool) *cobra.Command {
	var decidedBy, note string

	cmd := &cobra.Command{
		Use:   verb + " <approval-id>",
		Short: fmt.Sprintf("%s a pending approval request", map[bool]string{true: "Approve", false: "Reject"}[approve]),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if decidedBy == "" {
				decidedBy = os.Getenv("USER")
			}
			if decidedBy == "" {
				return fmt.Errorf("--by is required")
			}
			return withRuntime(cmd.Context(), log.Logger, func(ctx context.Context, rt *runtime) error {
				if err := rt.engine.Approvals().DecideApproval(ctx, args[0], approve, decidedBy, note); err != nil {
					return err
				}
				req, err := rt.engine.Approvals().Get(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(req)
				}
				fmt.Printf("approval %s %s by %s\n", req.ID, req.Status, req.DecidedBy)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&decidedBy, "by", "", "operator recording the decision (default: $USER)")
	cmd.Flags().StringVar(&note, "note", "", "decision note")

	return cmd
}
