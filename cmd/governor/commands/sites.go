package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/seoagent/governor/pkg/policy"
	"github.com/seoagent/governor/pkg/stores"
)

// withStore opens only the SQLite store.
func withStore(ctx context.Context, fn func(context.Context, *stores.SQLiteStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

func newSitesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sites",
		Aliases: []string{"site"},
		Short:   "Manage site ownership",
	}
	cmd.AddCommand(newSitesAddCommand())
	cmd.AddCommand(newSitesManageCommand())
	cmd.AddCommand(newSitesListCommand())
	return cmd
}

func newSitesAddCommand() *cobra.Command {
	var managed bool

	cmd := &cobra.Command{
		Use:     "add <user-token> <site-url>",
		Short:   "Register a site for a user",
		Example: `  governor sites add u1 https://example.com --managed`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *stores.SQLiteStore) error {
				if err := s.AddSite(ctx, args[0], args[1], managed); err != nil {
					return err
				}
				fmt.Printf("site %s registered for %s (managed=%v)\n", args[1], args[0], managed)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&managed, "managed", false, "mark the site as managed")
	return cmd
}

func newSitesManageCommand() *cobra.Command {
	var unmanaged bool

	cmd := &cobra.Command{
		Use:   "manage <user-token> <site-url>",
		Short: "Mark a registered site as managed (or unmanaged)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *stores.SQLiteStore) error {
				if err := s.SetManaged(ctx, args[0], args[1], !unmanaged); err != nil {
					return err
				}
				fmt.Printf("site %s managed=%v\n", args[1], !unmanaged)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unmanaged, "unmanaged", false, "clear the managed flag instead")
	return cmd
}

func newSitesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <user-token>",
		Short: "List the sites of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *stores.SQLiteStore) error {
				sites, err := s.ListSites(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sites)
				}
				tw := newTable(table.Row{"Site", "Managed", "Registered"})
				for _, site := range sites {
					tw.AppendRow(table.Row{site.SiteURL, site.IsManaged, site.CreatedAt.Local().Format(time.DateTime)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func newSubscriptionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subscription",
		Aliases: []string{"sub"},
		Short:   "Manage plans and inspect usage",
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "set <user-token> <tier> <monthly-allowance>",
		Short:   "Set the plan of a user",
		Example: `  governor subscription set u1 pro 500`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			allowance, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid allowance %q: %w", args[2], err)
			}
			return withStore(cmd.Context(), func(ctx context.Context, s *stores.SQLiteStore) error {
				if err := s.SetSubscription(ctx, args[0], args[1], allowance); err != nil {
					return err
				}
				fmt.Printf("plan %s (%d/month) set for %s\n", args[1], allowance, args[0])
				return nil
			})
		},
	})

	var actionType string
	show := &cobra.Command{
		Use:   "show <user-token>",
		Short: "Show a user's plan and usage this period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *stores.SQLiteStore) error {
				sub, err := s.LookupSubscription(ctx, args[0], policy.ActionType(actionType))
				if err != nil {
					return err
				}
				if sub == nil {
					return fmt.Errorf("user %s has no plan: %w", args[0], stores.ErrNotFound)
				}
				if viper.GetBool("json") {
					return printJSON(sub)
				}
				fmt.Printf("tier=%s allowance=%d usage[%s]=%d\n", sub.Tier, sub.Allowance, actionType, sub.CurrentUsage)
				return nil
			})
		},
	}
	show.Flags().StringVarP(&actionType, "type", "t", string(policy.ActionContentGeneration), "action type whose usage is shown")
	cmd.AddCommand(show)

	return cmd
}
