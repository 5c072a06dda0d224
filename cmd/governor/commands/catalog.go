package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/seoagent/governor/pkg/config"
	"github.com/seoagent/governor/pkg/policy"
	"github.com/seoagent/governor/pkg/stores"
)

func newCatalogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Show the effective default policy per action type",
		Long: `Show the effective default policy per action type: the built-in
catalog with the config file's overrides applied.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			catalog, err := config.BuildCatalog(cfg)
			if err != nil {
				return err
			}

			if viper.GetBool("json") {
				entries := make(map[policy.ActionType]policy.Policy)
				for _, t := range catalog.ActionTypes() {
					entries[t] = catalog.DefaultFor(t)
				}
				return printJSON(map[string]any{"fallback": catalog.Fallback(), "entries": entries})
			}

			tw := newTable(table.Row{"Action type", "Environment", "Max pages", "Max patches", "Timeout", "Approval", "Scope", "Risk"})
			for _, t := range catalog.ActionTypes() {
				p := catalog.DefaultFor(t)
				name := string(t)
				if t == catalog.Fallback() {
					name += " (fallback)"
				}
				tw.AppendRow(table.Row{
					name, p.Environment, limitString(int64(p.MaxPages)), limitString(int64(p.MaxPatches)),
					timeoutString(p.TimeoutMs), p.RequiresApproval, p.BlastRadius.Scope, p.BlastRadius.RiskLevel,
				})
			}
			tw.Render()
			return nil
		},
	}
}

func newDecisionsCommand() *cobra.Command {
	var (
		actionID string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Show the decision audit log, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *stores.SQLiteStore) error {
				records, err := s.ListDecisions(ctx, actionID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				tw := newTable(table.Row{"Evaluated", "Action", "User", "Type", "Allowed", "Code", "Risk", "Approval"})
				for _, r := range records {
					tw.AppendRow(table.Row{
						r.EvaluatedAt.Local().Format(time.DateTime), r.ActionID, r.UserToken,
						r.ActionType, r.Allowed, r.Code, r.Risk, r.ApprovalID,
					})
				}
				tw.Render()
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&actionID, "action-id", "", "only decisions of this action")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of records")

	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply the SQLite migrations and, when store.driver is postgres, the
Postgres approval migrations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			store, err := openStore(ctx, cfg, log.Logger)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Printf("sqlite %s migrated\n", cfg.Store.SQLitePath)

			if cfg.Store.Driver == "postgres" {
				db, err := stores.OpenPostgres(ctx, cfg.Store.PostgresDSN)
				if err != nil {
					return err
				}
				pg := stores.NewPostgresApprovalStore(db, log.Logger)
				defer pg.Close()
				if err := pg.Migrate(ctx); err != nil {
					return err
				}
				fmt.Println("postgres approvals migrated")
			}
			return nil
		},
	}
}
