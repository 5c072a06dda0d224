package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/seoagent/governor/pkg/config"
	"github.com/seoagent/governor/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var (
		action     policy.ActionContext
		actionType string
		policyArg  string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Decide whether one agent action may run",
		Long: `Run a single governance decision and print the result.

The decision is recorded in the audit log, and an approval request is
opened when the action needs human sign-off.`,
		Example: `  # Validate a crawl on an owned site
  governor validate --user u1 --site https://example.com --type technical_seo_crawl

  # Request a tighter policy inline (JSON or YAML)
  governor validate --user u1 --site https://example.com --type cms_publishing \
    --policy '{"max_pages": 10, "requires_approval": true}'

  # Read the requested policy from a file
  governor validate --user u1 --site https://example.com --type content_generation --policy @policy.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			requested, err := parsePolicyPatch(policyArg)
			if err != nil {
				return err
			}
			action.ActionType = policy.ActionType(actionType)
			if action.ActionID == "" {
				action.ActionID = uuid.NewString()
			}

			return withRuntime(cmd.Context(), log.Logger, func(ctx context.Context, rt *runtime) error {
				result := rt.engine.ValidatePolicy(ctx, action, requested)
				if viper.GetBool("json") {
					return printJSON(result)
				}
				printResult(action, result)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&action.ActionID, "action-id", "", "idempotency key (default: random UUID)")
	cmd.Flags().StringVarP(&action.UserToken, "user", "u", "", "user token")
	cmd.Flags().StringVarP(&action.SiteURL, "site", "s", "", "site URL")
	cmd.Flags().StringVarP(&actionType, "type", "t", "", "action type")
	cmd.Flags().StringVarP(&policyArg, "policy", "p", "", "requested policy as JSON/YAML, or @file")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("site")
	cmd.MarkFlagRequired("type")

	return cmd
}

func newLimitsCommand() *cobra.Command {
	var (
		actionType string
		stats      policy.RuntimeStats
		elapsed    time.Duration
		maxPages   int
		maxPatches int
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Check runtime stats against a policy's limits",
		Long: `Check runtime stats against the catalog policy of an action type.

Limit flags replace the catalog values; 0 means the limit is not enforced.`,
		Example: `  # Would a crawl that touched 600 pages have to stop?
  governor limits --type technical_seo_crawl --pages 600

  # Check against explicit limits
  governor limits --max-pages 10 --timeout 1m --pages 3 --elapsed 90s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			p := policy.NewSitePolicy()
			if actionType != "" {
				catalog, err := config.BuildCatalog(cfg)
				if err != nil {
					return err
				}
				p = catalog.DefaultFor(policy.ActionType(actionType))
			}
			if cmd.Flags().Changed("max-pages") {
				p.MaxPages = maxPages
			}
			if cmd.Flags().Changed("max-patches") {
				p.MaxPatches = maxPatches
			}
			if cmd.Flags().Changed("timeout") {
				p.TimeoutMs = timeout.Milliseconds()
			}
			stats.ExecutionTimeMs = elapsed.Milliseconds()

			check := policy.EnforceRuntimeLimits(p, stats)
			if viper.GetBool("json") {
				return printJSON(check)
			}
			if check.ShouldStop {
				fmt.Printf("STOP (%s): %s\n", check.Limit, check.Reason)
				return nil
			}
			fmt.Println("within limits")
			return nil
		},
	}

	cmd.Flags().StringVarP(&actionType, "type", "t", "", "action type whose catalog policy is checked")
	cmd.Flags().IntVar(&stats.PagesProcessed, "pages", 0, "pages processed so far")
	cmd.Flags().IntVar(&stats.PatchesApplied, "patches", 0, "patches applied so far")
	cmd.Flags().DurationVar(&elapsed, "elapsed", 0, "execution time so far")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "override the page limit")
	cmd.Flags().IntVar(&maxPatches, "max-patches", 0, "override the patch limit")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "override the timeout")

	return cmd
}

// parsePolicyPatch reads an inline JSON/YAML patch, or a file when arg
// starts with @. An empty arg yields nil.
func parsePolicyPatch(arg string) (*policy.PolicyPatch, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return nil, nil
	}
	data := []byte(arg)
	if strings.HasPrefix(arg, "@") {
		var err error
		data, err = os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file: %w", err)
		}
	}
	var patch policy.PolicyPatch
	if err := yaml.Unmarshal(data, &patch); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return &patch, nil
}

func printResult(action policy.ActionContext, result policy.ValidationResult) {
	tw := newTable(nil)
	tw.AppendRow(table.Row{"Action", action.ActionID})
	tw.AppendRow(table.Row{"Allowed", result.Allowed})
	if !result.Allowed {
		tw.AppendRow(table.Row{"Code", result.Code})
		tw.AppendRow(table.Row{"Reason", result.Reason})
	}
	tw.AppendRow(table.Row{"Risk", result.EstimatedRisk})
	tw.AppendRow(table.Row{"Approval required", result.ApprovalRequired})
	if result.ApprovalID != "" {
		tw.AppendRow(table.Row{"Approval", result.ApprovalID})
	}
	if p := result.AdjustedPolicy; p != nil {
		tw.AppendRow(table.Row{"Environment", p.Environment})
		tw.AppendRow(table.Row{"Max pages", limitString(int64(p.MaxPages))})
		tw.AppendRow(table.Row{"Max patches", limitString(int64(p.MaxPatches))})
		tw.AppendRow(table.Row{"Timeout", timeoutString(p.TimeoutMs)})
		tw.AppendRow(table.Row{"Blast radius", fmt.Sprintf("%s/%s", p.BlastRadius.Scope, p.BlastRadius.RiskLevel)})
	}
	if len(result.Clamped) > 0 {
		tw.AppendRow(table.Row{"Clamped", strings.Join(result.Clamped, ", ")})
	}
	for _, w := range result.Warnings {
		tw.AppendRow(table.Row{"Warning", w})
	}
	tw.Render()
}

func limitString(v int64) string {
	if v == 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", v)
}

func timeoutString(ms int64) string {
	if ms == 0 {
		return "none"
	}
	return (time.Duration(ms) * time.Millisecond).String()
}
