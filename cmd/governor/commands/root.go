package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "governor",
		Short: "Governor - action governance for SEO agents",
		Long: `Governor decides whether an SEO agent action may run, under which
limits, and whether a human has to approve it first.

Every decision:
  - Resolves the catalog policy for the action type
  - Applies the managed-site override and the agent's requested policy
  - Checks ownership, quota, domain allowlist and guardrails
  - Scores risk and opens an approval request when required`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if level := viper.GetString("log-level"); level != "" {
				zerolog.SetGlobalLevel(ParseLevel(level))
			}
		},
	}

	initConfig()

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides store.sqlite_path)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	rootCmd.AddCommand(newServeCommand(version))
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newLimitsCommand())
	rootCmd.AddCommand(newCatalogCommand())
	rootCmd.AddCommand(newDecisionsCommand())
	rootCmd.AddCommand(newApprovalsCommand())
	rootCmd.AddCommand(newSitesCommand())
	rootCmd.AddCommand(newSubscriptionCommand())
	rootCmd.AddCommand(newTokenCommand())

	return rootCmd
}

// initConfig lets every flag be set through GOVERNOR_* variables, e.g.
// GOVERNOR_LOG_LEVEL=debug.
func initConfig() {
	viper.SetEnvPrefix("GOVERNOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
