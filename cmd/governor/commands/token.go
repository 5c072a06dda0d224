package commands

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/seoagent/governor/pkg/server"
)

func newTokenCommand() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue an API bearer token",
		Long: `Issue an HS256 bearer token signed with server.jwt_secret. The subject
becomes the lease owner and the approval decider of authenticated calls.`,
		Example: `  governor token ops-alice --ttl 8h`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret is not configured")
			}

			now := time.Now()
			claims := jwt.RegisteredClaims{
				Issuer:   "governor",
				IssuedAt: jwt.NewNumericDate(now),
			}
			if ttl > 0 {
				claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
			}
			token, err := server.IssueToken(cfg.Server.JWTSecret, args[0], claims)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")

	return cmd
}
