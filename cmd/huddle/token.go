package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/huddle-server/internal/app"
	"github.com/vovakirdan/huddle-server/internal/auth"
	"github.com/vovakirdan/huddle-server/internal/config"
)

func newTokenCmd(root *rootFlags) *cobra.Command {
	var (
		user string
		role string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a development token with the configured jwt_secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := config.Load(nil, root.configPath)
			if err != nil {
				return err
			}
			if !cfg.JWTEnabled() {
				return errors.New("jwt_secret is not configured")
			}

			jwtCfg := app.JWTConfig(&cfg)
			jwtCfg.TTL = ttl
			token, err := auth.GenerateToken(jwtCfg, user, role)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "identity to embed")
	cmd.Flags().StringVar(&role, "role", "member", "role claim (member or admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
