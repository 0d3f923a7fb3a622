package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nerrad567/gray-logic-knxip/internal/api"
)

const keySecret = "secret"

type tokenSummary struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newTokenCmd(v *viper.Viper) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the daemon's bus endpoints",
		Long: `Token signs an HS256 token accepted by knxipd for group write and read
requests and for stream commands. The secret must match api.auth.secret.`,
		Example: `  KNXCTL_SECRET=$(cat /etc/knxipd/secret) knxctl token --subject installer --ttl 8h`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := v.GetString(keySecret)
			if secret == "" {
				return errors.New("a signing secret is required (--secret or KNXCTL_SECRET)")
			}
			tok, err := api.IssueToken(secret, subject, ttl)
			if err != nil {
				return err
			}
			claims, err := api.ParseToken(tok, secret)
			if err != nil {
				return err
			}
			s := tokenSummary{Token: tok, Subject: claims.Subject, ExpiresAt: claims.ExpiresAt.Time}
			return newPrinter(cmd.OutOrStdout(), v.GetString(keyOutput)).print(s, tok)
		},
	}

	cmd.Flags().String(keySecret, "", "HMAC signing secret")
	cmd.Flags().StringVar(&subject, "subject", "knxctl", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	//nolint:errcheck // flag is declared above
	v.BindPFlag(keySecret, cmd.Flags().Lookup(keySecret))
	return cmd
}
