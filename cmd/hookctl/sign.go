package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"storefront-hooks/internal/auth"
	"storefront-hooks/internal/engine"
)

var errSignatureMismatch = errors.New("signature does not match")

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Compute the X-Webhook-Signature value for a payload",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		file, _ := cmd.Flags().GetString("file")
		body, err := readInput(cmd.InOrStdin(), file)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), engine.Sign(body, secret))
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <signature>",
	Short: "Check a payload against an X-Webhook-Signature value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		file, _ := cmd.Flags().GetString("file")
		body, err := readInput(cmd.InOrStdin(), file)
		if err != nil {
			return err
		}
		if !engine.Verify(body, secret, args[0]) {
			return errSignatureMismatch
		}
		fmt.Fprintln(cmd.OutOrStdout(), "OK")
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an admin JWT signed with auth.jwt_secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		subject, _ := cmd.Flags().GetString("subject")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if secret == "" {
			return errors.New("--secret is required")
		}
		token, err := auth.GenerateAccessToken(subject, []string{auth.AdminRole}, secret, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key <key>",
	Short: "Print the bcrypt hash of an admin API key for webhook.admin_api_key_hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashKey(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{signCmd, verifyCmd} {
		c.Flags().String("secret", "", "subscription secret")
		c.Flags().String("file", "", "payload file (default stdin)")
	}
	tokenCmd.Flags().String("secret", "", "JWT signing secret")
	tokenCmd.Flags().String("subject", "hookctl", "token subject")
	tokenCmd.Flags().Duration("ttl", 15*time.Minute, "token lifetime")
}
