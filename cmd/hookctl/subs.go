package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"storefront-hooks/internal/metadata"
)

var subsCmd = &cobra.Command{
	Use:   "subs",
	Short: "Manage webhook subscriptions",
}

var subsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subscriptions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Data []*metadata.WebhookSubscription `json:"data"`
		}
		if err := call(context.Background(), "GET", "/subscriptions", nil, &resp); err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(resp.Data)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tACTIVE\tRETRIES\tEVENTS\tURL")
		for _, s := range resp.Data {
			fmt.Fprintf(w, "%s\t%v\t%d\t%s\t%s\n", s.ID, s.Active, s.Retries, strings.Join(s.Events, ","), s.URL)
		}
		return w.Flush()
	},
}

var subsAddCmd = &cobra.Command{
	Use:   "add <url> <events>",
	Short: "Create a subscription; events is a comma-separated list",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		retries, _ := cmd.Flags().GetInt("retries")
		condition, _ := cmd.Flags().GetString("condition")

		body := map[string]any{"url": args[0], "events": args[1], "secret": secret}
		if cmd.Flags().Changed("retries") {
			body["retries"] = retries
		}
		if condition != "" {
			body["condition"] = condition
		}
		var resp struct {
			Data *metadata.WebhookSubscription `json:"data"`
		}
		if err := call(context.Background(), "POST", "/subscriptions", body, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", resp.Data.ID)
		return nil
	},
}

var subsRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := call(context.Background(), "DELETE", "/subscriptions/"+args[0], nil, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

var subsFailuresCmd = &cobra.Command{
	Use:   "failures <id>",
	Short: "Show recent failed delivery attempts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Data []*metadata.WebhookFailureRecord `json:"data"`
		}
		if err := call(context.Background(), "GET", "/subscriptions/"+args[0]+"/failures", nil, &resp); err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(resp.Data)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tATTEMPT\tSTATUS\tEVENT\tERROR")
		for _, f := range resp.Data {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", f.Timestamp, f.Attempt, f.Status, f.EventType, f.ErrorMessage)
		}
		return w.Flush()
	},
}

func init() {
	subsAddCmd.Flags().String("secret", "", "HMAC signing secret")
	subsAddCmd.Flags().Int("retries", 3, "retry count after the first attempt")
	subsAddCmd.Flags().String("condition", "", "expression that must be true for delivery")

	subsCmd.AddCommand(subsListCmd)
	subsCmd.AddCommand(subsAddCmd)
	subsCmd.AddCommand(subsRemoveCmd)
	subsCmd.AddCommand(subsFailuresCmd)
}
