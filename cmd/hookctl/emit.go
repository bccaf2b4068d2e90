package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"storefront-hooks/internal/events"
	"storefront-hooks/internal/metadata"
)

// buildEvent assembles an event from CLI flags. data is a JSON object or "".
func buildEvent(eventType, id, source, data string) (*metadata.OutgoingEvent, error) {
	var payload map[string]any
	if data != "" {
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return nil, fmt.Errorf("--data must be a JSON object: %w", err)
		}
	}
	return metadata.NewOutgoingEvent(id, eventType, "", source, payload, nil), nil
}

var emitCmd = &cobra.Command{
	Use:   "emit <type>",
	Short: "Emit a business event to webhook subscribers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, _ := cmd.Flags().GetString("data")
		id, _ := cmd.Flags().GetString("id")
		source, _ := cmd.Flags().GetString("source")
		targets, _ := cmd.Flags().GetStringSlice("target")
		natsURL, _ := cmd.Flags().GetString("nats")
		subjectPrefix, _ := cmd.Flags().GetString("subject-prefix")

		evt, err := buildEvent(args[0], id, source, data)
		if err != nil {
			return err
		}
		ctx := context.Background()

		if natsURL != "" {
			if len(targets) > 0 {
				return fmt.Errorf("--target is not supported with --nats")
			}
			pub, err := events.NewPublisher(natsURL, subjectPrefix)
			if err != nil {
				return err
			}
			defer pub.Close()
			if err := pub.Publish(ctx, evt); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %s (%s)\n", evt.ID, evt.Type)
			return nil
		}

		body := map[string]any{
			"id":        evt.ID,
			"type":      evt.Type,
			"timestamp": evt.Timestamp,
			"source":    evt.Source,
			"data":      evt.Data,
			"metadata":  evt.Metadata,
		}
		if len(targets) > 0 {
			body["targets"] = targets
		}
		var resp map[string]any
		if err := call(ctx, "POST", "/emit", body, &resp); err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(resp)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Emitted %v (%s)\n", resp["id"], evt.Type)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <type>",
	Short: "Start automation flows for an event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, _ := cmd.Flags().GetString("data")
		evt, err := buildEvent(args[0], "", "", data)
		if err != nil {
			return err
		}
		var resp map[string]any
		if err := call(context.Background(), "POST", "/automations/run", evt, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Started flows for %v\n", resp["id"])
		return nil
	},
}

func init() {
	emitCmd.Flags().String("data", "", "event data as a JSON object")
	emitCmd.Flags().String("id", "", "event id (generated when empty)")
	emitCmd.Flags().String("source", "", "event source")
	emitCmd.Flags().StringSlice("target", nil, "deliver only to these URLs, bypassing stored subscriptions")
	emitCmd.Flags().String("nats", os.Getenv("HOOKCTL_NATS_URL"), "publish to this NATS server instead of calling the HTTP API")
	emitCmd.Flags().String("subject-prefix", "", "NATS subject prefix (default storefront.events)")

	runCmd.Flags().String("data", "", "event data as a JSON object")
}
