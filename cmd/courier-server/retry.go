package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/coregx/courier"
	"github.com/coregx/courier/model"
	"github.com/spf13/cobra"
)

func newRetryCmd(envFile *string) *cobra.Command {
	var allFailed bool

	cmd := &cobra.Command{
		Use:   "retry [message-id...]",
		Short: "Resend failed messages",
		Long: "Resend failed messages by id, or every failed message with --all-failed.\n" +
			"Messages that are not failed are skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !allFailed {
				return fmt.Errorf("pass message ids or --all-failed")
			}

			ctx := cmd.Context()
			rt, err := bootstrap(ctx, *envFile)
			if err != nil {
				return err
			}
			defer rt.Close()

			engine, err := rt.engine(ctx, nil)
			if err != nil {
				return err
			}

			ids := args
			if allFailed {
				ids, err = failedMessageIDs(cmd, engine.Admin)
				if err != nil {
					return err
				}
			}

			var total courier.BulkRetryResult
			for start := 0; start < len(ids); start += courier.MaxPageSize {
				end := start + courier.MaxPageSize
				if end > len(ids) {
					end = len(ids)
				}
				res, err := engine.Admin.BulkRetry(ctx, ids[start:end])
				if err != nil {
					return err
				}
				total.Queued += res.Queued
				total.Skipped += res.Skipped
				total.Missing += res.Missing
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(total)
		},
	}
	cmd.Flags().BoolVar(&allFailed, "all-failed", false, "Retry every message currently in status failed")
	return cmd
}

// failedMessageIDs collects the ids of every failed message before any retry
// runs, so messages that fail again are not picked up twice.
func failedMessageIDs(cmd *cobra.Command, admin *courier.AdminService) ([]string, error) {
	var ids []string
	for page := 1; ; page++ {
		res, err := admin.ListMessages(cmd.Context(), courier.MessageFilter{
			Status:   model.StatusFailed,
			Page:     page,
			PageSize: courier.MaxPageSize,
		})
		if err != nil {
			return nil, err
		}
		for _, m := range res.Items {
			ids = append(ids, m.ID)
		}
		if len(res.Items) < res.PageSize {
			return ids, nil
		}
	}
}
