package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"cadence/internal/api"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Manage upload batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newBatchQueueCommand(ctx))
	cmd.AddCommand(newBatchListCommand(ctx))
	cmd.AddCommand(newBatchCancelCommand(ctx))
	return cmd
}

func newBatchQueueCommand(ctx *commandContext) *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "queue <track-id> [track-id ...]",
		Short: "Queue an upload batch for the given tracks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseTrackID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.QueueBatch(cmd.Context(), api.BatchRequest{TrackIDs: ids, Account: account})
			if err != nil {
				return err
			}

			if resp.BatchID != "" {
				fmt.Printf("Batch %s: %d queued, %d skipped\n", resp.BatchID, resp.Queued, resp.Skipped)
			} else {
				fmt.Printf("Nothing queued, %d skipped\n", resp.Skipped)
			}
			for _, reason := range resp.Errors {
				fmt.Printf("  - %s\n", reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "Upload account (defaults to configuration)")
	return cmd
}

func newBatchListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recent batch runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.ListBatches(cmd.Context())
			if err != nil {
				return err
			}
			if len(resp.Items) == 0 {
				fmt.Println("No batch runs recorded.")
				return nil
			}

			rows := make([][]string, 0, len(resp.Items))
			for _, item := range resp.Items {
				rows = append(rows, []string{
					item.ID,
					strconv.Itoa(item.Total),
					strconv.Itoa(item.Succeeded),
					strconv.Itoa(item.Failed),
					formatBool(item.Cancelled),
					item.CreatedAt.Format("2006-01-02 15:04:05"),
				})
			}
			fmt.Println(renderTable(
				[]string{"BATCH", "TOTAL", "SUCCEEDED", "FAILED", "CANCELLED", "CREATED"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func newBatchCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <batch-id>",
		Short: "Cancel a batch run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.CancelBatch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if resp.Cancelled {
				fmt.Printf("Batch %s cancelled\n", args[0])
			} else {
				fmt.Printf("Batch %s was already cancelled or does not exist\n", args[0])
			}
			return nil
		},
	}
}
