package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage task queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newQueueStatsCommand(ctx))
	cmd.AddCommand(newQueueHealthCommand(ctx))
	cmd.AddCommand(newQueueDeadCommand(ctx))
	cmd.AddCommand(newQueueRetryCommand(ctx))
	cmd.AddCommand(newQueueClearCommand(ctx))
	return cmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.QueueStats(cmd.Context())
			if err != nil {
				return err
			}
			if len(resp.Queues) == 0 {
				fmt.Println("No queues seen yet.")
				return nil
			}

			rows := make([][]string, 0, len(resp.Queues))
			for _, q := range resp.Queues {
				rows = append(rows, []string{
					q.Queue,
					strconv.Itoa(q.Pending),
					strconv.Itoa(q.InFlight),
					strconv.Itoa(q.Failed),
					strconv.Itoa(q.Total),
					q.Err,
				})
			}
			fmt.Println(renderTable(
				[]string{"QUEUE", "PENDING", "IN FLIGHT", "FAILED", "TOTAL", "ERROR"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show queue gateway health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			health, err := client.QueueHealth(cmd.Context())
			if err != nil {
				return err
			}

			status, _ := health["status"].(string)
			fmt.Printf("Status: %s\n", colorizeHealth(status))
			if issues, ok := health["issues"].([]any); ok {
				for _, issue := range issues {
					fmt.Printf("  - %v\n", issue)
				}
			}
			return nil
		},
	}
}

func newQueueDeadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "dead",
		Short: "List dead-letter tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.ListDead(cmd.Context())
			if err != nil {
				return err
			}
			if len(resp.Items) == 0 {
				fmt.Println("Dead-letter set is empty.")
				return nil
			}

			rows := make([][]string, 0, len(resp.Items))
			for _, item := range resp.Items {
				rows = append(rows, []string{
					item.ID,
					item.Queue,
					strconv.Itoa(item.Attempts),
					item.LastError,
				})
			}
			fmt.Println(renderTable(
				[]string{"TASK", "QUEUE", "ATTEMPTS", "LAST ERROR"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [task-id ...]",
		Short: "Re-enqueue dead-letter tasks (all when no ids are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.RetryDead(cmd.Context(), args)
			if err != nil {
				return err
			}
			fmt.Printf("Retried %d task(s)\n", resp.Count)
			return nil
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [task-id ...]",
		Short: "Discard dead-letter tasks (all when no ids are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.ClearDead(cmd.Context(), args)
			if err != nil {
				return err
			}
			fmt.Printf("Cleared %d task(s)\n", resp.Count)
			return nil
		},
	}
}
