package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status, track counts, and queue health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Daemon running: %s (pid %d)\n", formatBool(status.Running), status.PID)
			fmt.Printf("Track database: %s\n", status.TrackDBPath)
			fmt.Printf("Health: %s\n", colorizeHealth(string(status.Health.Status)))
			for _, issue := range status.Health.Issues {
				fmt.Printf("  - %s\n", issue)
			}

			fmt.Println(renderTable(
				[]string{"TOTAL", "PENDING", "PROCESSING", "COMPLETED", "FAILED", "STOPPED", "UPLOADED"},
				[][]string{{
					strconv.Itoa(status.Tracks.Total),
					strconv.Itoa(status.Tracks.Pending),
					strconv.Itoa(status.Tracks.Processing),
					strconv.Itoa(status.Tracks.Completed),
					strconv.Itoa(status.Tracks.Failed),
					strconv.Itoa(status.Tracks.Stopped),
					strconv.Itoa(status.Tracks.Uploaded),
				}},
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
			))

			if len(status.Queues) > 0 {
				rows := make([][]string, 0, len(status.Queues))
				for _, q := range status.Queues {
					rows = append(rows, []string{
						q.Queue,
						strconv.Itoa(q.Pending),
						strconv.Itoa(q.InFlight),
						strconv.Itoa(q.Failed),
						q.Err,
					})
				}
				fmt.Println(renderTable(
					[]string{"QUEUE", "PENDING", "IN FLIGHT", "FAILED", "ERROR"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
				))
			}
			return nil
		},
	}
}
