package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newTracksCommand(ctx *commandContext) *cobra.Command {
	var statusFilters []string

	cmd := &cobra.Command{
		Use:   "tracks",
		Short: "List tracks, optionally filtered by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.ListTracks(cmd.Context(), statusFilters...)
			if err != nil {
				return err
			}
			if len(resp.Items) == 0 {
				fmt.Println("No tracks found.")
				return nil
			}

			rows := make([][]string, 0, len(resp.Items))
			for _, item := range resp.Items {
				rows = append(rows, []string{
					strconv.FormatInt(item.ID, 10),
					item.Title,
					item.Status,
					strconv.Itoa(item.Progress) + "%",
					item.VideoID,
					item.ErrorMessage,
				})
			}
			fmt.Println(renderTable(
				[]string{"ID", "TITLE", "STATUS", "PROGRESS", "VIDEO", "ERROR"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statusFilters, "status", nil, "Filter by status (repeatable)")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <track-id>",
		Short: "Show one track in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTrackID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.GetTrack(cmd.Context(), id)
			if err != nil {
				return err
			}
			item := resp.Item

			fmt.Printf("Track %d: %s\n", item.ID, item.Title)
			fmt.Printf("  Status:         %s (%d%%)\n", item.Status, item.Progress)
			if item.ErrorMessage != "" {
				fmt.Printf("  Error:          %s\n", item.ErrorMessage)
			}
			if item.AudioFile != "" {
				fmt.Printf("  Audio file:     %s\n", item.AudioFile)
			}
			if item.ImageFile != "" {
				fmt.Printf("  Image file:     %s\n", item.ImageFile)
			}
			if item.VideoFile != "" {
				fmt.Printf("  Video file:     %s\n", item.VideoFile)
			}
			if item.VideoID != "" {
				fmt.Printf("  Video ID:       %s\n", item.VideoID)
			}
			if item.UploadedAt != nil {
				fmt.Printf("  Uploaded at:    %s\n", item.UploadedAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("  Upload enabled: %s\n", formatBool(item.UploadEnabled))
			fmt.Printf("  Created:        %s\n", item.CreatedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "start <track-id>",
		Short: "Start processing a track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLifecycleAction(ctx, cmd, args[0], "started", func(id int64) lifecycleCall {
				return func() (bool, string, string, error) {
					client, err := ctx.client()
					if err != nil {
						return false, "", "", err
					}
					resp, err := client.StartTrack(cmd.Context(), id, force)
					return resp.Blocked, resp.Reason, resp.TaskID, err
				}
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Force restart, deleting existing artifacts")
	return cmd
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <track-id>",
		Short: "Stop a pending or processing track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLifecycleAction(ctx, cmd, args[0], "stopped", func(id int64) lifecycleCall {
				return func() (bool, string, string, error) {
					client, err := ctx.client()
					if err != nil {
						return false, "", "", err
					}
					resp, err := client.StopTrack(cmd.Context(), id)
					return resp.Blocked, resp.Reason, resp.TaskID, err
				}
			})
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <track-id>",
		Short: "Retry a failed or stopped track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLifecycleAction(ctx, cmd, args[0], "retried", func(id int64) lifecycleCall {
				return func() (bool, string, string, error) {
					client, err := ctx.client()
					if err != nil {
						return false, "", "", err
					}
					resp, err := client.RetryTrack(cmd.Context(), id)
					return resp.Blocked, resp.Reason, resp.TaskID, err
				}
			})
		},
	}
}

type lifecycleCall func() (blocked bool, reason, taskID string, err error)

func runLifecycleAction(ctx *commandContext, cmd *cobra.Command, rawID, verb string, build func(int64) lifecycleCall) error {
	id, err := parseTrackID(rawID)
	if err != nil {
		return err
	}
	blocked, reason, taskID, err := build(id)()
	if err != nil {
		return err
	}
	if blocked {
		fmt.Printf("Track %d not %s: %s\n", id, verb, reason)
		return nil
	}
	if taskID != "" {
		fmt.Printf("Track %d %s (task %s)\n", id, verb, taskID)
	} else {
		fmt.Printf("Track %d %s\n", id, verb)
	}
	return nil
}

func parseTrackID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid track id %q", raw)
	}
	return id, nil
}
