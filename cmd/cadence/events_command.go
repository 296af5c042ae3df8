package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var provider string
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the webhook audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.ListEvents(cmd.Context(), provider, limit)
			if err != nil {
				return err
			}
			if len(resp.Items) == 0 {
				fmt.Println("No webhook events recorded.")
				return nil
			}

			rows := make([][]string, 0, len(resp.Items))
			for _, item := range resp.Items {
				payload := item.Payload
				if len(payload) > 72 {
					payload = payload[:69] + "..."
				}
				rows = append(rows, []string{
					strconv.FormatInt(item.ID, 10),
					item.Provider,
					item.ReceivedAt.Format("2006-01-02 15:04:05"),
					item.SourceIP,
					payload,
				})
			}
			fmt.Println(renderTable(
				[]string{"ID", "PROVIDER", "RECEIVED", "SOURCE", "PAYLOAD"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Filter by provider")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of events")
	return cmd
}
