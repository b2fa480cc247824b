package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ignite/batch-mailer/internal/client"
	"github.com/ignite/batch-mailer/internal/domain"
	"github.com/spf13/cobra"
)

func newSendCmd(root *rootOptions) *cobra.Command {
	var (
		creds  domain.Credentials
		follow bool
		detail bool
	)
	cmd := &cobra.Command{
		Use:   "send <batch-id>",
		Short: "Start sending a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if creds.Password == "" {
				creds.Password = os.Getenv("BATCHCTL_PASSWORD")
			}
			if creds.Password == "" {
				return errors.New("password is required (--password or BATCHCTL_PASSWORD)")
			}

			c := root.client()
			ack, err := c.Send(cmd.Context(), args[0], creds)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: batch %s, %d emails\n", ack.Message, ack.BatchID, ack.TotalEmails)
			if !follow {
				return nil
			}
			return watch(cmd, c, args[0], detail)
		},
	}
	cmd.Flags().StringVar(&creds.FullName, "name", "", "sender full name")
	cmd.Flags().StringVar(&creds.Email, "email", "", "sender account address")
	cmd.Flags().StringVar(&creds.Password, "password", "", "sender account app password")
	cmd.Flags().BoolVarP(&follow, "watch", "w", false, "follow progress until the run completes")
	cmd.Flags().BoolVar(&detail, "detail", false, "print per-recipient statuses when following")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	var detail bool
	cmd := &cobra.Command{
		Use:   "watch <batch-id>",
		Short: "Follow a batch's progress stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch(cmd, root.client(), args[0], detail)
		},
	}
	cmd.Flags().BoolVar(&detail, "detail", false, "print per-recipient statuses")
	return cmd
}

func watch(cmd *cobra.Command, c *client.Client, batchID string, detail bool) error {
	out := cmd.OutOrStdout()
	return c.Watch(cmd.Context(), batchID, client.WatchOptions{Detail: detail}, func(ev domain.ProgressEvent) error {
		fmt.Fprintf(out, "%-8s sent=%d failed=%d pending=%d total=%d\n",
			ev.Type, ev.Sent, ev.Failed, ev.Pending, ev.Total)
		for _, r := range ev.Recipients {
			fmt.Fprintf(out, "  %-40s %s\n", r.Email, r.Status)
		}
		if ev.Message != "" {
			fmt.Fprintf(out, "  %s\n", ev.Message)
		}
		return nil
	})
}

func newSummaryCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "summary <batch-id>",
		Short: "Show a batch's sent, failed and pending counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := root.client().Summary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), sum)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "batch %s from %s <%s>\n  total   %d\n  sent    %d\n  failed  %d\n  pending %d\n",
				sum.BatchID, sum.SenderName, sum.SenderEmail, sum.Total, sum.Sent, sum.Failed, sum.Pending)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
