// Command batchctl uploads recipient lists to a batch mailer server, starts
// dispatch runs and follows their progress.
package main

import (
	"os"
	"time"

	"github.com/ignite/batch-mailer/internal/client"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	server  string
	timeout time.Duration
}

func (o *rootOptions) client() *client.Client {
	return client.New(o.server, o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:          "batchctl",
		Short:        "Upload recipient lists and send batch emails",
		SilenceUsage: true,
	}

	defaultServer := os.Getenv("BATCHCTL_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", defaultServer, "batch mailer server URL")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-request timeout")

	rootCmd.AddCommand(
		newUploadCmd(opts),
		newSendCmd(opts),
		newWatchCmd(opts),
		newSummaryCmd(opts),
	)
	return rootCmd
}
