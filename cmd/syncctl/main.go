// syncctl is the operator CLI for a running feedbridge instance. It
// talks to the control API over HTTP: start and stop runs, inspect
// status and history, and follow the live event stream.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootOptions holds the global flags shared by every subcommand.
type rootOptions struct {
	Addr    string
	Format  string // "text" | "json"
	Timeout int    // seconds, request deadline for non-streaming calls
}

var validFormats = []string{"text", "json"}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "syncctl",
		Short: "Control a running feedbridge service",
		Long: `syncctl drives the feedbridge control API.

The service address defaults to a local instance; point --addr at any
reachable deployment. All commands print the API response either as a
readable summary (text) or as raw JSON (json).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Addr, "addr", "http://localhost:8080", "base URL of the feedbridge service")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().IntVar(&opts.Timeout, "timeout", 30, "request timeout in seconds")

	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newStartCommand(opts))
	cmd.AddCommand(newStopCommand(opts))
	cmd.AddCommand(newRunsCommand(opts))
	cmd.AddCommand(newCountCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
