package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/feedbridge/backend/internal/domain/run"
)

// productCount mirrors the published-count response payload.
type productCount struct {
	Count int `json:"count"`
}

func newStatusCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current run state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(rootOpts)

			var snap run.Snapshot
			if err := client.get(cmd.Context(), "/api/status", &snap); err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return printJSON(snap)
			}

			printSnapshot(&snap)
			if len(snap.Logs) > 0 {
				fmt.Println("\nRecent log:")
				tail := snap.Logs
				if len(tail) > 10 {
					tail = tail[len(tail)-10:]
				}
				for _, entry := range tail {
					fmt.Printf("  %s  %-5s %s\n", entry.Time.Format("15:04:05"), entry.Level, entry.Message)
				}
			}
			return nil
		},
	}
}

func newStartCommand(rootOpts *rootOptions) *cobra.Command {
	var mode, method string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a reconciliation run",
		Long: `Start a reconciliation run.

A full run creates missing items and refreshes listed fields; a prices
run only corrects prices of items the store already has. The method
flag overrides the server's configured backend for this run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(rootOpts)

			body := map[string]string{"mode": mode}
			if method != "" {
				body["method"] = method
			}

			var snap run.Snapshot
			if err := client.post(cmd.Context(), "/api/sync", body, &snap); err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return printJSON(snap)
			}

			fmt.Printf("Run accepted: %s sync via %s backend\n", snap.Mode, snap.Backend)
			fmt.Println("Follow progress with: syncctl watch")
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "full", "run mode (full|prices)")
	cmd.Flags().StringVar(&method, "method", "", "backend override (rest|remote)")

	return cmd
}

func newStopCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Request cancellation of the active run",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(rootOpts)

			var snap run.Snapshot
			if err := client.post(cmd.Context(), "/api/sync/stop", nil, &snap); err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return printJSON(snap)
			}

			if snap.Running {
				fmt.Println("Stop requested; the run winds down at its next boundary")
			} else {
				fmt.Println("No run active")
			}
			return nil
		},
	}
}

func newRunsCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List recent runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(rootOpts)

			var records []run.Record
			if err := client.get(cmd.Context(), "/api/runs", &records); err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return printJSON(records)
			}

			if len(records) == 0 {
				fmt.Println("No runs recorded")
				return nil
			}
			fmt.Printf("%-20s %-7s %-7s %-9s %8s %8s %8s %7s\n",
				"STARTED", "MODE", "BACKEND", "PHASE", "CREATED", "UPDATED", "SKIPPED", "ERRORS")
			for _, rec := range records {
				fmt.Printf("%-20s %-7s %-7s %-9s %8d %8d %8d %7d\n",
					rec.StartedAt.Format("2006-01-02 15:04:05"),
					rec.Mode, rec.Backend, rec.Phase,
					rec.Created, rec.Updated, rec.Skipped, rec.Errors,
				)
				if rec.Failure != "" {
					fmt.Printf("    failure: %s\n", rec.Failure)
				}
			}
			return nil
		},
	}
}

func newCountCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Ask the destination store for its published item count",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(rootOpts)

			var pc productCount
			if err := client.get(cmd.Context(), "/api/products/count", &pc); err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return printJSON(pc)
			}

			fmt.Printf("%d published items\n", pc.Count)
			return nil
		},
	}
}

func newWatchCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the live event stream",
		Long: `Follow the live event stream.

Prints run log lines and progress updates as the server publishes them.
The stream stays open until interrupted; it also carries events from
runs started elsewhere.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			client := newAPIClient(rootOpts)
			body, err := client.stream(ctx, "/api/events")
			if err != nil {
				return err
			}
			defer body.Close()

			return followStream(ctx, body, rootOpts.Format == "json")
		},
	}
}

// followStream parses the SSE frames and prints one line per event.
func followStream(ctx context.Context, body io.Reader, rawJSON bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType string
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			printEvent(eventType, data, rawJSON)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream closed: %w", err)
	}
	return nil
}

func printEvent(eventType, data string, rawJSON bool) {
	if rawJSON {
		fmt.Printf("{\"event\":%q,\"data\":%s}\n", eventType, data)
		return
	}

	switch eventType {
	case "log":
		var entry run.LogEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return
		}
		fmt.Printf("%s  %-5s %s\n", entry.Time.Format("15:04:05"), entry.Level, entry.Message)
	case "init", "progress":
		var snap run.Snapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return
		}
		if eventType == "init" {
			fmt.Print("connected: ")
		}
		printSnapshot(&snap)
	}
}

// printSnapshot renders a one-screen summary of the run state.
func printSnapshot(snap *run.Snapshot) {
	if !snap.Running && snap.StartedAt == nil {
		fmt.Println("idle, no run recorded")
		return
	}

	state := "finished"
	if snap.Running {
		state = "running"
	}
	fmt.Printf("%s %s (%s sync via %s backend)\n", snap.Phase, state, snap.Mode, snap.Backend)
	if snap.Total > 0 {
		fmt.Printf("  groups:  %d/%d", snap.Progress, snap.Total)
		if snap.CurrentGroup != "" {
			fmt.Printf("  current: %s", snap.CurrentGroup)
		}
		fmt.Println()
	}
	fmt.Printf("  counts:  %d created, %d updated, %d skipped, %d errors\n",
		snap.Created, snap.Updated, snap.Skipped, snap.Errors)
	if snap.StartedAt != nil {
		end := time.Now()
		if snap.EndedAt != nil {
			end = *snap.EndedAt
		}
		fmt.Printf("  elapsed: %s\n", end.Sub(*snap.StartedAt).Round(time.Second))
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
