package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/tuanbt/vickyboard/internal/dashboard"
	"github.com/tuanbt/vickyboard/internal/events"
	"github.com/tuanbt/vickyboard/internal/logger"
	"github.com/tuanbt/vickyboard/internal/task"
)

func (a *app) logsCommand() *cobra.Command {
	var (
		follow bool
		start  int
	)
	cmd := &cobra.Command{
		Use:   "logs <id>",
		Short: "Print the log of a task",
		Args:  exactlyOneID,
		RunE: func(cmd *cobra.Command, args []string) error {
			if start < 0 {
				return fmt.Errorf("--start must not be negative")
			}
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}

			if !follow {
				lines, err := client.GetTaskLogs(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				for _, line := range lines[min(start, len(lines)):] {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			}

			log := logger.NewConsoleLogger(a.cfg)
			ctx, cancel := signalContext(cmd.Context(), log)
			defer cancel()

			out := cmd.OutOrStdout()
			stream := events.NewLogStream(client, args[0], func(line string) {
				fmt.Fprintln(out, line)
			}, events.WithLogger(log), events.WithBackoff(dashboard.Backoff(a.cfg)))
			stream.Skip(start)
			return followStream(ctx, stream)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new lines")
	cmd.Flags().IntVar(&start, "start", 0, "Skip this many lines")
	return cmd
}

func (a *app) eventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Print global task events as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			log := logger.NewConsoleLogger(a.cfg)
			ctx, cancel := signalContext(cmd.Context(), log)
			defer cancel()

			hub := events.NewHub(client, log, events.WithBackoff(dashboard.Backoff(a.cfg)))
			hub.Subscribe(eventPrinter(cmd.OutOrStdout()))
			return followStream(ctx, hub)
		},
	}
}

// eventPrinter writes one line per event, timestamped on arrival.
func eventPrinter(w io.Writer) events.Listener {
	var mu sync.Mutex
	return func(evt task.GlobalEvent) {
		mu.Lock()
		defer mu.Unlock()
		ts := time.Now().Format(time.TimeOnly)
		if evt.Type == task.EventTaskUpdate {
			fmt.Fprintf(w, "%s  %s  %s\n", ts, evt.Type, evt.UUID)
			return
		}
		fmt.Fprintf(w, "%s  %s\n", ts, evt.Type)
	}
}

// stream is the part of a hub or log stream the follow commands drive.
type stream interface {
	OnState(func(events.StateChange))
	Start(ctx context.Context)
	Stop()
}

// followStream runs s until ctx is done or s gives up reconnecting.
func followStream(ctx context.Context, s stream) error {
	failed := make(chan error, 1)
	s.OnState(func(c events.StateChange) {
		if c.State == events.StateFailed {
			select {
			case failed <- c.Err:
			default:
			}
		}
	})
	s.Start(ctx)
	defer s.Stop()

	select {
	case <-ctx.Done():
		return nil
	case err := <-failed:
		return fmt.Errorf("stream closed: %w", err)
	}
}
