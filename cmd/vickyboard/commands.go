package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tuanbt/vickyboard/internal/filter"
	"github.com/tuanbt/vickyboard/internal/logger"
	"github.com/tuanbt/vickyboard/internal/task"
	"github.com/tuanbt/vickyboard/internal/viewmodel"
)

// filterFlags binds the status and group filter flags shared by list and count.
func filterFlags(cmd *cobra.Command, status, group *string) {
	cmd.Flags().StringVarP(status, "status", "s", "", "Status filter, e.g. RUNNING or FINISHED::ERROR")
	cmd.Flags().StringVarP(group, "group", "g", "", "Group filter")
}

func parseFilter(status, group string) (task.Query, error) {
	f, err := task.ParseStatusFilter(status)
	if err != nil {
		return task.Query{}, err
	}
	return task.Query{Status: f, Group: group}, nil
}

func (a *app) listCommand() *cobra.Command {
	var (
		status, group string
		page          int
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a page of tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := parseFilter(status, group)
			if err != nil {
				return err
			}
			q.Limit = a.cfg.PageSize
			q = q.WithPage(page)

			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			tasks, err := client.GetTasks(cmd.Context(), q)
			if err != nil {
				return err
			}
			printTasks(cmd.OutOrStdout(), tasks, time.Now())

			total, err := client.CountTasks(cmd.Context(), q.Filter())
			if err == nil {
				pages := (total + a.cfg.PageSize - 1) / a.cfg.PageSize
				fmt.Fprintf(cmd.OutOrStdout(), "\n%s: page %d of %d (%d tasks)\n", statusLabel(q.Status), q.Page(), max(pages, 1), total)
			}
			return nil
		},
	}
	filterFlags(cmd, &status, &group)
	cmd.Flags().IntVarP(&page, "page", "p", 1, "1-based page number")
	return cmd
}

func (a *app) countCommand() *cobra.Command {
	var status, group string
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count the tasks matching a filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := parseFilter(status, group)
			if err != nil {
				return err
			}
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			n, err := client.CountTasks(cmd.Context(), q)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	filterFlags(cmd, &status, &group)
	return cmd
}

func (a *app) showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show the details of a task",
		Args:  exactlyOneID,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			t, err := client.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if t == nil {
				return fmt.Errorf("task %s not found", args[0])
			}
			printTask(cmd.OutOrStdout(), t, time.Now())
			return nil
		},
	}
}

func (a *app) confirmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <id>",
		Short: "Confirm a task that needs user validation",
		Args:  exactlyOneID,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.act(cmd, args[0], func(d *viewmodel.Detail) error { return d.Confirm(cmd.Context()) })
		},
	}
}

func (a *app) cancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a task",
		Args:  exactlyOneID,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.act(cmd, args[0], func(d *viewmodel.Detail) error { return d.Cancel(cmd.Context()) })
		},
	}
}

// act runs a task action through the detail view-model and prints the refreshed task.
func (a *app) act(cmd *cobra.Command, id string, action func(*viewmodel.Detail) error) error {
	client, err := a.client(cmd.Context())
	if err != nil {
		return err
	}
	d := viewmodel.NewDetail(cmd.Context(), client, logger.NewConsoleLogger(a.cfg), nil)
	defer d.Close()
	d.SetID(id)
	d.Wait()

	if err := action(d); err != nil {
		return fmt.Errorf("%s: %w", d.ActionError(), err)
	}
	if t := d.Task(); t != nil {
		printTask(cmd.OutOrStdout(), t, time.Now())
	}
	return nil
}

func (a *app) groupsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List the task groups seen in recent tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			tasks, err := client.GetTasks(cmd.Context(), task.Query{Limit: a.cfg.GroupSampleLimit})
			if err != nil {
				return err
			}
			counts := make(map[string]int)
			for _, t := range tasks {
				counts[t.Group]++
			}

			table := newTable(cmd.OutOrStdout(), "GROUP", "TASKS")
			for _, g := range viewmodel.ExtractGroups(tasks) {
				table.Append([]string{g, fmt.Sprint(counts[g])})
			}
			table.Render()
			return nil
		},
	}
}

func (a *app) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			u, err := client.GetUser(cmd.Context())
			if err != nil {
				return err
			}
			if u == nil {
				return fmt.Errorf("not signed in")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", u.FullName, u.Role)
			return nil
		},
	}
}

func (a *app) webConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "web-config",
		Short: "Print the identity provider configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			wc, err := client.GetWebConfig(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(wc)
		},
	}
}

func (a *app) tuiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Run the terminal dashboard (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTUI(cmd.Context())
		},
	}
}

// statusLabel resolves a status filter to its slider label.
func statusLabel(f task.StatusFilter) string {
	for _, o := range filter.DefaultOptions() {
		if o.Value == f {
			return o.Label
		}
	}
	return string(f)
}
