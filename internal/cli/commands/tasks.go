package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/admin/internal/admin/task"
	"github.com/conduit-lang/admin/internal/cli/config"
	"github.com/conduit-lang/admin/internal/cli/ui"
	"github.com/conduit-lang/admin/internal/demo"
	"github.com/conduit-lang/admin/internal/orm/store"
)

// NewTasksCommand creates the tasks command
func NewTasksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect background tasks",
		Long: `Inspect and stop background tasks recorded by a running server.

Only shared task stores can be reached from here: tasks.backend must be
redis or sql.`,
	}

	cmd.AddCommand(newTasksListCommand())
	cmd.AddCommand(newTasksShowCommand())
	cmd.AddCommand(newTasksStopCommand())

	return cmd
}

func newTasksListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTaskStore(cmd, func(ctx context.Context, ps task.ProgressStore) error {
				list, err := ps.List(ctx, limit)
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tasks recorded.")
					return nil
				}
				t := ui.NewTable(cmd.OutOrStdout(), noColor, "ID", "NAME", "STATUS", "PROGRESS", "UPDATED", "MESSAGE")
				for _, p := range list {
					t.AddRow(p.ID.String(), p.Name, string(p.Status), percent(p),
						p.UpdatedAt.Local().Format(time.DateTime), p.Message)
				}
				t.Render()
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of tasks")

	return cmd
}

func newTasksShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return withTaskStore(cmd, func(ctx context.Context, ps task.ProgressStore) error {
				p, err := ps.Get(ctx, id)
				if err != nil {
					return err
				}
				renderProgress(cmd, p)
				return nil
			})
		},
	}
}

func newTasksStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Ask a running task to stop",
		Long:  "Set the stop flag of a task. The task stops at its next progress report.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return withTaskStore(cmd, func(ctx context.Context, ps task.ProgressStore) error {
				if err := ps.RequestStop(ctx, id); err != nil {
					return err
				}
				ui.Success(cmd.OutOrStdout(), "stop requested for "+id.String(), noColor)
				return nil
			})
		},
	}
}

func renderProgress(cmd *cobra.Command, p *task.Progress) {
	kv := ui.NewKeyValueTable(cmd.OutOrStdout(), noColor)
	kv.AddRow("id", p.ID.String())
	kv.AddRow("name", p.Name)
	kv.AddRow("status", string(p.Status))
	kv.AddRow("progress", fmt.Sprintf("%s (%d/%d)", percent(p), p.Partial, p.Total))
	if p.Message != "" {
		kv.AddRow("message", p.Message)
	}
	kv.AddRow("stop requested", strconv.FormatBool(p.StopRequested))
	if p.Error != nil {
		kv.AddRow("error", *p.Error)
	}
	kv.AddRow("created", p.CreatedAt.Local().Format(time.DateTime))
	if p.FinishedAt != nil {
		kv.AddRow("finished", p.FinishedAt.Local().Format(time.DateTime))
	}
	kv.Render()
}

func percent(p *task.Progress) string {
	return strconv.FormatFloat(p.Percent(), 'f', 0, 64) + "%"
}

// withTaskStore opens the configured shared task store for the duration of fn
func withTaskStore(cmd *cobra.Command, fn func(context.Context, task.ProgressStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	switch cfg.Tasks.Backend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Cache.RedisAddr, err)
		}
		return fn(ctx, task.NewRedisStore(rdb, redisPrefix, cfg.Tasks.Retention))

	case config.BackendSQL:
		schemas, err := demo.Schemas()
		if err != nil {
			return err
		}
		sqlStore, err := store.Open(cfg.Database.Driver, cfg.Database.URL, schemas)
		if err != nil {
			return err
		}
		defer sqlStore.Close()
		ps := task.NewSQLStore(sqlStore.DB(), cfg.Tasks.Retention)
		if err := ps.EnsureTable(ctx); err != nil {
			return fmt.Errorf("failed to create task table: %w", err)
		}
		return fn(ctx, ps)

	default:
		ui.Message{Context: "tasks", NoColor: noColor,
			Problem: fmt.Sprintf("tasks.backend %q is private to the server process", cfg.Tasks.Backend),
			Hints:   []string{"set tasks.backend to redis or sql to inspect tasks from the command line"}}.Write(cmd.ErrOrStderr())
		return fmt.Errorf("tasks.backend %s cannot be inspected", cfg.Tasks.Backend)
	}
}
