package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"loanops/internal/domain"
	"loanops/internal/engine"
	"loanops/internal/repo"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long: `Tasks move OPEN -> IN_PROGRESS -> COMPLETED.
PERSONAL tasks are assigned to yourself, COMMON tasks to anyone active, and
HIERARCHICAL tasks follow the reporting lines: DOWNWARD to a direct report,
UPWARD to your direct manager.`,
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskValidateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskCommentCmd())
	task.AddCommand(taskCommentsCmd())
	return task
}

type taskFlags struct {
	opts      engine.TaskCreateOptions
	taskType  string
	direction string
	priority  string
}

func (f *taskFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.opts.ID, "id", "", "task id (generated when omitted)")
	cmd.Flags().StringVar(&f.opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&f.opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&f.opts.AssignedTo, "assigned-to", "", "assignee user id")
	cmd.Flags().StringVar(&f.taskType, "type", "", "PERSONAL, COMMON or HIERARCHICAL")
	cmd.Flags().StringVar(&f.direction, "direction", "", "DOWNWARD or UPWARD (HIERARCHICAL only)")
	cmd.Flags().StringVar(&f.opts.LinkedCaseID, "case", "", "linked loan case id")
	cmd.Flags().StringVar(&f.priority, "priority", "", "LOW, MEDIUM or HIGH")
	cmd.Flags().StringVar(&f.opts.DueDate, "due", "", "due date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("assigned-to")
	_ = cmd.MarkFlagRequired("type")
}

func (f *taskFlags) options() engine.TaskCreateOptions {
	opts := f.opts
	opts.Type = domain.TaskType(f.taskType)
	opts.Direction = domain.Direction(f.direction)
	opts.Priority = domain.Priority(f.priority)
	opts.ActorID = actorID()
	return opts
}

func taskCreateCmd() *cobra.Command {
	var f taskFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, f.options())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func taskValidateCmd() *cobra.Command {
	var f taskFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check whether a task could be created, without creating it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ValidateTask(ctx, f.options()); err != nil {
					return err
				}
				return printJSONOrTable(map[string]bool{"valid": true})
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func taskListCmd() *cobra.Command {
	var filters repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListTasks(ctx, filters)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("ID", "TITLE", "TYPE", "TO", "BY", "STATUS", "PRIORITY", "DUE")
				for _, task := range items {
					kind := string(task.Type)
					if task.Direction != domain.DirectionNone {
						kind += "/" + string(task.Direction)
					}
					t.AppendRow(table.Row{task.ID, task.Title, kind, task.AssignedTo, task.AssignedBy, task.Status, task.Priority, task.DueDate})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filters.AssignedTo, "assigned-to", "", "filter by assignee")
	cmd.Flags().StringVar(&filters.AssignedBy, "assigned-by", "", "filter by assigner")
	cmd.Flags().StringVar(&filters.Participant, "participant", "", "tasks where the user is assignee or assigner")
	cmd.Flags().StringVar(&filters.Status, "status", "", "filter by status")
	cmd.Flags().StringVar(&filters.Type, "type", "", "filter by task type")
	cmd.Flags().IntVar(&filters.Limit, "limit", 100, "max results")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, description, assignedTo, taskType, direction, linkedCase, priority, due string
	var clearDirection bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task; routing is re-checked against the current hierarchy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{ID: args[0], ActorID: actorID()}
			changed := cmd.Flags().Changed
			if changed("title") {
				opts.Title = &title
			}
			if changed("description") {
				opts.Description = &description
			}
			if changed("assigned-to") {
				opts.AssignedTo = &assignedTo
			}
			if changed("type") {
				tt := domain.TaskType(taskType)
				opts.Type = &tt
			}
			if clearDirection {
				none := domain.DirectionNone
				opts.Direction = &none
			} else if changed("direction") {
				d := domain.Direction(direction)
				opts.Direction = &d
			}
			if changed("case") {
				opts.LinkedCaseID = &linkedCase
			}
			if changed("priority") {
				p := domain.Priority(priority)
				opts.Priority = &p
			}
			if changed("due") {
				opts.DueDate = &due
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&assignedTo, "assigned-to", "", "assignee user id")
	cmd.Flags().StringVar(&taskType, "type", "", "PERSONAL, COMMON or HIERARCHICAL")
	cmd.Flags().StringVar(&direction, "direction", "", "DOWNWARD or UPWARD")
	cmd.Flags().BoolVar(&clearDirection, "clear-direction", false, "remove the direction")
	cmd.Flags().StringVar(&linkedCase, "case", "", "linked loan case id")
	cmd.Flags().StringVar(&priority, "priority", "", "LOW, MEDIUM or HIGH")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	cmd.MarkFlagsMutuallyExclusive("direction", "clear-direction")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id> <OPEN|IN_PROGRESS|COMPLETED>",
		Short: "Change the status of a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SetTaskStatus(ctx, actorID(), args[0], domain.Status(args[1]))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task and its comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteTask(ctx, actorID(), args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted task %s\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func taskCommentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comment <id> <text>",
		Short: "Add a comment to a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddComment(ctx, actorID(), args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func taskCommentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comments <id>",
		Short: "List comments on a task, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListComments(ctx, actorID(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("AT", "BY", "COMMENT")
				for _, c := range items {
					t.AppendRow(table.Row{c.CreatedAt, c.CreatedBy, c.Comment})
				}
				t.Render()
				return nil
			})
		},
	}
	return cmd
}
