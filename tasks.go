package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskboard/board"
	"taskboard/client"
	"taskboard/domain"
	"taskboard/view"
)

var (
	listSort     string
	listStatus   string
	listPriority string
	listDue      string

	taskTitle       string
	taskDescription string
	taskPriority    string
	taskDue         string
	taskClearDue    bool
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage tasks on the server",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks grouped by column",
	RunE: func(cmd *cobra.Command, args []string) error {
		criteria, err := view.ParseCriteria(listSort, listStatus, listPriority, listDue)
		if err != nil {
			return err
		}
		engine, err := openBoard(cmd.Context())
		if err != nil {
			return err
		}
		printColumns(cmd.OutOrStdout(), view.Derive(engine.Store().All(), criteria, time.Now()))
		return nil
	},
}

var tasksAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		draft := domain.TaskDraft{Title: args[0], Description: taskDescription}
		if taskPriority != "" {
			p, err := domain.ParsePriority(taskPriority)
			if err != nil {
				return err
			}
			draft.Priority = p
		}
		if taskDue != "" {
			d, err := domain.ParseDate(taskDue)
			if err != nil {
				return err
			}
			draft.DueDate = &d
		}
		engine := newEngine()
		task, err := engine.Create(cmd.Context(), draft)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s %q\n", task.ID, task.Title)
		return nil
	},
}

var tasksEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change the title, description, priority or due date of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := editPatch(cmd)
		if err != nil {
			return err
		}
		engine, err := openBoard(cmd.Context())
		if err != nil {
			return err
		}
		task, err := engine.Edit(cmd.Context(), args[0], patch)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated %s %q\n", task.ID, task.Title)
		return nil
	},
}

var tasksMoveCmd = &cobra.Command{
	Use:   "move <id> <status>",
	Short: "Move a task to another column",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := domain.ParseStatus(args[1])
		if err != nil {
			return err
		}
		engine, err := openBoard(cmd.Context())
		if err != nil {
			return err
		}
		outcomes, err := engine.RequestTransition(cmd.Context(), args[0], target)
		if err != nil {
			return err
		}
		out, reported := <-outcomes
		if !reported {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is already in %s\n", args[0], target)
			return nil
		}
		if !out.OK {
			return fmt.Errorf("move rolled back to %s: %w", out.Task.Status, out.Reason)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Moved %q to %s\n", out.Task.Title, out.Task.Status)
		return nil
	},
}

var tasksRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newEngine().Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	tasksListCmd.Flags().StringVar(&listSort, "sort", string(view.SortCreated), "CREATED, DUE_DATE or PRIORITY")
	tasksListCmd.Flags().StringVar(&listStatus, "status", view.All, "status filter")
	tasksListCmd.Flags().StringVar(&listPriority, "priority", view.All, "priority filter")
	tasksListCmd.Flags().StringVar(&listDue, "due", view.All, "ALL, TODAY, THIS_WEEK or THIS_MONTH")

	for _, c := range []*cobra.Command{tasksAddCmd, tasksEditCmd} {
		c.Flags().StringVar(&taskDescription, "description", "", "task description")
		c.Flags().StringVar(&taskPriority, "priority", "", "LOW, MEDIUM or HIGH")
		c.Flags().StringVar(&taskDue, "due", "", "due date (YYYY-MM-DD)")
	}
	tasksEditCmd.Flags().StringVar(&taskTitle, "title", "", "new title")
	tasksEditCmd.Flags().BoolVar(&taskClearDue, "clear-due", false, "remove the due date")

	tasksCmd.AddCommand(tasksListCmd, tasksAddCmd, tasksEditCmd, tasksMoveCmd, tasksRmCmd)
	rootCmd.AddCommand(tasksCmd)
}

func newEngine() *board.Engine {
	return board.NewEngine(board.NewStore(), client.New(cfg.ServerURL, cfg.Token), log.StandardLogger())
}

// openBoard returns an engine whose store holds the user's tasks.
func openBoard(ctx context.Context) (*board.Engine, error) {
	engine := newEngine()
	if err := engine.Load(ctx); err != nil {
		if errors.Is(err, domain.ErrAuthExpired) {
			return nil, fmt.Errorf("%w: run `taskboard login`", err)
		}
		return nil, err
	}
	return engine, nil
}

// editPatch builds a patch from the flags that were set explicitly.
func editPatch(cmd *cobra.Command) (domain.Patch, error) {
	var p domain.Patch
	flags := cmd.Flags()
	if flags.Changed("title") {
		p.Title = &taskTitle
	}
	if flags.Changed("description") {
		p.Description = &taskDescription
	}
	if flags.Changed("priority") {
		prio, err := domain.ParsePriority(taskPriority)
		if err != nil {
			return domain.Patch{}, err
		}
		p.Priority = &prio
	}
	if flags.Changed("due") {
		d, err := domain.ParseDate(taskDue)
		if err != nil {
			return domain.Patch{}, err
		}
		p.DueDate = &d
	}
	if taskClearDue {
		if p.DueDate != nil {
			return domain.Patch{}, &domain.ValidationError{Field: "dueDate", Message: "--due and --clear-due are exclusive"}
		}
		p.ClearDueDate = true
	}
	if p.IsEmpty() {
		return domain.Patch{}, &domain.ValidationError{Message: "nothing to change"}
	}
	return p, nil
}

var headerStyle = lipgloss.NewStyle().Bold(true)

func printColumns(w io.Writer, cols view.Columns) {
	for _, status := range domain.Statuses() {
		tasks := cols[status]
		fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%s (%d)", status, len(tasks))))
		if len(tasks) == 0 {
			continue
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("ID", "TITLE", "PRIORITY", "DUE")
		for _, task := range tasks {
			due := ""
			if task.DueDate != nil {
				due = task.DueDate.String()
			}
			t.Row(task.ID, task.Title, string(task.Priority), due)
		}
		fmt.Fprintln(w, t.String())
	}
}
