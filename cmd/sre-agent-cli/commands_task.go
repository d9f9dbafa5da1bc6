package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// =============================================================================
// Task Commands
// =============================================================================

func buildTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and manage task execution records",
	}
	cmd.AddCommand(
		buildTaskListCmd(),
		buildTaskGetCmd(),
		buildTaskDeleteCmd(),
	)
	return cmd
}

func buildTaskListCmd() *cobra.Command {
	var (
		threadID string
		limit    int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List task IDs for a thread, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if threadID == "" {
				return fmt.Errorf("--thread-id is required")
			}
			d := depsFromContext(cmd)
			ids, err := d.tasks.ListByThread(cmd.Context(), threadID, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(ids)
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&threadID, "thread-id", "", "Thread to list tasks for (required)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max number of tasks to return")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print machine-readable JSON")
	return cmd
}

func buildTaskGetCmd() *cobra.Command {
	var (
		taskID string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show a task's status, updates, and result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID == "" {
				return fmt.Errorf("--task-id is required")
			}
			d := depsFromContext(cmd)
			state, err := d.tasks.Get(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(state)
			}
			fmt.Printf("task_id:   %s\n", state.TaskID)
			fmt.Printf("thread_id: %s\n", state.ThreadID)
			fmt.Printf("status:    %s\n", state.Status)
			if state.ErrorMessage != "" {
				fmt.Printf("error:     %s\n", state.ErrorMessage)
			}
			for _, u := range state.Updates {
				fmt.Printf("  [%s] %s: %s\n", u.Timestamp.Format("15:04:05"), u.UpdateType, u.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "Task to show (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print machine-readable JSON")
	return cmd
}

func buildTaskDeleteCmd() *cobra.Command {
	var (
		taskID   string
		threadID string
	)
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a task and its entry in the owning thread's index",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID == "" {
				return fmt.Errorf("--task-id is required")
			}
			d := depsFromContext(cmd)
			if threadID == "" {
				if state, err := d.tasks.Get(cmd.Context(), taskID); err == nil {
					threadID = state.ThreadID
				}
			}
			if err := d.tasks.Delete(cmd.Context(), threadID, taskID); err != nil {
				return err
			}
			fmt.Printf("deleted task %s\n", taskID)
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "Task to delete (required)")
	cmd.Flags().StringVar(&threadID, "thread-id", "", "Owning thread ID (looked up automatically if omitted)")
	return cmd
}
