package cli

import (
	"fmt"

	"github.com/imkarma/relay/internal/queue"
	"github.com/imkarma/relay/internal/store"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Quick status overview, or one task's full state",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	d, err := openDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	if len(args) == 1 {
		return printTask(d, args[0])
	}
	return printOverview(d)
}

func printOverview(d *deps) error {
	tasks, err := d.store.List()
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Printf("No tasks. Run: %srelay import <task-id>%s\n", colorCyan, colorReset)
		return nil
	}

	counts := map[store.State]int{}
	var failed []store.TaskState
	for _, t := range tasks {
		counts[t.State]++
		if t.State == store.StateError {
			failed = append(failed, t)
		}
	}

	fmt.Printf("%sTasks: %d total%s\n", colorBold, len(tasks), colorReset)
	order := []store.State{
		store.StatePending, store.StateInProgress, store.StateTesting,
		store.StateAwaitingApproval, store.StateApproved, store.StateRejected,
		store.StateCompleted, store.StateError,
	}
	for _, s := range order {
		if counts[s] == 0 {
			continue
		}
		fmt.Printf("  %-19s %s%d%s\n", string(s)+":", stateColor(s), counts[s], colorReset)
	}

	if cur, err := d.store.Current(); err == nil && cur != "" {
		fmt.Printf("\n%s● running:%s %s\n", colorBlue, colorReset, cur)
	}

	if snap, err := d.queue.Snapshot(); err == nil && len(snap[queue.SetQueued]) > 0 {
		fmt.Printf("\n%sQueued (FIFO):%s\n", colorBold, colorReset)
		for i, id := range snap[queue.SetQueued] {
			fmt.Printf("  %d. %s\n", i+1, id)
		}
	}

	if len(failed) > 0 {
		fmt.Printf("\n%s✗  Failed tasks%s\n", colorRed+colorBold, colorReset)
		for _, t := range failed {
			fmt.Printf("  %s%s%s: %s\n", colorYellow, t.TaskID, colorReset, t.Error)
			fmt.Printf("       → %srelay retry %s%s\n", colorCyan, t.TaskID, colorReset)
		}
	}
	return nil
}

func printTask(d *deps, taskID string) error {
	st, err := d.store.Load(taskID)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("no task %s", taskID)
	}

	fmt.Printf("%s%s%s  %s%s%s\n", colorBold, st.TaskID, colorReset, stateColor(st.State), st.State, colorReset)
	if info, _ := d.store.LoadInfo(taskID); info != nil {
		fmt.Printf("  title:      %s\n", info.Title)
		if info.SourceURL != "" {
			fmt.Printf("  source:     %s\n", info.SourceURL)
		}
	}
	if st.BranchName != "" {
		fmt.Printf("  branch:     %s\n", st.BranchName)
	}
	if st.BaseCommitHash != "" {
		fmt.Printf("  base:       %s\n", st.BaseCommitHash)
	}
	if st.CurrentStep != "" {
		fmt.Printf("  step:       %s\n", st.CurrentStep)
	}
	fmt.Printf("  updated:    %s\n", st.UpdatedAt.Format("2006-01-02 15:04:05"))
	if st.Error != "" {
		fmt.Printf("  %serror:      %s%s\n", colorRed, st.Error, colorReset)
	}
	for _, r := range st.Revisions {
		fmt.Printf("  revision %d: %s\n", r.Iteration, r.Feedback)
	}
	return nil
}
