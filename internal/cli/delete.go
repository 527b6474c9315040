package cli

import (
	"errors"
	"fmt"

	"github.com/imkarma/relay/internal/cleanup"
	"github.com/spf13/cobra"
)

var deleteAll bool

var deleteCmd = &cobra.Command{
	Use:   "delete [task-id]",
	Short: "Erase every artifact of a task (or all tasks with --all)",
	Long: "Removes the task's status documents, queue marker, logs, workspace workflow\n" +
		"directory, and event rows. Running tasks are refused; cancel them first.",
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteAll, "all", false, "delete every non-running task")
}

func runDelete(cmd *cobra.Command, args []string) error {
	d, err := openDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	if deleteAll {
		if len(args) != 0 {
			return fmt.Errorf("--all takes no task id")
		}
		rep, err := d.orc.DeleteAll()
		if err != nil {
			return err
		}
		fmt.Printf("%s✓%s deleted %d task(s)\n", colorGreen, colorReset, rep.Deleted)
		for _, e := range rep.Errors {
			fmt.Printf("  %s⚠ %s%s\n", colorYellow, e, colorReset)
		}
		return nil
	}

	if len(args) != 1 {
		return fmt.Errorf("expected a task id (or --all)")
	}
	taskID := args[0]

	found, err := d.orc.Delete(taskID)
	if err != nil {
		if errors.Is(err, cleanup.ErrTaskRunning) {
			return fmt.Errorf("%s is running; run %srelay cancel %s%s first",
				taskID, colorCyan, taskID, colorReset)
		}
		return err
	}
	if !found {
		fmt.Printf("%sNothing to delete for %s.%s\n", colorDim, taskID, colorReset)
		return nil
	}
	fmt.Printf("%s✓%s deleted %s\n", colorGreen, colorReset, taskID)
	return nil
}
