package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var logAgentOutput bool

var logCmd = &cobra.Command{
	Use:   "log [task-id]",
	Short: "Show event log for a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runLog,
}

func init() {
	logCmd.Flags().BoolVar(&logAgentOutput, "agent", false, "print the captured agent output instead")
}

func runLog(cmd *cobra.Command, args []string) error {
	d, err := openDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	taskID := args[0]

	if logAgentOutput {
		path, err := d.store.LogPath(taskID)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("no agent log for %s", taskID)
		}
		fmt.Print(string(data))
		return nil
	}

	evs, err := d.events.List(taskID)
	if err != nil {
		return err
	}
	if len(evs) == 0 {
		fmt.Printf("No events for task %s\n", taskID)
		return nil
	}

	fmt.Printf("Events for task %s:\n\n", taskID)
	for _, e := range evs {
		actor := ""
		if e.Actor != "" {
			actor = fmt.Sprintf("[%s] ", e.Actor)
		}
		fmt.Printf("  %s  %s%-16s %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), actor, e.Kind, e.Content)
	}
	return nil
}
