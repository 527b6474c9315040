package cli

import (
	"errors"
	"fmt"

	"github.com/imkarma/relay/internal/orchestrator"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import [task-id]",
	Short: "Import a task from the tracker and enqueue it",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	d, err := openDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	taskID := args[0]
	st, err := d.orc.Import(cmd.Context(), taskID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrAlreadyExists) {
			return fmt.Errorf("task %s already imported; use %srelay retry %s%s to re-run it",
				taskID, colorCyan, taskID, colorReset)
		}
		return err
	}

	info, _ := d.store.LoadInfo(taskID)
	title := taskID
	if info != nil && info.Title != "" {
		title = info.Title
	}
	fmt.Printf("%s✓%s Imported %s%s%s: %s (%s)\n",
		colorGreen, colorReset, colorBold, taskID, colorReset, title, st.State)
	fmt.Printf("  Run: %srelay dispatch%s\n", colorCyan, colorReset)
	return nil
}
