package cli

import (
	"errors"
	"fmt"

	"github.com/imkarma/relay/internal/queue"
	"github.com/imkarma/relay/internal/store"
	"github.com/spf13/cobra"
)

var dispatchDrain bool

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Claim the queue head and run it through the agent",
	Long: "Recovers any run orphaned by a crash, then claims the oldest queued task,\n" +
		"creates its branch, starts the agent, and waits for completion and tests.\n" +
		"One task runs at a time.",
	RunE: runDispatch,
}

func init() {
	dispatchCmd.Flags().BoolVar(&dispatchDrain, "drain", false, "keep dispatching until the queue is empty")
}

func runDispatch(cmd *cobra.Command, args []string) error {
	d, err := openDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	recovered, err := d.orc.Recover(cmd.Context())
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	for _, id := range recovered {
		fmt.Printf("%s⚠%s recovered stale run %s (marked error)\n", colorYellow, colorReset, id)
	}

	for {
		taskID, err := d.orc.DispatchNext(cmd.Context())
		if errors.Is(err, queue.ErrEmpty) {
			fmt.Printf("%sQueue is empty.%s\n", colorDim, colorReset)
			return nil
		}
		if err != nil {
			return err
		}

		st, lerr := d.store.Load(taskID)
		if lerr != nil || st == nil {
			return fmt.Errorf("load %s after dispatch: %w", taskID, lerr)
		}
		switch st.State {
		case store.StateAwaitingApproval:
			fmt.Printf("%s✓%s %s finished and passed tests, awaiting approval\n", colorGreen, colorReset, taskID)
			fmt.Printf("  Run: %srelay approve %s%s or %srelay reject %s \"feedback\"%s\n",
				colorCyan, taskID, colorReset, colorCyan, taskID, colorReset)
		case store.StateError:
			fmt.Printf("%s✗%s %s failed: %s\n", colorRed, colorReset, taskID, st.Error)
		default:
			fmt.Printf("%s finished in state %s\n", taskID, st.State)
		}

		if !dispatchDrain {
			return nil
		}
	}
}
