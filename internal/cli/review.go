package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var approveCmd = &cobra.Command{
	Use:   "approve [task-id]",
	Short: "Approve a task awaiting approval and publish its branch",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject [task-id] [feedback]",
	Short: "Reject a task awaiting approval, recording feedback",
	Args:  cobra.ExactArgs(2),
	RunE:  runReject,
}

var retryCmd = &cobra.Command{
	Use:   "retry [task-id]",
	Short: "Re-enqueue a rejected or failed task for another attempt",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetry,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [task-id]",
	Short: "Request cancellation of an in-flight run",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func runApprove(cmd *cobra.Command, args []string) error {
	d, err := openDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	taskID := args[0]
	if err := d.orc.Approve(cmd.Context(), taskID); err != nil {
		return err
	}
	fmt.Printf("%s✓%s %s approved and published\n", colorGreen, colorReset, taskID)
	return nil
}

func runReject(cmd *cobra.Command, args []string) error {
	d, err := openDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	taskID, feedback := args[0], args[1]
	if err := d.orc.Reject(cmd.Context(), taskID, feedback); err != nil {
		return err
	}
	fmt.Printf("%s✗%s %s rejected\n", colorYellow, colorReset, taskID)
	fmt.Printf("  Run: %srelay retry %s%s to drive another attempt\n", colorCyan, taskID, colorReset)
	return nil
}

func runRetry(cmd *cobra.Command, args []string) error {
	d, err := openDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	taskID := args[0]
	if err := d.orc.Retry(cmd.Context(), taskID); err != nil {
		return err
	}
	fmt.Printf("%s✓%s %s re-enqueued\n", colorGreen, colorReset, taskID)
	fmt.Printf("  Run: %srelay dispatch%s\n", colorCyan, colorReset)
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	d, err := openDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	taskID := args[0]
	if err := d.orc.Cancel(taskID); err != nil {
		return err
	}
	fmt.Printf("%s⚠%s cancellation requested for %s; the running dispatcher will stop it\n",
		colorYellow, colorReset, taskID)
	return nil
}
