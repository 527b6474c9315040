package cli

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/imkarma/relay/internal/tui"
	"github.com/spf13/cobra"
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Live pipeline board",
	Long:  "Interactive view of the pipeline: queued, running, review, and terminal tasks.",
	RunE:  runBoard,
}

func runBoard(cmd *cobra.Command, args []string) error {
	d, err := openDeps()
	if err != nil {
		return err
	}
	defer d.Close()

	p := tea.NewProgram(tui.New(d.store, d.queue, d.events), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
