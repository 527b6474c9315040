package cli

import (
	"fmt"
	"os"

	"github.com/imkarma/relay/internal/agent"
	"github.com/imkarma/relay/internal/config"
	"github.com/imkarma/relay/internal/events"
	"github.com/imkarma/relay/internal/queue"
	"github.com/imkarma/relay/internal/store"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize relay in the current directory",
	Long:  "Creates a .relay/ directory with default config, task store, queue, and event log.",
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(relayDirName); err == nil {
		return fmt.Errorf("relay already initialized in this directory (.relay/ exists)")
	}

	if err := os.MkdirAll(relayDirName, 0755); err != nil {
		return fmt.Errorf("create .relay: %w", err)
	}

	cfg := config.DefaultConfig()
	if err := config.Save(relayPath("config.yaml"), cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	if _, err := store.New(relayPath("tasks")); err != nil {
		return fmt.Errorf("create task store: %w", err)
	}
	if _, err := queue.New(relayPath("queue")); err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	log, err := events.Open(relayPath("relay.db"))
	if err != nil {
		return fmt.Errorf("create event log: %w", err)
	}
	log.Close()

	fmt.Println("Initialized relay in .relay/")
	if !agent.CLIAvailable(cfg.Agent.Cmd) {
		fmt.Printf("%snote: agent command %q not found in PATH%s\n", colorYellow, cfg.Agent.Cmd, colorReset)
	}
	fmt.Println("")
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit .relay/config.yaml (workspace, agent, tracker)")
	fmt.Printf("  2. Run: %srelay import <task-id>%s\n", colorCyan, colorReset)
	fmt.Printf("  3. Run: %srelay dispatch%s\n", colorCyan, colorReset)

	return nil
}
