package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/imkarma/relay/internal/agent"
	"github.com/imkarma/relay/internal/cleanup"
	"github.com/imkarma/relay/internal/config"
	"github.com/imkarma/relay/internal/detect"
	"github.com/imkarma/relay/internal/events"
	"github.com/imkarma/relay/internal/orchestrator"
	"github.com/imkarma/relay/internal/queue"
	"github.com/imkarma/relay/internal/store"
	"github.com/imkarma/relay/internal/testrun"
	"github.com/imkarma/relay/internal/tracker"
)

const relayDirName = ".relay"

// ANSI color codes.
const (
	colorReset   = "\033[0m"
	colorBold    = "\033[1m"
	colorDim     = "\033[2m"
	colorRed     = "\033[31m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorBlue    = "\033[34m"
	colorMagenta = "\033[35m"
	colorCyan    = "\033[36m"
	colorWhite   = "\033[37m"
)

// relayPath returns the path to a file inside .relay/.
func relayPath(parts ...string) string {
	elems := append([]string{relayDirName}, parts...)
	return filepath.Join(elems...)
}

// deps is everything a command needs, opened from the .relay directory.
type deps struct {
	cfg    *config.Config
	store  *store.Store
	queue  *queue.Manager
	events *events.Log
	orc    *orchestrator.Orchestrator
}

func (d *deps) Close() {
	if d.events != nil {
		d.events.Close()
	}
}

// loadConfig reads .relay/config.yaml, failing with a hint when relay has not
// been initialized here.
func loadConfig() (*config.Config, error) {
	cfgPath := relayPath("config.yaml")
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("relay not initialized. Run: relay init")
	}
	return config.Load(cfgPath)
}

// openDeps wires the full pipeline from the .relay directory.
func openDeps() (*deps, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	st, err := store.New(relayPath("tasks"))
	if err != nil {
		return nil, err
	}
	q, err := queue.New(relayPath("queue"))
	if err != nil {
		return nil, err
	}
	log, err := events.Open(relayPath("relay.db"))
	if err != nil {
		return nil, err
	}

	cleaner, err := cleanup.New(cleanup.Config{
		Store:         st,
		Queue:         q,
		Events:        log,
		WorkspaceRoot: cfg.Workspace,
	})
	if err != nil {
		log.Close()
		return nil, err
	}

	var trk tracker.Client
	if cfg.Tracker.BaseURL != "" {
		token := os.Getenv(cfg.Tracker.APIKeyEnv)
		trk = tracker.NewHTTPClient(cfg.Tracker.BaseURL, token)
	}

	orc, err := orchestrator.New(orchestrator.Deps{
		Config:   cfg,
		Store:    st,
		Queue:    q,
		Detector: detect.New(st, cfg.Detector.PollInterval(), cfg.Detector.StaleTimeout()),
		Cleaner:  cleaner,
		Trigger:  agent.NewCLITrigger(cfg.Agent),
		Tests:    testrun.NewCommand(cfg.Tests),
		Tracker:  trk,
		Events:   log,
		Logf: func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, colorDim+format+colorReset+"\n", args...)
		},
	})
	if err != nil {
		log.Close()
		return nil, err
	}

	return &deps{cfg: cfg, store: st, queue: q, events: log, orc: orc}, nil
}

// stateColor maps a lifecycle state to its display color.
func stateColor(s store.State) string {
	switch s {
	case store.StatePending:
		return colorWhite
	case store.StateInProgress, store.StateTesting:
		return colorBlue
	case store.StateAwaitingApproval, store.StateApproved:
		return colorMagenta
	case store.StateCompleted:
		return colorGreen
	case store.StateRejected:
		return colorYellow
	case store.StateError:
		return colorRed
	default:
		return ""
	}
}
