// Package tui renders the live pipeline board: which tasks are queued,
// running, in review, or terminal. The board is read-only; transitions happen
// through the CLI commands, and the board just refreshes from disk.
package tui

import (
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/imkarma/relay/internal/events"
	"github.com/imkarma/relay/internal/queue"
	"github.com/imkarma/relay/internal/store"
)

// view represents which screen the TUI is showing.
type view int

const (
	viewBoard  view = iota // Pipeline board (main)
	viewDetail             // Task detail panel
)

// column indices for navigation
const (
	colQueued  = 0
	colRunning = 1
	colReview  = 2
	colDone    = 3
	colFailed  = 4
	numColumns = 5
)

var columnLabels = [numColumns]string{
	"QUEUED",
	"RUNNING",
	"REVIEW",
	"DONE",
	"FAILED",
}

// columnFor maps a lifecycle state to its board column.
func columnFor(s store.State) int {
	switch s {
	case store.StatePending:
		return colQueued
	case store.StateInProgress, store.StateTesting:
		return colRunning
	case store.StateAwaitingApproval, store.StateApproved:
		return colReview
	case store.StateCompleted:
		return colDone
	default: // error, rejected
		return colFailed
	}
}

const refreshEvery = 2 * time.Second

// Model is the top-level bubbletea model.
type Model struct {
	store *store.Store
	queue *queue.Manager
	log   *events.Log

	width  int
	height int

	currentView view

	// Board state.
	columns   [numColumns][]store.TaskState
	cursorCol int
	cursorRow int
	current   string // taskID the current pointer references

	// Detail state.
	selected       *store.TaskState
	selectedInfo   *store.TaskInfo
	selectedEvents []events.Event
	detail         viewport.Model

	statusMsg string
	quitting  bool
}

// New creates the board model.
func New(st *store.Store, q *queue.Manager, log *events.Log) Model {
	return Model{
		store:  st,
		queue:  q,
		log:    log,
		detail: viewport.New(0, 0),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tick())
}

type refreshedMsg struct {
	tasks   []store.TaskState
	current string
	fifo    []string // queued task ids in claim order
}

type detailMsg struct {
	task   *store.TaskState
	info   *store.TaskInfo
	events []events.Event
}

type tickMsg time.Time

type statusMsgMsg string

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		tasks, err := m.store.List()
		if err != nil {
			return statusMsgMsg("Error listing tasks")
		}
		current, _ := m.store.Current()
		var fifo []string
		if snap, err := m.queue.Snapshot(); err == nil {
			fifo = snap[queue.SetQueued]
		}
		return refreshedMsg{tasks: tasks, current: current, fifo: fifo}
	}
}

func (m Model) loadDetail(taskID string) tea.Cmd {
	return func() tea.Msg {
		task, err := m.store.Load(taskID)
		if err != nil || task == nil {
			return statusMsgMsg("Error loading task")
		}
		info, _ := m.store.LoadInfo(taskID)
		var evs []events.Event
		if m.log != nil {
			evs, _ = m.log.List(taskID)
		}
		return detailMsg{task: task, info: info, events: evs}
	}
}

func (m *Model) rebuildColumns(tasks []store.TaskState, fifo []string) {
	for i := range m.columns {
		m.columns[i] = nil
	}
	for _, t := range tasks {
		c := columnFor(t.State)
		m.columns[c] = append(m.columns[c], t)
	}

	// The queued column follows claim order, not task-id order.
	if len(fifo) > 0 {
		pos := make(map[string]int, len(fifo))
		for i, id := range fifo {
			pos[id] = i
		}
		sort.SliceStable(m.columns[colQueued], func(i, j int) bool {
			a, aok := pos[m.columns[colQueued][i].TaskID]
			b, bok := pos[m.columns[colQueued][j].TaskID]
			if aok && bok {
				return a < b
			}
			return aok
		})
	}
	m.clampCursor()
}

func (m *Model) clampCursor() {
	if m.cursorCol < 0 {
		m.cursorCol = 0
	}
	if m.cursorCol >= numColumns {
		m.cursorCol = numColumns - 1
	}
	col := m.columns[m.cursorCol]
	if m.cursorRow >= len(col) {
		m.cursorRow = len(col) - 1
	}
	if m.cursorRow < 0 {
		m.cursorRow = 0
	}
}

func (m *Model) selectedFromBoard() *store.TaskState {
	col := m.columns[m.cursorCol]
	if m.cursorRow < len(col) {
		t := col[m.cursorRow]
		return &t
	}
	return nil
}
