package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.detail.Width = msg.Width - 4
		m.detail.Height = msg.Height - 6
		return m, nil

	case tickMsg:
		if m.currentView == viewBoard {
			return m, tea.Batch(m.refresh(), tick())
		}
		return m, tick()

	case refreshedMsg:
		m.rebuildColumns(msg.tasks, msg.fifo)
		m.current = msg.current
		return m, nil

	case detailMsg:
		m.selected = msg.task
		m.selectedInfo = msg.info
		m.selectedEvents = msg.events
		m.detail.SetContent(m.detailContent())
		m.detail.GotoTop()
		m.currentView = viewDetail
		return m, nil

	case statusMsgMsg:
		m.statusMsg = string(msg)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}

	switch m.currentView {
	case viewDetail:
		switch msg.String() {
		case "q", "esc":
			m.currentView = viewBoard
			return m, m.refresh()
		default:
			var cmd tea.Cmd
			m.detail, cmd = m.detail.Update(msg)
			return m, cmd
		}

	default: // viewBoard
		switch msg.String() {
		case "q":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		case "left", "h":
			m.cursorCol--
			m.clampCursor()
		case "right", "l":
			m.cursorCol++
			m.clampCursor()
		case "up", "k":
			m.cursorRow--
			m.clampCursor()
		case "down", "j":
			m.cursorRow++
			m.clampCursor()
		case "enter":
			if t := m.selectedFromBoard(); t != nil {
				return m, m.loadDetail(t.TaskID)
			}
		}
	}
	return m, nil
}
