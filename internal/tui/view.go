package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/imkarma/relay/internal/store"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)

	columnColors = [numColumns]lipgloss.Color{
		colQueued:  lipgloss.Color("7"),  // white
		colRunning: lipgloss.Color("4"),  // blue
		colReview:  lipgloss.Color("5"),  // magenta
		colDone:    lipgloss.Color("2"),  // green
		colFailed:  lipgloss.Color("1"),  // red
	}

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)

	selectedCardStyle = cardStyle.
				BorderForeground(lipgloss.Color("6")).
				Bold(true)

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).MarginTop(1)
)

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.currentView == viewDetail {
		return m.renderDetail()
	}
	return m.renderBoard()
}

func (m Model) renderBoard() string {
	colWidth := 24
	if m.width > 0 {
		if w := m.width/numColumns - 2; w > 16 {
			colWidth = w
		}
	}

	var cols []string
	for i := 0; i < numColumns; i++ {
		header := headerStyle.Foreground(columnColors[i]).
			Render(fmt.Sprintf("%s (%d)", columnLabels[i], len(m.columns[i])))

		var cards []string
		cards = append(cards, header)
		for j, t := range m.columns[i] {
			style := cardStyle
			if i == m.cursorCol && j == m.cursorRow {
				style = selectedCardStyle
			}
			label := t.TaskID
			if t.TaskID == m.current {
				label = "● " + label
			}
			body := label
			if t.State == store.StateError && t.Error != "" {
				body += "\n" + errStyle.Render(clip(t.Error, colWidth-4))
			} else if t.CurrentStep != "" {
				body += "\n" + dimStyle.Render(clip(t.CurrentStep, colWidth-4))
			}
			cards = append(cards, style.Width(colWidth-2).Render(body))
		}
		cols = append(cols, lipgloss.JoinVertical(lipgloss.Left, cards...))
	}

	board := lipgloss.JoinHorizontal(lipgloss.Top, cols...)
	help := helpStyle.Render("←/→ ↑/↓ move · enter detail · r refresh · q quit")

	out := board + "\n" + help
	if m.statusMsg != "" {
		out += "\n" + errStyle.Render(m.statusMsg)
	}
	return out
}

func (m Model) renderDetail() string {
	if m.selected == nil {
		return "no task selected"
	}
	title := headerStyle.Render(fmt.Sprintf("%s [%s]", m.selected.TaskID, m.selected.State))
	help := helpStyle.Render("↑/↓ scroll · esc back · ctrl+c quit")
	return title + "\n\n" + m.detail.View() + "\n" + help
}

// detailContent renders the selected task's full record for the viewport.
func (m Model) detailContent() string {
	if m.selected == nil {
		return ""
	}
	t := m.selected

	var sb strings.Builder
	if m.selectedInfo != nil {
		fmt.Fprintf(&sb, "Title:   %s\n", m.selectedInfo.Title)
		if m.selectedInfo.SourceURL != "" {
			fmt.Fprintf(&sb, "Source:  %s\n", m.selectedInfo.SourceURL)
		}
		if m.selectedInfo.Assignee != "" {
			fmt.Fprintf(&sb, "Assignee: %s\n", m.selectedInfo.Assignee)
		}
	}
	if t.BranchName != "" {
		fmt.Fprintf(&sb, "Branch:  %s\n", t.BranchName)
	}
	if t.BaseCommitHash != "" {
		fmt.Fprintf(&sb, "Base:    %s\n", t.BaseCommitHash)
	}
	if t.CurrentStep != "" {
		fmt.Fprintf(&sb, "Step:    %s\n", t.CurrentStep)
	}
	fmt.Fprintf(&sb, "Updated: %s\n", t.UpdatedAt.Format("2006-01-02 15:04:05"))
	if t.Error != "" {
		fmt.Fprintf(&sb, "\nError: %s\n", t.Error)
	}

	if len(t.Revisions) > 0 {
		sb.WriteString("\nRevisions:\n")
		for _, r := range t.Revisions {
			fmt.Fprintf(&sb, "  %d. %s: %s\n", r.Iteration, r.Timestamp.Format("01-02 15:04"), r.Feedback)
		}
	}

	if len(m.selectedEvents) > 0 {
		sb.WriteString("\nEvents:\n")
		for _, e := range m.selectedEvents {
			fmt.Fprintf(&sb, "  %s  %-16s %s\n", e.Timestamp.Format("01-02 15:04:05"), e.Kind, e.Content)
		}
	}
	return sb.String()
}

func clip(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
