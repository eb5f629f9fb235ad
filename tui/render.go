package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"taskboard/domain"
)

// Styles
var (
	criteriaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	columnStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("241"))

	hoverColumnStyle = columnStyle.
				BorderForeground(lipgloss.Color("205"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229"))

	selectedCardStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("229")).
				Background(lipgloss.Color("57"))

	carriedCardStyle = selectedCardStyle.
				Background(lipgloss.Color("205"))

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	messageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	priorityColors = map[domain.Priority]lipgloss.Color{
		domain.PriorityLow:    lipgloss.Color("245"),
		domain.PriorityMedium: lipgloss.Color("214"),
		domain.PriorityHigh:   lipgloss.Color("196"),
	}
)

const pendingMark = "↻"

func label(s domain.Status) string {
	switch s {
	case domain.StatusTodo:
		return "To do"
	case domain.StatusInProgress:
		return "In progress"
	case domain.StatusCompleted:
		return "Completed"
	}
	return string(s)
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(criteriaStyle.Render(fmt.Sprintf("sort %s · status %s · priority %s · due %s",
		m.criteria.SortBy, m.criteria.Status, m.criteria.Priority, m.criteria.Due)))
	b.WriteString("\n\n")

	if m.loading {
		b.WriteString("Loading tasks…\n")
		return b.String()
	}

	cols := m.columns()
	rendered := make([]string, 0, len(m.statuses))
	for i, status := range m.statuses {
		rendered = append(rendered, m.renderColumn(i, status, cols[status]))
		if i < len(m.statuses)-1 {
			rendered = append(rendered, strings.Repeat(" ", columnGap))
		}
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, rendered...))
	b.WriteString("\n")

	if m.toast != "" {
		style := messageStyle
		if m.toastErr {
			style = errorStyle
		}
		b.WriteString(style.Render(m.toast))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render(m.help()))
	return b.String()
}

func (m Model) renderColumn(idx int, status domain.Status, cards []domain.Task) string {
	inner := m.columnWidth() - 2
	lines := []string{titleStyle.Render(truncate(fmt.Sprintf("%s (%d)", label(status), len(cards)), inner))}
	for i, t := range cards {
		line := m.cardLine(t, inner)
		switch {
		case m.carrying != nil && m.carrying.TaskID == t.ID:
			line = carriedCardStyle.Render(line)
		case idx == m.col && i == m.row && m.carrying == nil:
			line = selectedCardStyle.Render(line)
		}
		lines = append(lines, line)
	}
	if len(cards) == 0 {
		lines = append(lines, pendingStyle.Render("empty"))
	}

	style := columnStyle
	if m.carrying != nil && idx == m.hover {
		style = hoverColumnStyle
	}
	return style.Width(inner).Render(strings.Join(lines, "\n"))
}

// cardLine renders one card on a single row: a sync marker, the priority
// initial, then title and due date.
func (m Model) cardLine(t domain.Task, width int) string {
	text := t.Title
	if t.DueDate != nil {
		text += " " + t.DueDate.String()
	}
	state := " "
	if m.engine.Pending(t.ID) {
		state = pendingStyle.Render(pendingMark)
	}
	mark := "?"
	if t.Priority != "" {
		mark = string(t.Priority[:1])
	}
	prio := lipgloss.NewStyle().Foreground(priorityColors[t.Priority]).Render(mark)
	return state + prio + " " + truncate(text, width-3)
}

func (m Model) columnWidth() int {
	if len(m.layout) == 0 {
		return 24
	}
	return m.layout[0].Right - m.layout[0].Left
}

func (m Model) help() string {
	if m.carrying != nil {
		return "←/→ choose column · space drop · esc cancel"
	}
	return "←/→/↑/↓ move · space pick up · s sort · f status · p priority · d due · r reload · q quit"
}

func truncate(s string, width int) string {
	if width <= 1 || lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && lipgloss.Width(string(r))+1 > width {
		r = r[:len(r)-1]
	}
	return string(r) + "…"
}
