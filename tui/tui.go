// Package tui is an interactive kanban board for the terminal built on
// Bubble Tea. Cards are moved between columns with the keyboard or by
// dragging with the mouse; moves show immediately and are confirmed with
// the server in the background.
package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"taskboard/board"
	"taskboard/domain"
	"taskboard/view"
)

// Layout constants
const (
	columnGap = 1
	// cardTop is the first screen row holding a card: criteria line, blank
	// line, column border, column title.
	cardTop = 4
	// toastTTL is how long a notification stays on screen.
	toastTTL = 4 * time.Second
)

// Model is the Bubble Tea model for the board.
type Model struct {
	ctx      context.Context
	engine   *board.Engine
	ctrl     *board.Controller
	statuses []domain.Status
	criteria view.Criteria
	now      func() time.Time

	col int
	row int

	// carrying is set while a card is picked up; hover is the column the
	// card would land in.
	carrying *board.Gesture
	hover    int

	width   int
	height  int
	layout  board.Layout
	loading bool

	toast    string
	toastErr bool
	toastID  int
}

// New creates a board model on top of engine.
func New(ctx context.Context, engine *board.Engine) Model {
	return Model{
		ctx:      ctx,
		engine:   engine,
		ctrl:     board.NewController(engine.Store(), engine),
		statuses: domain.Statuses(),
		criteria: view.Default(),
		now:      time.Now,
		loading:  true,
		width:    96,
		layout:   board.EvenLayout(96, columnGap, domain.Statuses()),
	}
}

// Messages
type loadedMsg struct {
	err error
}

type settledMsg struct {
	tr   board.Transition
	task domain.Task
	err  error
}

type clearToastMsg struct {
	id int
}

func (m Model) Init() tea.Cmd {
	return m.load()
}

func (m Model) load() tea.Cmd {
	return func() tea.Msg {
		return loadedMsg{err: m.engine.Load(m.ctx)}
	}
}

// send runs the network half of a transition off the update loop.
func (m Model) send(tr board.Transition) tea.Cmd {
	return func() tea.Msg {
		task, err := m.engine.Send(m.ctx, tr)
		return settledMsg{tr: tr, task: task, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout = board.EvenLayout(m.width, columnGap, m.statuses)
		return m, nil

	case loadedMsg:
		m.loading = false
		if msg.err != nil {
			return m.notify(loadFailure(msg.err), true)
		}
		m.clampRow()
		return m, nil

	case settledMsg:
		out, reported := m.engine.Settle(msg.tr, msg.task, msg.err)
		if reported && !out.OK && out.Task.ID != "" {
			// The card went back; keep the cursor on it.
			m.col = m.indexOf(out.Task.Status)
			m.focus(out.TaskID)
		} else {
			m.clampRow()
		}
		if !reported || out.OK {
			return m, nil
		}
		return m.notify(failureText(out), true)

	case clearToastMsg:
		if msg.id == m.toastID {
			m.toast = ""
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		return m.handleMouse(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "q" || key == "ctrl+c" {
		return m, tea.Quit
	}

	if m.carrying != nil {
		switch key {
		case "left", "h":
			if m.hover > 0 {
				m.hover--
			}
		case "right", "l":
			if m.hover < len(m.statuses)-1 {
				m.hover++
			}
		case " ", "enter":
			return m.drop(m.carrying.ReleaseOn(m.statuses[m.hover]))
		case "esc":
			return m.drop(m.carrying.Cancel())
		}
		return m, nil
	}

	switch key {
	case "left", "h":
		if m.col > 0 {
			m.col--
		}
		m.clampRow()
	case "right", "l":
		if m.col < len(m.statuses)-1 {
			m.col++
		}
		m.clampRow()
	case "up", "k":
		if m.row > 0 {
			m.row--
		}
	case "down", "j":
		m.row++
		m.clampRow()
	case " ", "enter":
		if task, ok := m.selected(); ok {
			return m.pick(task.ID)
		}
	case "s":
		m.criteria.SortBy = next(view.SortKeys(), m.criteria.SortBy)
	case "f":
		m.criteria.Status = next(statusFilters(), m.criteria.Status)
		m.clampRow()
	case "p":
		m.criteria.Priority = next(priorityFilters(), m.criteria.Priority)
		m.clampRow()
	case "d":
		m.criteria.Due = next(view.DueFilters(), m.criteria.Due)
		m.clampRow()
	case "r":
		if m.engine.Expired() {
			return m.notify(sessionExpiredText, true)
		}
		m.loading = true
		return m, m.load()
	}
	return m, nil
}

func (m Model) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft:
		status, ok := m.layout.ColumnAt(msg.X)
		if !ok {
			return m, nil
		}
		m.col = m.indexOf(status)
		m.row = msg.Y - cardTop
		task, ok := m.selected()
		if !ok {
			m.clampRow()
			return m, nil
		}
		return m.pick(task.ID)

	case msg.Action == tea.MouseActionMotion && m.carrying != nil:
		if status, ok := m.layout.ColumnAt(msg.X); ok {
			m.hover = m.indexOf(status)
		}
		return m, nil

	case msg.Action == tea.MouseActionRelease && m.carrying != nil:
		return m.drop(m.carrying.Release(m.layout, msg.X))
	}
	return m, nil
}

func (m Model) pick(id string) (tea.Model, tea.Cmd) {
	g, err := m.ctrl.Pick(id)
	if err != nil {
		return m.notify(err.Error(), true)
	}
	m.carrying = &g
	m.hover = m.indexOf(g.Source)
	return m, nil
}

// drop ends the current gesture. A real move updates the board at once and
// returns the command that confirms it with the server.
func (m Model) drop(ev board.DropEvent) (tea.Model, tea.Cmd) {
	m.carrying = nil
	tr, ok, err := m.ctrl.Drop(ev)
	if err != nil {
		if errors.Is(err, domain.ErrAuthExpired) {
			return m.notify(sessionExpiredText, true)
		}
		return m.notify(err.Error(), true)
	}
	if !ok {
		return m, nil
	}
	m.col = m.indexOf(ev.Target)
	m.focus(ev.TaskID)
	return m, m.send(tr)
}

func (m Model) notify(text string, isErr bool) (tea.Model, tea.Cmd) {
	m.toastID++
	m.toast = text
	m.toastErr = isErr
	id := m.toastID
	return m, tea.Tick(toastTTL, func(time.Time) tea.Msg { return clearToastMsg{id: id} })
}

// columns derives what is on screen from the store and the criteria.
func (m Model) columns() view.Columns {
	return view.Derive(m.engine.Store().All(), m.criteria, m.now())
}

func (m Model) selected() (domain.Task, bool) {
	cards := m.columns()[m.statuses[m.col]]
	if m.row < 0 || m.row >= len(cards) {
		return domain.Task{}, false
	}
	return cards[m.row], true
}

// focus moves the cursor onto id if it is visible in the focused column.
func (m *Model) focus(id string) {
	for i, t := range m.columns()[m.statuses[m.col]] {
		if t.ID == id {
			m.row = i
			return
		}
	}
	m.clampRow()
}

func (m *Model) clampRow() {
	n := len(m.columns()[m.statuses[m.col]])
	if m.row >= n {
		m.row = n - 1
	}
	if m.row < 0 {
		m.row = 0
	}
}

func (m Model) indexOf(s domain.Status) int {
	for i, st := range m.statuses {
		if st == s {
			return i
		}
	}
	return 0
}

func next[T comparable](options []T, current T) T {
	for i, o := range options {
		if o == current {
			return options[(i+1)%len(options)]
		}
	}
	return options[0]
}

func statusFilters() []string {
	out := []string{view.All}
	for _, s := range domain.Statuses() {
		out = append(out, string(s))
	}
	return out
}

func priorityFilters() []string {
	out := []string{view.All}
	for _, p := range domain.Priorities() {
		out = append(out, string(p))
	}
	return out
}

const sessionExpiredText = "Session expired. Run `taskboard login` and reopen the board."

func loadFailure(err error) string {
	if errors.Is(err, domain.ErrAuthExpired) {
		return sessionExpiredText
	}
	return fmt.Sprintf("Couldn't load tasks: %v", err)
}

func failureText(out board.Outcome) string {
	title := out.Task.Title
	if title == "" {
		title = out.TaskID
	}
	switch out.Kind {
	case board.FailureAuthExpired:
		return sessionExpiredText
	case board.FailureNetwork:
		return fmt.Sprintf("Couldn't move %q: network error, moved back to %s", title, label(out.Task.Status))
	default:
		return fmt.Sprintf("Couldn't move %q: %v", title, out.Reason)
	}
}
