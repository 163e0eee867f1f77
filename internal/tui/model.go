// Package tui provides an interactive terminal view of the flagged-expense
// review queue.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/the-ledger-must-flow/internal/lifecycle"
	"github.com/Veraticus/the-ledger-must-flow/internal/model"
	"github.com/Veraticus/the-ledger-must-flow/internal/service"
)

// KeyMap defines the keyboard shortcuts for the review queue.
type KeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Reset   key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Reset:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset to pending")),
		Refresh: key.NewBinding(key.WithKeys("R", "f5"), key.WithHelp("R", "refresh")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			MarginTop(1)
)

// queueLoadedMsg carries a fresh snapshot of the review queue.
type queueLoadedMsg struct {
	expenses []model.Expense
}

// resetDoneMsg reports the outcome of a reset action.
type resetDoneMsg struct {
	err error
	id  string
	ok  bool
}

type errMsg struct{ err error }

// Model holds the review queue TUI state.
type Model struct {
	ctx        context.Context
	storage    service.Storage
	controller *lifecycle.Controller
	table      table.Model
	keymap     KeyMap
	expenses   []model.Expense
	status     string
	lastError  error
	quitting   bool
}

// newModel creates the review queue model.
func newModel(ctx context.Context, storage service.Storage, controller *lifecycle.Controller) Model {
	columns := []table.Column{
		{Title: "Date", Width: 10},
		{Title: "Expense", Width: 14},
		{Title: "Merchant", Width: 22},
		{Title: "Amount", Width: 10},
		{Title: "Score", Width: 5},
		{Title: "Reason", Width: 40},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).BorderBottom(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	return Model{
		ctx:        ctx,
		storage:    storage,
		controller: controller,
		table:      t,
		keymap:     DefaultKeyMap(),
	}
}

// Init loads the initial queue snapshot.
func (m Model) Init() tea.Cmd {
	return m.loadQueue()
}

// Update handles key presses and async results.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keymap.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keymap.Refresh):
			m.status = "refreshing..."
			return m, m.loadQueue()
		case key.Matches(msg, m.keymap.Reset):
			if len(m.expenses) == 0 {
				return m, nil
			}
			idx := m.table.Cursor()
			if idx < 0 || idx >= len(m.expenses) {
				return m, nil
			}
			expense := m.expenses[idx]
			m.status = fmt.Sprintf("resetting %s...", expense.ExternalID)
			return m, m.resetExpense(expense.ID)
		}

	case tea.WindowSizeMsg:
		m.table.SetHeight(msg.Height - 6)

	case queueLoadedMsg:
		m.expenses = msg.expenses
		m.lastError = nil
		m.status = fmt.Sprintf("%d flagged expense(s), %s",
			len(msg.expenses), time.Now().Format("15:04:05"))
		m.table.SetRows(buildRows(msg.expenses))
		if m.table.Cursor() >= len(msg.expenses) && len(msg.expenses) > 0 {
			m.table.SetCursor(len(msg.expenses) - 1)
		}
		return m, nil

	case resetDoneMsg:
		if msg.err != nil {
			m.lastError = msg.err
			return m, nil
		}
		if !msg.ok {
			m.status = "expense is no longer flagged"
			return m, m.loadQueue()
		}
		m.status = fmt.Sprintf("reset %s to pending", msg.id)
		return m, m.loadQueue()

	case errMsg:
		m.lastError = msg.err
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View renders the review queue.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	out := titleStyle.Render("Flagged Expenses") + "\n"
	if len(m.expenses) == 0 {
		out += "\n  Review queue is empty.\n"
	} else {
		out += m.table.View() + "\n"
	}

	if m.lastError != nil {
		out += errorStyle.Render("error: "+m.lastError.Error()) + "\n"
	}
	out += statusStyle.Render(m.status + "  •  r reset, R refresh, q quit")
	return out
}

func (m Model) loadQueue() tea.Cmd {
	return func() tea.Msg {
		expenses, err := m.storage.GetFlaggedExpenses(m.ctx)
		if err != nil {
			return errMsg{err: err}
		}
		return queueLoadedMsg{expenses: expenses}
	}
}

func (m Model) resetExpense(id string) tea.Cmd {
	return func() tea.Msg {
		ok, err := m.controller.Reset(m.ctx, id)
		return resetDoneMsg{id: id, ok: ok, err: err}
	}
}

func buildRows(expenses []model.Expense) []table.Row {
	rows := make([]table.Row, 0, len(expenses))
	for _, exp := range expenses {
		score := "-"
		if exp.Confidence != nil {
			score = fmt.Sprintf("%d", *exp.Confidence)
		}
		rows = append(rows, table.Row{
			exp.Date.Format("2006-01-02"),
			exp.ExternalID,
			exp.Merchant,
			fmt.Sprintf("$%.2f", float64(exp.AmountCents)/100),
			score,
			exp.FlagReason,
		})
	}
	return rows
}
