// Package tui is the interactive view of the list. It renders Reconciler
// snapshots and forwards submit, complete, delete and reload intents; it
// never edits the list itself.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/idilsaglam/quicklist/internal/model"
	"github.com/idilsaglam/quicklist/internal/reconcile"
	"github.com/idilsaglam/quicklist/internal/remote"
	"github.com/idilsaglam/quicklist/internal/ui"
)

// Intents is what the view needs from a session.
type Intents interface {
	Submit(ctx context.Context, task string) error
	Complete(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	Reload(ctx context.Context) error
	Updates() <-chan reconcile.Snapshot
	Snapshot() reconcile.Snapshot
}

type snapshotMsg reconcile.Snapshot

type intentMsg struct {
	op  string
	err error
}

type keyMap struct {
	Add      key.Binding
	Complete key.Binding
	Delete   key.Binding
	Reload   key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Add:      key.NewBinding(key.WithKeys("a", "enter"), key.WithHelp("a", "add")),
	Complete: key.NewBinding(key.WithKeys(" ", "c"), key.WithHelp("space", "complete")),
	Delete:   key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
	Reload:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type Model struct {
	ctx     context.Context
	intents Intents

	list  list.Model
	snap  reconcile.Snapshot
	width int
	h     int

	adding bool
	ti     textinput.Model

	status    string
	statusErr bool
}

// New builds the view over intents, starting from its current snapshot.
func New(ctx context.Context, intents Intents) Model {
	l := list.New(nil, itemDelegate{}, 80, 20)
	l.SetShowHelp(true)
	l.SetShowPagination(true)
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle
	l.Styles.HelpStyle = helpStyle
	l.Styles.PaginationStyle = helpStyle
	l.FilterInput.Prompt = "/ "
	l.SetStatusBarItemName("item", "items")
	l.KeyMap.Quit.SetEnabled(false)
	extra := func() []key.Binding {
		return []key.Binding{keys.Add, keys.Complete, keys.Delete, keys.Reload, keys.Quit}
	}
	l.AdditionalShortHelpKeys = extra
	l.AdditionalFullHelpKeys = extra

	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "What needs doing?"
	ti.CharLimit = 500

	m := Model{ctx: ctx, intents: intents, list: l, ti: ti, width: 80, h: 24}
	m.applySnapshot(intents.Snapshot())
	return m
}

// Run starts the program on the alternate screen and blocks until quit.
func Run(ctx context.Context, intents Intents) error {
	p := tea.NewProgram(New(ctx, intents), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return waitForSnapshot(m.intents.Updates())
}

func waitForSnapshot(updates <-chan reconcile.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return nil
		}
		return snapshotMsg(snap)
	}
}

func (m Model) intent(op string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return intentMsg{op: op, err: fn(ctx)}
	}
}

func (m *Model) applySnapshot(snap reconcile.Snapshot) tea.Cmd {
	var selected int64
	if it, ok := m.list.SelectedItem().(listItem); ok {
		selected = it.ID
	}
	m.snap = snap
	cmd := m.list.SetItems(toListItems(snap.Items))
	for i, it := range snap.Items {
		if it.ID == selected {
			m.list.Select(i)
			break
		}
	}
	if m.list.Index() >= len(snap.Items) && len(snap.Items) > 0 {
		m.list.Select(len(snap.Items) - 1)
	}
	m.list.Title = m.header()
	m.resize()
	return cmd
}

func (m Model) header() string {
	d, p := ui.Stats(m.snap.Items)
	return fmt.Sprintf("%s   %s %d  %s %d  %s %d",
		titleStyle.Render("Todos"),
		successStyle.Render("✔"), d,
		pendingStyle.Render("•"), p,
		accentStyle.Render("Total"), len(m.snap.Items),
	)
}

func (m Model) selected() (model.Item, bool) {
	it, ok := m.list.SelectedItem().(listItem)
	return it.Item, ok
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.h = msg.Width, msg.Height
		m.resize()
		return m, nil
	case snapshotMsg:
		cmd := m.applySnapshot(reconcile.Snapshot(msg))
		return m, tea.Batch(cmd, waitForSnapshot(m.intents.Updates()))
	case intentMsg:
		m.setIntentStatus(msg)
		return m, nil
	}

	if m.adding {
		return m.updateAdding(msg)
	}

	if km, ok := msg.(tea.KeyMsg); ok && m.list.FilterState() != list.Filtering {
		switch {
		case key.Matches(km, keys.Quit):
			return m, tea.Quit
		case key.Matches(km, keys.Add):
			m.adding = true
			m.ti.SetValue("")
			m.resize()
			cmd := m.ti.Focus()
			return m, cmd
		case key.Matches(km, keys.Complete):
			it, ok := m.selected()
			if !ok {
				return m, nil
			}
			return m, m.intent("complete", func(ctx context.Context) error { return m.intents.Complete(ctx, it.ID) })
		case key.Matches(km, keys.Delete):
			it, ok := m.selected()
			if !ok {
				return m, nil
			}
			return m, m.intent("delete", func(ctx context.Context) error { return m.intents.Delete(ctx, it.ID) })
		case key.Matches(km, keys.Reload):
			m.status, m.statusErr = "reloading…", false
			return m, m.intent("reload", m.intents.Reload)
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) updateAdding(msg tea.Msg) (tea.Model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok {
		switch km.String() {
		case "enter":
			task := m.ti.Value()
			// Cleared whatever the outcome; the item shows up via the stream.
			m.ti.SetValue("")
			m.ti.Blur()
			m.adding = false
			m.resize()
			return m, m.intent("insert", func(ctx context.Context) error { return m.intents.Submit(ctx, task) })
		case "esc":
			m.adding = false
			m.ti.SetValue("")
			m.ti.Blur()
			m.resize()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.ti, cmd = m.ti.Update(msg)
	return m, cmd
}

func (m *Model) setIntentStatus(msg intentMsg) {
	if msg.err == nil {
		// A reload only queues the fetch; its outcome arrives as a snapshot.
		m.status, m.statusErr = "", false
		return
	}
	m.statusErr = true
	if errors.Is(msg.err, remote.ErrStreamDisconnected) {
		m.status = "reconnect failed: " + msg.err.Error()
		return
	}
	m.status = msg.op + " failed: " + msg.err.Error()
}

func (m *Model) resize() {
	listHeight := m.h - 4
	if m.adding {
		listHeight -= 4
	}
	if m.snap.StreamErr != nil {
		listHeight--
	}
	if m.snap.Loaded && (m.snap.FetchErr != nil || m.snap.Syncing || m.snap.Overflowed) {
		listHeight--
	}
	if listHeight < 3 {
		listHeight = 3
	}
	m.list.SetSize(m.width-4, listHeight)
}

func (m Model) View() string {
	var sections []string

	if m.snap.StreamErr != nil {
		sections = append(sections, bannerStyle.Render("live updates disconnected, press r to reconnect"))
	}

	switch {
	case !m.snap.Loaded && m.snap.FetchErr != nil:
		sections = append(sections,
			errorStyle.Render("Could not load todos"),
			m.snap.FetchErr.Error(),
			mutedStyle.Render("press r to retry, q to quit"))
	case !m.snap.Loaded:
		sections = append(sections, mutedStyle.Render("Loading todos…"))
	default:
		sections = append(sections, m.list.View())
		switch {
		case m.snap.FetchErr != nil:
			sections = append(sections, errorStyle.Render(ui.Truncate("reload failed: "+m.snap.FetchErr.Error()+" (press r to retry)", m.width-4)))
		case m.snap.Overflowed:
			sections = append(sections, errorStyle.Render("missed updates while syncing, press r to reload"))
		case m.snap.Syncing:
			sections = append(sections, mutedStyle.Render("syncing…"))
		}
	}

	if m.adding {
		title := "Add new item"
		sections = append(sections, frameStyle.Render(title+"\n"+m.ti.View()))
	}

	if m.status != "" {
		st := mutedStyle
		if m.statusErr {
			st = errorStyle
		}
		sections = append(sections, st.Render(ui.Truncate(m.status, m.width-4)))
	}
	return panelString(strings.Join(sections, "\n"))
}
