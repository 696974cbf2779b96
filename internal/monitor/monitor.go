// Package monitor is the interactive terminal view over running session
// controllers.
package monitor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/timvw/pane-pilot/internal/controller"
	"github.com/timvw/pane-pilot/internal/hooks"
)

// Source is what the monitor drives. *controller.Manager satisfies it.
type Source interface {
	List() []controller.Status
	Start(ctx context.Context, session string) (controller.Status, error)
	Stop(ctx context.Context, session string) error
	SetAutoRespond(session string, on bool) error
}

// HookStates reports the latest assistant hook event per pane.
// *hooks.Store satisfies it.
type HookStates interface {
	Latest(target string, now time.Time) (hooks.Event, bool)
}

// DefaultRefreshInterval is how often the status table is re-read.
const DefaultRefreshInterval = 500 * time.Millisecond

// TUI runs the monitor.
type TUI struct {
	Source          Source
	RefreshInterval time.Duration
	Theme           Theme
	// Hooks, when set, adds the last hook state of each controlled pane.
	Hooks HookStates
	// Jump switches the terminal client to a pane. Defaults to tmux switch-client.
	Jump func(target string) error
}

type viewMode int

const (
	modeList viewMode = iota
	modeStartInput
)

type tickMsg struct{}

type refreshMsg struct {
	statuses []controller.Status
}

type actionResultMsg struct {
	message string
	err     error
}

type tuiModel struct {
	source          Source
	hooks           HookStates
	ctx             context.Context
	refreshInterval time.Duration
	jump            func(string) error
	st              styles

	statuses  []controller.Status
	cursor    int
	mode      viewMode
	input     textinput.Model
	message   string
	refreshes int

	width  int
	height int
}

// Run blocks until the user quits or ctx is done.
func (t *TUI) Run(ctx context.Context) error {
	m := newModel(ctx, t)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func newModel(ctx context.Context, t *TUI) *tuiModel {
	ti := textinput.New()
	ti.Placeholder = "session name"
	ti.CharLimit = 256
	ti.Width = 40

	interval := t.RefreshInterval
	if interval == 0 {
		interval = DefaultRefreshInterval
	}
	jump := t.Jump
	if jump == nil {
		jump = switchClient
	}
	theme := t.Theme
	if theme == (Theme{}) {
		theme = DarkTheme()
	}
	return &tuiModel{
		source:          t.Source,
		hooks:           t.Hooks,
		ctx:             ctx,
		refreshInterval: interval,
		jump:            jump,
		st:              newStyles(theme),
		input:           ti,
	}
}

func (m *tuiModel) Init() tea.Cmd {
	return m.doRefresh()
}

func (m *tuiModel) scheduleTick() tea.Cmd {
	if m.refreshInterval <= 0 {
		return nil
	}
	return tea.Tick(m.refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m *tuiModel) doRefresh() tea.Cmd {
	src := m.source
	return func() tea.Msg {
		return refreshMsg{statuses: src.List()}
	}
}

func (m *tuiModel) selected() (controller.Status, bool) {
	if m.cursor < 0 || m.cursor >= len(m.statuses) {
		return controller.Status{}, false
	}
	return m.statuses[m.cursor], true
}

// applyRefresh swaps in a new status table, keeping the cursor on the same
// session when it still exists.
func (m *tuiModel) applyRefresh(statuses []controller.Status) {
	prev, had := m.selected()
	m.statuses = statuses
	m.refreshes++
	if had {
		for i, s := range statuses {
			if s.Session == prev.Session {
				m.cursor = i
				return
			}
		}
	}
	if m.cursor >= len(m.statuses) {
		m.cursor = len(m.statuses) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.mode == modeStartInput {
			return m.handleInputKey(msg)
		}
		return m.handleListKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case refreshMsg:
		m.applyRefresh(msg.statuses)
		return m, m.scheduleTick()

	case tickMsg:
		return m, m.doRefresh()

	case actionResultMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("%s: %v", msg.message, msg.err)
		} else {
			m.message = msg.message
		}
		return m, nil
	}
	return m, nil
}

func (m *tuiModel) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.statuses)-1 {
			m.cursor++
		}

	case "enter":
		s, ok := m.selected()
		if !ok || s.Target == "" {
			return m, nil
		}
		if err := m.jump(s.Target); err != nil {
			m.message = fmt.Sprintf("Jump to %s failed: %v", s.Target, err)
		}

	case "a":
		s, ok := m.selected()
		if !ok {
			return m, nil
		}
		on := !s.AutoRespond
		if err := m.source.SetAutoRespond(s.Session, on); err != nil {
			m.message = fmt.Sprintf("Auto-respond %s: %v", s.Session, err)
			return m, nil
		}
		m.statuses[m.cursor].AutoRespond = on
		m.message = fmt.Sprintf("Auto-respond %s for %s", onOff(on), s.Session)

	case "s":
		s, ok := m.selected()
		if !ok || (!s.State.Running() && s.State != controller.StateError) {
			return m, nil
		}
		return m, m.stopCmd(s.Session)

	case "r":
		s, ok := m.selected()
		if !ok {
			return m, nil
		}
		return m, m.startCmd(s.Session)

	case "n":
		m.mode = modeStartInput
		m.input.SetValue("")
		m.input.Focus()
		return m, textinput.Blink
	}
	return m, nil
}

func (m *tuiModel) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = modeList
		m.input.Blur()
		return m, nil
	case tea.KeyEnter:
		name := strings.TrimSpace(m.input.Value())
		m.mode = modeList
		m.input.Blur()
		if name == "" {
			return m, nil
		}
		return m, m.startCmd(name)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *tuiModel) startCmd(session string) tea.Cmd {
	src, ctx := m.source, m.ctx
	return func() tea.Msg {
		st, err := src.Start(ctx, session)
		if err != nil {
			return actionResultMsg{message: "Start " + session, err: err}
		}
		return actionResultMsg{message: fmt.Sprintf("Started %s (%s)", session, st.State)}
	}
}

func (m *tuiModel) stopCmd(session string) tea.Cmd {
	src, ctx := m.source, m.ctx
	return func() tea.Msg {
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := src.Stop(stopCtx, session); err != nil {
			return actionResultMsg{message: "Stop " + session, err: err}
		}
		return actionResultMsg{message: "Stopped " + session}
	}
}

func (m *tuiModel) View() string {
	var b strings.Builder

	b.WriteString(m.st.title.Render("Pane Pilot"))
	b.WriteString("  ")
	b.WriteString(m.st.dim.Render("j/k=move  Enter=jump  a=auto  s=stop  r=restart  n=new  q=quit"))
	b.WriteString("\n")

	if m.mode == modeStartInput {
		b.WriteString("\n  Monitor session: ")
		b.WriteString(m.input.View())
		b.WriteString("\n  ")
		b.WriteString(m.st.dim.Render("Enter=start  Esc=cancel"))
		b.WriteString("\n")
		return b.String()
	}

	if len(m.statuses) == 0 {
		if m.refreshes == 0 {
			b.WriteString("  Loading...\n")
		} else {
			b.WriteString("  No sessions monitored. Press n to start one.\n")
		}
		return b.String()
	}

	nameWidth := 10
	for _, s := range m.statuses {
		if len(s.Session) > nameWidth {
			nameWidth = len(s.Session)
		}
	}
	b.WriteString(m.st.header.Render(fmt.Sprintf("  %s %-*s %-11s %-14s %-22s %-5s %5s  %s",
		" ", nameWidth, "SESSION", "STATE", "TARGET", "HOOK", "AUTO", "FAILS", "LAST")))
	b.WriteString("\n")

	now := time.Now()
	for i, s := range m.statuses {
		row := fmt.Sprintf("%s %-*s %s %-14s %s %-5s %5d  %s",
			m.st.state(s.State).Render(stateIcon(s.State)),
			nameWidth, truncate(s.Session, nameWidth),
			m.st.state(s.State).Render(padRight(strings.ToUpper(s.State.String()), 11)),
			truncate(s.Target, 14),
			m.hookState(s.Target, now),
			onOff(s.AutoRespond),
			s.ConsecutiveFailures,
			m.lastEvent(s),
		)
		if i == m.cursor {
			b.WriteString(m.st.selected.Render("> ") + row)
		} else {
			b.WriteString("  " + row)
		}
		b.WriteString("\n")
	}

	if s, ok := m.selected(); ok && s.LastError != nil {
		b.WriteString("\n  ")
		b.WriteString(m.st.err.Render(fmt.Sprintf("%s: %s", s.LastError.Kind, s.LastError.Message)))
		b.WriteString("\n")
	}
	if m.message != "" {
		b.WriteString("\n  ")
		b.WriteString(m.st.text.Render(m.message))
		b.WriteString("\n")
	}
	return b.String()
}

// lastEvent summarizes the most recent dispatch or match.
func (m *tuiModel) lastEvent(s controller.Status) string {
	if d := s.LastDispatch; d != nil {
		if !d.OK() {
			return m.st.err.Render("send failed: " + d.Err)
		}
		return m.st.info.Render(fmt.Sprintf("sent %q (%s) %s ago", d.Keys, d.PatternID, since(d.Time)))
	}
	if lm := s.LastMatch; lm != nil {
		return m.st.warn.Render(fmt.Sprintf("matched %s (%s)", lm.PatternID, lm.Kind))
	}
	return m.st.dim.Render("-")
}

// hookState renders the last hook event for target and how long ago it fired.
func (m *tuiModel) hookState(target string, now time.Time) string {
	const width = 22
	if m.hooks == nil || target == "" {
		return m.st.dim.Render(padRight("-", width))
	}
	e, ok := m.hooks.Latest(target, now)
	if !ok {
		return m.st.dim.Render(padRight("-", width))
	}
	text := padRight(truncate(fmt.Sprintf("%s %s", e.State, e.Age(now).Round(time.Second)), width), width)
	if e.NeedsAttention() {
		return m.st.warn.Render(text)
	}
	return m.st.dim.Render(text)
}

func since(t time.Time) string {
	d := time.Since(t).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return d.String()
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func switchClient(target string) error {
	return exec.Command("tmux", "switch-client", "-t", target).Run()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
