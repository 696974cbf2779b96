package monitor

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/timvw/pane-pilot/internal/controller"
)

// Theme defines all colors used by the monitor TUI.
type Theme struct {
	Primary        lipgloss.Color // title, cursor
	Secondary      lipgloss.Color // selected row text
	Error          lipgloss.Color // ERROR state, failures
	Warning        lipgloss.Color // DISPATCHING, auto-respond off
	Success        lipgloss.Color // MONITORING
	Info           lipgloss.Color // STARTING, pattern ids
	Text           lipgloss.Color
	TextMuted      lipgloss.Color // STOPPED, hints
	BackgroundElem lipgloss.Color // selected row background
	Border         lipgloss.Color
}

// DarkTheme is the default.
func DarkTheme() Theme {
	return Theme{
		Primary:        lipgloss.Color("#fab283"),
		Secondary:      lipgloss.Color("#5c9cf5"),
		Error:          lipgloss.Color("#e06c75"),
		Warning:        lipgloss.Color("#f5a742"),
		Success:        lipgloss.Color("#7fd88f"),
		Info:           lipgloss.Color("#56b6c2"),
		Text:           lipgloss.Color("#eeeeee"),
		TextMuted:      lipgloss.Color("#808080"),
		BackgroundElem: lipgloss.Color("#1e1e1e"),
		Border:         lipgloss.Color("#484848"),
	}
}

// LightTheme is for bright terminal backgrounds.
func LightTheme() Theme {
	return Theme{
		Primary:        lipgloss.Color("#b35c00"),
		Secondary:      lipgloss.Color("#0550ae"),
		Error:          lipgloss.Color("#cf222e"),
		Warning:        lipgloss.Color("#bf8700"),
		Success:        lipgloss.Color("#116329"),
		Info:           lipgloss.Color("#0969da"),
		Text:           lipgloss.Color("#1f2328"),
		TextMuted:      lipgloss.Color("#656d76"),
		BackgroundElem: lipgloss.Color("#f6f8fa"),
		Border:         lipgloss.Color("#d0d7de"),
	}
}

// ThemeByName returns a theme by name. Defaults to dark.
func ThemeByName(name string) Theme {
	switch name {
	case "light":
		return LightTheme()
	default:
		return DarkTheme()
	}
}

type styles struct {
	title    lipgloss.Style
	header   lipgloss.Style
	selected lipgloss.Style
	err      lipgloss.Style
	warn     lipgloss.Style
	ok       lipgloss.Style
	info     lipgloss.Style
	dim      lipgloss.Style
	text     lipgloss.Style
}

func newStyles(t Theme) styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		header:   lipgloss.NewStyle().Foreground(t.Border),
		selected: lipgloss.NewStyle().Bold(true).Foreground(t.Secondary).Background(t.BackgroundElem),
		err:      lipgloss.NewStyle().Foreground(t.Error),
		warn:     lipgloss.NewStyle().Foreground(t.Warning),
		ok:       lipgloss.NewStyle().Foreground(t.Success),
		info:     lipgloss.NewStyle().Foreground(t.Info),
		dim:      lipgloss.NewStyle().Foreground(t.TextMuted),
		text:     lipgloss.NewStyle().Foreground(t.Text),
	}
}

// state picks the style a controller state is rendered in.
func (s styles) state(st controller.State) lipgloss.Style {
	switch st {
	case controller.StateMonitoring:
		return s.ok
	case controller.StateDispatching:
		return s.warn
	case controller.StateStarting:
		return s.info
	case controller.StateError:
		return s.err
	default:
		return s.dim
	}
}

func stateIcon(st controller.State) string {
	switch st {
	case controller.StateMonitoring:
		return "●"
	case controller.StateDispatching:
		return "▶"
	case controller.StateStarting:
		return "◌"
	case controller.StateError:
		return "✗"
	default:
		return "○"
	}
}
