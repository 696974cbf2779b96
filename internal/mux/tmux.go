package mux

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/timvw/pane-pilot/internal/model"
)

// paneFormat is the list-panes format: target, pane id, pid, command,
// window name, last activity, session created, session attached.
const paneFormat = "#{session_name}:#{window_index}.#{pane_index}\t#{pane_id}\t#{pane_pid}\t#{pane_current_command}\t#{window_name}\t#{window_activity}\t#{session_created}\t#{session_attached}"

// Tmux implements the Multiplexer interface for tmux.
type Tmux struct {
	// Binary is the tmux executable. Defaults to "tmux".
	Binary string
	// ProcessTree enables the ps-based child process snapshot per pane.
	ProcessTree bool
}

// NewTmux creates a new tmux multiplexer.
func NewTmux() *Tmux {
	return &Tmux{Binary: "tmux"}
}

// Name returns "tmux".
func (t *Tmux) Name() string {
	return "tmux"
}

// ListTopology returns all sessions with their windows and panes.
func (t *Tmux) ListTopology(ctx context.Context) ([]model.Session, error) {
	rows, err := t.listRows(ctx)
	if err != nil {
		return nil, err
	}

	panes := make([]model.Pane, 0, len(rows))
	meta := map[string]paneRow{}
	windowNames := map[string]string{}
	for _, r := range rows {
		panes = append(panes, r.pane)
		if _, ok := meta[r.pane.Session]; !ok {
			meta[r.pane.Session] = r
		}
		windowNames[fmt.Sprintf("%s:%d", r.pane.Session, r.pane.Window)] = r.windowName
	}

	sessions := model.GroupPanes(panes)
	for i := range sessions {
		r := meta[sessions[i].Name]
		sessions[i].Created = r.created
		sessions[i].Attached = r.attached
		for j := range sessions[i].Windows {
			w := &sessions[i].Windows[j]
			w.Name = windowNames[fmt.Sprintf("%s:%d", sessions[i].Name, w.Index)]
		}
	}
	return sessions, nil
}

// ListPanes returns all tmux panes, optionally filtered by session name pattern.
func (t *Tmux) ListPanes(ctx context.Context, filter string) ([]model.Pane, error) {
	var re *regexp.Regexp
	if filter != "" {
		var err error
		re, err = regexp.Compile(filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern %q: %w", filter, err)
		}
	}

	rows, err := t.listRows(ctx)
	if err != nil {
		return nil, err
	}

	var panes []model.Pane
	for _, r := range rows {
		if re != nil && !re.MatchString(r.pane.Session) {
			continue
		}
		p := r.pane
		if t.ProcessTree {
			p.ProcessTree = getProcessTree(p.PID)
		}
		panes = append(panes, p)
	}
	return panes, nil
}

type paneRow struct {
	pane       model.Pane
	windowName string
	created    time.Time
	attached   bool
}

func (t *Tmux) listRows(ctx context.Context) ([]paneRow, error) {
	out, err := t.run(ctx, "list-panes", "-a", "-F", paneFormat)
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux list-panes: %w", err)
	}
	return parsePaneRows(out), nil
}

// parsePaneRows parses list-panes output in paneFormat. Malformed rows are skipped.
func parsePaneRows(out string) []paneRow {
	var rows []paneRow
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 8 {
			continue
		}

		pane, err := model.ParseTarget(parts[0])
		if err != nil {
			continue
		}
		pane.ID = parts[1]
		pane.PID, _ = strconv.Atoi(parts[2])
		pane.Command = parts[3]
		pane.LastActivity = unixTime(parts[5])

		rows = append(rows, paneRow{
			pane:       pane,
			windowName: parts[4],
			created:    unixTime(parts[6]),
			attached:   parts[7] != "" && parts[7] != "0",
		})
	}
	return rows
}

func unixTime(s string) time.Time {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0)
}

// CapturePane captures the last lines of a tmux pane.
// Uses -p (stdout) and -J (joined, unwraps lines).
func (t *Tmux) CapturePane(ctx context.Context, target string, lines int) (string, error) {
	args := []string{"capture-pane", "-t", target, "-p", "-J"}
	if lines > 0 {
		args = append(args, "-S", fmt.Sprintf("-%d", lines))
	}
	out, err := t.run(ctx, args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("tmux capture-pane -t %s: %w", target, ErrCaptureTimeout)
		}
		return "", fmt.Errorf("tmux capture-pane -t %s: %w", target, err)
	}
	return out, nil
}

// SendKeys sends keys to a tmux pane.
func (t *Tmux) SendKeys(ctx context.Context, target, keys string, literal bool) error {
	args := []string{"send-keys", "-t", target}
	if literal {
		args = append(args, "-l")
	}
	args = append(args, keys)
	if _, err := t.run(ctx, args...); err != nil {
		return fmt.Errorf("tmux send-keys -t %s: %w", target, err)
	}
	return nil
}

// HasPane reports whether target resolves to a live pane.
func (t *Tmux) HasPane(ctx context.Context, target string) (bool, error) {
	_, err := t.run(ctx, "display-message", "-p", "-t", target, "#{pane_id}")
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrPaneNotFound) || errors.Is(err, ErrNoServer) {
		return false, nil
	}
	return false, fmt.Errorf("tmux display-message -t %s: %w", target, err)
}

// HasSession reports whether the named session exists.
func (t *Tmux) HasSession(ctx context.Context, name string) (bool, error) {
	_, err := t.run(ctx, "has-session", "-t", "="+name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrPaneNotFound) || errors.Is(err, ErrNoServer) {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, fmt.Errorf("tmux has-session -t %s: %w", name, err)
}

// NewSession creates a detached tmux session.
func (t *Tmux) NewSession(ctx context.Context, name, dir string) error {
	args := []string{"new-session", "-d", "-s", name}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	if _, err := t.run(ctx, args...); err != nil {
		return fmt.Errorf("tmux new-session -s %s: %w", name, err)
	}
	return nil
}

// KillSession destroys a tmux session.
func (t *Tmux) KillSession(ctx context.Context, name string) error {
	if _, err := t.run(ctx, "kill-session", "-t", "="+name); err != nil {
		return fmt.Errorf("tmux kill-session -t %s: %w", name, err)
	}
	return nil
}

// run executes a tmux command and returns its stdout.
func (t *Tmux) run(ctx context.Context, args ...string) (string, error) {
	bin := t.Binary
	if bin == "" {
		bin = "tmux"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", classifyStderr(err, string(exitErr.Stderr))
		}
		return "", err
	}
	return string(out), nil
}

// classifyStderr maps tmux error text onto the package sentinels.
func classifyStderr(err error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	switch {
	case strings.Contains(msg, "no server running"),
		strings.Contains(msg, "error connecting to"):
		return fmt.Errorf("%w: %s", ErrNoServer, msg)
	case strings.Contains(msg, "can't find pane"),
		strings.Contains(msg, "can't find window"),
		strings.Contains(msg, "can't find session"),
		strings.Contains(msg, "session not found"):
		return fmt.Errorf("%w: %s", ErrPaneNotFound, msg)
	}
	return fmt.Errorf("%w: %s", err, msg)
}

// getProcessTree returns the command lines of all descendant processes of the given PID.
// Uses a single "ps -eo pid,ppid,args" call to snapshot all processes, then builds
// the tree in Go. Returns nil on any error; process info is best-effort.
const maxProcessTreeDepth = 5
const maxProcessTreeEntries = 15

func getProcessTree(pid int) []string {
	if pid <= 0 {
		return nil
	}

	out, err := exec.Command("ps", "-eo", "pid=,ppid=,args=").Output()
	if err != nil {
		return nil
	}
	return buildProcessTree(string(out), pid)
}

// buildProcessTree walks ps output breadth-first from root, indenting by depth.
func buildProcessTree(psOut string, root int) []string {
	type proc struct {
		pid  int
		args string
	}
	children := map[int][]proc{}
	for _, line := range strings.Split(psOut, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		p, err1 := strconv.Atoi(fields[0])
		pp, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			continue
		}
		children[pp] = append(children[pp], proc{pid: p, args: strings.Join(fields[2:], " ")})
	}

	var tree []string
	type entry struct {
		pid   int
		depth int
	}
	queue := []entry{{pid: root, depth: 0}}
	for len(queue) > 0 && len(tree) < maxProcessTreeEntries {
		e := queue[0]
		queue = queue[1:]
		if e.depth >= maxProcessTreeDepth {
			continue
		}
		indent := strings.Repeat("  ", e.depth)
		for _, child := range children[e.pid] {
			if len(tree) >= maxProcessTreeEntries {
				break
			}
			tree = append(tree, indent+child.args)
			queue = append(queue, entry{pid: child.pid, depth: e.depth + 1})
		}
	}
	return tree
}
