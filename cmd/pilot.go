package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/timvw/pane-pilot/internal/audit"
	"github.com/timvw/pane-pilot/internal/cache"
	"github.com/timvw/pane-pilot/internal/config"
	"github.com/timvw/pane-pilot/internal/controller"
	"github.com/timvw/pane-pilot/internal/dispatch"
	"github.com/timvw/pane-pilot/internal/hooks"
	"github.com/timvw/pane-pilot/internal/logging"
	"github.com/timvw/pane-pilot/internal/model"
	telem "github.com/timvw/pane-pilot/internal/otel"
)

const (
	shutdownTimeout = 10 * time.Second
	hookEventTTL    = 3 * time.Minute
)

var (
	flagPane     string
	flagNoFollow bool
)

// pilot is a running set of controllers with the collaborators that outlive
// them: lock, telemetry, audit store, hook collector.
type pilot struct {
	manager *controller.Manager
	deps    controller.Deps
	log     *slog.Logger

	lock  *flock.Flock
	tel   *telem.Telemetry
	audit *audit.Store
	// hooks holds the last hook event per pane; nil when the socket is off.
	hooks *hooks.Store

	// explicit is set when sessions were named on the command line; the
	// pilot then never adopts new sessions.
	explicit bool
	self     string
}

// lockPath is the per-user lock file guarding a single running pilot.
func lockPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "pane-pilot", "run.lock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("pane-pilot-%d", os.Getuid()), "run.lock")
}

// startPilot acquires the instance lock, wires collaborators and starts a
// controller per session. With no sessions named it adopts every session
// not excluded by configuration.
func startPilot(ctx context.Context, sessions []string) (*pilot, error) {
	p := &pilot{log: logging.ForComponent(logging.CompCLI), explicit: len(sessions) > 0}

	if flagPane != "" && len(sessions) != 1 {
		return nil, fmt.Errorf("--pane requires exactly one session")
	}

	path := lockPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("lock dir: %w", err)
	}
	p.lock = flock.New(path)
	locked, err := p.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("another pane-pilot is already running (lock %s)", path)
	}

	p.tel = initTelemetry(ctx)

	m, err := getMultiplexer()
	if err != nil {
		p.close()
		return nil, fmt.Errorf("no supported terminal multiplexer found: %w", err)
	}

	var sink dispatch.Sink
	if cfg.AuditDB != "" {
		p.audit, err = audit.Open(cfg.AuditDB)
		if err != nil {
			p.close()
			return nil, err
		}
		sink = p.audit
		p.log.Info("audit_enabled", "path", cfg.AuditDB, "run_id", p.audit.RunID())
	}

	p.deps = newDeps(m, metricsOf(p.tel), sink)
	p.manager = controller.NewManager(ctx, p.deps, controllerOptions())
	p.self = selfSession()

	if err := p.startHooks(ctx); err != nil {
		p.log.Warn("hook_collector_unavailable", "error", err)
	}

	if p.explicit {
		for _, s := range sessions {
			if _, err := p.manager.StartPane(ctx, s, flagPane); err != nil {
				p.close()
				return nil, err
			}
		}
		return p, nil
	}

	if err := p.adopt(ctx); err != nil {
		p.log.Warn("adopt_failed", "error", err)
	}
	if !flagNoFollow {
		go p.follow(ctx)
	}
	return p, nil
}

func (p *pilot) startHooks(ctx context.Context) error {
	if strings.EqualFold(cfg.EventSocket, "off") {
		return nil
	}
	path := cfg.EventSocket
	if path == "" {
		path = hooks.DefaultSocketPath()
	}
	store := hooks.NewStore(hookEventTTL)
	collector := hooks.NewCollector(store, path, func(target string) {
		if p.manager.Wake(target) {
			p.log.Debug("hook_wake", "target", target)
		}
	})
	if err := collector.Start(ctx); err != nil {
		return err
	}
	p.hooks = store
	p.log.Info("hook_collector_listening", "path", collector.SocketPath())
	return nil
}

// adopt starts controllers for sessions that are not excluded, not this
// process's own session, and unknown to the manager. Sessions in ERROR or
// stopped by the operator are left alone.
func (p *pilot) adopt(ctx context.Context) error {
	snap, err := p.deps.Cache.Get(ctx, cache.KeyAllSessions)
	if err != nil {
		return err
	}
	for _, s := range snap.Sessions {
		if s.Name == p.self || config.MatchesExcludeList(s.Name, cfg.ExcludeSessions) {
			continue
		}
		if _, err := p.manager.Status(s.Name); err == nil {
			continue
		}
		if _, err := p.manager.Start(ctx, s.Name); err != nil {
			return err
		}
		p.log.Info("session_adopted", "session", s.Name)
	}
	return nil
}

// follow re-runs adopt whenever the topology cache expires.
func (p *pilot) follow(ctx context.Context) {
	interval := cfg.CacheTTLDuration
	if interval <= 0 {
		interval = cache.DefaultTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.adopt(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.log.Warn("adopt_failed", "error", err)
			}
		}
	}
}

// shutdown stops all controllers and releases collaborators.
func (p *pilot) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := p.manager.Shutdown(ctx)
	p.tel.Shutdown(ctx)
	p.close()
	return err
}

func (p *pilot) close() {
	if p.audit != nil {
		if err := p.audit.Close(); err != nil {
			p.log.Warn("audit_close_failed", "error", err)
		}
	}
	if p.lock != nil {
		_ = p.lock.Unlock()
	}
}

// selfSession returns the tmux session running this process, so the pilot
// never answers prompts in its own terminal. Empty outside tmux.
func selfSession() string {
	if target := currentPaneTarget(); target != "" {
		return model.SessionOf(target)
	}
	return ""
}
