package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/timvw/pane-pilot/internal/logging"
)

const defaultMaxPayloadBytes = 8 * 1024

// WakeFunc is called for every accepted attention event.
type WakeFunc func(target string)

// Collector listens on a unixgram socket and records hook events.
type Collector struct {
	store *Store
	path  string
	wake  WakeFunc
	log   *slog.Logger

	MaxPayloadBytes int

	mu     sync.Mutex
	conn   *net.UnixConn
	closed bool
	done   chan struct{}
}

// NewCollector returns a collector writing into store and calling wake for
// attention events. wake may be nil.
func NewCollector(store *Store, socketPath string, wake WakeFunc) *Collector {
	return &Collector{
		store:           store,
		path:            socketPath,
		wake:            wake,
		log:             logging.ForComponent(logging.CompHooks),
		MaxPayloadBytes: defaultMaxPayloadBytes,
	}
}

func (c *Collector) SocketPath() string {
	return c.path
}

// Start binds the socket and serves until ctx is done.
func (c *Collector) Start(ctx context.Context) error {
	if c.store == nil {
		return fmt.Errorf("store is required")
	}
	if c.path == "" {
		return fmt.Errorf("socket path is required")
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = defaultMaxPayloadBytes
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := os.Chmod(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("chmod socket dir: %w", err)
	}
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	addr, err := net.ResolveUnixAddr("unixgram", c.path)
	if err != nil {
		return fmt.Errorf("resolve unix addr: %w", err)
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return fmt.Errorf("listen unixgram: %w", err)
	}
	if err := os.Chmod(c.path, 0o600); err != nil {
		_ = conn.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.done = make(chan struct{})
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.close()
	}()

	go c.readLoop(conn, c.done)

	c.log.Info("hook socket listening", "path", c.path)
	return nil
}

// Done is closed once the read loop has exited.
func (c *Collector) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Collector) readLoop(conn *net.UnixConn, done chan struct{}) {
	defer close(done)
	buf := make([]byte, c.MaxPayloadBytes)
	for {
		n, _, err := conn.ReadFromUnix(buf)
		if err != nil {
			if c.isClosed() {
				return
			}
			continue
		}

		// A payload filling the buffer may have been truncated.
		if n <= 0 || n >= c.MaxPayloadBytes {
			c.log.Debug("dropping oversized hook payload", "bytes", n)
			continue
		}

		var e Event
		if err := json.Unmarshal(buf[:n], &e); err != nil {
			c.log.Debug("dropping malformed hook payload", "error", err)
			continue
		}
		if err := e.Validate(); err != nil {
			c.log.Debug("dropping invalid hook event", "error", err)
			continue
		}
		c.store.Upsert(e)
		if c.wake != nil && e.NeedsAttention() {
			c.log.Debug("hook wake", "target", e.Target, "session", e.Session(), "state", e.State, "assistant", e.Assistant)
			c.wake(e.Target)
		}
	}
}

func (c *Collector) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Collector) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	_ = os.Remove(c.path)
}

// Send delivers one event to the collector listening at socketPath.
func Send(socketPath string, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	addr, err := net.ResolveUnixAddr("unixgram", socketPath)
	if err != nil {
		return fmt.Errorf("resolve unix addr: %w", err)
	}
	conn, err := net.DialUnix("unixgram", nil, addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("send event: %w", err)
	}
	return nil
}
