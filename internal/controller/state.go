package controller

import (
	"errors"
	"fmt"

	"github.com/timvw/pane-pilot/internal/cache"
	"github.com/timvw/pane-pilot/internal/dispatch"
	"github.com/timvw/pane-pilot/internal/mux"
)

// State is the lifecycle state of one session controller.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateMonitoring
	StateDispatching
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateMonitoring:
		return "monitoring"
	case StateDispatching:
		return "dispatching"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Running reports whether a worker is attached in this state.
func (s State) Running() bool {
	return s == StateStarting || s == StateMonitoring || s == StateDispatching
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrorKind is the stable name of a failure class, as reported in Status.
type ErrorKind string

const (
	ErrKindPaneNotFound   ErrorKind = "PaneNotFound"
	ErrKindCaptureTimeout ErrorKind = "CaptureTimeout"
	ErrKindCaptureFailed  ErrorKind = "CaptureFailed"
	ErrKindSendFailed     ErrorKind = "SendFailed"
	ErrKindRefreshFailed  ErrorKind = "RefreshFailed"
	ErrKindInternal       ErrorKind = "Internal"
)

// kindOf maps an error onto the failure taxonomy.
func kindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, mux.ErrPaneNotFound):
		return ErrKindPaneNotFound
	case errors.Is(err, mux.ErrCaptureTimeout):
		return ErrKindCaptureTimeout
	case errors.Is(err, dispatch.ErrSendFailed):
		return ErrKindSendFailed
	case errors.Is(err, cache.ErrRefreshFailed):
		return ErrKindRefreshFailed
	}
	return ErrKindInternal
}
