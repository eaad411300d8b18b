// Package recognition keeps the self-channel recognizer alive across
// silent terminations, distinguishing an intentional stop from a drop
// that needs a transparent restart.
package recognition

import (
	"context"
	"errors"
)

// ErrCapabilityUnsupported reports that no recognition primitive is
// available in this environment. Surfaced once at start, never
// retried.
var ErrCapabilityUnsupported = errors.New("recognition primitive unavailable")

// Primitive is the continuous recognition engine wrapped by Session.
// One Primitive value is reused across restarts; each Start opens a
// fresh underlying session.
type Primitive interface {
	// Start opens a new underlying session. A synchronous failure
	// (capability missing, double-start race) is returned directly.
	Start(ctx context.Context) error
	// Stop requests a graceful end; the primitive later signals ended.
	// Never fails, even when nothing is running.
	Stop()
	// Abort tears the session down without waiting for final results.
	Abort()
	// Signals delivers started, ended, error, and result signals for
	// the primitive's whole lifetime, across restarts.
	Signals() <-chan Signal
}

type SignalKind string

const (
	SignalStarted SignalKind = "started"
	SignalEnded   SignalKind = "ended"
	SignalError   SignalKind = "error"
	SignalResult  SignalKind = "result"
)

type Signal struct {
	Kind   SignalKind
	Err    error
	Update Update
}

// Update is one incremental recognition event: the alternatives newly
// available from ResultIndex onward, each flagged final or interim.
type Update struct {
	ResultIndex int
	Results     []Result
}

type Result struct {
	Text  string
	Final bool
}

// unavailable stands in when no primitive is wired, so a start fails
// fast with the capability error instead of dereferencing nil.
type unavailable struct{}

func (unavailable) Start(context.Context) error { return ErrCapabilityUnsupported }
func (unavailable) Stop()                       {}
func (unavailable) Abort()                      {}
func (unavailable) Signals() <-chan Signal      { return nil }
