package recognition

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kaiwahq/kaiwa/internal/clock"
	"github.com/kaiwahq/kaiwa/internal/fsm"
	"github.com/kaiwahq/kaiwa/internal/transcript"
)

// DefaultRestartDelay spaces restart attempts after an error signal so
// a broken connection cannot spin a tight failure loop. The benign
// ended case restarts immediately.
const DefaultRestartDelay = time.Second

type action int

const actionStop action = iota + 1

type Config struct {
	Logger       *slog.Logger
	Primitive    Primitive
	Sink         transcript.Sink
	Clock        clock.Clock
	RestartDelay time.Duration
}

// Session wraps the recognition primitive with the reconnection state
// machine. All signal handling runs on the Run loop; Start and Stop
// may be called from any goroutine.
type Session struct {
	logger *slog.Logger
	prim   Primitive
	sink   transcript.Sink
	clk    clock.Clock
	delay  time.Duration

	actions chan action

	mu    sync.RWMutex
	state fsm.State
}

// NewSession constructs a session with safe default fallbacks.
func NewSession(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Primitive == nil {
		cfg.Primitive = unavailable{}
	}
	if cfg.Sink == nil {
		cfg.Sink = transcript.SinkFunc(func(transcript.Event) {})
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}

	return &Session{
		logger:  cfg.Logger,
		prim:    cfg.Primitive,
		sink:    cfg.Sink,
		clk:     cfg.Clock,
		delay:   cfg.RestartDelay,
		state:   fsm.StateIdle,
		actions: make(chan action, 1),
	}
}

// State returns the current lifecycle state snapshot.
func (s *Session) State() fsm.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Running reports liveness: true while the primitive produces results
// or the machine intends to run, so a caller polling during a brief
// restart window does not observe a false stop.
func (s *Session) Running() bool {
	switch s.State() {
	case fsm.StateStarting, fsm.StateRunning, fsm.StateRestarting:
		return true
	default:
		return false
	}
}

// transition applies one lifecycle event to the session state.
func (s *Session) transition(event fsm.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fsm.Transition(s.state, event)
	if err != nil {
		return err
	}
	s.state = next
	return nil
}

// Start opens the first underlying session. It fails fast when the
// primitive is unavailable or a session is already live; a failed
// start leaves the machine stopped so a later Start may try again.
func (s *Session) Start(ctx context.Context) error {
	if err := s.transition(fsm.EventStart); err != nil {
		return err
	}
	if err := s.prim.Start(ctx); err != nil {
		_ = s.transition(fsm.EventStop)
		return fmt.Errorf("start recognition: %w", err)
	}
	return nil
}

// Stop makes the stop intentional: no restart happens afterwards no
// matter what the primitive still signals. Idempotent, never fails.
func (s *Session) Stop() {
	_ = s.transition(fsm.EventStop)
	s.prim.Stop()

	// Wake the loop so a pending restart timer is cancelled.
	select {
	case s.actions <- actionStop:
	default:
	}
}

// Run processes primitive signals until ctx is cancelled. Restart
// policy: immediate after a benign ended, after a fixed delay for an
// error, exactly one attempt per signal. An attempt that fails
// synchronously is swallowed and retried on the next termination
// signal.
func (s *Session) Run(ctx context.Context) {
	var restartTimer clock.Timer
	var restartC <-chan time.Time

	cancelRestart := func() {
		if restartTimer != nil {
			restartTimer.Stop()
			restartTimer = nil
			restartC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			cancelRestart()
			s.prim.Abort()
			_ = s.transition(fsm.EventStop)
			return

		case <-s.actions:
			cancelRestart()

		case <-restartC:
			cancelRestart()
			if s.State() != fsm.StateRestarting {
				continue
			}
			s.attemptRestart(ctx)

		case sig, ok := <-s.prim.Signals():
			if !ok {
				continue
			}
			switch sig.Kind {
			case SignalStarted:
				if err := s.transition(fsm.EventStarted); err != nil {
					s.logger.Warn("ignoring started signal", "error", err.Error())
					continue
				}
				if s.State() == fsm.StateStopped {
					// Confirmed after an intentional stop: kill the zombie.
					s.prim.Abort()
				}

			case SignalEnded:
				if err := s.transition(fsm.EventEnded); err != nil {
					s.logger.Warn("ignoring ended signal", "error", err.Error())
					continue
				}
				if s.State() != fsm.StateRestarting {
					continue
				}
				s.logger.Info("recognition ended, restarting")
				cancelRestart()
				s.attemptRestart(ctx)

			case SignalError:
				if err := s.transition(fsm.EventError); err != nil {
					s.logger.Warn("ignoring error signal", "error", err.Error())
					continue
				}
				if s.State() != fsm.StateRestarting {
					continue
				}
				s.logger.Warn("recognition error, restart delayed",
					"error", errorText(sig.Err),
					"delay", s.delay)
				if restartTimer == nil {
					restartTimer = s.clk.NewTimer(s.delay)
					restartC = restartTimer.C()
				}

			case SignalResult:
				s.deliver(sig.Update)
			}
		}
	}
}

func (s *Session) attemptRestart(ctx context.Context) {
	if err := s.prim.Start(ctx); err != nil {
		// Swallowed: the next termination signal retries.
		s.logger.Warn("restart attempt failed", "error", err.Error())
	}
}

// deliver partitions one update window into committed and provisional
// text. Finals are emitted as one event per window; the interim
// replaces the preview in place, and a final emission always refreshes
// the preview so no stale interim stays visible.
func (s *Session) deliver(u Update) {
	final, interim := partition(u)
	now := s.clk.Now()

	if final != "" {
		s.sink.Emit(transcript.Event{
			Speaker:    transcript.SpeakerSelf,
			Kind:       transcript.KindFinal,
			Text:       final,
			OccurredAt: now,
		})
	}
	s.sink.Emit(transcript.Event{
		Speaker:    transcript.SpeakerSelf,
		Kind:       transcript.KindInterim,
		Text:       interim,
		OccurredAt: now,
	})
}

func partition(u Update) (final, interim string) {
	var f, i strings.Builder
	for _, r := range u.Results {
		if r.Final {
			f.WriteString(r.Text)
		} else {
			i.WriteString(r.Text)
		}
	}
	return f.String(), i.String()
}

func errorText(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
