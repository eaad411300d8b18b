package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/kaiwahq/kaiwa/internal/media"
)

// MicrophoneSource opens the self channel from a Pulse input source.
// Input and Fallback are configured search terms; constraints may
// override the input per request.
type MicrophoneSource struct {
	Logger   *slog.Logger
	Input    string
	Fallback string
}

func (s *MicrophoneSource) Open(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	devices, err := ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrDeviceUnavailable, err)
	}

	input := s.Input
	if c.Audio != nil && c.Audio.Device != "" {
		input = c.Audio.Device
	}

	sel, err := selectDeviceFromList(devices, input, s.Fallback)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrDeviceUnavailable, err)
	}
	if sel.Warning != "" {
		logger.Warn(sel.Warning)
	}

	// Pulse has no per-stream processing switch: the echo-cancel
	// module exposes a processed sibling source instead. Honor the
	// request by routing through it, but never override an explicit
	// device choice.
	if c.Audio != nil && c.Audio.EchoCancellation && wantsDefault(normalizeTerm(input)) {
		if ec, ok := echoCancelDevice(devices); ok {
			logger.Info("routing through echo-cancelled source", "device", ec.ID)
			sel = Selection{Device: ec}
		}
	}

	capture, err := StartCapture(ctx, sel.Device, "kaiwa self capture")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrDeviceUnavailable, err)
	}

	logger.Info("microphone capture started", "device", sel.Device.ID)
	return media.NewStream(newCaptureTrack(capture)), nil
}

// MonitorSource opens the other channel from a sink monitor: the
// closest thing Pulse has to capturing what the other party plays.
// Sink is a configured preference; empty means the default sink.
type MonitorSource struct {
	Logger *slog.Logger
	Sink   string
}

func (s *MonitorSource) Open(ctx context.Context, _ media.Constraints) (*media.Stream, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	devices, err := ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrDeviceUnavailable, err)
	}

	monitor, ok := monitorFromPreference(devices, s.Sink)
	if !ok {
		sink, err := DefaultSinkName(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", media.ErrDeviceUnavailable, err)
		}
		monitor, ok = monitorForSink(devices, sink)
	}
	if !ok {
		// Nothing to capture from is the monitor analog of a share
		// without audio: recoverable, not fatal.
		return nil, fmt.Errorf("%w: no monitor source for the configured sink", media.ErrNoAudioTrack)
	}

	capture, err := StartCapture(ctx, monitor, "kaiwa other capture")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrDeviceUnavailable, err)
	}

	logger.Info("monitor capture started", "device", monitor.ID)
	return media.NewStream(newCaptureTrack(capture)), nil
}

// captureTrack adapts one pulse Capture to the track contract. Chunks
// flow through an internal pipe; disabling substitutes silence of the
// same length so downstream cadence never changes. A capture that
// finishes without Stop being called counts as an external end.
type captureTrack struct {
	*media.Pipe
	capture     *Capture
	intentional atomic.Bool
}

func newCaptureTrack(capture *Capture) *captureTrack {
	t := &captureTrack{
		Pipe:    media.NewPipe(media.TrackAudio, 128),
		capture: capture,
	}
	go t.pump()
	return t
}

func (t *captureTrack) ID() string {
	return t.capture.Device().ID
}

func (t *captureTrack) Stop() {
	t.intentional.Store(true)
	t.capture.Close()
}

func (t *captureTrack) pump() {
	for chunk := range t.capture.Chunks() {
		if !t.Enabled() {
			chunk = make([]byte, len(chunk))
		}
		t.Pipe.Write(chunk)
	}
	if t.intentional.Load() {
		t.Pipe.Stop()
	} else {
		t.Pipe.End()
	}
}
