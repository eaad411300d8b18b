// Package device owns capture lifecycle for both conversation
// channels: the self microphone and the other-party system audio.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/kaiwahq/kaiwa/internal/media"
)

// CaptureState is derived from stream liveness on every read, never
// stored, so an externally ended stream reports inactive immediately.
type CaptureState struct {
	SelfActive  bool `json:"self_active"`
	OtherActive bool `json:"other_active"`
}

type Config struct {
	Logger *slog.Logger

	// Microphone acquires the self channel, System the other channel.
	// A nil source makes the corresponding start fail as unavailable.
	Microphone media.Source
	System     media.Source

	// OnState observes capture transitions, for status reporting.
	OnState func(CaptureState)

	// OnOtherEnded fires when the other stream ends externally, e.g.
	// the user revokes sharing. Intentional stops never fire it.
	OnOtherEnded func()
}

type Adapter struct {
	logger       *slog.Logger
	mic          media.Source
	system       media.Source
	onState      func(CaptureState)
	onOtherEnded func()

	mu    sync.Mutex
	self  *media.Stream
	other *media.Stream
}

func New(cfg Config) *Adapter {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Adapter{
		logger:       cfg.Logger,
		mic:          cfg.Microphone,
		system:       cfg.System,
		onState:      cfg.OnState,
		onOtherEnded: cfg.OnOtherEnded,
	}
}

func (a *Adapter) State() CaptureState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return CaptureState{
		SelfActive:  a.self.Active(),
		OtherActive: a.other.Active(),
	}
}

// StartSelf acquires the microphone with close-talk processing. Those
// flags suit a near-field voice source and must not be applied to
// system audio.
func (a *Adapter) StartSelf(ctx context.Context) (*media.Stream, error) {
	if a.mic == nil {
		return nil, fmt.Errorf("no microphone source: %w", media.ErrDeviceUnavailable)
	}
	if a.State().SelfActive {
		return nil, errors.New("microphone capture already active")
	}

	stream, err := a.mic.Open(ctx, media.Constraints{
		Audio: &media.AudioConstraints{
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open microphone: %w", err)
	}
	if len(stream.AudioTracks()) == 0 {
		stream.Stop()
		return nil, fmt.Errorf("microphone stream: %w", media.ErrNoAudioTrack)
	}

	a.mu.Lock()
	a.self = stream
	a.mu.Unlock()
	a.logger.Info("self capture started")
	a.notify()
	return stream, nil
}

// StartOther acquires system audio. Video is requested because some
// back-ends refuse an audio-only share, then disabled rather than
// stopped so the shared stream survives. A share without audio is a
// user-recoverable refusal, not a crash.
func (a *Adapter) StartOther(ctx context.Context) (*media.Stream, error) {
	if a.system == nil {
		return nil, fmt.Errorf("no system capture source: %w", media.ErrDeviceUnavailable)
	}
	if a.State().OtherActive {
		return nil, errors.New("system capture already active")
	}

	stream, err := a.system.Open(ctx, media.Constraints{
		Audio: &media.AudioConstraints{},
		Video: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open system capture: %w", err)
	}

	for _, v := range stream.VideoTracks() {
		v.SetEnabled(false)
	}

	audio := stream.AudioTracks()
	if len(audio) == 0 {
		stream.Stop()
		return nil, fmt.Errorf("system capture: %w", media.ErrNoAudioTrack)
	}

	a.mu.Lock()
	a.other = stream
	a.mu.Unlock()

	track := audio[0]
	track.OnEnded(func() { a.handleOtherEnded(stream) })
	if !track.Live() {
		// Ended before the handler attached.
		a.handleOtherEnded(stream)
	}

	a.logger.Info("other capture started",
		"audio_tracks", len(audio),
		"video_tracks", len(stream.VideoTracks()))
	a.notify()
	return stream, nil
}

// StopSelf releases the microphone stream. Idempotent.
func (a *Adapter) StopSelf() {
	a.mu.Lock()
	stream := a.self
	a.self = nil
	a.mu.Unlock()
	if stream == nil {
		return
	}
	stream.Stop()
	a.logger.Info("self capture stopped")
	a.notify()
}

// StopOther releases the system stream. Idempotent; never surfaces as
// an external end.
func (a *Adapter) StopOther() {
	a.mu.Lock()
	stream := a.other
	a.other = nil
	a.mu.Unlock()
	if stream == nil {
		return
	}
	stream.Stop()
	a.logger.Info("other capture stopped")
	a.notify()
}

// handleOtherEnded runs when the other audio track ends externally.
// The claim check keeps a stale end from a previous stream harmless.
func (a *Adapter) handleOtherEnded(stream *media.Stream) {
	a.mu.Lock()
	if a.other != stream {
		a.mu.Unlock()
		return
	}
	a.other = nil
	a.mu.Unlock()

	stream.Stop()
	a.logger.Info("other capture ended externally")
	a.notify()
	if a.onOtherEnded != nil {
		a.onOtherEnded()
	}
}

func (a *Adapter) notify() {
	if a.onState == nil {
		return
	}
	a.onState(a.State())
}
