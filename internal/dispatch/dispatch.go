// Package dispatch is the convergence point of both channels: finished
// other-channel segments go out to the batch transcription service,
// self-channel recognition events pass straight through, and both land
// on one transcript sink.
package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/kaiwahq/kaiwa/internal/segment"
	"github.com/kaiwahq/kaiwa/internal/transcript"
)

// Transcriber turns one encoded segment into text. Implemented by the
// transcribe client; unreliable by contract.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
}

type Config struct {
	Logger *slog.Logger

	// Transcriber may be nil, in which case segments are dropped and
	// the other channel runs capture-only.
	Transcriber Transcriber

	// Filter screens batch results. Never applied to the live
	// recognition path.
	Filter *transcript.Filter

	Sink transcript.Sink
}

type Dispatcher struct {
	logger *slog.Logger
	tr     Transcriber
	filter *transcript.Filter
	sink   transcript.Sink

	wg sync.WaitGroup
}

func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Filter == nil {
		cfg.Filter = transcript.NewFilter()
	}
	if cfg.Sink == nil {
		cfg.Sink = transcript.SinkFunc(func(transcript.Event) {})
	}
	return &Dispatcher{
		logger: cfg.Logger,
		tr:     cfg.Transcriber,
		filter: cfg.Filter,
		sink:   cfg.Sink,
	}
}

// Dispatch hands one segment to the transcription service on its own
// goroutine, so segment rotation never waits on the network. The
// segment is fire and forget: a failed request yields no event, no
// retry. Responses may finish out of submission order; the emitted
// event is stamped with the segment's capture time so consumers can
// reconstruct chronology by sorting on it.
func (d *Dispatcher) Dispatch(ctx context.Context, seg segment.Segment) {
	if d.tr == nil {
		d.logger.Debug("no transcriber configured, dropping segment", "segment", seg.ID)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		text, err := d.tr.Transcribe(ctx, seg.ID+".wav", seg.Payload)
		if err != nil {
			d.logger.Warn("segment transcription failed",
				"segment", seg.ID,
				"error", err.Error())
			return
		}

		kept, ok := d.filter.Keep(text)
		if !ok {
			d.logger.Debug("discarded spurious transcription",
				"segment", seg.ID,
				"text", text)
			return
		}

		d.sink.Emit(transcript.Event{
			Speaker:    transcript.SpeakerOther,
			Kind:       transcript.KindFinal,
			Text:       kept,
			OccurredAt: seg.CapturedAt,
		})
	}()
}

// Emit forwards a self-channel recognition event untouched. The
// hallucination filter applies only to the batch path.
func (d *Dispatcher) Emit(ev transcript.Event) {
	d.sink.Emit(ev)
}

// Wait blocks until every in-flight transcription call has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
