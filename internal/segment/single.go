package segment

import (
	"sync"

	"github.com/kaiwahq/kaiwa/internal/media"
)

// SingleRecorder is the degraded mode used when the mix graph cannot
// be built: the raw captured stream feeds one buffer and a single
// segment is produced at stop time. There is no rotation, so latency
// and memory grow with session length. Known trade-off, kept visible
// rather than papered over.
type SingleRecorder struct {
	track media.AudioTrack
	emit  func(Segment)
	cfg   Config

	rec recorder

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewSingleRecorder refuses streams with zero audio tracks, same as
// the pool, and starts buffering immediately.
func NewSingleRecorder(stream *media.Stream, onSegment func(Segment), cfg Config) (*SingleRecorder, error) {
	tracks := stream.AudioTracks()
	if len(tracks) == 0 {
		return nil, media.ErrNoAudioTrack
	}
	if onSegment == nil {
		onSegment = func(Segment) {}
	}
	cfg.fill()

	s := &SingleRecorder{
		track: tracks[0],
		emit:  onSegment,
		cfg:   cfg,
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

// Stop flushes the buffer into one final segment. Safe to call
// repeatedly.
func (s *SingleRecorder) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
	})
	<-s.done
}

func (s *SingleRecorder) pump() {
	defer close(s.done)

	s.rec.start(s.cfg.Clock.Now())
	for {
		select {
		case <-s.quit:
			s.flush()
			return
		case chunk, ok := <-s.track.Chunks():
			if !ok {
				s.flush()
				return
			}
			s.rec.write(chunk)
		}
	}
}

func (s *SingleRecorder) flush() {
	if seg, ok := s.rec.stop(); ok {
		s.cfg.Logger.Debug("fallback segment ready",
			"segment_id", seg.ID,
			"bytes", len(seg.Payload))
		s.emit(seg)
	}
}
