package segment

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kaiwahq/kaiwa/internal/clock"
	"github.com/kaiwahq/kaiwa/internal/media"
)

// DefaultInterval is the rotation period. Short enough that the other
// party's speech reaches the transcript within a few seconds, long
// enough that the batch service gets usable context.
const DefaultInterval = 3 * time.Second

type Config struct {
	// Interval of 0 selects DefaultInterval.
	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

func (c *Config) fill() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Clock == nil {
		c.Clock = clock.System()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Pool rotates two recorder slots over the mixed stream so every
// interval yields a complete, independently decodable segment with no
// gap and no duplicated audio at the cut.
type Pool struct {
	track    media.AudioTrack
	emit     func(Segment)
	interval time.Duration
	clk      clock.Clock
	logger   *slog.Logger

	recorders [2]*recorder
	active    int

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewPool validates the stream and starts recording on slot 0
// immediately. A stream with zero audio tracks is refused with
// media.ErrNoAudioTrack and nothing starts.
func NewPool(stream *media.Stream, onSegment func(Segment), cfg Config) (*Pool, error) {
	tracks := stream.AudioTracks()
	if len(tracks) == 0 {
		return nil, media.ErrNoAudioTrack
	}
	if onSegment == nil {
		onSegment = func(Segment) {}
	}
	cfg.fill()

	p := &Pool{
		track:     tracks[0],
		emit:      onSegment,
		interval:  cfg.Interval,
		clk:       cfg.Clock,
		logger:    cfg.Logger,
		recorders: [2]*recorder{{}, {}},
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go p.pump()
	return p, nil
}

// Stop cancels the rotation timer, flushes every still-active slot,
// and returns once the pump has exited. Safe to call repeatedly.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
	})
	<-p.done
}

func (p *Pool) pump() {
	defer close(p.done)

	ticker := p.clk.NewTicker(p.interval)
	p.recorders[0].start(p.clk.Now())
	p.active = 0

	for {
		select {
		case <-p.quit:
			// Timer first, then every remaining recorder, so nothing
			// keeps buffering after the caller sees Stop return.
			ticker.Stop()
			p.flushAll()
			return
		case chunk, ok := <-p.track.Chunks():
			if !ok {
				ticker.Stop()
				p.flushAll()
				return
			}
			for _, r := range p.recorders {
				r.write(chunk)
			}
		case <-ticker.C():
			p.rotate()
		}
	}
}

// rotate starts the next slot before stopping the current one. Both
// happen inside one pump iteration, so no chunk lands in both and no
// chunk falls between them.
func (p *Pool) rotate() {
	next := 1 - p.active
	if !p.recorders[next].active {
		p.recorders[next].start(p.clk.Now())
	}
	if seg, ok := p.recorders[p.active].stop(); ok {
		p.deliver(seg)
	}
	p.active = next
}

func (p *Pool) flushAll() {
	for _, idx := range []int{p.active, 1 - p.active} {
		if seg, ok := p.recorders[idx].stop(); ok {
			p.deliver(seg)
		}
	}
}

func (p *Pool) deliver(seg Segment) {
	p.logger.Debug("segment ready",
		"segment_id", seg.ID,
		"bytes", len(seg.Payload),
		"duration", seg.Duration())
	p.emit(seg)
}
