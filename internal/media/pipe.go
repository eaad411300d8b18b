package media

import (
	"sync"

	"github.com/google/uuid"
)

// Pipe is an in-process track fed by its creator: the mix graph output
// lane in production, capture fakes in tests. Writes never block; a
// chunk that finds the buffer full is dropped.
type Pipe struct {
	id   string
	kind TrackKind
	ch   chan []byte

	mu      sync.Mutex
	enabled bool
	live    bool
	closed  bool
	onEnded func()
	dropped int64
}

func NewPipe(kind TrackKind, buffer int) *Pipe {
	return &Pipe{
		id:      uuid.NewString(),
		kind:    kind,
		ch:      make(chan []byte, buffer),
		enabled: true,
		live:    true,
	}
}

func (p *Pipe) ID() string {
	return p.id
}

func (p *Pipe) Kind() TrackKind {
	return p.kind
}

func (p *Pipe) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func (p *Pipe) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
}

func (p *Pipe) Live() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

func (p *Pipe) Chunks() <-chan []byte {
	return p.ch
}

// Write queues one chunk. It reports false when the chunk was dropped
// or the pipe is no longer live.
func (p *Pipe) Write(chunk []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.live {
		return false
	}
	select {
	case p.ch <- chunk:
		return true
	default:
		p.dropped++
		return false
	}
}

// Dropped reports how many chunks were discarded against a full buffer.
func (p *Pipe) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Pending reports how many queued chunks the consumer has not taken.
func (p *Pipe) Pending() int {
	return len(p.ch)
}

// Stop closes the pipe without notifying the ended handler.
func (p *Pipe) Stop() {
	p.finish(false)
}

// End closes the pipe as an external end-of-stream and fires the ended
// handler once.
func (p *Pipe) End() {
	p.finish(true)
}

func (p *Pipe) OnEnded(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEnded = fn
}

func (p *Pipe) finish(external bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.live = false
	fn := p.onEnded
	close(p.ch)
	p.mu.Unlock()

	if external && fn != nil {
		fn()
	}
}
