package segment

import (
	"time"

	"github.com/google/uuid"

	"github.com/kaiwahq/kaiwa/internal/media"
)

// recorder is one reusable slot. The pool owns exactly two and swaps
// between them forever; slots are never allocated per rotation. All
// access happens on the owning pump goroutine.
type recorder struct {
	buf       []byte
	startedAt time.Time
	active    bool
}

func (r *recorder) start(now time.Time) {
	r.buf = r.buf[:0]
	r.startedAt = now
	r.active = true
}

func (r *recorder) write(chunk []byte) {
	if !r.active {
		return
	}
	r.buf = append(r.buf, chunk...)
}

// stop flushes only what this slot buffered since its own start. An
// idle or empty slot yields nothing.
func (r *recorder) stop() (Segment, bool) {
	if !r.active {
		return Segment{}, false
	}
	r.active = false
	if len(r.buf) == 0 {
		return Segment{}, false
	}

	pcm := make([]byte, len(r.buf))
	copy(pcm, r.buf)
	r.buf = r.buf[:0]

	return Segment{
		ID:         uuid.NewString(),
		Payload:    encodeWAV(pcm, media.SampleRate, media.Channels),
		CapturedAt: r.startedAt,
	}, true
}
