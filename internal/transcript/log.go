package transcript

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Log is the in-process sink of record. Final events accumulate in
// arrival order; only the latest interim per speaker is held. Safe for
// concurrent emitters: the live recognition loop and the per-segment
// transcription goroutines all write here.
type Log struct {
	mu       sync.Mutex
	finals   []Event
	interims map[Speaker]string
}

func NewLog() *Log {
	return &Log{interims: make(map[Speaker]string)}
}

func (l *Log) Emit(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch ev.Kind {
	case KindInterim:
		if ev.Text == "" {
			delete(l.interims, ev.Speaker)
			return
		}
		l.interims[ev.Speaker] = ev.Text
	case KindFinal:
		l.finals = append(l.finals, ev)
	}
}

// Interim returns the current preview for a speaker, if any.
func (l *Log) Interim(sp Speaker) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	text, ok := l.interims[sp]
	return text, ok
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.finals)
}

// Snapshot returns the persisted events in chronological order.
// Batch transcription responses can land out of submission order, so
// ordering is by each event's capture timestamp, not arrival.
func (l *Log) Snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Event, len(l.finals))
	copy(out, l.finals)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out
}

// Render formats the persisted transcript as one line per event.
func (l *Log) Render() string {
	events := l.Snapshot()
	if len(events) == 0 {
		return ""
	}

	var b strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&b, "[%s] %s: %s\n", ev.OccurredAt.Format("15:04:05"), ev.Speaker, ev.Text)
	}
	return b.String()
}
