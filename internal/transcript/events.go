// Package transcript carries recognized text from both conversation
// channels to the sink of record and guards the batch transcription
// path against hallucinated output.
package transcript

import "time"

type Speaker string

const (
	SpeakerSelf  Speaker = "self"
	SpeakerOther Speaker = "other"
)

type Kind string

const (
	KindInterim Kind = "interim"
	KindFinal   Kind = "final"
)

// Event is one unit of recognized text. An interim event replaces the
// previous interim from the same speaker and is never persisted; an
// interim with empty text clears the preview.
type Event struct {
	Speaker    Speaker
	Kind       Kind
	Text       string
	OccurredAt time.Time
}

// Sink receives events from both channels. Implementations must accept
// a final event being followed immediately by an empty interim.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ev Event)

func (f SinkFunc) Emit(ev Event) {
	f(ev)
}
