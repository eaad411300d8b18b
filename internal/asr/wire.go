package asr

import (
	"encoding/json"
	"fmt"

	"github.com/kaiwahq/kaiwa/internal/recognition"
)

// wireEvent is the downstream JSON frame shape. One struct covers all
// event types; Type selects which fields are meaningful.
type wireEvent struct {
	Type        string       `json:"type"`
	ResultIndex int          `json:"result_index"`
	Results     []wireResult `json:"results"`
	Message     string       `json:"message"`
}

type wireResult struct {
	Transcript string `json:"transcript"`
	Final      bool   `json:"final"`
}

func parseEvent(data []byte) (wireEvent, error) {
	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return wireEvent{}, fmt.Errorf("decode recognizer event: %w", err)
	}
	return ev, nil
}

func (ev wireEvent) update() recognition.Update {
	u := recognition.Update{ResultIndex: ev.ResultIndex}
	for _, r := range ev.Results {
		u.Results = append(u.Results, recognition.Result{Text: r.Transcript, Final: r.Final})
	}
	return u
}
