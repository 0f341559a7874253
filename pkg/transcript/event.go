package transcript

import (
	"encoding/json"
	"fmt"
)

// EventType is the :event-type of frames carrying recognition results.
const EventType = "TranscriptEvent"

// Event is the JSON body of a TranscriptEvent frame.
type Event struct {
	Transcript struct {
		Results []Result `json:"Results"`
	} `json:"Transcript"`
}

// Result is one utterance in a TranscriptEvent. Alternatives are ordered by
// rank, best first.
type Result struct {
	ResultID     string        `json:"ResultId"`
	StartTime    float64       `json:"StartTime"`
	EndTime      float64       `json:"EndTime"`
	IsPartial    bool          `json:"IsPartial"`
	ChannelID    string        `json:"ChannelId,omitempty"`
	Alternatives []Alternative `json:"Alternatives"`
}

// Alternative is one candidate transcription.
type Alternative struct {
	Transcript string `json:"Transcript"`
	Items      []Item `json:"Items,omitempty"`
}

// Item is a word or punctuation mark inside an alternative.
type Item struct {
	Content   string  `json:"Content"`
	Type      string  `json:"Type"`
	StartTime float64 `json:"StartTime"`
	EndTime   float64 `json:"EndTime"`
}

// ParseEvent decodes a TranscriptEvent body into segments. Only the first
// result and its top-ranked alternative are used; an event with no results
// or no alternatives yields no segments.
func ParseEvent(body []byte) ([]Segment, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("transcript: decode event: %w", err)
	}
	results := ev.Transcript.Results
	if len(results) == 0 || len(results[0].Alternatives) == 0 {
		return nil, nil
	}
	r := results[0]
	return []Segment{{
		Text:      r.Alternatives[0].Transcript,
		IsPartial: r.IsPartial,
		ResultID:  r.ResultID,
	}}, nil
}
