package telemetry

import "encoding/json"

// Event is one timestamped sample of resource usage and log tail for a
// running workload. The wire shape is fixed: relays treat the payload as an
// opaque string, so producers and the monitor must agree on these fields.
type Event struct {
	Timestamp int64  `json:"timestamp"`
	ProjectID string `json:"projectId"`
	CPU       string `json:"cpu"`
	Memory    string `json:"memory"`
	Logs      string `json:"logs"`
}

// Marshal encodes an event for publication.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEvent decodes a raw telemetry payload. Used by the monitor when it
// needs the log tail out of a buffered message.
func ParseEvent(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}
