package protocol

import "time"

// Utterance lifecycle states published on the bus.
const (
	StatusRequested = "requested"
	StatusStreamed  = "streamed"
	StatusFailed    = "failed"
)

// SubjectTTSStatus is the default subject for utterance status messages.
const SubjectTTSStatus = "tts.wyoming.status"

// UtteranceStatus reports the outcome of one synthesize request received over Wyoming.
type UtteranceStatus struct {
	SessionID   string    `json:"session_id"`
	UtteranceID string    `json:"utterance_id"`
	Status      string    `json:"status"`
	Voice       string    `json:"voice,omitempty"`
	Characters  int       `json:"characters,omitempty"`
	Chunks      int       `json:"chunks,omitempty"`
	Bytes       int64     `json:"bytes,omitempty"`
	SampleRate  int       `json:"sample_rate,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
