package domain

import (
	"encoding/json"
	"time"
)

type Mode string

const (
	ModeText  Mode = "text"
	ModeImage Mode = "image"
)

// Record is a persisted prompt/result exchange with lifecycle metadata.
// Result is kept opaque: callers decide its shape, the service only stores it.
type Record struct {
	ID        string          `json:"id"`
	Prompt    string          `json:"prompt"`
	Result    json.RawMessage `json:"result,omitempty"`
	Mode      Mode            `json:"mode,omitempty"`
	Service   string          `json:"service,omitempty"`
	MediaURL  string          `json:"media_url,omitempty"`
	MediaType string          `json:"media_type,omitempty"`
	MediaKey  string          `json:"-"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"timestamp"`
}

// PushEnvelope wraps an event-delivery payload as received from a push
// subscription. Data is base64-encoded JSON.
type PushEnvelope struct {
	Message *PushMessage `json:"message"`
}

type PushMessage struct {
	Data       string            `json:"data"`
	MessageID  string            `json:"messageId,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// HistoryEvent is the decoded payload carried by a push envelope or an AMQP
// message. Absent fields stay empty, they are never rejected.
type HistoryEvent struct {
	Service  string          `json:"service"`
	Request  json.RawMessage `json:"request"`
	Response json.RawMessage `json:"response"`
}

// GenerationResult is what the generation proxy returns to callers.
type GenerationResult struct {
	Result       json.RawMessage `json:"result"`
	Mode         Mode            `json:"mode"`
	Prompt       string          `json:"prompt"`
	GenerationID string          `json:"generation_id,omitempty"`
}
