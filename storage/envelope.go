package storage

import (
	"encoding/json"
	"fmt"
)

const (
	envelopeVer = 1
	SchemeJSON  = "json"
)

// Envelope wraps a stored record with its format metadata.
type Envelope struct {
	Ver     int             `json:"ver"`
	Scheme  string          `json:"scheme"`
	Payload json.RawMessage `json:"payload"`
	Version uint64          `json:"version,omitempty"`
}

// NewJSONEnvelope encodes v as the payload of a version-stamped envelope.
func NewJSONEnvelope(v any, version uint64) (*Envelope, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope payload: %w", err)
	}
	return &Envelope{
		Ver:     envelopeVer,
		Scheme:  SchemeJSON,
		Payload: payload,
		Version: version,
	}, nil
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v any) error {
	if e.Ver != envelopeVer {
		return fmt.Errorf("unsupported envelope version: %d", e.Ver)
	}
	if e.Scheme != SchemeJSON {
		return fmt.Errorf("unsupported envelope scheme: %s", e.Scheme)
	}
	return json.Unmarshal(e.Payload, v)
}
