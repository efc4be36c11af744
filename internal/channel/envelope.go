package channel

import "encoding/json"

// Envelope is the unit of exchange on the persistent connection.
// ID is caller-generated for requests; for unsolicited pushes the server
// originates it and it is only used to drop duplicate deliveries.
type Envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope with the given payload marshaled to JSON.
func NewEnvelope(id, msgType string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: id, Type: msgType, Payload: raw}, nil
}
