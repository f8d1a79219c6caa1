package group

import (
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"
)

// envelope is what travels on the wire.
type envelope struct {
	Message *Message `json:"message,omitempty"`
	Reply   *Reply   `json:"reply,omitempty"`
}

// encode marshals an envelope as JSON and compresses it with snappy.
func encode(env envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, data), nil
}

func decode(frame []byte) (envelope, error) {
	var env envelope
	data, err := snappy.Decode(nil, frame)
	if err != nil {
		return env, fmt.Errorf("failed to decompress frame: %w", err)
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("failed to decode frame: %w", err)
	}
	return env, nil
}
