// Package group is the communication substrate used by distributed locks and
// distributed state: broadcast to every instance, request/response surveys,
// a deterministic coordinator and membership change notification.
package group

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// Message is one group message.
type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage encodes v as the payload of a new message.
func NewMessage(msgType string, v any) (Message, error) {
	msg := Message{ID: uuid.NewString(), Type: msgType}
	if v != nil {
		payload, err := json.Marshal(v)
		if err != nil {
			return Message{}, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
		}
		msg.Payload = payload
	}
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message from %s has no payload", m.Type, m.From)
	}
	return json.Unmarshal(m.Payload, v)
}

// Reply is one member's answer to a survey.
type Reply struct {
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Decode unmarshals the reply payload into v.
func (r Reply) Decode(v any) error {
	if len(r.Payload) == 0 {
		return fmt.Errorf("reply from %s has no payload", r.From)
	}
	return json.Unmarshal(r.Payload, v)
}

// Handler processes an incoming message. For surveys the returned value is
// encoded as the reply payload; for broadcasts it is ignored.
type Handler func(ctx context.Context, msg Message) (any, error)

// View is the membership after a change.
type View struct {
	Members []string
	Joined  []string
	Left    []string
}

// Network connects cooperating instances.
type Network interface {
	// LocalID is this instance's id.
	LocalID() string
	// Coordinator is the lowest id among live members.
	Coordinator() string
	// Members returns the live member ids, including this one, sorted.
	Members() []string
	// Broadcast delivers msg to every other member.
	Broadcast(ctx context.Context, msg Message) error
	// Survey sends msg to every other member and collects replies until all
	// have answered or ctx is done. Missing replies yield
	// ErrSurveyIncomplete alongside the replies that did arrive.
	Survey(ctx context.Context, msg Message) ([]Reply, error)
	// Handle registers the handler for a message type.
	Handle(msgType string, h Handler)
	// OnViewChange registers a membership change callback.
	OnViewChange(fn func(View))
	Close() error
}

// coordinator returns the lowest id.
func coordinator(members []string) string {
	if len(members) == 0 {
		return ""
	}
	return slices.Min(members)
}

// handlers is a registry shared by the implementations.
type handlers struct {
	byType map[string]Handler
	views  []func(View)
}

func (h *handlers) reply(ctx context.Context, local string, msg Message) Reply {
	r := Reply{From: local}
	handler, ok := h.byType[msg.Type]
	if !ok {
		r.Error = fmt.Sprintf("no handler for %s", msg.Type)
		return r
	}
	v, err := handler(ctx, msg)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	if v != nil {
		payload, err := json.Marshal(v)
		if err != nil {
			r.Error = err.Error()
			return r
		}
		r.Payload = payload
	}
	return r
}
