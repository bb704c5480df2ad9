// Package wire defines the JSON-framed messages exchanged between server
// and participants over the websocket connection.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/kristofsajdak/claude-whiteboard/pkg/canvas"
)

const (
	// TypeCanvasUpdate is sent server->client on join and on every broadcast.
	TypeCanvasUpdate = "canvas:update"
	// TypeCanvasChange is sent client->server with a debounced local edit.
	TypeCanvasChange = "canvas:change"
	// TypeParticipantsUpdate is sent server->client when the set size changes.
	TypeParticipantsUpdate = "participants:update"
	// TypeClientName is sent client->server to announce a display name.
	TypeClientName = "client:name"
)

// Message is the envelope for all frames.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParticipantsPayload carries the participant count.
type ParticipantsPayload struct {
	Count int `json:"count"`
}

func NewCanvasUpdate(doc canvas.Document) (Message, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode canvas payload: %w", err)
	}
	return Message{Type: TypeCanvasUpdate, Payload: payload}, nil
}

func NewCanvasChange(doc canvas.Document) (Message, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode canvas payload: %w", err)
	}
	return Message{Type: TypeCanvasChange, Payload: payload}, nil
}

func NewParticipantsUpdate(count int) Message {
	payload, _ := json.Marshal(ParticipantsPayload{Count: count})
	return Message{Type: TypeParticipantsUpdate, Payload: payload}
}

func NewClientName(name string) Message {
	payload, _ := json.Marshal(name)
	return Message{Type: TypeClientName, Payload: payload}
}

// Decode parses a raw frame into an envelope.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("message has no type")
	}
	return m, nil
}

// Canvas extracts the document payload of a canvas:update or canvas:change.
func (m Message) Canvas() (canvas.Document, error) {
	var doc canvas.Document
	if err := json.Unmarshal(m.Payload, &doc); err != nil {
		return canvas.Document{}, fmt.Errorf("failed to decode canvas payload: %w", err)
	}
	return doc, nil
}

// Participants extracts the payload of a participants:update.
func (m Message) Participants() (ParticipantsPayload, error) {
	var p ParticipantsPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return ParticipantsPayload{}, fmt.Errorf("failed to decode participants payload: %w", err)
	}
	return p, nil
}

// ClientName extracts the payload of a client:name.
func (m Message) ClientName() (string, error) {
	var name string
	if err := json.Unmarshal(m.Payload, &name); err != nil {
		return "", fmt.Errorf("failed to decode name payload: %w", err)
	}
	return name, nil
}
