// Package ws serves live subscriptions over a websocket.
//
// The wire protocol follows graphql-ws, minus GraphQL:
//
//	client → connection_init {token}      server → connection_ack
//	client → subscribe {id, operation}    server → next {id, envelope} ...
//	client → complete {id}                server → complete {id} (stream ended)
//	client → ping                         server → pong
//	                                      server → error {id, message}
//
// All frames are JSON text frames.
package ws

import (
	"encoding/json"

	"github.com/google/uuid"
)

const (
	TypeConnectionInit = "connection_init"
	TypeConnectionAck  = "connection_ack"
	TypeSubscribe      = "subscribe"
	TypeNext           = "next"
	TypeComplete       = "complete"
	TypeError          = "error"
	TypePing           = "ping"
	TypePong           = "pong"
)

// Close codes sent before the server drops a connection.
const (
	CloseUnauthorized    = 4401
	CloseInitTimeout     = 4408
	CloseTooManyInits    = 4429
	CloseBadRequest      = 4400
	CloseSubscriberInUse = 4409
)

type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type InitPayload struct {
	Token string `json:"token,omitempty"`
}

type SubscribePayload struct {
	Operation      string    `json:"operation"`
	ConversationID uuid.UUID `json:"conversation_id,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// NewMessage builds a frame, marshalling payload if it is not nil.
func NewMessage(typ, id string, payload any) (Message, error) {
	m := Message{Type: typ, ID: id}
	if payload == nil {
		return m, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	m.Payload = raw
	return m, nil
}
