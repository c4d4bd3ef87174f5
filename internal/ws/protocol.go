package ws

import (
	"encoding/json"

	"github.com/deathcounter/backend/internal/ledger"
)

type MessageType string

// Renderer to server.
const (
	MsgHello   MessageType = "hello"
	MsgReady   MessageType = "ready"
	MsgUnready MessageType = "unready"
	MsgBye     MessageType = "bye"
)

// Server to renderer.
const (
	MsgRegister     MessageType = "register"
	MsgSetAttribute MessageType = "set_attribute"
	MsgRefresh      MessageType = "refresh"
	MsgShow         MessageType = "show"
	MsgHide         MessageType = "hide"
	MsgError        MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// inboundMessage defers payload decoding until the type is known.
type inboundMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type HelloPayload struct {
	Name string `json:"name"`
}

// ReadyPayload lists subjects whose client can (or no longer can) display
// panels. Ids are decimal strings.
type ReadyPayload struct {
	Subjects []string `json:"subjects"`
}

type RegisterPayload struct {
	Owner      string          `json:"owner"`
	Surface    string          `json:"surface"`
	Definition json.RawMessage `json:"definition"`
}

type AttributePayload struct {
	Owner   string          `json:"owner"`
	Element string          `json:"element"`
	Attr    string          `json:"attr"`
	Value   string          `json:"value"`
	Subject ledger.EntityID `json:"subject,string"`
}

type SurfacePayload struct {
	Owner   string          `json:"owner"`
	Surface string          `json:"surface"`
	Subject ledger.EntityID `json:"subject,string"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Host API bodies.

type EntityRequest struct {
	ID ledger.EntityID `json:"id,string"`
}

type CommandRequest struct {
	Subject ledger.EntityID `json:"subject,string"`
	Name    string          `json:"name"`
	Args    []string        `json:"args,omitempty"`
}

type CommandResponse struct {
	OK    bool     `json:"ok"`
	Error string   `json:"error,omitempty"`
	Lines []string `json:"lines"`
}

type DeathResponse struct {
	ID     ledger.EntityID `json:"id,string"`
	Deaths uint64          `json:"deaths"`
}
