// Package types holds the wire messages of the reference store server.
// Clients speak store operations, not game operations: all game logic runs
// client-side and the server only hosts the shared document tree.
package types

import "encoding/json"

// Client -> Server operation names.
const (
	OpRead        = "Read"
	OpWrite       = "Write"
	OpUpdate      = "Update"
	OpDelete      = "Delete"
	OpCas         = "Cas"
	OpSubscribe   = "Subscribe"
	OpUnsubscribe = "Unsubscribe"
)

// ClientMessage is one store operation request. Seq is echoed on the
// matching Result or Error so the client can correlate replies.
type ClientMessage struct {
	Type     string                     `json:"type"`
	Seq      int                        `json:"seq"`
	Path     string                     `json:"path"`
	Value    json.RawMessage            `json:"value,omitempty"`
	Fields   map[string]json.RawMessage `json:"fields,omitempty"`
	Expected json.RawMessage            `json:"expected,omitempty"`
	Next     json.RawMessage            `json:"next,omitempty"`
}

// Server -> Client message names.
const (
	MsgResult = "Result"
	MsgChange = "Change"
	MsgError  = "Error"
)

// ServerMessage is either the reply to one request (Result/Error, carrying
// the request's Seq) or an unsolicited Change on a subscribed key. Change
// carries the full document value after the change, null when deleted.
type ServerMessage struct {
	Type    string          `json:"type"`
	Seq     int             `json:"seq,omitempty"`
	Path    string          `json:"path,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Swapped *bool           `json:"swapped,omitempty"`
	Error   string          `json:"error,omitempty"`
}
