// Package gqlws implements the server side of the "graphql-ws" WebSocket
// sub-protocol on top of the generic transport in the http package.
//
// A session is a Conn. The connection loop owns all session state: it
// decodes frames into typed client messages, starts subscriptions as
// background producers, and reaps them when they finish. Producers never
// touch the registry; they only queue outbound messages.
package gqlws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/panyam/graphqlkit/gql"
)

// Subprotocol is the WebSocket sub-protocol a client must offer.
const Subprotocol = "graphql-ws"

// Message types sent by clients.
const (
	TypeConnectionInit      = "connection_init"
	TypeConnectionTerminate = "connection_terminate"
	TypeStart               = "start"
	TypeStop                = "stop"
)

// Message types sent by the server. TypeKeepAlive is also accepted from
// clients and ignored.
const (
	TypeConnectionAck   = "connection_ack"
	TypeConnectionError = "connection_error"
	TypeKeepAlive       = "ka"
	TypeData            = "data"
	TypeError           = "error"
	TypeComplete        = "complete"
)

// ID identifies a subscription within a session. Clients may use strings or
// integers, and the server echoes the id back in the form it was received.
type ID struct {
	s     string
	n     int64
	isInt bool
}

// StringID returns a string id.
func StringID(s string) ID { return ID{s: s} }

// IntID returns an integer id.
func IntID(n int64) ID { return ID{n: n, isInt: true} }

// String returns the id as text, for logging.
func (id ID) String() string {
	if id.isInt {
		return strconv.FormatInt(id.n, 10)
	}
	return id.s
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.isInt {
		return []byte(strconv.FormatInt(id.n, 10)), nil
	}
	return json.Marshal(id.s)
}

// UnmarshalJSON accepts a JSON string or an integral JSON number.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("id must be a string or integer, got %s", data)
	}
	*id = IntID(n)
	return nil
}

// Message is the wire envelope for every graphql-ws message. Absent id and
// payload fields are omitted.
type Message struct {
	Type    string `json:"type"`
	ID      *ID    `json:"id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// ErrorPayload is the payload of "error" and "connection_error" messages.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ClientMessage is one of the typed messages a client can send:
// ConnectionInit, ConnectionTerminate, Start, InvalidStart, Stop or
// KeepAlive.
type ClientMessage interface {
	clientMessage()
}

// ConnectionInit asks the server to acknowledge the session.
type ConnectionInit struct {
	ID     *ID
	Params map[string]any
}

// ConnectionTerminate asks the server to end the session.
type ConnectionTerminate struct{}

// Start asks the server to execute an operation under an id.
type Start struct {
	ID      ID
	Request gql.Request
}

// InvalidStart is a start message whose id or payload failed validation.
// It is reported to the client as an "error" message rather than ending the
// session.
type InvalidStart struct {
	ID  *ID
	Err *ProtocolError
}

// Stop asks the server to stop the subscription with the given id.
type Stop struct {
	ID ID
}

// KeepAlive is a client heartbeat. It is ignored.
type KeepAlive struct{}

func (ConnectionInit) clientMessage()      {}
func (ConnectionTerminate) clientMessage() {}
func (Start) clientMessage()               {}
func (InvalidStart) clientMessage()        {}
func (Stop) clientMessage()                {}
func (KeepAlive) clientMessage()           {}

// ProtocolError reports a frame that violates the graphql-ws message shape.
type ProtocolError struct {
	// Field names the offending field, if any.
	Field string
	Msg   string
}

func (e *ProtocolError) Error() string {
	if e.Field == "" {
		return "graphql-ws: " + e.Msg
	}
	return fmt.Sprintf("graphql-ws: field %q: %s", e.Field, e.Msg)
}

func protocolErrorf(field, format string, args ...any) *ProtocolError {
	return &ProtocolError{Field: field, Msg: fmt.Sprintf(format, args...)}
}
