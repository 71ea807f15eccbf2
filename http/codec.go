package http

import (
	"github.com/gorilla/websocket"
)

// MessageType represents the WebSocket frame type
type MessageType int

const (
	// TextMessage denotes a text data message (UTF-8 encoded)
	TextMessage MessageType = websocket.TextMessage // 1

	// BinaryMessage denotes a binary data message
	BinaryMessage MessageType = websocket.BinaryMessage // 2
)

// Codec handles encoding/decoding of messages over WebSocket.
// The type parameters I and O represent input (received) and output (sent) message types.
type Codec[I any, O any] interface {
	// Decode converts raw WebSocket data into a typed input message.
	// msgType indicates whether the data was received as text or binary.
	Decode(data []byte, msgType MessageType) (I, error)

	// Encode converts a typed output message to raw bytes for sending.
	// Returns the encoded bytes and the appropriate message type (text/binary).
	Encode(msg O) ([]byte, MessageType, error)
}

// ControlCodec is implemented by codecs whose sub-protocol defines its own
// heartbeat and error messages. When a BaseConn's codec implements it, pings
// and errors are encoded through it instead of the generic JSON envelopes.
type ControlCodec[O any] interface {
	// PingMessage returns the message sent on every ping tick.
	PingMessage(ping PingData) O

	// ErrorMessage returns the message reporting err to the peer.
	ErrorMessage(err error) O
}
