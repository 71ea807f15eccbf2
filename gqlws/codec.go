package gqlws

import (
	"bytes"
	"encoding/json"

	"github.com/panyam/graphqlkit/gql"
	gohttp "github.com/panyam/graphqlkit/http"
)

// Codec frames graphql-ws messages. Decode validates every inbound frame once
// and turns it into a typed ClientMessage; nothing downstream re-checks the
// shape of a message.
type Codec struct{}

var (
	_ gohttp.Codec[ClientMessage, Message] = Codec{}
	_ gohttp.ControlCodec[Message]         = Codec{}
)

// Decode implements http.Codec. Shape violations are returned as
// *ProtocolError.
func (Codec) Decode(data []byte, msgType gohttp.MessageType) (ClientMessage, error) {
	if msgType != gohttp.TextMessage {
		return nil, &ProtocolError{Msg: "expected a text frame"}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, &ProtocolError{Msg: "message must be a JSON object"}
	}

	rawType, ok := fields["type"]
	if !ok || isNull(rawType) {
		return nil, protocolErrorf("type", "is required")
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil {
		return nil, protocolErrorf("type", "must be a string")
	}

	var id *ID
	if raw, ok := fields["id"]; ok && !isNull(raw) {
		id = new(ID)
		if err := id.UnmarshalJSON(raw); err != nil {
			return nil, protocolErrorf("id", "must be a string or integer")
		}
	}

	var payload map[string]any
	if raw, ok := fields["payload"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, protocolErrorf("payload", "must be an object")
		}
	}

	switch typ {
	case TypeConnectionInit:
		return ConnectionInit{ID: id, Params: payload}, nil
	case TypeConnectionTerminate:
		return ConnectionTerminate{}, nil
	case TypeKeepAlive:
		return KeepAlive{}, nil
	case TypeStop:
		if id == nil {
			return nil, protocolErrorf("id", "is required for %q", typ)
		}
		return Stop{ID: *id}, nil
	case TypeStart:
		if id == nil {
			return InvalidStart{Err: protocolErrorf("id", "is required for %q", typ)}, nil
		}
		req, perr := startRequest(payload)
		if perr != nil {
			return InvalidStart{ID: id, Err: perr}, nil
		}
		return Start{ID: *id, Request: req}, nil
	}
	return nil, protocolErrorf("type", "unknown message type %q", typ)
}

func startRequest(payload map[string]any) (gql.Request, *ProtocolError) {
	var req gql.Request
	if payload == nil {
		return req, protocolErrorf("payload", "is required")
	}
	query, ok := payload["query"].(string)
	if !ok {
		return req, protocolErrorf("query", "must be a string")
	}
	req.Query = query

	switch v := payload["variables"].(type) {
	case nil:
	case map[string]any:
		req.Variables = v
	default:
		return req, protocolErrorf("variables", "must be an object")
	}

	switch v := payload["operationName"].(type) {
	case nil:
	case string:
		req.OperationName = v
	default:
		return req, protocolErrorf("operationName", "must be a string")
	}
	return req, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Encode implements http.Codec.
func (Codec) Encode(msg Message) ([]byte, gohttp.MessageType, error) {
	data, err := json.Marshal(msg)
	return data, gohttp.TextMessage, err
}

// PingMessage implements http.ControlCodec: server heartbeats are "ka".
func (Codec) PingMessage(gohttp.PingData) Message {
	return Message{Type: TypeKeepAlive}
}

// ErrorMessage implements http.ControlCodec: connection-level errors are
// reported as "connection_error".
func (Codec) ErrorMessage(err error) Message {
	return Message{Type: TypeConnectionError, Payload: ErrorPayload{Message: err.Error()}}
}

func ackMessage(id *ID) Message {
	return Message{Type: TypeConnectionAck, ID: id}
}

func dataMessage(id ID, res *gql.Result) Message {
	return Message{Type: TypeData, ID: &id, Payload: res.Payload()}
}

func completeMessage(id ID) Message {
	return Message{Type: TypeComplete, ID: &id}
}

func errorMessage(id *ID, err error) Message {
	return Message{Type: TypeError, ID: id, Payload: ErrorPayload{Message: err.Error()}}
}
