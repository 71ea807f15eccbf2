package gqlws

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/panyam/graphqlkit/gql"
	gohttp "github.com/panyam/graphqlkit/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idPtr(id ID) *ID { return &id }

func TestCodec_Decode(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  ClientMessage
	}{
		{
			name:  "init without payload",
			frame: `{"type":"connection_init"}`,
			want:  ConnectionInit{},
		},
		{
			name:  "init with id and params",
			frame: `{"type":"connection_init","id":"c","payload":{"token":"x"}}`,
			want:  ConnectionInit{ID: idPtr(StringID("c")), Params: map[string]any{"token": "x"}},
		},
		{
			name:  "terminate",
			frame: `{"type":"connection_terminate"}`,
			want:  ConnectionTerminate{},
		},
		{
			name:  "keep-alive",
			frame: `{"type":"ka"}`,
			want:  KeepAlive{},
		},
		{
			name:  "stop with int id",
			frame: `{"type":"stop","id":3}`,
			want:  Stop{ID: IntID(3)},
		},
		{
			name:  "null payload is absent",
			frame: `{"type":"stop","id":"a","payload":null}`,
			want:  Stop{ID: StringID("a")},
		},
		{
			name:  "start",
			frame: `{"type":"start","id":"1","payload":{"query":"subscription { tick }","variables":{"n":1},"operationName":"T"}}`,
			want: Start{ID: StringID("1"), Request: gql.Request{
				Query:         "subscription { tick }",
				Variables:     map[string]any{"n": float64(1)},
				OperationName: "T",
			}},
		},
		{
			name:  "start without id",
			frame: `{"type":"start","payload":{"query":"{ a }"}}`,
			want:  InvalidStart{Err: &ProtocolError{Field: "id", Msg: `is required for "start"`}},
		},
		{
			name:  "start without payload",
			frame: `{"type":"start","id":"1"}`,
			want:  InvalidStart{ID: idPtr(StringID("1")), Err: &ProtocolError{Field: "payload", Msg: "is required"}},
		},
		{
			name:  "start with non-string query",
			frame: `{"type":"start","id":"1","payload":{"query":5}}`,
			want:  InvalidStart{ID: idPtr(StringID("1")), Err: &ProtocolError{Field: "query", Msg: "must be a string"}},
		},
		{
			name:  "start with bad variables",
			frame: `{"type":"start","id":"1","payload":{"query":"{a}","variables":[1]}}`,
			want:  InvalidStart{ID: idPtr(StringID("1")), Err: &ProtocolError{Field: "variables", Msg: "must be an object"}},
		},
		{
			name:  "start with bad operationName",
			frame: `{"type":"start","id":"1","payload":{"query":"{a}","operationName":false}}`,
			want:  InvalidStart{ID: idPtr(StringID("1")), Err: &ProtocolError{Field: "operationName", Msg: "must be a string"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Codec{}.Decode([]byte(tt.frame), gohttp.TextMessage)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCodec_DecodeProtocolErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		field string
	}{
		{name: "not json", frame: `hello`},
		{name: "array", frame: `[1,2]`},
		{name: "null", frame: `null`},
		{name: "missing type", frame: `{"id":"1"}`, field: "type"},
		{name: "null type", frame: `{"type":null}`, field: "type"},
		{name: "type not string", frame: `{"type":5}`, field: "type"},
		{name: "float id", frame: `{"type":"stop","id":1.5}`, field: "id"},
		{name: "bool id", frame: `{"type":"stop","id":true}`, field: "id"},
		{name: "payload not object", frame: `{"type":"connection_init","payload":"x"}`, field: "payload"},
		{name: "stop without id", frame: `{"type":"stop"}`, field: "id"},
		{name: "unknown type", frame: `{"type":"subscribe","id":"1"}`, field: "type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Codec{}.Decode([]byte(tt.frame), gohttp.TextMessage)
			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.field, perr.Field)
		})
	}

	_, err := Codec{}.Decode([]byte(`{"type":"ka"}`), gohttp.BinaryMessage)
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr, "binary frames are rejected")
}

func TestCodec_Encode(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"ack without id", ackMessage(nil), `{"type":"connection_ack"}`},
		{"ack echoes int id", ackMessage(idPtr(IntID(4))), `{"type":"connection_ack","id":4}`},
		{"complete", completeMessage(StringID("1")), `{"type":"complete","id":"1"}`},
		{
			"data omits null data",
			dataMessage(StringID("1"), gql.ErrorResult(errors.New("x"))),
			`{"type":"data","id":"1","payload":{"errors":[{"message":"Execution error"}]}}`,
		},
		{
			"data",
			dataMessage(IntID(2), &gql.Result{Data: map[string]any{"tick": 1}}),
			`{"type":"data","id":2,"payload":{"data":{"tick":1}}}`,
		},
		{"error", errorMessage(nil, errors.New("bad")), `{"type":"error","payload":{"message":"bad"}}`},
		{"ka", Codec{}.PingMessage(gohttp.PingData{}), `{"type":"ka"}`},
		{
			"connection_error",
			Codec{}.ErrorMessage(&ProtocolError{Msg: "message must be a JSON object"}),
			`{"type":"connection_error","payload":{"message":"graphql-ws: message must be a JSON object"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, msgType, err := Codec{}.Encode(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, gohttp.TextMessage, msgType)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestID_JSON(t *testing.T) {
	var id ID
	require.NoError(t, json.Unmarshal([]byte(`"abc"`), &id))
	assert.Equal(t, StringID("abc"), id)
	assert.Equal(t, "abc", id.String())

	require.NoError(t, json.Unmarshal([]byte(`42`), &id))
	assert.Equal(t, IntID(42), id)
	assert.Equal(t, "42", id.String())

	assert.Error(t, json.Unmarshal([]byte(`4.2`), &id))
	assert.Error(t, json.Unmarshal([]byte(`{}`), &id))

	assert.NotEqual(t, StringID("1"), IntID(1))
}
