package http

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stringCodec struct{}

func (stringCodec) Decode(data []byte, msgType MessageType) (string, error) {
	if msgType != TextMessage {
		return "", errors.New("text frames only")
	}
	return string(data), nil
}

func (stringCodec) Encode(msg string) ([]byte, MessageType, error) {
	return []byte(msg), TextMessage, nil
}

func (stringCodec) PingMessage(PingData) string { return "ka" }

func (stringCodec) ErrorMessage(err error) string { return "error: " + err.Error() }

type echoHandler struct {
	conns  chan *echoConn
	events chan func() error
	done   chan struct{}
}

func newEchoHandler() *echoHandler {
	return &echoHandler{
		conns:  make(chan *echoConn, 1),
		events: make(chan func() error),
		done:   make(chan struct{}),
	}
}

func (h *echoHandler) Validate(w http.ResponseWriter, r *http.Request) (*echoConn, bool) {
	if r.URL.Query().Get("reject") != "" {
		http.Error(w, "rejected", http.StatusForbidden)
		return nil, false
	}
	c := &echoConn{BaseConn: BaseConn[string, string]{Codec: stringCodec{}, NameStr: "echo"}, h: h}
	h.conns <- c
	return c, true
}

type echoConn struct {
	BaseConn[string, string]
	h *echoHandler
}

func (c *echoConn) LoopEvents() <-chan func() error { return c.h.events }

func (c *echoConn) Done() <-chan struct{} { return c.h.done }

func (c *echoConn) HandleMessage(msg string) error {
	switch msg {
	case "bye":
		c.SendOutput("bye!")
		c.CloseWith(websocket.CloseNormalClosure, "bye", time.Second)
		return errors.New("closing")
	case "oops":
		c.SendError(errors.New("oops"))
	default:
		c.SendOutput("echo: " + msg)
	}
	return nil
}

func startEcho(t *testing.T, config *WSConnConfig) (*echoHandler, string) {
	t.Helper()
	h := newEchoHandler()
	srv := httptest.NewServer(WSServe(h, config))
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestWSServe_RequiredSubprotocol(t *testing.T) {
	config := DefaultWSConnConfig()
	config.RequiredSubprotocol = "echo-v1"
	_, url := startEcho(t, config)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	dialer := websocket.Dialer{Subprotocols: []string{"other", "echo-v1"}}
	conn, resp, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "echo-v1", conn.Subprotocol())
	assert.Equal(t, "echo-v1", resp.Header.Get("Sec-WebSocket-Protocol"))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hi")))
	assert.Equal(t, "echo: hi", readText(t, conn))
}

func TestWSServe_ValidateRejects(t *testing.T) {
	_, url := startEcho(t, nil)
	_, resp, err := websocket.DefaultDialer.Dial(url+"?reject=1", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWSHandleConn_ControlCodecPingsAndErrors(t *testing.T) {
	config := DefaultWSConnConfig()
	config.PingPeriod = 20 * time.Millisecond
	config.PongPeriod = 0
	_, url := startEcho(t, config)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "ka", readText(t, conn))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("oops")))
	for {
		msg := readText(t, conn)
		if msg == "ka" {
			continue
		}
		assert.Equal(t, "error: oops", msg)
		break
	}
}

func TestWSHandleConn_LoopEventsAndDone(t *testing.T) {
	config := DefaultWSConnConfig()
	config.PingPeriod = 0
	h, url := startEcho(t, config)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	c := <-h.conns

	h.events <- func() error {
		c.SendOutput("from loop")
		return nil
	}
	assert.Equal(t, "from loop", readText(t, conn))

	close(h.done)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestWSHandleConn_CloseWithIsOrdered(t *testing.T) {
	_, url := startEcho(t, nil)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("bye")))
	assert.Equal(t, "bye!", readText(t, conn))

	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
	assert.Equal(t, "bye", ce.Text)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsClosedError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"net closed", net.ErrClosed, true},
		{"close frame", &websocket.CloseError{Code: websocket.CloseGoingAway}, true},
		{"timeout", timeoutErr{}, true},
		{"other", errors.New("decode failed"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsClosedError(tt.err))
		})
	}
}
