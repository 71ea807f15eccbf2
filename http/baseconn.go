package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	conc "github.com/panyam/gocurrent"
	gut "github.com/panyam/goutils/utils"
)

// OutgoingMessage represents any message that can be sent over the WebSocket.
// This union type allows pings, errors, data and close frames to all go
// through the same Writer, avoiding concurrent write issues and keeping the
// close frame ordered after every message queued before it.
type OutgoingMessage[O any] struct {
	// Data is a regular output message
	Data *O

	// Ping is a heartbeat message
	Ping *PingData

	// Error is an error message
	Error error

	// Close asks the writer to send a close frame
	Close *CloseData
}

// PingData contains ping message metadata.
type PingData struct {
	PingId int64
	ConnId string
	Name   string
}

// CloseData describes a close frame queued with BaseConn.CloseWith.
type CloseData struct {
	Code     int
	Text     string
	Deadline time.Time
	done     chan struct{}
}

// MessageCounter receives a callback for every frame read or written.
// *metrics.Collector satisfies it.
type MessageCounter interface {
	MessageReceived()
	MessageSent()
}

// ConnMetrics tracks per-connection statistics.
type ConnMetrics struct {
	ConnectedAt  time.Time
	MsgsSent     int64
	MsgsReceived int64
}

// IncrementSent atomically increments the sent counter
func (m *ConnMetrics) IncrementSent() int64 {
	return atomic.AddInt64(&m.MsgsSent, 1)
}

// IncrementReceived atomically increments the received counter
func (m *ConnMetrics) IncrementReceived() int64 {
	return atomic.AddInt64(&m.MsgsReceived, 1)
}

// BaseConn is a generic WebSocket connection that separates transport from encoding.
// It uses a Codec to handle message serialization/deserialization.
//
// Type parameters:
//   - I: Input message type (received from client)
//   - O: Output message type (sent to client)
//
// Usage:
//
//	type MyConn struct {
//	    gohttp.BaseConn[MyInput, MyOutput]
//	}
//
//	func (c *MyConn) HandleMessage(msg MyInput) error {
//	    // msg is already typed!
//	    return nil
//	}
type BaseConn[I any, O any] struct {
	// Codec handles message encoding/decoding.
	// Must be set before the connection is used.
	Codec Codec[I, O]

	// Writer is the output channel for sending messages.
	// Handles all outgoing messages: data, pings, errors and close frames.
	// Initialized in OnStart.
	Writer *conc.Writer[OutgoingMessage[O]]

	// NameStr is an optional human-readable name for this connection.
	NameStr string

	// ConnIdStr is a unique identifier for this connection.
	// Auto-generated if not set.
	ConnIdStr string

	// PingId tracks the current ping sequence number.
	PingId int64

	// Log is the connection logger. Defaults to slog.Default() with a
	// conn_id attribute.
	Log *slog.Logger

	// Counter, if set, is notified of every frame read or written.
	Counter MessageCounter

	// Metrics holds this connection's message counts.
	Metrics ConnMetrics

	wsConn *websocket.Conn
}

// Name returns the connection name.
func (b *BaseConn[I, O]) Name() string {
	if b.NameStr == "" {
		b.NameStr = "BaseConn"
	}
	return b.NameStr
}

// ConnId returns the connection ID, generating one if not set.
func (b *BaseConn[I, O]) ConnId() string {
	if b.ConnIdStr == "" {
		b.ConnIdStr = gut.RandString(10, "")
	}
	return b.ConnIdStr
}

// Logger returns the connection logger.
func (b *BaseConn[I, O]) Logger() *slog.Logger {
	if b.Log == nil {
		b.Log = slog.Default().With("conn", b.Name(), "conn_id", b.ConnId())
	}
	return b.Log
}

// ReadMessage reads and decodes the next message from the WebSocket connection.
// Uses the configured Codec to decode the raw bytes.
func (b *BaseConn[I, O]) ReadMessage(conn *websocket.Conn) (I, error) {
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		var zero I
		return zero, err
	}
	b.Metrics.IncrementReceived()
	if b.Counter != nil {
		b.Counter.MessageReceived()
	}
	return b.Codec.Decode(data, MessageType(msgType))
}

// OnStart initializes the connection after WebSocket upgrade.
// Creates the Writer with codec-aware encoding.
func (b *BaseConn[I, O]) OnStart(conn *websocket.Conn) error {
	b.Logger().Info("connection started", "remote", conn.RemoteAddr().String())

	b.wsConn = conn
	b.Metrics.ConnectedAt = time.Now()
	b.Writer = conc.NewWriter(b.write)
	return nil
}

// write is the Writer's sink. Write failures are logged and dropped so the
// queue keeps draining; the read loop observes the broken connection.
func (b *BaseConn[I, O]) write(msg OutgoingMessage[O]) error {
	var err error
	switch {
	case msg.Close != nil:
		err = b.writeClose(msg.Close)
	case msg.Ping != nil:
		err = b.writePing(msg.Ping)
	case msg.Error != nil:
		if errors.Is(msg.Error, io.EOF) {
			return nil
		}
		err = b.writeError(msg.Error)
	case msg.Data != nil:
		err = b.writeMessage(*msg.Data)
	}
	if err != nil {
		b.Logger().Debug("write failed", "error", err)
	}
	return nil
}

// writeMessage encodes and sends a typed message.
func (b *BaseConn[I, O]) writeMessage(msg O) error {
	data, msgType, err := b.Codec.Encode(msg)
	if err != nil {
		return err
	}
	if err := b.wsConn.WriteMessage(int(msgType), data); err != nil {
		return err
	}
	b.Metrics.IncrementSent()
	if b.Counter != nil {
		b.Counter.MessageSent()
	}
	return nil
}

// writeError sends an error message. Codecs implementing ControlCodec choose
// the envelope; otherwise errors are sent as JSON text.
func (b *BaseConn[I, O]) writeError(err error) error {
	if cc, ok := b.Codec.(ControlCodec[O]); ok {
		return b.writeMessage(cc.ErrorMessage(err))
	}
	data, _ := json.Marshal(map[string]any{
		"type":  "error",
		"error": err.Error(),
	})
	return b.wsConn.WriteMessage(websocket.TextMessage, data)
}

// writePing sends a ping message. Codecs implementing ControlCodec choose
// the envelope; otherwise pings are sent as JSON text.
func (b *BaseConn[I, O]) writePing(ping *PingData) error {
	if cc, ok := b.Codec.(ControlCodec[O]); ok {
		return b.writeMessage(cc.PingMessage(*ping))
	}
	data, _ := json.Marshal(map[string]any{
		"type":   "ping",
		"pingId": ping.PingId,
		"connId": ping.ConnId,
		"name":   ping.Name,
	})
	return b.wsConn.WriteMessage(websocket.TextMessage, data)
}

func (b *BaseConn[I, O]) writeClose(cd *CloseData) error {
	defer close(cd.done)
	return b.wsConn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(cd.Code, cd.Text), cd.Deadline)
}

// SendPing sends a ping message through the Writer.
// This ensures thread-safe writes by going through the serialized Writer.
func (b *BaseConn[I, O]) SendPing() error {
	b.PingId++
	if b.Writer != nil {
		b.Writer.Send(OutgoingMessage[O]{
			Ping: &PingData{
				PingId: b.PingId,
				ConnId: b.ConnId(),
				Name:   b.Name(),
			},
		})
	}
	return nil
}

// HandleMessage processes an incoming message.
// Default implementation just logs; override in embedding struct.
func (b *BaseConn[I, O]) HandleMessage(msg I) error {
	b.Logger().Debug("received message", "msg", msg)
	return nil
}

// OnError handles connection errors.
// Return nil to suppress the error and continue, or return the error to close.
func (b *BaseConn[I, O]) OnError(err error) error {
	return err
}

// OnClose cleans up when the connection closes.
func (b *BaseConn[I, O]) OnClose() {
	if b.Writer != nil {
		b.Writer.Stop()
	}
	b.Logger().Info("connection closed",
		"sent", atomic.LoadInt64(&b.Metrics.MsgsSent),
		"received", atomic.LoadInt64(&b.Metrics.MsgsReceived),
		"duration", time.Since(b.Metrics.ConnectedAt))
}

// OnTimeout handles read timeout.
// Return true to close the connection, false to keep it alive.
func (b *BaseConn[I, O]) OnTimeout() bool {
	return true
}

// SendOutput sends a typed output message to the client.
// This is a convenience method that wraps the Writer.Send call.
func (b *BaseConn[I, O]) SendOutput(msg O) {
	if b.Writer != nil {
		b.Writer.Send(OutgoingMessage[O]{Data: &msg})
	}
}

// SendOutputContext queues msg unless ctx is done first. It reports whether
// the message was queued. Producers running outside the connection loop use
// it so that cancellation never leaves them blocked on a full writer.
func (b *BaseConn[I, O]) SendOutputContext(ctx context.Context, msg O) bool {
	if b.Writer == nil {
		return false
	}
	select {
	case b.Writer.InputChan() <- OutgoingMessage[O]{Data: &msg}:
		return true
	case <-ctx.Done():
		return false
	}
}

// SendError sends an error to the client.
func (b *BaseConn[I, O]) SendError(err error) {
	if b.Writer != nil {
		b.Writer.Send(OutgoingMessage[O]{Error: err})
	}
}

// CloseWith queues a close frame behind every message already queued and
// waits up to timeout for it to be written.
func (b *BaseConn[I, O]) CloseWith(code int, text string, timeout time.Duration) {
	if b.Writer == nil {
		return
	}
	cd := &CloseData{
		Code:     code,
		Text:     text,
		Deadline: time.Now().Add(timeout),
		done:     make(chan struct{}),
	}
	expired := time.NewTimer(timeout)
	defer expired.Stop()
	select {
	case b.Writer.InputChan() <- OutgoingMessage[O]{Close: cd}:
	case <-expired.C:
		return
	}
	select {
	case <-cd.done:
	case <-expired.C:
	}
}
