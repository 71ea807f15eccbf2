package http

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	conc "github.com/panyam/gocurrent"
)

// WSConn represents a bidirectional WebSocket connection that can handle
// typed messages of type I. It extends BiDirStreamConn with WebSocket-specific
// functionality for reading messages and connection initialization.
//
// Implementations typically embed BaseConn[I, O] and override HandleMessage.
// The type parameter I represents the input message type received from clients.
type WSConn[I any] interface {
	BiDirStreamConn[I]

	// ReadMessage reads and decodes the next message from the WebSocket connection.
	// This is called in a loop by WSHandleConn to process incoming messages.
	// Returns the decoded message or an error (including io.EOF on close).
	ReadMessage(w *websocket.Conn) (I, error)

	// OnStart is called when the WebSocket connection is established.
	// Use this to initialize the connection (e.g., set up writers, start goroutines).
	// Return an error to reject and close the connection.
	OnStart(conn *websocket.Conn) error
}

// WSLoopConn is optionally implemented by connections that run background
// work but keep all of their state owned by the connection loop.
type WSLoopConn interface {
	// LoopEvents delivers callbacks that WSHandleConn runs on the loop
	// goroutine. A non-nil error is passed to OnError.
	LoopEvents() <-chan func() error

	// Done is closed when the connection must stop, for example when a
	// server-wide shutdown fires.
	Done() <-chan struct{}
}

// WSHandler validates HTTP requests and creates WebSocket connections.
// It acts as a factory for WSConn instances, typically performing authentication
// and authorization before allowing the upgrade.
//
// Type parameters:
//   - I: The input message type that the connection will handle
//   - S: The specific WSConn implementation type (must implement WSConn[I])
type WSHandler[I any, S WSConn[I]] interface {
	// Validate checks if the HTTP request should be upgraded to a WebSocket.
	// Return (connection, true) to proceed with the upgrade.
	// Return (nil, false) to reject (the handler should write the error response).
	Validate(w http.ResponseWriter, r *http.Request) (S, bool)
}

// WSConnConfig combines BiDirStreamConfig with WebSocket-specific settings.
// It controls connection upgrade behavior and lifecycle timing.
type WSConnConfig struct {
	*BiDirStreamConfig
	// Upgrader handles the HTTP to WebSocket protocol upgrade.
	// Configure ReadBufferSize, WriteBufferSize, and CheckOrigin as needed.
	Upgrader websocket.Upgrader

	// RequiredSubprotocol, if set, must be among the sub-protocols offered by
	// the client. Requests that do not offer it are rejected with 400 before
	// the upgrade, and the accepted upgrade echoes it back.
	RequiredSubprotocol string
}

// DefaultWSConnConfig returns a WSConnConfig with sensible defaults:
//   - ReadBufferSize: 1024 bytes
//   - WriteBufferSize: 1024 bytes
//   - CheckOrigin: allows all origins (configure for production!)
//   - PingPeriod: 30 seconds
//   - PongPeriod: 300 seconds (5 minutes)
func DefaultWSConnConfig() *WSConnConfig {
	return &WSConnConfig{
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		BiDirStreamConfig: DefaultBiDirStreamConfig(),
	}
}

// OffersSubprotocol reports whether the upgrade request lists proto in its
// Sec-WebSocket-Protocol header.
func OffersSubprotocol(r *http.Request, proto string) bool {
	return slices.Contains(websocket.Subprotocols(r), proto)
}

// WSServe creates an http.HandlerFunc that upgrades HTTP requests to WebSocket
// connections and manages their lifecycle. This is the primary entry point for
// creating WebSocket endpoints.
//
// The handler validates incoming requests and creates connection instances.
// The config controls upgrade behavior and timing; if nil, DefaultWSConnConfig is used.
//
// Example:
//
//	router.HandleFunc("/ws", gohttp.WSServe(&MyHandler{}, nil))
//
// The lifecycle is:
//  1. the required sub-protocol (if any) is checked
//  2. handler.Validate() is called to check the request
//  3. If valid, the connection is upgraded to WebSocket
//  4. conn.OnStart() is called to initialize the connection
//  5. Messages are read and passed to conn.HandleMessage()
//  6. On close, conn.OnClose() is called for cleanup
func WSServe[I any, S WSConn[I]](handler WSHandler[I, S], config *WSConnConfig) http.HandlerFunc {
	if config == nil {
		config = DefaultWSConnConfig()
	}
	return func(rw http.ResponseWriter, req *http.Request) {
		var respHeader http.Header
		if proto := config.RequiredSubprotocol; proto != "" {
			if !OffersSubprotocol(req, proto) {
				slog.Warn("websocket client did not offer required sub-protocol",
					"want", proto, "offered", websocket.Subprotocols(req))
				http.Error(rw, "WebSocket sub-protocol must include "+proto, http.StatusBadRequest)
				return
			}
			respHeader = http.Header{}
			respHeader.Set("Sec-WebSocket-Protocol", proto)
		}

		ctx, isValid := handler.Validate(rw, req)
		if !isValid {
			return
		}

		conn, err := config.Upgrader.Upgrade(rw, req, respHeader)
		if err != nil {
			// Upgrade has already written the error response.
			slog.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		WSHandleConn(conn, ctx, config)
	}
}

// IsClosedError reports whether err means the connection can no longer be
// read from: a close frame, an EOF, a closed socket or an expired deadline.
func IsClosedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// WSHandleConn manages the lifecycle of an established WebSocket connection.
// It handles:
//   - Periodic ping messages for connection health checks
//   - Timeout detection when no data is received within PongPeriod
//   - Message reading and dispatching to ctx.HandleMessage()
//   - Error handling via ctx.OnError()
//   - Loop callbacks and stop signals from connections implementing WSLoopConn
//   - Clean shutdown via ctx.OnClose()
//
// A PingPeriod or PongPeriod of zero disables the corresponding check.
//
// This function is called automatically by WSServe, but can also be used directly
// when you have an established WebSocket connection from another source.
//
// The function blocks until the connection is closed or an unrecoverable error occurs.
func WSHandleConn[I any, S WSConn[I]](conn *websocket.Conn, ctx S, config *WSConnConfig) {
	if config == nil {
		config = DefaultWSConnConfig()
	}
	logger := slog.Default().With("conn", ctx.Name(), "conn_id", ctx.ConnId())

	var loopEvents <-chan func() error
	var done <-chan struct{}
	if lc, ok := any(ctx).(WSLoopConn); ok {
		loopEvents = lc.LoopEvents()
		done = lc.Done()
	}

	var pingC, pongC <-chan time.Time
	if config.PingPeriod > 0 {
		pingTimer := time.NewTicker(config.PingPeriod)
		defer pingTimer.Stop()
		pingC = pingTimer.C
	}
	if config.PongPeriod > 0 {
		pongChecker := time.NewTicker(config.PongPeriod)
		defer pongChecker.Stop()
		pongC = pongChecker.C
	}

	// gorilla fails every read after a closed error, so the read func parks
	// until the loop exits instead of spinning on the broken connection.
	stopped := make(chan struct{})
	readFailed := false
	reader := conc.NewReader(func() (I, error) {
		if readFailed {
			<-stopped
			var zero I
			return zero, net.ErrClosed
		}
		msg, err := ctx.ReadMessage(conn)
		readFailed = IsClosedError(err)
		return msg, err
	})
	defer func() {
		close(stopped)
		conn.Close()
		reader.Stop()
	}()

	defer ctx.OnClose()
	if err := ctx.OnStart(conn); err != nil {
		logger.Warn("connection rejected on start", "error", err)
		return
	}

	lastReadAt := time.Now()
	extendDeadline := func() {
		if config.PongPeriod > 0 {
			conn.SetReadDeadline(time.Now().Add(config.PongPeriod))
		}
	}
	extendDeadline()
	for {
		select {
		case <-done:
			logger.Debug("connection stopped by owner")
			return
		case <-pingC:
			ctx.SendPing()
		case <-pongC:
			hbDelta := time.Since(lastReadAt)
			if hbDelta > config.PongPeriod && ctx.OnTimeout() {
				logger.Info("no data from peer, closing", "since", hbDelta)
				return
			}
		case fn := <-loopEvents:
			if err := fn(); err != nil && ctx.OnError(err) != nil {
				return
			}
		case result := <-reader.OutputChan():
			extendDeadline()
			lastReadAt = time.Now()
			if result.Error != nil {
				if IsClosedError(result.Error) {
					logger.Debug("peer closed connection", "error", result.Error)
					ctx.OnError(result.Error)
					return
				}
				if ctx.OnError(result.Error) != nil {
					logger.Debug("closing due to error", "error", result.Error)
					return
				}
				continue
			}
			if err := ctx.HandleMessage(result.Value); err != nil && ctx.OnError(err) != nil {
				return
			}
		}
	}
}
