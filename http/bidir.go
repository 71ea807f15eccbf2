package http

import "time"

// BiDirStreamConfig holds the heartbeat timing of a connection loop.
type BiDirStreamConfig struct {
	// PingPeriod is how often SendPing is called. The codec decides what a
	// ping looks like on the wire (graphql-ws sends "ka"). Zero disables
	// pings. Default: 30 seconds.
	PingPeriod time.Duration

	// PongPeriod is how long the loop waits for any frame from the peer
	// before calling OnTimeout. Zero disables the check, which suits
	// protocols whose clients never send heartbeats. Default: 5 minutes.
	PongPeriod time.Duration
}

// DefaultBiDirStreamConfig returns a 30 second ping period and a 5 minute
// pong period.
func DefaultBiDirStreamConfig() *BiDirStreamConfig {
	return &BiDirStreamConfig{
		PingPeriod: 30 * time.Second,
		PongPeriod: 5 * time.Minute,
	}
}

// BiDirStreamConn is the set of hooks a connection loop drives. All hooks
// run on the loop goroutine, in this order:
//
//  1. OnStart (see WSConn) once the transport is ready
//  2. HandleMessage for every decoded frame, SendPing on every ping tick
//  3. OnError when reading, decoding or handling fails
//  4. OnTimeout when nothing arrived within PongPeriod
//  5. OnClose exactly once, whatever ended the loop
type BiDirStreamConn[I any] interface {
	// SendPing queues a heartbeat for the peer.
	SendPing() error

	// Name is a human-readable connection kind used in logs.
	Name() string

	// ConnId identifies this connection instance in logs.
	ConnId() string

	// HandleMessage processes one decoded frame. A non-nil error is passed
	// to OnError.
	HandleMessage(msg I) error

	// OnError returns nil to keep the loop running or an error to end it.
	// Errors for which IsClosedError is true end the loop regardless.
	OnError(err error) error

	// OnClose releases the connection before the socket is closed.
	OnClose()

	// OnTimeout returns true to end the loop after a silent PongPeriod.
	OnTimeout() bool
}
