package gqlhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/panyam/graphqlkit/gql"
	"github.com/panyam/graphqlkit/metrics"
	"github.com/panyam/graphqlkit/stream"
)

// Format is the body encoding of a streaming response.
type Format int

const (
	// EventStream frames results as server-sent events.
	EventStream Format = iota
	// JSONLines writes one JSON document per line.
	JSONLines
)

// ContentType returns the Content-Type header value for f.
func (f Format) ContentType() string {
	if f == JSONLines {
		return "application/stream+json"
	}
	return "text/event-stream"
}

// NegotiateFormat picks JSONLines when the client accepts JSON and the
// event stream otherwise.
func NegotiateFormat(accept string) Format {
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mediaType {
		case "application/json", "application/stream+json", "application/x-ndjson":
			return JSONLines
		}
	}
	return EventStream
}

// message encodes one result. The nudge after it pushes the frame through
// buffering proxies.
func (f Format) message(res *gql.Result) ([]byte, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	if f == JSONLines {
		b.Write(data)
		b.WriteString("\n")
	} else {
		b.WriteString("event: message\ndata: ")
		b.Write(data)
		b.WriteString("\n\n")
	}
	b.WriteString(f.nudge())
	return []byte(b.String()), nil
}

// ping encodes a keep-alive, followed by the same nudge as messages.
func (f Format) ping(now time.Time) []byte {
	if f == JSONLines {
		return []byte("\n" + f.nudge())
	}
	return []byte("event: ping\ndata: " + now.UTC().Format(time.RFC3339Nano) + "\n\n" + f.nudge())
}

func (f Format) nudge() string {
	if f == JSONLines {
		return "\n"
	}
	return ":\n\n"
}

// Responder writes a subscription as a streaming HTTP response.
type Responder struct {
	Format Format

	// PingInterval is the idle period before a ping. Zero disables pings.
	PingInterval time.Duration

	// Drain delivers the pending result when ctx is cancelled instead of
	// dropping it.
	Drain bool

	// Gate, if set, counts the response while it is being written.
	Gate *stream.Gate

	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Serve streams src as the response to r until src is exhausted or ctx is
// done. A source failure is sent to the client as a final error result.
// Serve closes src.
func (rs *Responder) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, src gql.ResultStream) {
	if rs.Gate != nil {
		rs.Gate.Increment()
		defer rs.Gate.Decrement()
	}
	rs.Metrics.StreamOpened()
	defer rs.Metrics.StreamClosed()

	logger := rs.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("stream_id", uuid.NewString(), "format", rs.Format.ContentType())

	cs := stream.New(ctx, src, stream.Options{Timeout: rs.PingInterval, Drain: rs.Drain})
	defer cs.Close()

	h := w.Header()
	h.Set("Cache-Control", "no-cache")
	h.Set("Content-Type", rs.Format.ContentType())
	if r.ProtoMajor == 1 {
		h.Set("Connection", "keep-alive")
	}
	rc := http.NewResponseController(w)
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.Warn("response cannot be flushed", "error", err)
	}
	logger.Debug("stream started")

	for {
		ev, err := cs.Next()
		if errors.Is(err, io.EOF) {
			logger.Debug("stream ended")
			return
		}
		failed := err != nil

		var frame []byte
		switch {
		case failed:
			logger.Warn("subscription failed", "error", err)
			frame, err = rs.Format.message(gql.ErrorResult(err))
		case ev.Idle():
			frame = rs.Format.ping(time.Now())
		default:
			frame, err = rs.Format.message(ev.Result)
		}
		if err != nil {
			logger.Error("cannot encode result", "error", err)
			frame, _ = rs.Format.message(gql.ErrorResult(err))
		}

		if _, err := w.Write(frame); err != nil {
			logger.Debug("client went away", "error", err)
			return
		}
		if err := rc.Flush(); err != nil {
			logger.Debug("flush failed", "error", err)
			return
		}
		if failed {
			return
		}
	}
}
