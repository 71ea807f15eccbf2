package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/graphql-go/graphql"
	conc "github.com/panyam/gocurrent"
)

const (
	eventTick    = "tick"
	eventMessage = "message"
)

type event struct {
	Kind string
	At   time.Time
	Text string
}

// Hub broadcasts clock ticks and published messages to every subscriber.
type Hub struct {
	Fanout *conc.FanOut[event]
	Tick   time.Duration
}

func NewHub(tick time.Duration) *Hub {
	return &Hub{Fanout: conc.NewFanOut[event](), Tick: tick}
}

// Run sends a tick every h.Tick until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.Tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			h.Fanout.Send(event{Kind: eventTick, At: now})
		}
	}
}

// Publish sends text to every "messages" subscriber.
func (h *Hub) Publish(text string) event {
	ev := event{Kind: eventMessage, At: time.Now(), Text: text}
	h.Fanout.Send(ev)
	return ev
}

// watch returns a channel of the hub's events of the given kind. It is
// closed once ctx is done and the subscriber has been removed from the hub.
func (h *Hub) watch(ctx context.Context, kind string) chan any {
	in := make(chan event, 16)
	h.Fanout.Add(in, nil, false)

	out := make(chan any)
	go func() {
		defer close(out)
		defer func() {
			// The hub may still be sending to in until the removal lands.
			removed := h.Fanout.Remove(in, true)
			for {
				select {
				case <-removed:
					return
				case <-in:
				}
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-in:
				if !ok {
					return
				}
				if ev.Kind != kind {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	slog.Debug("subscriber added", "kind", kind)
	return out
}

var messageType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Message",
	Fields: graphql.Fields{
		"text": &graphql.Field{
			Type: graphql.NewNonNull(graphql.String),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(event).Text, nil
			},
		},
		"at": &graphql.Field{
			Type: graphql.NewNonNull(graphql.String),
			Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(event).At.UTC().Format(time.RFC3339Nano), nil
			},
		},
	},
})

// NewSchema builds the demo schema:
//
//	type Query        { time: String! }
//	type Mutation     { publish(text: String!): Message! }
//	type Subscription { time: String!, messages: Message! }
func NewSchema(hub *Hub) (graphql.Schema, error) {
	formatTime := func(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"time": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return formatTime(time.Now()), nil
				},
			},
		},
	})

	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"publish": &graphql.Field{
				Type: graphql.NewNonNull(messageType),
				Args: graphql.FieldConfigArgument{
					"text": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return hub.Publish(p.Args["text"].(string)), nil
				},
			},
		},
	})

	subscription := graphql.NewObject(graphql.ObjectConfig{
		Name: "Subscription",
		Fields: graphql.Fields{
			"time": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Subscribe: func(p graphql.ResolveParams) (any, error) {
					return hub.watch(p.Context, eventTick), nil
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return formatTime(p.Source.(event).At), nil
				},
			},
			"messages": &graphql.Field{
				Type: graphql.NewNonNull(messageType),
				Subscribe: func(p graphql.ResolveParams) (any, error) {
					return hub.watch(p.Context, eventMessage), nil
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:        query,
		Mutation:     mutation,
		Subscription: subscription,
	})
}
