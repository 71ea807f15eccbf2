package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/panyam/graphqlkit/gql"
	"github.com/panyam/graphqlkit/gql/graphqlgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, tick time.Duration) *graphqlgo.Executor {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewHub(tick)
	go hub.Run(ctx)
	schema, err := NewSchema(hub)
	require.NoError(t, err)
	return graphqlgo.New(schema)
}

func TestSchema_TimeQuery(t *testing.T) {
	exec := newTestExecutor(t, time.Hour)

	res, err := exec.Execute(context.Background(), gql.Request{Query: "{ time }"})
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	value := res.Data.(map[string]any)["time"].(string)
	_, err = time.Parse(time.RFC3339Nano, value)
	assert.NoError(t, err)
}

func TestSchema_TimeSubscription(t *testing.T) {
	exec := newTestExecutor(t, 10*time.Millisecond)

	src, err := exec.Subscribe(context.Background(), gql.Request{Query: "subscription { time }"})
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var last time.Time
	for i := 0; i < 3; i++ {
		res, err := src.Next(ctx)
		require.NoError(t, err)
		require.Empty(t, res.Errors)
		at, err := time.Parse(time.RFC3339Nano, res.Data.(map[string]any)["time"].(string))
		require.NoError(t, err)
		assert.True(t, at.After(last))
		last = at
	}
}

func TestSchema_PublishReachesSubscribers(t *testing.T) {
	exec := newTestExecutor(t, 5*time.Millisecond)

	src, err := exec.Subscribe(context.Background(), gql.Request{Query: "subscription { messages { text } }"})
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	next := make(chan *gql.Result, 1)
	go func() {
		res, _ := src.Next(ctx)
		next <- res
	}()

	// The subscriber registers asynchronously, so publish until it hears one.
	var got *gql.Result
	for got == nil {
		res, err := exec.Execute(context.Background(), gql.Request{
			Query:     `mutation($text: String!) { publish(text: $text) { text } }`,
			Variables: map[string]any{"text": "hi"},
		})
		require.NoError(t, err)
		require.Empty(t, res.Errors)
		assert.Equal(t, map[string]any{"publish": map[string]any{"text": "hi"}}, res.Data)

		select {
		case got = <-next:
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
			t.Fatal("published message never arrived")
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, map[string]any{"messages": map[string]any{"text": "hi"}}, got.Data)
}

func TestLoadOptions_Env(t *testing.T) {
	t.Setenv("GRAPHQLKIT_ADDR", ":9999")
	t.Setenv("GRAPHQLKIT_PING_INTERVAL", "3s")

	cmd := newRootCmd()
	v := newViper()
	require.NoError(t, v.BindPFlags(cmd.Flags()))

	opts := loadOptions(v)
	assert.Equal(t, ":9999", opts.Addr)
	assert.Equal(t, 3*time.Second, opts.PingInterval)
	assert.Equal(t, 10*time.Second, opts.WSPingPeriod)
	assert.Equal(t, "info", opts.LogLevel)
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("debug")
	assert.NoError(t, err)
	_, err = newLogger("loud")
	assert.Error(t, err)
}

func TestServe_StartsAndShutsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, ln, options{Tick: 10 * time.Millisecond, ShutdownTimeout: 2 * time.Second}, slog.Default())
	}()

	resp, err := http.Post(base+"/graphql", "application/json", strings.NewReader(`{"query":"{ time }"}`))
	require.NoError(t, err)
	var body struct {
		Data struct{ Time string } `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, err = time.Parse(time.RFC3339Nano, body.Data.Time)
	assert.NoError(t, err)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	metrics, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "go_goroutines")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRun_ListenError(t *testing.T) {
	err := run(context.Background(), options{Addr: "256.0.0.1:bad"}, nil)
	assert.Error(t, err)
}
