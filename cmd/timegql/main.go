// Command timegql serves a small GraphQL schema over every transport in
// graphqlkit: queries on /graphql, subscriptions as server-sent events or
// JSON lines on /subscriptions, graphql-ws on the same path, GraphiQL on
// /graphiql and Prometheus metrics on /metrics.
//
// Try it with:
//
//	go run ./cmd/timegql --addr :8080
//	curl -N -H 'Allow: POST' -d '{"query":"subscription { time }"}' \
//	     -H 'Content-Type: application/json' localhost:8080/graphql
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/panyam/graphqlkit/gql/graphqlgo"
	"github.com/panyam/graphqlkit/gqlhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

type options struct {
	Addr            string
	Prefix          string
	PingInterval    time.Duration
	WSPingPeriod    time.Duration
	Drain           bool
	Tick            time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
}

func loadOptions(v *viper.Viper) options {
	return options{
		Addr:            v.GetString("addr"),
		Prefix:          v.GetString("prefix"),
		PingInterval:    v.GetDuration("ping-interval"),
		WSPingPeriod:    v.GetDuration("ws-ping-period"),
		Drain:           v.GetBool("drain"),
		Tick:            v.GetDuration("tick"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
		LogLevel:        v.GetString("log-level"),
	}
}

// newViper reads settings from flags and GRAPHQLKIT_* environment variables,
// e.g. GRAPHQLKIT_PING_INTERVAL for --ping-interval.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("GRAPHQLKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func newRootCmd() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "timegql",
		Short: "Serve a clock and a message board over GraphQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			opts := loadOptions(v)
			logger, err := newLogger(opts.LogLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, logger)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", ":8080", "address to listen on")
	flags.String("prefix", "", "path prefix for every GraphQL route")
	flags.Duration("ping-interval", 10*time.Second, "idle period before a streaming response sends a ping, 0 disables")
	flags.Duration("ws-ping-period", 10*time.Second, "interval between graphql-ws keep-alives, 0 disables")
	flags.Bool("drain", false, "deliver pending results of streaming responses on shutdown")
	flags.Duration("tick", time.Second, "interval of the time subscription")
	flags.Duration("shutdown-timeout", 5*time.Second, "how long to wait for open streams on shutdown")
	flags.String("log-level", "info", "debug, info, warn or error")
	return cmd
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return err
	}
	return serve(ctx, ln, opts, logger)
}

// serve runs the server on ln until ctx is done, then shuts down the open
// streams and the listener within opts.ShutdownTimeout.
func serve(ctx context.Context, ln net.Listener, opts options, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	hub := NewHub(opts.Tick)
	schema, err := NewSchema(hub)
	if err != nil {
		return fmt.Errorf("building schema: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	config := gqlhttp.DefaultConfig()
	config.PathPrefix = opts.Prefix
	config.PingInterval = opts.PingInterval
	config.DrainOnShutdown = opts.Drain
	config.WS.WS.PingPeriod = opts.WSPingPeriod
	config.Registerer = reg
	config.Logger = logger
	ctrl := gqlhttp.NewController(graphqlgo.New(schema), config)

	r := mux.NewRouter()
	ctrl.Routes(r)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: r}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", ln.Addr().String(), "prefix", opts.Prefix)
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down", "active", ctrl.Active())
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.ShutdownTimeout)
		defer cancel()
		if err := ctrl.Shutdown(shutdownCtx); err != nil {
			logger.Warn("streams still open at shutdown", "active", ctrl.Active(), "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
