package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daviddao/peerbus/pkg/metrics"
	"github.com/daviddao/peerbus/pkg/model"
)

func (a *app) cmdRun(args []string) int {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	cfgPath := busFlags(flags)
	metricsAddr := flags.String("metrics-addr", "", "serve prometheus metrics on this address")
	announce := flags.String("announce", "", "text to broadcast as an announce signal after joining")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	cfg, err := resolveConfig(flags, *cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbus: run: %v\n", err)
		return 1
	}
	a.configureLog(cfg)

	b, _, err := a.openBus(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbus: run: %v\n", err)
		return 1
	}

	// Serve something callable and log what the group throws at us.
	b.RegisterMethod("ping", func(args ...any) ([]any, error) {
		return []any{"pong"}, nil
	}, "", "string")
	b.RegisterMethod("echo", func(args ...any) ([]any, error) {
		return args, nil
	}, "values...", "values...")
	b.RegisterSignal("announce", "text")
	b.Observe(func(from string, msg model.Message) {
		switch msg.Type {
		case model.TypeSignal:
			a.log.Info().Str("from", from).Str("signal", msg.Name).
				Interface("args", msg.Data["args"]).Msg("signal received")
		case model.TypeMessage:
			a.log.Info().Str("from", from).Str("message", msg.Name).
				Interface("data", msg.Data).Msg("message received")
		}
	})

	if err := b.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "pbus: run: %v\n", err)
		return 1
	}
	defer b.Stop()

	if *metricsAddr != "" {
		metrics.Register()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.log.Error().Err(err).Str("addr", *metricsAddr).Msg("metrics server failed")
			}
		}()
		defer srv.Close()
	}

	if *announce != "" {
		if id := b.Signal(nil, "announce", *announce); id == "" {
			a.log.Info().Msg("no live peers heard the announcement")
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	fmt.Fprintf(os.Stderr, "pbus: %s joined at position %d (primary=%v), ctrl-c to stop\n",
		b.ID(), b.Position(), b.IsPrimary())
	<-sig

	// Flush open messages before the descriptor is withdrawn, so a
	// signal fired moments ago still reaches its destinations.
	fmt.Fprintln(os.Stderr, "\nstopping")
	ctx, cancel := context.WithTimeout(context.Background(), waitWindow(cfg))
	defer cancel()
	b.WaitForMessages(ctx)
	return 0
}
