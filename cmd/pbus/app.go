package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/daviddao/peerbus/pkg/bus"
	"github.com/daviddao/peerbus/pkg/logging"
	"github.com/daviddao/peerbus/pkg/store"
)

// app holds what every subcommand shares: the console logger.
type app struct {
	log zerolog.Logger
}

func newApp() *app {
	return &app{log: logging.New("pbus")}
}

// configureLog narrows the console logger to the resolved level. The
// level went through the same file/env/flag layering as everything else.
func (a *app) configureLog(cfg Config) {
	if cfg.LogLevel == "" {
		return
	}
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbus: unknown log level %q, keeping %s\n", cfg.LogLevel, a.log.GetLevel())
		return
	}
	a.log = a.log.Level(lvl)
}

// openBus builds the configured adapter and a bus over it. The adapter
// rides along so callers can read backend defaults and close it on paths
// where Stop never runs.
func (a *app) openBus(cfg Config) (*bus.Bus, store.Adapter, error) {
	adapter, err := openAdapter(cfg)
	if err != nil {
		return nil, nil, err
	}
	opts := []bus.Option{bus.WithAdapter(adapter), bus.WithLogger(a.log)}
	if cfg.ID != "" {
		opts = append(opts, bus.WithID(cfg.ID))
	}
	if cfg.Tick > 0 {
		opts = append(opts, bus.WithTickInterval(cfg.Tick))
	}
	if cfg.Expiration > 0 {
		opts = append(opts, bus.WithExpiration(cfg.Expiration))
	}
	if cfg.Freshness > 0 {
		opts = append(opts, bus.WithFreshness(cfg.Freshness))
	}
	if cfg.Heartbeat > 0 {
		opts = append(opts, bus.WithHeartbeatInterval(cfg.Heartbeat))
	}
	b, err := bus.New(opts...)
	if err != nil {
		adapter.Close()
		return nil, nil, err
	}
	return b, adapter, nil
}

// startBus opens and joins in one go, for the one-shot commands.
func (a *app) startBus(cfg Config) (*bus.Bus, store.Adapter, error) {
	b, adapter, err := a.openBus(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := b.Start(); err != nil {
		adapter.Close()
		return nil, nil, err
	}
	return b, adapter, nil
}

func openAdapter(cfg Config) (store.Adapter, error) {
	switch cfg.Backend {
	case "", "dir":
		return store.NewDir(cfg.storeRoot())
	case "table":
		path := cfg.tablePath()
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create table dir: %w", err)
		}
		return store.NewTable(path, cfg.Capacity)
	default:
		return nil, fmt.Errorf("unknown backend %q (want dir or table)", cfg.Backend)
	}
}

// effectiveFreshness is the window peers are judged against, for display.
func effectiveFreshness(cfg Config, adapter store.Adapter) time.Duration {
	if cfg.Freshness > 0 {
		return cfg.Freshness
	}
	return adapter.DefaultFreshness()
}

// waitWindow bounds reply waits: one expiration plus two ticks of slack,
// so a wait never gives up before the bus itself would.
func waitWindow(cfg Config) time.Duration {
	exp := cfg.Expiration
	if exp <= 0 {
		exp = bus.DefaultExpiration
	}
	tick := cfg.Tick
	if tick <= 0 {
		tick = bus.DefaultTickInterval
	}
	return exp + 2*tick
}

// splitPeers parses a comma separated --to list.
func splitPeers(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseArg decodes one positional argument: valid JSON rides as its
// decoded value, anything else stays a string. "42" arrives remotely as
// the number 42, "hello" as the string "hello".
func parseArg(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func parseArgs(raw []string) []any {
	out := make([]any, len(raw))
	for i, r := range raw {
		out[i] = parseArg(r)
	}
	return out
}

// parseData turns repeated k=v pairs into a message payload.
func parseData(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	data := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("bad --data %q, want key=value", p)
		}
		data[k] = parseArg(v)
	}
	return data, nil
}

// repeatFlag collects a repeatable string flag.
type repeatFlag []string

func (r *repeatFlag) String() string { return strings.Join(*r, ",") }

func (r *repeatFlag) Set(v string) error {
	*r = append(*r, v)
	return nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
