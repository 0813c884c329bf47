package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/daviddao/peerbus/pkg/store"
)

func (a *app) cmdStatus(args []string) int {
	flags := flag.NewFlagSet("status", flag.ContinueOnError)
	cfgPath := busFlags(flags)
	asJSON := flags.Bool("json", false, "emit JSON instead of text")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	cfg, err := resolveConfig(flags, *cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbus: status: %v\n", err)
		return 1
	}
	a.configureLog(cfg)

	b, adapter, err := a.startBus(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbus: status: %v\n", err)
		return 1
	}
	defer b.Stop()

	window := effectiveFreshness(cfg, adapter)
	peers := b.GetInstances()
	primaryID, _ := b.GetPrimaryInstance()
	now := time.Now()

	if *asJSON {
		type peerRow struct {
			ID       string `json:"id"`
			Position int    `json:"position"`
			Primary  bool   `json:"primary"`
			Signals  int    `json:"signals"`
			Methods  int    `json:"methods"`
			AgeMS    int64  `json:"age_ms"`
		}
		rows := make([]peerRow, 0, len(peers))
		for _, p := range peers {
			rows = append(rows, peerRow{
				ID:       p.ID,
				Position: p.Position,
				Primary:  p.Primary,
				Signals:  len(p.Signals),
				Methods:  len(p.Methods),
				AgeMS:    now.Sub(p.LastUpdate).Milliseconds(),
			})
		}
		printJSON(map[string]any{
			"self": map[string]any{
				"id":       b.ID(),
				"position": b.Position(),
				"primary":  b.IsPrimary(),
			},
			"primary": primaryID,
			"peers":   rows,
			"store":   describeStore(cfg, adapter, window),
		})
		return 0
	}

	fmt.Printf("self: %s position=%d primary=%v\n", b.ID(), b.Position(), b.IsPrimary())
	marker := ""
	if primaryID == b.ID() {
		marker = " <-- you"
	}
	fmt.Printf("primary: %s%s\n", primaryID, marker)
	if len(peers) == 0 {
		fmt.Println("peers: none")
	} else {
		fmt.Println("peers:")
		for _, p := range peers {
			age := now.Sub(p.LastUpdate)
			fmt.Printf("  %s %-20s position=%-3d primary=%-5v signals=%-2d methods=%-2d updated=%s ago\n",
				freshnessIndicator(age, window), p.ID, p.Position, p.Primary,
				len(p.Signals), len(p.Methods), age.Round(time.Millisecond))
		}
	}
	fmt.Printf("store: %s\n", describeStoreText(cfg, adapter, window))
	return 0
}

// describeStore summarizes the backend for the JSON view.
func describeStore(cfg Config, adapter store.Adapter, window time.Duration) map[string]any {
	out := map[string]any{"freshness_ms": window.Milliseconds()}
	switch s := adapter.(type) {
	case *store.Dir:
		out["backend"] = "dir"
		out["root"] = s.Root()
	case *store.Table:
		out["backend"] = "table"
		out["path"] = s.Path()
		out["capacity"] = s.Capacity()
	default:
		out["backend"] = cfg.Backend
	}
	return out
}

// describeStoreText summarizes the backend for the text view.
func describeStoreText(cfg Config, adapter store.Adapter, window time.Duration) string {
	switch s := adapter.(type) {
	case *store.Dir:
		return fmt.Sprintf("dir root=%s freshness=%s", s.Root(), window)
	case *store.Table:
		return fmt.Sprintf("table path=%s capacity=%d freshness=%s", s.Path(), s.Capacity(), window)
	default:
		return fmt.Sprintf("%s freshness=%s", cfg.Backend, window)
	}
}
