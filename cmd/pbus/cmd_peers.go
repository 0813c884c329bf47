package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

func (a *app) cmdPeers(args []string) int {
	flags := flag.NewFlagSet("peers", flag.ContinueOnError)
	cfgPath := busFlags(flags)
	asJSON := flags.Bool("json", false, "emit JSON instead of text")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	cfg, err := resolveConfig(flags, *cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbus: peers: %v\n", err)
		return 1
	}
	a.configureLog(cfg)

	b, adapter, err := a.startBus(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbus: peers: %v\n", err)
		return 1
	}
	defer b.Stop()

	window := effectiveFreshness(cfg, adapter)
	peers := b.GetInstances()
	now := time.Now()

	if *asJSON {
		type peerRow struct {
			ID       string `json:"id"`
			Position int    `json:"position"`
			Primary  bool   `json:"primary"`
			AgeMS    int64  `json:"age_ms"`
		}
		rows := make([]peerRow, 0, len(peers))
		for _, p := range peers {
			rows = append(rows, peerRow{
				ID:       p.ID,
				Position: p.Position,
				Primary:  p.Primary,
				AgeMS:    now.Sub(p.LastUpdate).Milliseconds(),
			})
		}
		printJSON(map[string]any{"self": b.ID(), "peers": rows})
		return 0
	}

	fmt.Printf("%s (position %d, primary=%v)\n", b.ID(), b.Position(), b.IsPrimary())
	if len(peers) == 0 {
		fmt.Println("no live peers")
		return 0
	}
	for _, p := range peers {
		age := now.Sub(p.LastUpdate)
		fmt.Printf("%s %-20s position=%-3d primary=%-5v updated=%s ago\n",
			freshnessIndicator(age, window), p.ID, p.Position, p.Primary,
			age.Round(time.Millisecond))
	}
	return 0
}

// freshnessIndicator classifies a descriptor age against the liveness
// window: [+] recently written, [~] aging, [-] about to be dropped.
func freshnessIndicator(age, window time.Duration) string {
	switch {
	case age < window/2:
		return "[+]"
	case age <= window:
		return "[~]"
	default:
		return "[-]"
	}
}
