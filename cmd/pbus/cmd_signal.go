package main

import (
	"context"
	"flag"
	"fmt"
	"os"
)

func (a *app) cmdSignal(args []string) int {
	flags := flag.NewFlagSet("signal", flag.ContinueOnError)
	cfgPath := busFlags(flags)
	to := flags.String("to", "", "comma separated destination ids (default: every live peer)")
	asJSON := flags.Bool("json", false, "emit JSON instead of text")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: pbus signal <name> [args...] [--to a,b]")
		return 1
	}
	name := flags.Arg(0)
	sigArgs := parseArgs(flags.Args()[1:])

	cfg, err := resolveConfig(flags, *cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbus: signal: %v\n", err)
		return 1
	}
	a.configureLog(cfg)

	b, _, err := a.startBus(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbus: signal: %v\n", err)
		return 1
	}
	defer b.Stop()

	id := b.Signal(splitPeers(*to), name, sigArgs...)
	if id == "" {
		fmt.Fprintln(os.Stderr, "pbus: signal: no live peers")
		return 1
	}

	// Signals are fire-and-forget on the wire but the descriptor must
	// outlive the fire: wait for the retirement acks before leaving.
	ctx, cancel := context.WithTimeout(context.Background(), waitWindow(cfg))
	defer cancel()
	b.WaitForMessages(ctx)

	if *asJSON {
		printJSON(map[string]any{"id": id, "name": name})
	} else {
		fmt.Printf("signalled %s id=%s\n", name, id)
	}
	return 0
}
