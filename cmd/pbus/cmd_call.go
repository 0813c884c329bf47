package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
)

func (a *app) cmdCall(args []string) int {
	flags := flag.NewFlagSet("call", flag.ContinueOnError)
	cfgPath := busFlags(flags)
	to := flags.String("to", "", "comma separated destination ids (default: every live peer)")
	timeout := flags.Duration("timeout", 0, "how long to wait for replies (default: one expiration window)")
	asJSON := flags.Bool("json", false, "emit JSON instead of text")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: pbus call <method> [args...] [--to a,b] [--timeout 5s]")
		return 1
	}
	name := flags.Arg(0)
	callArgs := parseArgs(flags.Args()[1:])

	cfg, err := resolveConfig(flags, *cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbus: call: %v\n", err)
		return 1
	}
	a.configureLog(cfg)

	b, _, err := a.startBus(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbus: call: %v\n", err)
		return 1
	}
	defer b.Stop()

	wait := *timeout
	if wait <= 0 {
		wait = waitWindow(cfg)
	}
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	res := b.Call(ctx, splitPeers(*to), name, callArgs...)
	if res == nil {
		fmt.Fprintln(os.Stderr, "pbus: call: no live destination")
		return 1
	}
	if len(res) == 0 {
		fmt.Fprintln(os.Stderr, "pbus: call: no replies before timeout")
		return 1
	}

	if *asJSON {
		printJSON(res)
		return 0
	}
	ids := make([]string, 0, len(res))
	for id := range res {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("%s: %v\n", id, res[id])
	}
	return 0
}
