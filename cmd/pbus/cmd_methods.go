package main

import (
	"flag"
	"fmt"
	"os"
)

func (a *app) cmdMethods(args []string) int {
	flags := flag.NewFlagSet("methods", flag.ContinueOnError)
	cfgPath := busFlags(flags)
	asJSON := flags.Bool("json", false, "emit JSON instead of text")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	cfg, err := resolveConfig(flags, *cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbus: methods: %v\n", err)
		return 1
	}
	a.configureLog(cfg)

	b, _, err := a.startBus(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbus: methods: %v\n", err)
		return 1
	}
	defer b.Stop()

	peers := b.GetInstances()
	if len(peers) == 0 {
		fmt.Println("no live peers")
		return 0
	}

	if *asJSON {
		out := make(map[string]any, len(peers))
		for _, p := range peers {
			signals := make([]string, 0, len(p.Signals))
			for _, d := range p.Signals {
				signals = append(signals, d.String())
			}
			methods := make([]string, 0, len(p.Methods))
			for _, d := range p.Methods {
				methods = append(methods, d.String())
			}
			out[p.ID] = map[string]any{
				"position": p.Position,
				"signals":  signals,
				"methods":  methods,
			}
		}
		printJSON(out)
		return 0
	}

	for _, p := range peers {
		fmt.Printf("%s (position %d):\n", p.ID, p.Position)
		if len(p.Signals) == 0 && len(p.Methods) == 0 {
			fmt.Println("  declares nothing")
			continue
		}
		for _, d := range p.Signals {
			fmt.Printf("  signal %s\n", d)
		}
		for _, d := range p.Methods {
			fmt.Printf("  method %s\n", d)
		}
	}
	return 0
}
