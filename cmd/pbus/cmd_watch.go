package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gobwas/glob"

	"github.com/daviddao/peerbus/pkg/model"
)

// watchEvent is the line-JSON shape watch --json emits per message.
type watchEvent struct {
	Time time.Time      `json:"time"`
	From string         `json:"from"`
	Type string         `json:"type"`
	Name string         `json:"name"`
	ID   string         `json:"id"`
	Data map[string]any `json:"data,omitempty"`
}

func (a *app) cmdWatch(args []string) int {
	flags := flag.NewFlagSet("watch", flag.ContinueOnError)
	cfgPath := busFlags(flags)
	filter := flags.String("filter", "", "glob over type.name, e.g. 'signal.*' or '*.build-*'")
	asJSON := flags.Bool("json", false, "JSON output (one object per line)")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	cfg, err := resolveConfig(flags, *cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbus: watch: %v\n", err)
		return 1
	}
	a.configureLog(cfg)

	var match glob.Glob
	if *filter != "" {
		if match, err = glob.Compile(*filter); err != nil {
			fmt.Fprintf(os.Stderr, "pbus: watch: bad --filter: %v\n", err)
			return 1
		}
	}

	b, _, err := a.openBus(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbus: watch: %v\n", err)
		return 1
	}
	// The observer must be in place before the first tick or an already
	// queued message could slip past unprinted.
	b.Observe(func(from string, msg model.Message) {
		if match != nil && !match.Match(string(msg.Type)+"."+msg.Name) {
			return
		}
		if *asJSON {
			line, _ := json.Marshal(watchEvent{
				Time: time.Now(),
				From: from,
				Type: string(msg.Type),
				Name: msg.Name,
				ID:   msg.ID,
				Data: msg.Data,
			})
			fmt.Println(string(line))
			return
		}
		stamp := time.Now().Format("15:04:05")
		switch msg.Type {
		case model.TypeSignal:
			fmt.Printf("[%s] %s signalled %s %v\n", stamp, from, msg.Name, signalWireArgs(msg))
		case model.TypeMethod:
			fmt.Printf("[%s] %s called %s %v\n", stamp, from, msg.Name, msg.Data["args"])
		default:
			fmt.Printf("[%s] %s sent %s %v\n", stamp, from, msg.Name, msg.Data)
		}
	})
	if err := b.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "pbus: watch: %v\n", err)
		return 1
	}
	defer b.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	fmt.Fprintf(os.Stderr, "watching as %s (ctrl-c to stop)\n", b.ID())
	<-sig
	fmt.Fprintln(os.Stderr, "\nstopped")
	return 0
}

// signalWireArgs strips the packed sender id off a signal argument tuple.
func signalWireArgs(msg model.Message) []any {
	args, _ := msg.Data["args"].([]any)
	if len(args) > 0 {
		if _, ok := args[0].(string); ok {
			return args[1:]
		}
	}
	return args
}
