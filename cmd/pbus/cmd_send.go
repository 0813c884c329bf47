package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/daviddao/peerbus/pkg/bus"
)

func (a *app) cmdSend(args []string) int {
	flags := flag.NewFlagSet("send", flag.ContinueOnError)
	cfgPath := busFlags(flags)
	to := flags.String("to", "", "comma separated destination ids (default: every live peer)")
	var data repeatFlag
	flags.Var(&data, "data", "payload entry as key=value (repeatable)")
	wait := flags.Bool("wait", false, "wait for acknowledgements and print them")
	asJSON := flags.Bool("json", false, "emit JSON instead of text")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: pbus send <name> [--to a,b] [--data k=v] [--wait]")
		return 1
	}
	name := flags.Arg(0)

	cfg, err := resolveConfig(flags, *cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbus: send: %v\n", err)
		return 1
	}
	a.configureLog(cfg)

	payload, err := parseData(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbus: send: %v\n", err)
		return 1
	}

	b, _, err := a.startBus(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbus: send: %v\n", err)
		return 1
	}
	defer b.Stop()

	id := b.SendMessage(name, bus.SendOptions{To: splitPeers(*to), Data: payload})
	if id == "" {
		fmt.Fprintln(os.Stderr, "pbus: send: no live destination")
		return 1
	}

	// Stay joined until the message retires; stopping earlier would
	// withdraw the descriptor with the message still unread.
	ctx, cancel := context.WithTimeout(context.Background(), waitWindow(cfg))
	defer cancel()

	if !*wait {
		b.WaitForMessages(ctx)
		if *asJSON {
			printJSON(map[string]any{"id": id, "name": name})
		} else {
			fmt.Printf("sent %s id=%s\n", name, id)
		}
		return 0
	}

	replies := b.WaitForReplies(ctx, id)
	if *asJSON {
		type ackRow struct {
			From string         `json:"from"`
			Data map[string]any `json:"data,omitempty"`
		}
		rows := make([]ackRow, 0, len(replies))
		for _, r := range replies {
			rows = append(rows, ackRow{From: r.From, Data: r.Reply.Data})
		}
		printJSON(map[string]any{"id": id, "name": name, "replies": rows})
		return 0
	}
	if len(replies) == 0 {
		fmt.Println("no acknowledgements")
		return 0
	}
	for _, r := range replies {
		if len(r.Reply.Data) == 0 {
			fmt.Printf("%s: ack\n", r.From)
			continue
		}
		fmt.Printf("%s: %v\n", r.From, r.Reply.Data)
	}
	return 0
}
