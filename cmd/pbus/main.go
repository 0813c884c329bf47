// Command pbus drives a peer coordination bus from the shell — instances
// of one application discover each other, elect a primary and exchange
// messages through nothing but shared storage.
package main

import (
	"fmt"
	"os"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("pbus", version)
		return
	}

	a := newApp()

	switch os.Args[1] {
	// Long-running
	case "run":
		os.Exit(a.cmdRun(os.Args[2:]))
	case "watch":
		os.Exit(a.cmdWatch(os.Args[2:]))

	// One-shot
	case "peers":
		os.Exit(a.cmdPeers(os.Args[2:]))
	case "status":
		os.Exit(a.cmdStatus(os.Args[2:]))
	case "send":
		os.Exit(a.cmdSend(os.Args[2:]))
	case "call":
		os.Exit(a.cmdCall(os.Args[2:]))
	case "signal":
		os.Exit(a.cmdSignal(os.Args[2:]))
	case "methods":
		os.Exit(a.cmdMethods(os.Args[2:]))

	default:
		fmt.Fprintf(os.Stderr, "pbus: unknown command %q\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Run 'pbus --help' for usage.")
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`pbus — peer coordination over shared storage

Instances of one application discover each other, elect a primary and
exchange messages by rewriting and re-reading per-instance descriptors
in a shared store. No broker, no sockets.

Usage:
  pbus <command> [flags]

Long-running:
  run                       Join the group and serve until ctrl-c
  watch                     Join and stream inbound messages

One-shot:
  peers                     List live peers
  status                    Peers, primary and store overview
  send <name>               Send a raw message (--to, --data k=v, --wait)
  call <name> [args...]     Call a method and print per-replier results
  signal <name> [args...]   Fire a notification
  methods                   Show peer-declared signals and methods

Shared flags (every command):
  --config FILE             TOML config file
  --id ID                   Instance id (default: generated from pid)
  --backend dir|table       Store backend (default: dir)
  --store-dir DIR           Directory backend root
  --table FILE              Table backend SQLite path
  --namespace NS            Scope for the default store locations
  --capacity N              Table backend row capacity (default: 64)
  --tick D                  Scheduler interval (default: 250ms)
  --expiration D            Message expiration (default: 3s)
  --freshness D             Descriptor freshness (default: per backend)
  --heartbeat D             Quiet republish interval (default: derived)
  --log-level LVL           Bus log level (default: info)

Environment:
  PEERBUS_ID, PEERBUS_BACKEND, PEERBUS_DIR, PEERBUS_TABLE,
  PEERBUS_NAMESPACE, PEERBUS_CAPACITY, PEERBUS_TICK, PEERBUS_EXPIRATION,
  PEERBUS_FRESHNESS, PEERBUS_HEARTBEAT, PEERBUS_LOG_LEVEL
  (same keys as the config file; flags win over env over file)

Most commands support --json for machine-readable output.
`)
}
