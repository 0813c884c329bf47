// Package metrics exposes prometheus collectors for bus activity.
//
// Collectors are package level so any component can record without
// plumbing a registry through the call graph. Nothing is exported over
// HTTP here; hosts that want scraping call Register and mount promhttp
// themselves.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "peerbus"

var (
	// Ticks counts scheduler passes.
	Ticks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_total",
		Help:      "Scheduler ticks executed.",
	})

	// Publishes counts descriptor writes by outcome: written, skipped,
	// error.
	Publishes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publishes_total",
		Help:      "Descriptor publish attempts by outcome.",
	}, []string{"outcome"})

	// MessagesSent counts queued outbound messages by type.
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_sent_total",
		Help:      "Messages queued for sending, by type.",
	}, []string{"type"})

	// MessagesRetired counts messages leaving the ledger by reason:
	// completed, expired, unreachable.
	MessagesRetired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_retired_total",
		Help:      "Messages retired from the ledger, by reason.",
	}, []string{"reason"})

	// Replies counts replies produced for inbound messages.
	Replies = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replies_total",
		Help:      "Replies produced for inbound messages.",
	})

	// ListenerFailures counts listener and handler invocations that
	// panicked or returned an error.
	ListenerFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "listener_failures_total",
		Help:      "Listener or handler invocations that failed.",
	})

	// PeersPruned counts peer descriptors removed, by reason: stale,
	// undecodable.
	PeersPruned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "peers_pruned_total",
		Help:      "Peer descriptors pruned from the store, by reason.",
	}, []string{"reason"})

	// LivePeers is the size of the last observed live peer set.
	LivePeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_peers",
		Help:      "Live peers observed at the last refresh.",
	})

	// Primary is 1 while this instance is the primary.
	Primary = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "primary",
		Help:      "Whether this instance currently holds the primary role.",
	})
)

var registerOnce sync.Once

// Register installs the collectors in the default prometheus registry.
// Safe to call from every bus in a process; only the first call takes
// effect.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			Ticks,
			Publishes,
			MessagesSent,
			MessagesRetired,
			Replies,
			ListenerFailures,
			PeersPruned,
			LivePeers,
			Primary,
		)
	})
}

// RecordTick counts one scheduler pass.
func RecordTick() { Ticks.Inc() }

// RecordPublish counts one publish attempt with its outcome.
func RecordPublish(outcome string) { Publishes.WithLabelValues(outcome).Inc() }

// RecordMessageSent counts one queued message of the given type.
func RecordMessageSent(msgType string) { MessagesSent.WithLabelValues(msgType).Inc() }

// RecordMessageRetired counts one ledger retirement with its reason.
func RecordMessageRetired(reason string) { MessagesRetired.WithLabelValues(reason).Inc() }

// RecordReply counts one produced reply.
func RecordReply() { Replies.Inc() }

// RecordListenerFailure counts one failed listener invocation.
func RecordListenerFailure() { ListenerFailures.Inc() }

// RecordPeerPruned counts one pruned peer with its reason.
func RecordPeerPruned(reason string) { PeersPruned.WithLabelValues(reason).Inc() }

// SetLivePeers records the current live peer count.
func SetLivePeers(n int) { LivePeers.Set(float64(n)) }

// SetPrimary records whether this instance holds the primary role. With
// several buses in one process the gauge reflects the last one to tick.
func SetPrimary(primary bool) {
	if primary {
		Primary.Set(1)
		return
	}
	Primary.Set(0)
}
