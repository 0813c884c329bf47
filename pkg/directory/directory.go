// Package directory maintains one instance's view of its peers.
//
// Peer liveness is judged from descriptors alone: a peer is live while
// its descriptor decodes, speaks our protocol major and was rewritten
// inside the freshness window. Stale entries are pruned from the store
// opportunistically; any survivor may do it and two may race, which the
// store tolerates.
package directory

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/daviddao/peerbus/pkg/clock"
	"github.com/daviddao/peerbus/pkg/election"
	"github.com/daviddao/peerbus/pkg/metrics"
	"github.com/daviddao/peerbus/pkg/model"
	"github.com/daviddao/peerbus/pkg/store"
)

// Directory refreshes and caches the live peer set. Not safe for
// concurrent use; the bus serializes access under its own lock.
type Directory struct {
	selfID    string
	adapter   store.Adapter
	clk       clock.Clock
	freshness time.Duration
	log       zerolog.Logger

	selfMajor uint64
	peers     []model.Instance
	// badSince tracks when an undecodable blob was first seen. A peer
	// may be observed mid-write, so pruning waits out one freshness
	// window before concluding the blob is garbage.
	badSince map[string]time.Time
	// gated remembers peers already reported for protocol mismatch so
	// the log line fires once per appearance.
	gated map[string]bool
}

// New builds a directory for selfID over adapter. freshness <= 0 selects
// the adapter default.
func New(selfID string, adapter store.Adapter, clk clock.Clock, freshness time.Duration, log zerolog.Logger) *Directory {
	if freshness <= 0 {
		freshness = adapter.DefaultFreshness()
	}
	return &Directory{
		selfID:    selfID,
		adapter:   adapter,
		clk:       clk,
		freshness: freshness,
		log:       log,
		selfMajor: semver.MustParse(model.Protocol).Major(),
		badSince:  make(map[string]time.Time),
		gated:     make(map[string]bool),
	}
}

// Freshness returns the resolved freshness window.
func (d *Directory) Freshness() time.Duration { return d.freshness }

// Refresh re-reads the store and rebuilds the live peer set.
func (d *Directory) Refresh() error {
	entries, err := d.adapter.ListLive()
	if err != nil {
		return fmt.Errorf("list instances: %w", err)
	}
	now := d.clk.Now()

	live := make([]model.Instance, 0, len(entries))
	for id, blob := range entries {
		if id == d.selfID {
			continue
		}
		inst, err := model.DecodeInstance(blob)
		if err != nil || inst.ID != id {
			d.observeBad(id, now)
			continue
		}
		delete(d.badSince, id)
		if !d.compatible(inst) {
			continue
		}
		if now.Sub(inst.LastUpdate) > d.freshness {
			d.prune(id, "stale")
			continue
		}
		live = append(live, inst)
	}
	d.forgetVanished(entries)

	election.ByPosition(live)
	d.peers = live
	metrics.SetLivePeers(len(live))
	return nil
}

// observeBad starts or advances the decode-grace window for id.
func (d *Directory) observeBad(id string, now time.Time) {
	first, ok := d.badSince[id]
	if !ok {
		d.badSince[id] = now
		d.log.Debug().Str("peer", id).Msg("descriptor unreadable, will retry")
		return
	}
	if now.Sub(first) > d.freshness {
		delete(d.badSince, id)
		d.prune(id, "undecodable")
	}
}

// compatible gates peers by protocol major. Foreign-major peers are left
// alone in the store: they are alive, just not ours to talk to.
func (d *Directory) compatible(inst model.Instance) bool {
	v, err := semver.NewVersion(inst.Protocol)
	if err == nil && v.Major() == d.selfMajor {
		delete(d.gated, inst.ID)
		return true
	}
	if !d.gated[inst.ID] {
		d.gated[inst.ID] = true
		d.log.Warn().Str("peer", inst.ID).Str("protocol", inst.Protocol).
			Msg("ignoring peer with incompatible protocol")
	}
	return false
}

func (d *Directory) prune(id, reason string) {
	if err := d.adapter.Remove(id); err != nil {
		d.log.Warn().Err(err).Str("peer", id).Msg("prune failed")
		return
	}
	metrics.RecordPeerPruned(reason)
	d.log.Info().Str("peer", id).Str("reason", reason).Msg("pruned peer")
}

// forgetVanished drops bookkeeping for ids no longer present in the
// store, so a returning peer starts with a clean slate.
func (d *Directory) forgetVanished(entries map[string][]byte) {
	for id := range d.badSince {
		if _, ok := entries[id]; !ok {
			delete(d.badSince, id)
		}
	}
	for id := range d.gated {
		if _, ok := entries[id]; !ok {
			delete(d.gated, id)
		}
	}
}

// Peers returns the live peer set from the last Refresh, position-sorted,
// self excluded. Callers must not mutate the slice.
func (d *Directory) Peers() []model.Instance { return d.peers }

// Peer looks up one live peer by id.
func (d *Directory) Peer(id string) (model.Instance, bool) {
	for _, p := range d.peers {
		if p.ID == id {
			return p, true
		}
	}
	return model.Instance{}, false
}
