package directory

import (
	"testing"
	"time"

	"github.com/daviddao/peerbus/pkg/clock"
	"github.com/daviddao/peerbus/pkg/logging"
	"github.com/daviddao/peerbus/pkg/model"
	"github.com/daviddao/peerbus/pkg/store"
)

func publishPeer(t *testing.T, mem *store.Memory, inst model.Instance) {
	t.Helper()
	blob, err := inst.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if err := mem.Publish(inst.ID, blob); err != nil {
		t.Fatal(err)
	}
}

func newTestDirectory(t *testing.T) (*Directory, *store.Memory, *clock.Manual) {
	t.Helper()
	mem := store.NewMemory()
	clk := clock.NewManual(time.Unix(1700000000, 0))
	d := New("self", mem, clk, 2*time.Second, logging.Nop())
	return d, mem, clk
}

func TestRefresh_ListsFreshPeersSorted(t *testing.T) {
	d, mem, clk := newTestDirectory(t)
	now := clk.Now()
	publishPeer(t, mem, model.Instance{ID: "b", Protocol: model.Protocol, Position: 2, LastUpdate: now})
	publishPeer(t, mem, model.Instance{ID: "a", Protocol: model.Protocol, Position: 1, LastUpdate: now})

	if err := d.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	peers := d.Peers()
	if len(peers) != 2 {
		t.Fatalf("got %d peers, want 2", len(peers))
	}
	if peers[0].ID != "a" || peers[1].ID != "b" {
		t.Fatalf("peers not position-sorted: %s, %s", peers[0].ID, peers[1].ID)
	}
}

func TestRefresh_ExcludesSelf(t *testing.T) {
	d, mem, clk := newTestDirectory(t)
	publishPeer(t, mem, model.Instance{ID: "self", Protocol: model.Protocol, Position: 1, LastUpdate: clk.Now()})

	if err := d.Refresh(); err != nil {
		t.Fatal(err)
	}
	if len(d.Peers()) != 0 {
		t.Fatalf("own descriptor leaked into peer set: %+v", d.Peers())
	}
}

func TestRefresh_PrunesStalePeer(t *testing.T) {
	d, mem, clk := newTestDirectory(t)
	publishPeer(t, mem, model.Instance{ID: "old", Protocol: model.Protocol, Position: 1, LastUpdate: clk.Now()})

	clk.Advance(3 * time.Second) // past the 2s freshness window
	if err := d.Refresh(); err != nil {
		t.Fatal(err)
	}
	if len(d.Peers()) != 0 {
		t.Fatalf("stale peer still listed: %+v", d.Peers())
	}
	entries, _ := mem.ListLive()
	if _, ok := entries["old"]; ok {
		t.Fatal("stale descriptor not removed from store")
	}
}

func TestRefresh_FreshPeerStaysInStore(t *testing.T) {
	d, mem, clk := newTestDirectory(t)
	publishPeer(t, mem, model.Instance{ID: "fresh", Protocol: model.Protocol, Position: 1, LastUpdate: clk.Now()})

	if err := d.Refresh(); err != nil {
		t.Fatal(err)
	}
	entries, _ := mem.ListLive()
	if _, ok := entries["fresh"]; !ok {
		t.Fatal("fresh descriptor should not be pruned")
	}
}

func TestRefresh_BadBlobGetsGraceWindow(t *testing.T) {
	d, mem, clk := newTestDirectory(t)
	mem.Publish("mid-write", []byte(`{"id":"mid-wr`))

	if err := d.Refresh(); err != nil {
		t.Fatal(err)
	}
	entries, _ := mem.ListLive()
	if _, ok := entries["mid-write"]; !ok {
		t.Fatal("bad blob pruned before its grace window passed")
	}

	// Still inside the window: untouched.
	clk.Advance(time.Second)
	d.Refresh()
	entries, _ = mem.ListLive()
	if _, ok := entries["mid-write"]; !ok {
		t.Fatal("bad blob pruned inside its grace window")
	}

	// Window exceeded: pruned.
	clk.Advance(2 * time.Second)
	d.Refresh()
	entries, _ = mem.ListLive()
	if _, ok := entries["mid-write"]; ok {
		t.Fatal("bad blob survived past its grace window")
	}
}

func TestRefresh_RecoveredBlobClearsGrace(t *testing.T) {
	d, mem, clk := newTestDirectory(t)
	mem.Publish("p", []byte(`{"id":"p`))
	d.Refresh()

	// The writer finishes; the same id now decodes.
	publishPeer(t, mem, model.Instance{ID: "p", Protocol: model.Protocol, Position: 1, LastUpdate: clk.Now()})
	clk.Advance(time.Second)
	if err := d.Refresh(); err != nil {
		t.Fatal(err)
	}
	if _, ok := d.Peer("p"); !ok {
		t.Fatal("recovered peer not listed")
	}
}

func TestRefresh_ForeignProtocolSkippedNotPruned(t *testing.T) {
	d, mem, clk := newTestDirectory(t)
	publishPeer(t, mem, model.Instance{ID: "future", Protocol: "2.0.0", Position: 1, LastUpdate: clk.Now()})

	if err := d.Refresh(); err != nil {
		t.Fatal(err)
	}
	if len(d.Peers()) != 0 {
		t.Fatal("foreign-major peer should not be live")
	}
	entries, _ := mem.ListLive()
	if _, ok := entries["future"]; !ok {
		t.Fatal("foreign-major peer must not be pruned")
	}
}

func TestRefresh_UnparsableProtocolSkipped(t *testing.T) {
	d, mem, clk := newTestDirectory(t)
	publishPeer(t, mem, model.Instance{ID: "odd", Protocol: "not-a-version", Position: 1, LastUpdate: clk.Now()})

	if err := d.Refresh(); err != nil {
		t.Fatal(err)
	}
	if len(d.Peers()) != 0 {
		t.Fatal("unparsable protocol should gate the peer")
	}
}

func TestRefresh_IDMismatchTreatedAsBad(t *testing.T) {
	d, mem, clk := newTestDirectory(t)
	blob, _ := model.Instance{ID: "other", Protocol: model.Protocol, Position: 1, LastUpdate: clk.Now()}.Encode()
	mem.Publish("slot", blob)

	d.Refresh()
	if len(d.Peers()) != 0 {
		t.Fatal("descriptor under a foreign slot must not be live")
	}
	clk.Advance(3 * time.Second)
	d.Refresh()
	entries, _ := mem.ListLive()
	if _, ok := entries["slot"]; ok {
		t.Fatal("mismatched slot should be pruned after the grace window")
	}
}

func TestNew_ZeroFreshnessUsesAdapterDefault(t *testing.T) {
	mem := store.NewMemory()
	d := New("self", mem, clock.NewManual(time.Unix(0, 0)), 0, logging.Nop())
	if d.Freshness() != mem.DefaultFreshness() {
		t.Fatalf("freshness = %v, want adapter default %v", d.Freshness(), mem.DefaultFreshness())
	}
}

func TestPeer_Lookup(t *testing.T) {
	d, mem, clk := newTestDirectory(t)
	publishPeer(t, mem, model.Instance{ID: "x", Protocol: model.Protocol, Position: 1, LastUpdate: clk.Now()})
	d.Refresh()

	if _, ok := d.Peer("x"); !ok {
		t.Fatal("expected to find peer x")
	}
	if _, ok := d.Peer("y"); ok {
		t.Fatal("unexpected peer y")
	}
}
