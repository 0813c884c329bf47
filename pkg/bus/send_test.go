package bus

import (
	"testing"
	"time"

	"github.com/daviddao/peerbus/pkg/clock"
	"github.com/daviddao/peerbus/pkg/model"
	"github.com/daviddao/peerbus/pkg/store"
)

func TestSendMessage_InactiveBusDrops(t *testing.T) {
	b, err := New(WithID("a"), WithAdapter(store.NewMemory()))
	if err != nil {
		t.Fatal(err)
	}
	if id := b.SendMessage("early", SendOptions{}); id != "" {
		t.Fatalf("send before Start queued %q", id)
	}

	mem := store.NewMemory()
	clk := clock.NewManual(time.Unix(1700000000, 0))
	c := newGroupBus(t, mem, clk, "c")
	c.Stop()
	if id := c.SendMessage("late", SendOptions{}); id != "" {
		t.Fatalf("send after Stop queued %q", id)
	}
}

func TestSendMessage_NoLiveDestinations(t *testing.T) {
	mem := store.NewMemory()
	clk := clock.NewManual(time.Unix(1700000000, 0))
	a := newGroupBus(t, mem, clk, "a")

	if id := a.SendMessage("anyone", SendOptions{}); id != "" {
		t.Fatal("broadcast with no peers should not queue")
	}
	if id := a.SendMessage("direct", SendOptions{To: []string{"ghost"}}); id != "" {
		t.Fatal("send to an unknown peer should not queue")
	}
}

func TestSendMessage_SelfAndUnknownFiltered(t *testing.T) {
	mem := store.NewMemory()
	clk := clock.NewManual(time.Unix(1700000000, 0))
	a := newGroupBus(t, mem, clk, "a")
	b := newGroupBus(t, mem, clk, "b")
	tickAll(clk, step, a, b)

	id := a.SendMessage("mixed", SendOptions{To: []string{"a", "ghost", "b"}})
	if id == "" {
		t.Fatal("one live destination should be enough to queue")
	}
	tickAll(clk, step, a)

	inst := storedInstance(t, mem, "a")
	if len(inst.Messages) != 1 {
		t.Fatalf("messages = %+v, want one", inst.Messages)
	}
	m := inst.Messages[0]
	if len(m.Dest) != 1 || m.Dest[0] != "b" {
		t.Fatalf("dest = %v, want [b]", m.Dest)
	}
	if m.Type != model.TypeMessage {
		t.Fatalf("type = %s, want %s", m.Type, model.TypeMessage)
	}
	if model.MessageSender(m.ID) != "a" {
		t.Fatalf("id %q does not carry the sender", m.ID)
	}
}

func TestSendMessage_BroadcastFixesDestinations(t *testing.T) {
	mem := store.NewMemory()
	clk := clock.NewManual(time.Unix(1700000000, 0))
	a := newGroupBus(t, mem, clk, "a")
	b := newGroupBus(t, mem, clk, "b")
	tickAll(clk, step, a, b)

	if id := a.SendMessage("news", SendOptions{}); id == "" {
		t.Fatal("broadcast should queue")
	}
	tickAll(clk, step, a)

	// c joins after the send; the destination set was fixed at send time
	// and must not grow.
	c := newGroupBus(t, mem, clk, "c")
	late := 0
	c.ListenMessage("news", func(from string, data map[string]any) map[string]any {
		late++
		return nil
	})
	tickAll(clk, step, c)

	if late != 0 {
		t.Fatal("late joiner received a broadcast sent before it existed")
	}
	inst := storedInstance(t, mem, "a")
	if len(inst.Messages) != 1 || len(inst.Messages[0].Dest) != 1 || inst.Messages[0].Dest[0] != "b" {
		t.Fatalf("broadcast dest = %+v, want [b] only", inst.Messages)
	}
}

func TestSignal_NoPeersReturnsEmpty(t *testing.T) {
	mem := store.NewMemory()
	clk := clock.NewManual(time.Unix(1700000000, 0))
	a := newGroupBus(t, mem, clk, "a")

	if id := a.Signal(nil, "tick", 42); id != "" {
		t.Fatalf("signal with no peers queued %q", id)
	}
	tickAll(clk, step, a)
	if inst := storedInstance(t, mem, "a"); len(inst.Messages) != 0 {
		t.Fatalf("descriptor carries %+v, want no messages", inst.Messages)
	}
}

func TestMessageIDs_UniqueWithFrozenClock(t *testing.T) {
	mem := store.NewMemory()
	clk := clock.NewManual(time.Unix(1700000000, 0))
	a := newGroupBus(t, mem, clk, "a")
	b := newGroupBus(t, mem, clk, "b")
	tickAll(clk, step, a, b)

	// The clock does not move between sends; the sequence number alone
	// must keep ids distinct.
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := a.SendMessage("burst", SendOptions{To: []string{"b"}})
		if id == "" {
			t.Fatalf("send %d did not queue", i)
		}
		if seen[id] {
			t.Fatalf("duplicate message id %q", id)
		}
		seen[id] = true
		if model.MessageSender(id) != "a" {
			t.Fatalf("id %q does not parse back to sender a", id)
		}
	}
}
