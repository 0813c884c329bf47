package model

import (
	"strings"
	"testing"
	"time"
)

func TestMessageID_EmbedsSender(t *testing.T) {
	ts := time.Unix(1700000000, 42)
	id := MessageID("4242-deadbeef", ts, 7)
	if got := MessageSender(id); got != "4242-deadbeef" {
		t.Fatalf("MessageSender(%q) = %q, want %q", id, got, "4242-deadbeef")
	}
}

func TestMessageID_DistinctForSameInstant(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	a := MessageID("a", ts, 1)
	b := MessageID("a", ts, 2)
	if a == b {
		t.Fatalf("ids for same instant collide: %q", a)
	}
}

func TestMessageSender_NoSeparator(t *testing.T) {
	if got := MessageSender("garbage"); got != "" {
		t.Fatalf("MessageSender(garbage) = %q, want empty", got)
	}
}

func TestValidInstanceID(t *testing.T) {
	cases := []struct {
		name   string
		id     string
		expect bool
	}{
		{"plain", "1234-cafe", true},
		{"empty", "", false},
		{"dot reserved", "a.b", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidInstanceID(tc.id); got != tc.expect {
				t.Fatalf("ValidInstanceID(%q) = %v, want %v", tc.id, got, tc.expect)
			}
		})
	}
}

func TestMessage_Expired(t *testing.T) {
	sent := time.Unix(1700000000, 0)
	msg := Message{ID: "a.1.1", Sent: sent}
	if msg.Expired(sent.Add(time.Second), 3*time.Second) {
		t.Fatal("message expired before its ttl")
	}
	if !msg.Expired(sent.Add(4*time.Second), 3*time.Second) {
		t.Fatal("message not expired past its ttl")
	}
}

func TestMessage_AddressedTo(t *testing.T) {
	msg := Message{Dest: []string{"a", "b"}}
	if !msg.AddressedTo("b") {
		t.Fatal("b should be addressed")
	}
	if msg.AddressedTo("c") {
		t.Fatal("c should not be addressed")
	}
}

func TestInstance_EncodeDecode(t *testing.T) {
	inst := Instance{
		ID:         "77-beef",
		Protocol:   Protocol,
		Position:   2,
		LastUpdate: time.Unix(1700000000, 0).UTC(),
		Messages: []Message{{
			ID:   "77-beef.1700000000000000000.1",
			Type: TypeMethod,
			Name: "ping",
			Dest: []string{"88-f00d"},
			Sent: time.Unix(1700000000, 0).UTC(),
		}},
		Methods: []MethodDecl{{Name: "ping"}},
	}
	data, err := inst.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := DecodeInstance(data)
	if err != nil {
		t.Fatalf("DecodeInstance: %v", err)
	}
	if back.ID != inst.ID || back.Position != inst.Position {
		t.Fatalf("round trip changed identity: got %s/%d, want %s/%d",
			back.ID, back.Position, inst.ID, inst.Position)
	}
	if len(back.Messages) != 1 || back.Messages[0].ID != inst.Messages[0].ID {
		t.Fatalf("round trip lost messages: %+v", back.Messages)
	}
}

func TestDecodeInstance_Garbage(t *testing.T) {
	if _, err := DecodeInstance([]byte("{trunc")); err == nil {
		t.Fatal("expected error for truncated blob")
	}
	if _, err := DecodeInstance([]byte(`{"position":1}`)); err == nil {
		t.Fatal("expected error for descriptor without id")
	}
}

func TestDigest_IgnoresLastUpdate(t *testing.T) {
	a := Instance{ID: "x", Position: 1, LastUpdate: time.Unix(1, 0)}
	b := a
	b.LastUpdate = time.Unix(99, 0)
	if a.Digest() != b.Digest() {
		t.Fatal("digest should not depend on last_update")
	}
	b.Primary = true
	if a.Digest() == b.Digest() {
		t.Fatal("digest should change with content")
	}
}

func TestDigest_SensitiveToMessages(t *testing.T) {
	a := Instance{ID: "x", Position: 1}
	b := a
	b.Messages = []Message{{ID: "x.1.1", Name: "n", Type: TypeSignal}}
	if a.Digest() == b.Digest() {
		t.Fatal("digest should change when a message is queued")
	}
	if !strings.Contains(MessageID("x", time.Unix(0, 1), 1), "x.") {
		t.Fatal("sanity: id prefix")
	}
}
