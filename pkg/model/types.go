// Package model defines the wire types instances publish to the shared
// store: the instance descriptor plus the messages and replies it carries.
//
// The bus has no sockets and no broker. Every instance periodically writes
// its own descriptor and reads everyone else's, so these types are the
// whole protocol: two builds interoperate exactly when their descriptors
// decode. Each instance writes only its own entry, which keeps the store
// free of cross-process write conflicts.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Protocol is the descriptor protocol version. Peers whose major version
// differs from ours are ignored during directory refresh.
const Protocol = "1.0.0"

// MessageType distinguishes plain messages from the built-in kinds layered
// on top of them.
type MessageType string

const (
	// TypeMessage is a plain named payload with no built-in semantics.
	TypeMessage MessageType = "message"
	// TypeSignal is a fire-and-forget notification. Receivers never reply.
	TypeSignal MessageType = "signal"
	// TypeMethod is a request: every destination is expected to reply once.
	TypeMethod MessageType = "method"
)

// Message is one outbound request embedded in a descriptor. The sender is
// implied by the descriptor that carries it; the id embeds it too so that
// replies can be routed back without extra fields.
type Message struct {
	ID     string         `json:"id"`
	Type   MessageType    `json:"type"`
	Name   string         `json:"name"`
	Dest   []string       `json:"dest"`
	Data   map[string]any `json:"data,omitempty"`
	OnRead string         `json:"on_read,omitempty"`
	Sent   time.Time      `json:"sent_at"`
}

// Expired reports whether the message has outlived ttl at time now.
func (m Message) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(m.Sent) > ttl
}

// AddressedTo reports whether id is among the message destinations.
func (m Message) AddressedTo(id string) bool {
	for _, d := range m.Dest {
		if d == id {
			return true
		}
	}
	return false
}

// Reply answers exactly one message. The replier is implied by the
// descriptor that carries it. OnRead names a handler registered in the
// original sender's process; it is never code.
type Reply struct {
	MsgID  string         `json:"msg_id"`
	Data   map[string]any `json:"data,omitempty"`
	OnRead string         `json:"on_read,omitempty"`
	Sent   time.Time      `json:"sent_at"`
}

// SignalDecl advertises a signal an instance listens for.
type SignalDecl struct {
	Name   string `json:"name"`
	Params string `json:"params,omitempty"`
}

// String renders the declared signature, e.g. "opened(path)".
func (d SignalDecl) String() string {
	return fmt.Sprintf("%s(%s)", d.Name, d.Params)
}

// MethodDecl advertises a callable method an instance serves.
type MethodDecl struct {
	Name    string `json:"name"`
	Params  string `json:"params,omitempty"`
	Returns string `json:"returns,omitempty"`
}

// String renders the declared signature, e.g. "ping() -> string".
func (d MethodDecl) String() string {
	if d.Returns == "" {
		return fmt.Sprintf("%s(%s)", d.Name, d.Params)
	}
	return fmt.Sprintf("%s(%s) -> %s", d.Name, d.Params, d.Returns)
}

// Instance is the full descriptor one process publishes to the store.
// Position is assigned once at startup and never reassigned; the live
// instance with the lowest position is the primary.
type Instance struct {
	ID         string       `json:"id"`
	Protocol   string       `json:"protocol"`
	Position   int          `json:"position"`
	Primary    bool         `json:"primary"`
	LastUpdate time.Time    `json:"last_update"`
	Messages   []Message    `json:"messages,omitempty"`
	Replies    []Reply      `json:"replies,omitempty"`
	Signals    []SignalDecl `json:"signals,omitempty"`
	Methods    []MethodDecl `json:"methods,omitempty"`
}

// ErrBadDescriptor wraps any failure to decode a peer blob. A peer may be
// observed mid-write, so the directory retries these for a bounded window
// before treating the peer as gone.
var ErrBadDescriptor = errors.New("bad descriptor")

// Encode marshals the descriptor for publication.
func (i Instance) Encode() ([]byte, error) {
	data, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("encode descriptor %s: %w", i.ID, err)
	}
	return data, nil
}

// DecodeInstance parses a descriptor blob read from the store.
func DecodeInstance(data []byte) (Instance, error) {
	var inst Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return Instance{}, fmt.Errorf("%w: %v", ErrBadDescriptor, err)
	}
	if inst.ID == "" {
		return Instance{}, fmt.Errorf("%w: empty id", ErrBadDescriptor)
	}
	return inst, nil
}

// Digest fingerprints the descriptor with LastUpdate zeroed. Publication
// is skipped when the digest has not changed since the last write, so a
// quiet instance does not touch the store every tick.
func (i Instance) Digest() string {
	i.LastUpdate = time.Time{}
	data, err := json.Marshal(i)
	if err != nil {
		// Maps of JSON-decoded values always marshal; reaching this
		// means a listener smuggled in an unmarshalable payload.
		return fmt.Sprintf("unmarshalable:%v", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MessageID builds the globally unique id for a message: the sender id,
// the send time in nanoseconds and a per-sender sequence number, joined
// with dots. The sender id is unique per live instance and the sequence
// strictly increases within it, so no coordination is needed.
func MessageID(sender string, ts time.Time, seq uint64) string {
	return fmt.Sprintf("%s.%d.%d", sender, ts.UnixNano(), seq)
}

// MessageSender extracts the sender instance id from a message id. It
// returns "" if the id does not carry one. Instance ids never contain
// dots, so the first segment is always the sender.
func MessageSender(id string) string {
	sender, _, ok := strings.Cut(id, ".")
	if !ok {
		return ""
	}
	return sender
}

// ValidInstanceID reports whether id can serve as an instance id. Dots
// are reserved as the message-id separator.
func ValidInstanceID(id string) bool {
	return id != "" && !strings.Contains(id, ".")
}
