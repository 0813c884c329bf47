package bus

import (
	"github.com/daviddao/peerbus/pkg/metrics"
	"github.com/daviddao/peerbus/pkg/model"
)

// SendOptions shape one outbound message.
type SendOptions struct {
	// Type defaults to model.TypeMessage. Signal and Call wrap this with
	// the other two.
	Type model.MessageType
	// To names explicit destinations. Empty means every live peer.
	To []string
	// Data is the payload. Values must survive a JSON round trip.
	Data map[string]any
	// OnRead names a handler each destination runs when it first reads
	// the message. The name resolves in the destination's process.
	OnRead string
}

// SendMessage queues one message for the resolved destinations and
// returns its id. The empty string means nothing was queued: the bus is
// not running, or no named destination is currently live. Destinations
// are fixed at send time; peers joining later never see the message.
func (b *Bus) SendMessage(name string, opts SendOptions) string {
	return b.send(name, opts, nil)
}

// send is SendMessage plus an optional per-reply callback, attached
// under the same lock so no reply can slip past it.
func (b *Bus) send(name string, opts SendOptions, onReply ReplyFunc) string {
	typ := opts.Type
	if typ == "" {
		typ = model.TypeMessage
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started || b.stopped {
		b.log.Debug().Str("name", name).Msg("send on inactive bus dropped")
		return ""
	}
	dests := b.resolveDestsLocked(opts.To, name)
	if len(dests) == 0 {
		return ""
	}

	ts, seq := b.stamper.Next()
	msg := model.Message{
		ID:     model.MessageID(b.id, ts, seq),
		Type:   typ,
		Name:   name,
		Dest:   dests,
		Data:   opts.Data,
		OnRead: opts.OnRead,
		Sent:   ts,
	}
	p := &pending{
		msg:     msg,
		got:     make(map[string]model.Reply),
		done:    make(chan struct{}),
		onReply: onReply,
	}
	b.ledger = append(b.ledger, p)
	b.byID[msg.ID] = p
	metrics.RecordMessageSent(string(typ))
	b.log.Debug().Str("msg", msg.ID).Str("name", name).Strs("dest", dests).Msg("queued")

	// Pull the next tick forward so the message reaches the store now
	// instead of up to one interval later.
	select {
	case b.kick <- struct{}{}:
	default:
	}
	return msg.ID
}

// Signal fires a notification and returns the message id, or "" when no
// destination is live. dests empty means broadcast. The sender id rides
// as the first wire argument so receivers see it even when relaying.
func (b *Bus) Signal(dests []string, name string, args ...any) string {
	wire := make([]any, 0, len(args)+1)
	wire = append(wire, b.id)
	wire = append(wire, args...)
	return b.SendMessage(name, SendOptions{
		Type: model.TypeSignal,
		To:   dests,
		Data: map[string]any{"args": wire},
	})
}

// resolveDestsLocked turns the requested destinations into the live
// subset. Unknown or departed names are dropped with a log line; sending
// to self is never allowed.
func (b *Bus) resolveDestsLocked(to []string, name string) []string {
	peers := b.dir.Peers()
	if len(to) == 0 {
		all := make([]string, 0, len(peers))
		for _, p := range peers {
			all = append(all, p.ID)
		}
		if len(all) == 0 {
			b.log.Debug().Str("name", name).Msg("no live peers for broadcast")
		}
		return all
	}
	live := make([]string, 0, len(to))
	for _, d := range to {
		if d == b.id {
			continue
		}
		if _, ok := b.dir.Peer(d); ok {
			live = append(live, d)
			continue
		}
		b.log.Debug().Str("name", name).Str("dest", d).Msg("destination not live, dropped")
	}
	return live
}

// ledgerMessagesLocked snapshots the open messages for the descriptor.
func (b *Bus) ledgerMessagesLocked() []model.Message {
	if len(b.ledger) == 0 {
		return nil
	}
	msgs := make([]model.Message, len(b.ledger))
	for i, p := range b.ledger {
		msgs[i] = p.msg
	}
	return msgs
}
