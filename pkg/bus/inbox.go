package bus

import (
	"fmt"
	"time"

	"github.com/daviddao/peerbus/pkg/metrics"
	"github.com/daviddao/peerbus/pkg/model"
)

// ackEntry is the acknowledgement state for one observed message id.
// Processing happens exactly once; the reply list is rebuilt from these
// entries every tick for as long as the sender keeps the message open.
type ackEntry struct {
	data     map[string]any
	onRead   string
	at       time.Time
	lastSeen time.Time
	ready    bool
}

// inboundMsg is one never-seen message addressed to us, snapshotted for
// dispatch outside the lock.
type inboundMsg struct {
	from        string
	msg         model.Message
	fns         []ListenerFunc
	observers   []ObserverFunc
	replyOnRead string
	handler     HandlerFunc
	handlerName string
}

// ackResult carries the reply payload computed by dispatch.
type ackResult struct {
	id     string
	data   map[string]any
	onRead string
}

// collectInboundLocked finds messages addressed to us that we have not
// processed yet and snapshots everything dispatch needs.
func (b *Bus) collectInboundLocked(now time.Time) []inboundMsg {
	var work []inboundMsg
	for _, peer := range b.dir.Peers() {
		for _, m := range peer.Messages {
			if !m.AddressedTo(b.id) {
				continue
			}
			if _, ok := b.processed[m.ID]; ok {
				continue
			}
			// Placeholder claims the id so the message dispatches once
			// even if it stays visible for many ticks.
			b.processed[m.ID] = &ackEntry{at: now, lastSeen: now}

			key := listenerKey(m.Type, m.Name)
			w := inboundMsg{
				from:        peer.ID,
				msg:         m,
				fns:         append([]ListenerFunc(nil), b.listeners[key]...),
				observers:   b.observers,
				replyOnRead: b.replyOnRead[key],
			}
			if m.OnRead != "" {
				w.handler = b.handlers[m.OnRead]
				w.handlerName = m.OnRead
			}
			work = append(work, w)
		}
	}
	return work
}

// dispatchInbound runs hooks, listeners and observers without holding
// the lock and computes the acknowledgement for each message. Every
// message gets an ack, listener or not; failures ride back in the error
// field.
func (b *Bus) dispatchInbound(work []inboundMsg) []ackResult {
	acks := make([]ackResult, 0, len(work))
	for _, w := range work {
		ack := ackResult{id: w.msg.ID, onRead: w.replyOnRead}

		if w.msg.OnRead != "" {
			if w.handler == nil {
				b.log.Warn().Str("handler", w.handlerName).Str("from", w.from).
					Msg("message names unregistered handler")
			} else {
				b.safeCall("handler", w.handlerName, func() { w.handler(w.from, w.msg.Data) })
			}
		}

		if w.msg.Type == model.TypeMethod && len(w.fns) == 0 {
			b.log.Warn().Str("method", w.msg.Name).Str("from", w.from).Msg("call for unknown method")
			ack.data = map[string]any{"error": "unknown method: " + w.msg.Name}
		}
		for _, fn := range w.fns {
			if out := b.callListener(w.msg, fn, w.from); out != nil {
				ack.data = out
			}
		}

		for _, obs := range w.observers {
			b.safeCall("observer", w.msg.Name, func() { obs(w.from, w.msg) })
		}

		metrics.RecordReply()
		b.log.Debug().Str("msg", w.msg.ID).Str("name", w.msg.Name).Str("from", w.from).Msg("acknowledged")
		acks = append(acks, ack)
	}
	return acks
}

// callListener runs one listener, converting a panic into an error
// payload so the exchange still completes.
func (b *Bus) callListener(m model.Message, fn ListenerFunc, from string) (out map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordListenerFailure()
			b.log.Error().Str("name", m.Name).Interface("panic", r).Msg("listener panicked")
			out = map[string]any{"error": fmt.Sprintf("listener panic: %v", r)}
		}
	}()
	return fn(from, m.Data)
}

// recordAckLocked stores a computed acknowledgement.
func (b *Bus) recordAckLocked(a ackResult, now time.Time) {
	e, ok := b.processed[a.id]
	if !ok {
		e = &ackEntry{at: now}
		b.processed[a.id] = e
	}
	e.data = a.data
	e.onRead = a.onRead
	e.ready = true
	e.lastSeen = now
}

// rebuildRepliesLocked rebuilds the published reply list: exactly one
// entry per distinct message currently addressed to us. When a sender
// retires a message its reply drops out here on the next pass.
func (b *Bus) rebuildRepliesLocked(now time.Time) {
	var replies []model.Reply
	seen := make(map[string]bool)
	for _, peer := range b.dir.Peers() {
		for _, m := range peer.Messages {
			if !m.AddressedTo(b.id) || seen[m.ID] {
				continue
			}
			e, ok := b.processed[m.ID]
			if !ok || !e.ready {
				continue
			}
			seen[m.ID] = true
			e.lastSeen = now
			replies = append(replies, model.Reply{
				MsgID:  m.ID,
				Data:   e.data,
				OnRead: e.onRead,
				Sent:   e.at,
			})
		}
	}
	b.replies = replies
	b.sweepProcessedLocked(now)
}

// sweepProcessedLocked drops ack state for messages gone long enough
// that their sender must have retired them. The extra expiration window
// covers a sender observed mid-churn.
func (b *Bus) sweepProcessedLocked(now time.Time) {
	for id, e := range b.processed {
		if now.Sub(e.lastSeen) > b.expiration {
			delete(b.processed, id)
		}
	}
}
