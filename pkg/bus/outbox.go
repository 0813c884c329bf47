package bus

import (
	"time"

	"github.com/daviddao/peerbus/pkg/metrics"
	"github.com/daviddao/peerbus/pkg/model"
)

// pending is one open outbound message with its reply bookkeeping.
type pending struct {
	msg   model.Message
	got   map[string]model.Reply
	order []string
	// done closes at retirement and wakes every waiter.
	done      chan struct{}
	onReply   ReplyFunc
	retiredAt time.Time
}

// arrivedReply is one newly observed reply, snapshotted for callback
// dispatch outside the lock.
type arrivedReply struct {
	from        string
	reply       model.Reply
	onReply     ReplyFunc
	handler     HandlerFunc
	handlerName string
}

// collectRepliesLocked scans peer descriptors for replies to our open
// messages. A replier is counted once per message even though it keeps
// republishing the reply until we retire the message.
func (b *Bus) collectRepliesLocked() []arrivedReply {
	var out []arrivedReply
	for _, peer := range b.dir.Peers() {
		for _, r := range peer.Replies {
			p, ok := b.byID[r.MsgID]
			if !ok {
				continue
			}
			if !p.msg.AddressedTo(peer.ID) {
				// A reply from a peer the message never addressed is a
				// protocol violation; drop it.
				b.log.Warn().Str("msg", r.MsgID).Str("from", peer.ID).Msg("reply from non-destination")
				continue
			}
			if _, dup := p.got[peer.ID]; dup {
				continue
			}
			p.got[peer.ID] = r
			p.order = append(p.order, peer.ID)

			ar := arrivedReply{from: peer.ID, reply: r, onReply: p.onReply}
			if r.OnRead != "" {
				ar.handler = b.handlers[r.OnRead]
				ar.handlerName = r.OnRead
			}
			out = append(out, ar)
		}
	}
	return out
}

// dispatchReplies runs reply callbacks and reply on_read hooks outside
// the lock.
func (b *Bus) dispatchReplies(arrived []arrivedReply) {
	for _, ar := range arrived {
		if ar.onReply != nil {
			returns := b.replyReturns(ar.from, ar.reply)
			b.safeCall("reply", ar.reply.MsgID, func() { ar.onReply(ar.from, returns) })
		}
		if ar.reply.OnRead != "" {
			if ar.handler == nil {
				b.log.Warn().Str("handler", ar.handlerName).Str("from", ar.from).
					Msg("reply names unregistered handler")
			} else {
				b.safeCall("handler", ar.handlerName, func() { ar.handler(ar.from, ar.reply.Data) })
			}
		}
	}
}

// replyReturns extracts the return tuple from a reply. A peer-reported
// failure surfaces as a log line and an empty tuple; per the error
// model, remote failures never become local errors.
func (b *Bus) replyReturns(from string, r model.Reply) []any {
	if r.Data == nil {
		return nil
	}
	if errMsg, ok := r.Data["error"].(string); ok && errMsg != "" {
		b.log.Warn().Str("msg", r.MsgID).Str("from", from).Str("error", errMsg).
			Msg("peer reported failure")
		return nil
	}
	returns, _ := r.Data["returns"].([]any)
	return returns
}

// retireLocked removes settled messages from the ledger. A message
// settles when every destination replied, when the unresponsive rest of
// its destinations departed, or when it outlives the expiration window.
func (b *Bus) retireLocked(now time.Time) {
	if len(b.ledger) == 0 {
		b.sweepRecentLocked(now)
		return
	}
	keep := b.ledger[:0]
	for _, p := range b.ledger {
		reason := b.retirementLocked(p, now)
		if reason == "" {
			keep = append(keep, p)
			continue
		}
		delete(b.byID, p.msg.ID)
		p.retiredAt = now
		b.recent[p.msg.ID] = p
		close(p.done)
		metrics.RecordMessageRetired(reason)
		b.log.Debug().Str("msg", p.msg.ID).Str("reason", reason).
			Int("replies", len(p.got)).Msg("retired")
	}
	b.ledger = keep
	if len(b.ledger) == 0 {
		b.wakeFlushWaitersLocked()
	}
	b.sweepRecentLocked(now)
}

func (b *Bus) retirementLocked(p *pending, now time.Time) string {
	if p.msg.Expired(now, b.expiration) {
		return "expired"
	}
	for _, d := range p.msg.Dest {
		if _, replied := p.got[d]; replied {
			continue
		}
		if _, live := b.dir.Peer(d); live {
			// Still waiting on a live destination.
			return ""
		}
	}
	if len(p.got) == 0 {
		return "unreachable"
	}
	return "completed"
}

// sweepRecentLocked drops retired results one expiration window after
// retirement. Waiters that arrived in time hold their own pointer and
// are unaffected.
func (b *Bus) sweepRecentLocked(now time.Time) {
	for id, p := range b.recent {
		if now.Sub(p.retiredAt) > b.expiration {
			delete(b.recent, id)
		}
	}
}

func (b *Bus) wakeFlushWaitersLocked() {
	for _, ch := range b.flushWaiters {
		close(ch)
	}
	b.flushWaiters = nil
}
