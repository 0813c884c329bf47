package bus

import (
	"context"

	"github.com/daviddao/peerbus/pkg/model"
)

// ReplyFrom pairs a collected reply with the peer that produced it.
type ReplyFrom struct {
	From  string
	Reply model.Reply
}

// Call invokes a method on the destinations and blocks until every one
// of them answered, departed or the expiration passed, whichever comes
// first. The result maps replier id to its return tuple. nil means the
// call was never queued; ctx cancels the wait, not the message, which
// still retires on its own.
func (b *Bus) Call(ctx context.Context, dests []string, name string, args ...any) map[string][]any {
	id := b.CallAsync(dests, name, nil, args...)
	if id == "" {
		return nil
	}
	replies := b.WaitForReplies(ctx, id)
	out := make(map[string][]any, len(replies))
	for _, r := range replies {
		out[r.From] = b.replyReturns(r.From, r.Reply)
	}
	return out
}

// CallOne is Call against a single destination. ok reports whether that
// destination answered.
func (b *Bus) CallOne(ctx context.Context, dest, name string, args ...any) ([]any, bool) {
	res := b.Call(ctx, []string{dest}, name, args...)
	returns, ok := res[dest]
	return returns, ok
}

// CallAsync invokes a method without waiting. fn, when non-nil, runs on
// the scheduler goroutine once per arriving reply. Returns the message
// id, or "" when nothing was queued.
func (b *Bus) CallAsync(dests []string, name string, fn ReplyFunc, args ...any) string {
	if args == nil {
		args = []any{}
	}
	return b.send(name, SendOptions{
		Type: model.TypeMethod,
		To:   dests,
		Data: map[string]any{"args": args},
	}, fn)
}

// WaitForReplies blocks until the message with the given id retires or
// ctx ends, then returns the replies collected so far in arrival order.
// An id the bus no longer knows yields nil.
func (b *Bus) WaitForReplies(ctx context.Context, id string) []ReplyFrom {
	b.mu.Lock()
	p := b.byID[id]
	if p == nil {
		p = b.recent[id]
	}
	b.mu.Unlock()
	if p == nil {
		return nil
	}

	select {
	case <-p.done:
	case <-ctx.Done():
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ReplyFrom, 0, len(p.order))
	for _, from := range p.order {
		out = append(out, ReplyFrom{From: from, Reply: p.got[from]})
	}
	return out
}

// WaitForMessages blocks until the ledger drains: every message queued
// so far has completed, expired or lost its destinations. Returns false
// when ctx ended first. Useful before shutdown to flush outbound work.
func (b *Bus) WaitForMessages(ctx context.Context) bool {
	b.mu.Lock()
	if len(b.ledger) == 0 {
		b.mu.Unlock()
		return true
	}
	ch := make(chan struct{})
	b.flushWaiters = append(b.flushWaiters, ch)
	b.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}
