package bus

import (
	"sort"

	"github.com/daviddao/peerbus/pkg/metrics"
	"github.com/daviddao/peerbus/pkg/model"
)

// ListenerFunc handles one inbound message. The returned map, if any,
// rides back to the sender on the acknowledgement reply.
type ListenerFunc func(from string, data map[string]any) map[string]any

// SignalFunc handles one inbound signal.
type SignalFunc func(from string, args ...any)

// MethodFunc serves one method call. The returned values become the
// reply payload; a non-nil error is reported to the caller in the reply
// instead of failing the exchange.
type MethodFunc func(args ...any) ([]any, error)

// HandlerFunc is a named hook. Message and reply on_read fields carry
// handler names, never code; the receiving process resolves the name
// against its own registry.
type HandlerFunc func(from string, data map[string]any)

// ReplyFunc receives one method reply as it arrives.
type ReplyFunc func(from string, returns []any)

// ObserverFunc sees every inbound message regardless of name or type.
type ObserverFunc func(from string, msg model.Message)

// ListenOptions refine ListenMessageWith.
type ListenOptions struct {
	// Type selects which message type the listener sees. Defaults to
	// model.TypeMessage.
	Type model.MessageType
	// ReplyOnRead names a handler the message sender should run when it
	// reads our acknowledgement. The name resolves in the sender's
	// process, not ours.
	ReplyOnRead string
}

func listenerKey(typ model.MessageType, name string) string {
	return string(typ) + "." + name
}

// ListenMessage attaches a listener for plain messages of the given
// name. Several listeners may share a name; the last non-nil return
// becomes the acknowledgement payload.
func (b *Bus) ListenMessage(name string, fn ListenerFunc) {
	b.ListenMessageWith(name, fn, ListenOptions{})
}

// ListenMessageWith is ListenMessage with options.
func (b *Bus) ListenMessageWith(name string, fn ListenerFunc, opts ListenOptions) {
	typ := opts.Type
	if typ == "" {
		typ = model.TypeMessage
	}
	key := listenerKey(typ, name)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[key] = append(b.listeners[key], fn)
	if opts.ReplyOnRead != "" {
		b.replyOnRead[key] = opts.ReplyOnRead
	}
}

// ListenSignal attaches a callback for the named signal.
func (b *Bus) ListenSignal(name string, fn SignalFunc) {
	wrapped := func(from string, data map[string]any) map[string]any {
		sender, args := splitSignalArgs(from, wireArgs(data))
		fn(sender, args...)
		return nil
	}
	key := listenerKey(model.TypeSignal, name)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[key] = append(b.listeners[key], wrapped)
}

// RegisterSignal declares a signal this instance is interested in, for
// peer introspection. Declaring does not attach a callback; pair with
// ListenSignal.
func (b *Bus) RegisterSignal(name, params string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, d := range b.signalDecls {
		if d.Name == name {
			b.signalDecls[i].Params = params
			return
		}
	}
	b.signalDecls = append(b.signalDecls, model.SignalDecl{Name: name, Params: params})
	// Declarations are part of the published descriptor; keep them in a
	// stable order so the digest only moves on real changes.
	sort.Slice(b.signalDecls, func(i, j int) bool {
		return b.signalDecls[i].Name < b.signalDecls[j].Name
	})
}

// RegisterMethod declares and serves a callable method. Registering the
// same name again replaces the previous function.
func (b *Bus) RegisterMethod(name string, fn MethodFunc, params, returns string) {
	wrapped := func(from string, data map[string]any) map[string]any {
		rets, err := fn(wireArgs(data)...)
		if err != nil {
			metrics.RecordListenerFailure()
			b.log.Warn().Str("method", name).Err(err).Msg("method returned error")
			return map[string]any{"error": err.Error()}
		}
		if rets == nil {
			rets = []any{}
		}
		return map[string]any{"returns": rets}
	}
	key := listenerKey(model.TypeMethod, name)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.listeners[key]; ok {
		b.log.Debug().Str("method", name).Msg("method replaced")
	}
	b.listeners[key] = []ListenerFunc{wrapped}

	for i, d := range b.methodDecls {
		if d.Name == name {
			b.methodDecls[i].Params = params
			b.methodDecls[i].Returns = returns
			return
		}
	}
	b.methodDecls = append(b.methodDecls, model.MethodDecl{Name: name, Params: params, Returns: returns})
	sort.Slice(b.methodDecls, func(i, j int) bool {
		return b.methodDecls[i].Name < b.methodDecls[j].Name
	})
}

// RegisterHandler installs a named hook reachable through message and
// reply on_read fields. Registering a name again replaces the hook.
func (b *Bus) RegisterHandler(name string, fn HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = fn
}

// Observe taps the inbound stream: fn runs for every message addressed
// to this instance, after its listeners. Observers never produce reply
// data; they exist for monitoring surfaces like the watch command.
func (b *Bus) Observe(fn ObserverFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, fn)
}

// wireArgs extracts the argument tuple from a payload.
func wireArgs(data map[string]any) []any {
	if data == nil {
		return nil
	}
	args, _ := data["args"].([]any)
	return args
}

// splitSignalArgs peels the packed sender off the wire tuple. Payloads
// from foreign senders may omit it; the descriptor origin backs it up.
func splitSignalArgs(from string, wire []any) (string, []any) {
	if len(wire) > 0 {
		if sender, ok := wire[0].(string); ok {
			return sender, wire[1:]
		}
	}
	return from, wire
}

// safeCall shields the scheduler from panicking callbacks.
func (b *Bus) safeCall(kind, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordListenerFailure()
			b.log.Error().Str(kind, name).Interface("panic", r).Msg("callback panicked")
		}
	}()
	fn()
}
