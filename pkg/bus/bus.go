// Package bus coordinates instances of the same application running on
// one host, using nothing but shared storage.
//
// Every instance periodically publishes a descriptor (identity, election
// position, open messages, replies, declared operations) and reads the
// descriptors of its peers. Requests, replies, signals and the primary
// role all ride on that publish/read cycle; there is no broker and no
// socket. The cost of the design is latency in tick units, the payoff is
// that any process able to reach the store can participate and a dead
// instance disappears by simply going quiet.
//
// A Bus runs a single scheduler goroutine. Each tick it refreshes the
// peer view, decides the primary, acknowledges inbound messages, settles
// its own open messages and republishes its descriptor when the content
// changed. Public methods may be called from any goroutine; they share
// one mutex with the scheduler, and listener callbacks always run outside
// it so a callback may call back into the bus.
package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/daviddao/peerbus/pkg/clock"
	"github.com/daviddao/peerbus/pkg/directory"
	"github.com/daviddao/peerbus/pkg/election"
	"github.com/daviddao/peerbus/pkg/metrics"
	"github.com/daviddao/peerbus/pkg/model"
	"github.com/daviddao/peerbus/pkg/store"
)

// Bus is one instance's connection to its peers. Create with New, join
// the peer group with Start, leave with Stop.
type Bus struct {
	id      string
	log     zerolog.Logger
	adapter store.Adapter
	clk     clock.Clock
	stamper *clock.Stamper

	tickInterval      time.Duration
	expiration        time.Duration
	heartbeatInterval time.Duration

	quit     chan struct{}
	loopDone chan struct{}
	// kick pulls the scheduler's next tick forward, so a queued message
	// reaches the store before the interval elapses.
	kick chan struct{}

	mu          sync.Mutex
	started     bool
	stopped     bool
	loopStarted bool
	position    int
	primary     bool
	primaryID   string
	dir         *directory.Directory

	// Outbound: open messages in publish order plus an id index. recent
	// holds freshly retired messages so late waiters still find their
	// results.
	ledger []*pending
	byID   map[string]*pending
	recent map[string]*pending
	// flushWaiters wake when the ledger drains.
	flushWaiters []chan struct{}

	// Inbound: ack state per observed message id, and the reply list as
	// last rebuilt.
	processed map[string]*ackEntry
	replies   []model.Reply

	// Listener registries, keyed by "<type>.<name>". Observers see every
	// inbound message regardless of key.
	listeners   map[string][]ListenerFunc
	replyOnRead map[string]string
	handlers    map[string]HandlerFunc
	observers   []ObserverFunc
	signalDecls []model.SignalDecl
	methodDecls []model.MethodDecl

	// Publish bookkeeping.
	lastDigest  string
	lastPublish time.Time
}

// New builds a Bus. Without options it joins the default file-backend
// group under a generated id and stays silent.
func New(opts ...Option) (*Bus, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if o.id == "" {
		o.id = defaultID()
	}
	if !model.ValidInstanceID(o.id) {
		return nil, fmt.Errorf("invalid instance id %q", o.id)
	}
	if o.tick <= 0 {
		return nil, fmt.Errorf("tick interval must be positive, got %v", o.tick)
	}
	if o.expiration <= 0 {
		return nil, fmt.Errorf("expiration must be positive, got %v", o.expiration)
	}
	if o.adapter == nil {
		adapter, err := store.NewDir("")
		if err != nil {
			return nil, fmt.Errorf("default store: %w", err)
		}
		o.adapter = adapter
	}

	log := o.logger.With().Str("instance", o.id).Logger()

	freshness := o.freshness
	if freshness <= 0 {
		freshness = o.adapter.DefaultFreshness()
	}
	heartbeat := o.heartbeat
	if heartbeat <= 0 || heartbeat >= freshness {
		if heartbeat >= freshness {
			log.Warn().Dur("heartbeat", heartbeat).Dur("freshness", freshness).
				Msg("heartbeat must undercut freshness, deriving")
		}
		// A quiet instance republishes well inside the freshness window
		// so peers never prune it for silence.
		heartbeat = freshness * 4 / 5
	}

	b := &Bus{
		id:                o.id,
		log:               log,
		adapter:           o.adapter,
		clk:               o.clk,
		stamper:           clock.NewStamper(o.clk),
		tickInterval:      o.tick,
		expiration:        o.expiration,
		heartbeatInterval: heartbeat,
		quit:              make(chan struct{}),
		loopDone:          make(chan struct{}),
		kick:              make(chan struct{}, 1),
		byID:              make(map[string]*pending),
		recent:            make(map[string]*pending),
		processed:         make(map[string]*ackEntry),
		listeners:         make(map[string][]ListenerFunc),
		replyOnRead:       make(map[string]string),
		handlers:          make(map[string]HandlerFunc),
	}
	b.dir = directory.New(b.id, b.adapter, b.clk, freshness, log.With().Str("component", "directory").Logger())
	return b, nil
}

// ID returns the instance id.
func (b *Bus) ID() string { return b.id }

// Position returns the election position assigned at Start, 0 before.
func (b *Bus) Position() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position
}

// IsPrimary reports whether this instance currently holds the primary
// role.
func (b *Bus) IsPrimary() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.primary
}

// Start joins the peer group: the position is claimed from the observed
// live set, the first descriptor is published and the scheduler begins
// ticking.
func (b *Bus) Start() error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return fmt.Errorf("bus %s already started", b.id)
	}
	if err := b.join(); err != nil {
		b.mu.Unlock()
		return err
	}
	b.loopStarted = true
	b.mu.Unlock()

	b.tick(b.clk.Now())
	go b.run()
	return nil
}

// join claims a position from the current live set. Caller holds b.mu.
func (b *Bus) join() error {
	if err := b.dir.Refresh(); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	peers := b.dir.Peers()
	b.position = election.NextPosition(peers)
	dec := election.Decide(b.id, b.position, peers)
	b.primary = dec.Primary
	b.primaryID = dec.PrimaryID
	b.started = true
	b.log.Info().Int("position", b.position).Int("peers", len(peers)).
		Bool("primary", b.primary).Msg("joined")
	return nil
}

// run is the scheduler loop. A store notification pulls the next tick
// forward, rate-limited so a chatty peer cannot turn polling into
// spinning; the ticker remains the source of truth.
func (b *Bus) run() {
	defer close(b.loopDone)

	ticker := time.NewTicker(b.tickInterval)
	defer ticker.Stop()

	var notify <-chan struct{}
	if n, ok := b.adapter.(store.Notifier); ok {
		notify = n.Events()
	}
	minNotifyGap := b.tickInterval / 4
	var lastNotify time.Time

	for {
		select {
		case <-b.quit:
			return
		case <-ticker.C:
			b.tick(b.clk.Now())
		case <-b.kick:
			b.tick(b.clk.Now())
		case _, ok := <-notify:
			if !ok {
				notify = nil
				continue
			}
			if time.Since(lastNotify) < minNotifyGap {
				continue
			}
			lastNotify = time.Now()
			b.tick(b.clk.Now())
		}
	}
}

// Stop leaves the peer group: open messages are abandoned, waiters are
// woken, the descriptor is withdrawn from the store and the adapter is
// closed. Stop is idempotent.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.started || b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	close(b.quit)
	for _, p := range b.ledger {
		close(p.done)
	}
	b.ledger = nil
	b.byID = make(map[string]*pending)
	b.wakeFlushWaitersLocked()
	loopStarted := b.loopStarted
	b.mu.Unlock()

	// The scheduler must be out before the descriptor goes away, or a
	// final publish would resurrect it.
	if loopStarted {
		<-b.loopDone
	}

	if err := b.adapter.Remove(b.id); err != nil {
		b.log.Warn().Err(err).Msg("withdraw descriptor")
	}
	if err := b.adapter.Close(); err != nil {
		b.log.Warn().Err(err).Msg("close store")
	}
	b.log.Info().Msg("stopped")
}

// GetInstances returns the live peers from the last refresh, position
// sorted, self excluded.
func (b *Bus) GetInstances() []model.Instance {
	b.mu.Lock()
	defer b.mu.Unlock()
	peers := b.dir.Peers()
	out := make([]model.Instance, len(peers))
	copy(out, peers)
	return out
}

// GetPrimaryInstance returns the id of the current primary, self
// included. ok is false before Start.
func (b *Bus) GetPrimaryInstance() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return "", false
	}
	return b.primaryID, true
}

// tick runs one scheduler pass. Callback dispatch happens outside the
// lock in two waves: inbound listeners first, then reply callbacks, so a
// callback can safely send, call or register.
func (b *Bus) tick(now time.Time) {
	metrics.RecordTick()

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}

	// 1. Refresh the peer view. A store error keeps the previous view;
	// next tick retries.
	if err := b.dir.Refresh(); err != nil {
		b.log.Warn().Err(err).Msg("refresh failed, keeping last view")
	}

	// 2. Primary election over the observed set.
	dec := election.Decide(b.id, b.position, b.dir.Peers())
	if dec.Primary != b.primary {
		b.log.Info().Bool("primary", dec.Primary).Str("was", b.primaryID).
			Str("now", dec.PrimaryID).Msg("primary changed")
	}
	b.primary = dec.Primary
	b.primaryID = dec.PrimaryID
	metrics.SetPrimary(dec.Primary)

	// 3. Inbox: pick up never-seen messages addressed to us.
	inbound := b.collectInboundLocked(now)

	// 4. Outbox: pick up newly arrived replies to our open messages.
	arrived := b.collectRepliesLocked()
	b.mu.Unlock()

	// 5. Dispatch listeners and compute acks, unlocked.
	acks := b.dispatchInbound(inbound)

	// 6. Dispatch reply callbacks, unlocked.
	b.dispatchReplies(arrived)

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	for _, a := range acks {
		b.recordAckLocked(a, now)
	}
	// 7. Rebuild the reply list: one entry per distinct message still
	// addressed to us.
	b.rebuildRepliesLocked(now)
	// 8. Retire completed, expired and unreachable messages.
	b.retireLocked(now)
	// 9. Publish when the descriptor content changed or the heartbeat
	// came due.
	blob, digest, doPublish := b.composeLocked(now)
	b.mu.Unlock()

	if !doPublish {
		return
	}
	if err := b.adapter.Publish(b.id, blob); err != nil {
		metrics.RecordPublish("error")
		b.log.Warn().Err(err).Msg("publish failed, will retry")
		return
	}
	metrics.RecordPublish("written")
	b.mu.Lock()
	// Committed only on success, so a store failure leaves the content
	// marked dirty and the next tick writes again.
	b.lastDigest = digest
	b.lastPublish = now
	b.mu.Unlock()
}

// composeLocked builds the descriptor and decides whether to write it.
// The digest excludes last_update, so a quiet tick skips the write until
// the heartbeat forces one.
func (b *Bus) composeLocked(now time.Time) ([]byte, string, bool) {
	desc := model.Instance{
		ID:         b.id,
		Protocol:   model.Protocol,
		Position:   b.position,
		Primary:    b.primary,
		LastUpdate: now,
		Messages:   b.ledgerMessagesLocked(),
		Replies:    b.replies,
		Signals:    b.signalDecls,
		Methods:    b.methodDecls,
	}
	digest := desc.Digest()
	if digest == b.lastDigest && now.Sub(b.lastPublish) < b.heartbeatInterval {
		metrics.RecordPublish("skipped")
		return nil, "", false
	}
	blob, err := desc.Encode()
	if err != nil {
		// Serialization failures are local bugs; the previous descriptor
		// stays published.
		b.log.Error().Err(err).Msg("descriptor encode failed")
		return nil, "", false
	}
	return blob, digest, true
}
