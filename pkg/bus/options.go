package bus

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/daviddao/peerbus/pkg/clock"
	"github.com/daviddao/peerbus/pkg/logging"
	"github.com/daviddao/peerbus/pkg/store"
)

// Default scheduling parameters. The tick is the polling cadence;
// expiration bounds how long an unanswered message stays open.
const (
	DefaultTickInterval = 250 * time.Millisecond
	DefaultExpiration   = 3 * time.Second
)

// Option configures a Bus at construction.
type Option func(*options)

type options struct {
	id         string
	adapter    store.Adapter
	clk        clock.Clock
	logger     zerolog.Logger
	tick       time.Duration
	expiration time.Duration
	freshness  time.Duration
	heartbeat  time.Duration
}

func defaultOptions() options {
	return options{
		clk:        clock.System{},
		logger:     logging.Nop(),
		tick:       DefaultTickInterval,
		expiration: DefaultExpiration,
	}
}

// WithID overrides the generated instance id. Ids must not contain dots;
// they prefix every message id.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// WithAdapter selects the storage backend. The bus owns the adapter and
// closes it on Stop. Default is the file backend in its default
// directory.
func WithAdapter(a store.Adapter) Option {
	return func(o *options) { o.adapter = a }
}

// WithClock injects the time source. Tests drive a clock.Manual through
// the scheduler.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clk = c }
}

// WithLogger sets the bus logger. Default is disabled.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.logger = log }
}

// WithTickInterval sets the scheduler cadence.
func WithTickInterval(d time.Duration) Option {
	return func(o *options) { o.tick = d }
}

// WithExpiration sets how long an open message waits for replies before
// it is retired.
func WithExpiration(d time.Duration) Option {
	return func(o *options) { o.expiration = d }
}

// WithFreshness overrides how long a peer descriptor stays credible
// without a rewrite. Zero selects the backend default.
func WithFreshness(d time.Duration) Option {
	return func(o *options) { o.freshness = d }
}

// WithHeartbeatInterval overrides how often an unchanged descriptor is
// republished anyway. Zero derives it from the freshness window; it must
// stay below freshness or peers would prune a healthy quiet instance.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *options) { o.heartbeat = d }
}

// defaultID builds the instance id: the pid plus a short random suffix.
// The suffix keeps ids unique when several buses share one process.
func defaultID() string {
	return fmt.Sprintf("%d-%s", os.Getpid(), uuid.NewString()[:8])
}
