// Package session implements the client-side session protocol: a
// single-connection, single-inflight-request state machine that talks to a
// Viewstamped-Replication-style replica group, providing linearizable
// per-session operation semantics.
package session

import (
	"math/rand"

	"github.com/cockroachdb/errors"

	"anchor/internal/checksum"
	"anchor/internal/config"
	"anchor/internal/logging"
	"anchor/internal/message"
	"anchor/internal/metrics"
	"anchor/internal/ringqueue"
	"anchor/internal/timeout"
)

// State is one of the client's wire states.
type State int

const (
	StateUnregistered State = iota
	StateRegistering
	StateActive
	StateEvicted
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistering:
		return "registering"
	case StateActive:
		return "active"
	case StateEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// Callback is invoked once a submitted request's reply has been accepted.
// reply is the raw reply message; the callback must not retain it past the
// call (it belongs to the MessageBus).
type Callback func(userData checksum.Value, reply *message.Message)

// FatalFunc is invoked when the client's session is evicted. The default
// panics; a host may substitute os.Exit or a supervisor hook.
type FatalFunc func(reason string)

// request is one entry in the client's internal queue.
type request struct {
	userData  checksum.Value
	callback  Callback
	msg       *message.Message
	operation message.Operation
}

// Option configures optional Client behavior.
type Option func(*Client)

// WithFatalFunc overrides the default panic-on-eviction behavior.
func WithFatalFunc(f FatalFunc) Option {
	return func(c *Client) { c.fatal = f }
}

// WithLogger overrides the default no-op logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithMetrics attaches a metrics.Session for observability. Metrics never
// gate protocol decisions.
func WithMetrics(m *metrics.Session) Option {
	return func(c *Client) { c.metrics = m }
}

// WithRand overrides the default client_id-seeded RNG, for deterministic
// tests of backoff behavior.
func WithRand(r *rand.Rand) Option {
	return func(c *Client) { c.rng = r }
}

// Client is the session protocol state machine. It is not safe for
// concurrent use - like every component in this module it is pinned to one
// executor.
type Client struct {
	id           checksum.Value
	clusterID    uint32
	replicaCount uint8

	sessionNumber uint64
	requestNumber uint32
	viewNumber    uint32
	parent        checksum.Value

	state State

	bus  MessageBus
	pool *message.Pool

	// queue holds every request not yet replied to. The head of the queue is
	// the inflight request (if any): it stays queued, not popped, while
	// inflight, so that the request budget and the queue budget are the same
	// resource.
	queue *ringqueue.Queue[*request]

	inflightActive        bool
	inflightRequestNumber uint32

	pingTimeout    *timeout.Timeout
	requestTimeout *timeout.Timeout
	rng            *rand.Rand

	fatal   FatalFunc
	log     logging.Logger
	metrics *metrics.Session
}

// New constructs a Client for the given client id, cluster, and replica
// group size, wired to bus and configured by cfg. id must be non-zero;
// replicaCount must be positive.
func New(id checksum.Value, clusterID uint32, replicaCount uint8, cfg config.Client, bus MessageBus, opts ...Option) (*Client, error) {
	if id.IsZero() {
		return nil, errors.New("session: client id must be non-zero")
	}
	if replicaCount == 0 {
		return nil, errors.New("session: replica_count must be positive")
	}

	c := &Client{
		id:             id,
		clusterID:      clusterID,
		replicaCount:   replicaCount,
		bus:            bus,
		queue:          ringqueue.New[*request](cfg.RequestQueueMax),
		pingTimeout:    timeout.New("ping", cfg.PingTimeoutTicks),
		requestTimeout: timeout.New("request", cfg.RTTTicks*cfg.RTTMultiple),
		rng:            rand.New(rand.NewSource(int64(checksum.Low64(id)))),
		fatal:          func(reason string) { panic("session: " + reason) },
		log:            logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.pool = message.NewPool(cfg.RequestQueueMax, c.onMessageFreed)
	c.pingTimeout.Start()
	return c, nil
}

// State returns the client's current wire state.
func (c *Client) State() State { return c.state }

// SessionNumber returns the session number assigned at registration, or 0
// before registration completes.
func (c *Client) SessionNumber() uint64 { return c.sessionNumber }

// View returns the highest view the client has observed.
func (c *Client) View() uint32 { return c.viewNumber }

// ClientID returns the client's id.
func (c *Client) ClientID() checksum.Value { return c.id }

// Metrics returns the client's attached metric set, or nil if none was
// configured via WithMetrics.
func (c *Client) Metrics() *metrics.Session { return c.metrics }

func (c *Client) onMessageFreed(m *message.Message) {
	if c.metrics != nil {
		c.metrics.MessagesInUse.Dec()
	}
}

// AcquireMessage obtains a send buffer under the client's message budget.
func (c *Client) AcquireMessage() (*message.Message, error) {
	m, err := c.pool.Acquire()
	if err != nil {
		return nil, ErrBudgetExceeded
	}
	if c.metrics != nil {
		c.metrics.MessagesInUse.Inc()
	}
	return m, nil
}

// ReleaseMessage drops the caller's reference to m.
func (c *Client) ReleaseMessage(m *message.Message) {
	m.Unref()
}

// Submit enqueues a typed request. operation must be at or above
// message.VSROperationsReserved. On the very first submit, an internal
// register request is transparently prepended.
func (c *Client) Submit(userData checksum.Value, callback Callback, operation message.Operation, msg *message.Message, bodySize uint32) error {
	if c.state == StateEvicted {
		return ErrEvicted
	}
	if operation < message.VSROperationsReserved {
		return ErrReservedOperation
	}
	if err := c.ensureRegistering(); err != nil {
		return err
	}

	h := msg.Header()
	h.Command = message.CommandRequest
	h.Operation = operation
	h.Size = bodySize
	msg.SetHeader(h)

	return c.enqueueRequest(&request{userData: userData, callback: callback, msg: msg, operation: operation})
}

// SubmitRaw enqueues a pre-formatted request, used for replay. The
// message's header must already carry a non-reserved operation.
func (c *Client) SubmitRaw(userData checksum.Value, callback Callback, msg *message.Message) error {
	if c.state == StateEvicted {
		return ErrEvicted
	}
	h := msg.Header()
	if h.Operation < message.VSROperationsReserved {
		return ErrReservedOperation
	}
	if err := c.ensureRegistering(); err != nil {
		return err
	}
	return c.enqueueRequest(&request{userData: userData, callback: callback, msg: msg, operation: h.Operation})
}

// ensureRegistering prepends the internal register request the first time
// any request is submitted.
func (c *Client) ensureRegistering() error {
	if c.state != StateUnregistered {
		return nil
	}

	regMsg, err := c.pool.Acquire()
	if err != nil {
		return ErrBudgetExceeded
	}
	h := regMsg.Header()
	h.Command = message.CommandRequest
	h.Operation = message.OperationRegister
	h.Size = 0
	regMsg.SetHeader(h)

	if err := c.enqueueRequest(&request{operation: message.OperationRegister, msg: regMsg}); err != nil {
		regMsg.Unref()
		return err
	}
	c.state = StateRegistering
	return nil
}

func (c *Client) enqueueRequest(req *request) error {
	if err := c.queue.Push(req); err != nil {
		return ErrBudgetExceeded
	}
	c.dispatchNext()
	return nil
}

// dispatchNext sends the queue head for the first time, if nothing is
// currently inflight. The head stays in the queue; only a reply (or eviction)
// pops it.
func (c *Client) dispatchNext() {
	if c.inflightActive {
		return
	}
	next, ok := c.queue.Head()
	if !ok {
		return
	}
	c.inflightActive = true
	c.sendFirstTime(next)
}

// sendFirstTime fills in the hash-chain and identity fields of req's
// header, finalizes its checksums, and transmits it for the first time.
func (c *Client) sendFirstTime(req *request) {
	c.requestNumber++
	c.inflightRequestNumber = c.requestNumber

	h := req.msg.Header()
	h.Parent = c.parent
	if req.operation == message.OperationRegister {
		h.Context = checksum.Zero
	} else {
		h.Context = checksum.FromUint64(c.sessionNumber)
	}
	h.Request = c.requestNumber
	h.Cluster = c.clusterID
	h.View = c.viewNumber
	h.Client = c.id
	h.Replica = uint8(uint64(c.viewNumber) % uint64(c.replicaCount))
	h.SetChecksums(req.msg.Body())
	req.msg.SetHeader(h)

	// The checksum just computed becomes the anchor the matching reply's
	// parent field must echo back.
	c.parent = h.Checksum

	c.requestTimeout.Reset()
	c.requestTimeout.Start()
	c.transmit(req.msg, 0)
}

// transmit sends m to the replica selected by (view+attempts) mod
// replica_count, without altering m's already-checksummed bytes.
func (c *Client) transmit(m *message.Message, attempts uint64) {
	target := uint8((uint64(c.viewNumber) + attempts) % uint64(c.replicaCount))
	if err := c.bus.SendMessageToReplica(target, m); err != nil {
		c.log.Debugw("send to replica failed", "err", errors.Wrap(err, "session").Error(), "replica", target)
	}
	if c.metrics != nil {
		if attempts == 0 {
			c.metrics.RequestsSent.Inc()
		} else {
			c.metrics.RequestsRetried.Inc()
		}
	}
}

// sendPing broadcasts a ping_client header to every replica.
func (c *Client) sendPing() {
	m, err := c.pool.Acquire()
	if err != nil {
		c.log.Debugw("ping skipped: message budget exhausted")
		return
	}
	h := m.Header()
	h.Command = message.CommandPingClient
	h.Cluster = c.clusterID
	h.Client = c.id
	h.View = c.viewNumber
	h.Size = 0
	h.SetChecksums(m.Body())
	m.SetHeader(h)

	for r := uint8(0); r < c.replicaCount; r++ {
		if err := c.bus.SendMessageToReplica(r, m); err != nil {
			c.log.Debugw("ping send failed", "err", errors.Wrap(err, "session").Error(), "replica", r)
		}
	}
	m.Unref()
}

// Tick advances the client's timers by one host tick. It should be called
// at a fixed rate (config.Client.TickMS).
func (c *Client) Tick() {
	c.bus.Tick()

	if c.pingTimeout.Tick() {
		c.sendPing()
		c.pingTimeout.Start()
	}

	if c.inflightActive && c.requestTimeout.Tick() {
		if req, ok := c.queue.Head(); ok {
			c.requestTimeout.Backoff(c.rng)
			c.transmit(req.msg, c.requestTimeout.Attempts())
		}
	}
}

// OnMessageReceived is called by the MessageBus for every inbound message
// addressed to (or broadcast toward) this client.
func (c *Client) OnMessageReceived(m *message.Message) {
	defer c.bus.Unref(m)

	if c.state == StateEvicted {
		return
	}

	h := m.Header()
	switch h.Command {
	case message.CommandPongClient:
		c.handlePong(m)
	case message.CommandReply:
		c.handleReply(m)
	case message.CommandEviction:
		c.handleEviction(m)
	default:
		c.log.Debugw("misdirected message", "command", h.Command.String())
		if c.metrics != nil {
			c.metrics.RepliesDropped.Inc()
		}
	}
}

func (c *Client) handlePong(m *message.Message) {
	h := m.Header()
	if !h.ValidChecksums(m.Body()) {
		return
	}
	if h.Cluster != c.clusterID {
		return
	}
	if h.View > c.viewNumber {
		c.viewNumber = h.View
	}
	if c.state == StateUnregistered || c.state == StateRegistering {
		c.dispatchNext()
	}
}

// validateReply implements every reply validation rule except the
// register-specific commit check, which handleReply performs separately
// since it must run before any state is mutated.
func (c *Client) validateReply(m *message.Message) bool {
	if !c.inflightActive {
		return false
	}
	req, ok := c.queue.Head()
	if !ok {
		return false
	}
	h := m.Header()
	if !h.ValidChecksums(m.Body()) {
		return false
	}
	if h.Command != message.CommandReply {
		return false
	}
	if h.Cluster != c.clusterID {
		return false
	}
	if h.Client != c.id {
		return false
	}
	if h.Request != c.inflightRequestNumber {
		return false
	}
	if h.Parent != c.parent {
		return false
	}
	if h.Operation != req.operation {
		return false
	}
	return true
}

func (c *Client) handleReply(m *message.Message) {
	if !c.validateReply(m) {
		c.log.Debugw("dropping invalid reply")
		if c.metrics != nil {
			c.metrics.RepliesDropped.Inc()
		}
		return
	}

	h := m.Header()
	req, _ := c.queue.Head()

	if req.operation == message.OperationRegister {
		if checksum.Low64(h.Context) == 0 {
			// A zero commit on a register reply is a protocol violation,
			// treated exactly like any other invalid reply, leaving the
			// request inflight for retransmission.
			c.log.Debugw("register reply carried zero commit")
			if c.metrics != nil {
				c.metrics.RepliesDropped.Inc()
			}
			return
		}
	}

	c.requestTimeout.Stop()
	c.parent = h.Context
	if h.View > c.viewNumber {
		c.viewNumber = h.View
	}
	if req.operation == message.OperationRegister {
		c.sessionNumber = checksum.Low64(h.Context)
		c.state = StateActive
	}

	c.queue.Pop()
	c.inflightActive = false
	req.msg.Unref()
	if c.metrics != nil {
		c.metrics.RepliesAccepted.Inc()
	}

	// Dispatch the next queued request before firing the user callback, so
	// that request N+1 is already on the wire before N's callback observes
	// anything.
	c.dispatchNext()

	if req.callback != nil {
		req.callback(req.userData, m)
	}
}

func (c *Client) handleEviction(m *message.Message) {
	h := m.Header()
	if !h.ValidChecksums(m.Body()) {
		return
	}
	if h.Client != c.id {
		return
	}
	if h.View < c.viewNumber {
		return
	}

	c.state = StateEvicted
	if c.metrics != nil {
		c.metrics.Evictions.Inc()
	}
	c.log.Errorw("session evicted", "view", h.View)
	c.fatal("too many concurrent client sessions")
}
