package session

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anchor/internal/checksum"
	"anchor/internal/config"
	"anchor/internal/message"
)

type sentMsg struct {
	replica uint8
	header  message.Header
	body    []byte
}

type fakeBus struct {
	sent   []sentMsg
	unrefs int
}

func (b *fakeBus) Init() error   { return nil }
func (b *fakeBus) Deinit() error { return nil }
func (b *fakeBus) Tick()         {}

func (b *fakeBus) GetMessage() (*message.Message, error) {
	return nil, errBusHasNoPool
}

func (b *fakeBus) Unref(m *message.Message) {
	b.unrefs++
	m.Unref()
}

func (b *fakeBus) SendMessageToReplica(replica uint8, m *message.Message) error {
	body := append([]byte(nil), m.Body()...)
	b.sent = append(b.sent, sentMsg{replica: replica, header: m.Header(), body: body})
	return nil
}

var errBusHasNoPool = assertErr("fakeBus: GetMessage not implemented")

type assertErr string

func (e assertErr) Error() string { return string(e) }

func testConfig() config.Client {
	return config.Client{
		TickMS:           10,
		RTTTicks:         3,
		RTTMultiple:      1,
		RequestQueueMax:  4,
		PingTimeoutTicks: 1000,
	}
}

// makeReply constructs a synthetic reply from a captured request header,
// standing in for the out-of-scope replica group.
func makeReply(pool *message.Pool, req message.Header, context checksum.Value, view uint32) *message.Message {
	m, err := pool.Acquire()
	if err != nil {
		panic(err)
	}
	h := m.Header()
	h.Command = message.CommandReply
	h.Cluster = req.Cluster
	h.Client = req.Client
	h.Request = req.Request
	h.Parent = req.Checksum
	h.Context = context
	h.View = view
	h.Operation = req.Operation
	h.Size = 0
	h.SetChecksums(m.Body())
	m.SetHeader(h)
	return m
}

func makeEviction(pool *message.Pool, client checksum.Value, view uint32) *message.Message {
	m, err := pool.Acquire()
	if err != nil {
		panic(err)
	}
	h := m.Header()
	h.Command = message.CommandEviction
	h.Client = client
	h.View = view
	h.Size = 0
	h.SetChecksums(m.Body())
	m.SetHeader(h)
	return m
}

func TestScenario1FreshClientRegistersThenSendsRequest(t *testing.T) {
	bus := &fakeBus{}
	cl, err := New(checksum.FromUint64(42), 7, 3, testConfig(), bus)
	require.NoError(t, err)
	replyPool := message.NewPool(4, nil)

	var called bool
	var gotUserData checksum.Value

	msg, err := cl.AcquireMessage()
	require.NoError(t, err)
	err = cl.Submit(checksum.FromUint64(1), func(ud checksum.Value, reply *message.Message) {
		called = true
		gotUserData = ud
	}, message.VSROperationsReserved, msg, 1)
	require.NoError(t, err)

	require.Len(t, bus.sent, 1)
	assert.Equal(t, uint8(0), bus.sent[0].replica)
	assert.Equal(t, message.OperationRegister, bus.sent[0].header.Operation)
	assert.Equal(t, StateRegistering, cl.State())

	regReply := makeReply(replyPool, bus.sent[0].header, checksum.FromUint64(100), 0)
	cl.OnMessageReceived(regReply)

	assert.Equal(t, StateActive, cl.State())
	assert.Equal(t, uint64(100), cl.SessionNumber())
	assert.False(t, called)

	require.Len(t, bus.sent, 2)
	assert.Equal(t, uint8(0), bus.sent[1].replica)
	assert.Equal(t, message.VSROperationsReserved, bus.sent[1].header.Operation)
	assert.Equal(t, uint32(2), bus.sent[1].header.Request)

	userReply := makeReply(replyPool, bus.sent[1].header, checksum.FromUint64(999), 0)
	cl.OnMessageReceived(userReply)

	assert.True(t, called)
	assert.Equal(t, checksum.FromUint64(1), gotUserData)
}

// activeClient drives a fresh client through registration only, leaving no
// user request queued or inflight, so callers can submit their own request
// as the sole occupant of the queue.
func activeClient(t *testing.T, bus *fakeBus, replyPool *message.Pool, id checksum.Value, cluster uint32, replicaCount uint8, cfg config.Client, opts ...Option) *Client {
	t.Helper()
	cl, err := New(id, cluster, replicaCount, cfg, bus, opts...)
	require.NoError(t, err)

	require.NoError(t, cl.ensureRegistering())

	require.Len(t, bus.sent, 1)
	reply := makeReply(replyPool, bus.sent[0].header, checksum.FromUint64(100), 0)
	cl.OnMessageReceived(reply)
	require.Equal(t, StateActive, cl.State())
	bus.sent = bus.sent[:0]
	return cl
}

func TestScenario2WrongParentDroppedThenRetransmit(t *testing.T) {
	bus := &fakeBus{}
	replyPool := message.NewPool(8, nil)
	cfg := testConfig()
	cl := activeClient(t, bus, replyPool, checksum.FromUint64(42), 7, 3, cfg, WithRand(rand.New(rand.NewSource(1))))

	msg, err := cl.AcquireMessage()
	require.NoError(t, err)
	require.NoError(t, cl.Submit(checksum.FromUint64(2), nil, message.VSROperationsReserved, msg, 0))
	require.Len(t, bus.sent, 1)
	sentHeader := bus.sent[0].header

	// A reply with the wrong parent must be dropped, leaving the request
	// inflight.
	badReply, err := replyPool.Acquire()
	require.NoError(t, err)
	h := badReply.Header()
	h.Command = message.CommandReply
	h.Cluster = sentHeader.Cluster
	h.Client = sentHeader.Client
	h.Request = sentHeader.Request
	h.Parent = checksum.Sum([]byte("not the right parent"))
	h.Operation = sentHeader.Operation
	h.SetChecksums(badReply.Body())
	badReply.SetHeader(h)
	cl.OnMessageReceived(badReply)

	assert.Len(t, bus.sent, 1, "a dropped reply must not trigger any new send")

	for i := 0; i < int(cfg.RTTTicks*cfg.RTTMultiple)+1; i++ {
		cl.Tick()
	}

	require.Len(t, bus.sent, 2)
	assert.Equal(t, uint8(1), bus.sent[1].replica, "backoff attempt 1 must round-robin to (view+1) mod replica_count")
}

func TestScenario6EvictionAborts(t *testing.T) {
	bus := &fakeBus{}
	replyPool := message.NewPool(4, nil)
	cfg := testConfig()

	var fatalReason string
	cl := activeClient(t, bus, replyPool, checksum.FromUint64(42), 7, 3, cfg,
		WithFatalFunc(func(reason string) { fatalReason = reason }))

	// Bump the client's view to 3 by way of a pong before triggering eviction.
	pong, err := replyPool.Acquire()
	require.NoError(t, err)
	ph := pong.Header()
	ph.Command = message.CommandPongClient
	ph.Cluster = 7
	ph.View = 3
	ph.SetChecksums(pong.Body())
	pong.SetHeader(ph)
	cl.OnMessageReceived(pong)
	require.Equal(t, uint32(3), cl.View())

	evict := makeEviction(replyPool, checksum.FromUint64(42), 5)
	cl.OnMessageReceived(evict)

	assert.Equal(t, StateEvicted, cl.State())
	assert.Equal(t, "too many concurrent client sessions", fatalReason)
}

func TestEvictionWithOlderViewIsNoop(t *testing.T) {
	bus := &fakeBus{}
	replyPool := message.NewPool(4, nil)
	cfg := testConfig()

	fatalCalled := false
	cl := activeClient(t, bus, replyPool, checksum.FromUint64(42), 7, 3, cfg,
		WithFatalFunc(func(reason string) { fatalCalled = true }))

	pong, err := replyPool.Acquire()
	require.NoError(t, err)
	ph := pong.Header()
	ph.Command = message.CommandPongClient
	ph.Cluster = 7
	ph.View = 10
	ph.SetChecksums(pong.Body())
	pong.SetHeader(ph)
	cl.OnMessageReceived(pong)

	evict := makeEviction(replyPool, checksum.FromUint64(42), 3)
	cl.OnMessageReceived(evict)

	assert.False(t, fatalCalled)
	assert.Equal(t, StateActive, cl.State())
}

func TestStaleReplyRequestNumberIsNoop(t *testing.T) {
	bus := &fakeBus{}
	replyPool := message.NewPool(4, nil)
	cl := activeClient(t, bus, replyPool, checksum.FromUint64(42), 7, 3, testConfig())

	msg, err := cl.AcquireMessage()
	require.NoError(t, err)
	require.NoError(t, cl.Submit(checksum.FromUint64(2), nil, message.VSROperationsReserved, msg, 0))
	require.Len(t, bus.sent, 1)

	stale := bus.sent[0].header
	stale.Request = stale.Request - 1 // a request number lower than inflight
	reply := makeReply(replyPool, stale, checksum.FromUint64(1), 0)
	cl.OnMessageReceived(reply)

	assert.Len(t, bus.sent, 1, "a stale reply must not advance the client")
}

func TestSubmitFailsOnceQueueIsFull(t *testing.T) {
	bus := &fakeBus{}
	cfg := testConfig() // RequestQueueMax=4; register occupies the queue head throughout
	cl := newClient(t, bus, cfg)

	for i := 0; i < int(cfg.RequestQueueMax)-1; i++ {
		msg, err := cl.AcquireMessage()
		require.NoError(t, err)
		require.NoError(t, cl.Submit(checksum.FromUint64(uint64(i)), nil, message.VSROperationsReserved, msg, 0))
	}

	// The message pool and the request queue share the same capacity, so
	// whichever budget is checked first is the one that reports it.
	msg, err := cl.AcquireMessage()
	if err != nil {
		assert.ErrorIs(t, err, ErrBudgetExceeded)
		return
	}
	err = cl.Submit(checksum.FromUint64(99), nil, message.VSROperationsReserved, msg, 0)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}

func newClient(t *testing.T, bus MessageBus, cfg config.Client) *Client {
	t.Helper()
	cl, err := New(checksum.FromUint64(42), 7, 3, cfg, bus)
	require.NoError(t, err)
	return cl
}

func TestSubmitRejectsReservedOperation(t *testing.T) {
	bus := &fakeBus{}
	cl := newClient(t, bus, testConfig())
	msg, err := cl.AcquireMessage()
	require.NoError(t, err)
	err = cl.Submit(checksum.FromUint64(1), nil, message.OperationRegister, msg, 0)
	assert.ErrorIs(t, err, ErrReservedOperation)
}

func TestEvictedClientRejectsFurtherSubmits(t *testing.T) {
	bus := &fakeBus{}
	replyPool := message.NewPool(4, nil)
	cl := activeClient(t, bus, replyPool, checksum.FromUint64(42), 7, 3, testConfig(),
		WithFatalFunc(func(reason string) {}))

	evict := makeEviction(replyPool, checksum.FromUint64(42), 5)
	cl.OnMessageReceived(evict)
	require.Equal(t, StateEvicted, cl.State())

	msg, err := cl.AcquireMessage()
	require.NoError(t, err)
	err = cl.Submit(checksum.FromUint64(1), nil, message.VSROperationsReserved, msg, 0)
	assert.ErrorIs(t, err, ErrEvicted)
}
