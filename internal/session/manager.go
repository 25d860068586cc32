package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/wagate/internal/bus"
	"github.com/nextlevelbuilder/wagate/internal/compose"
	"github.com/nextlevelbuilder/wagate/internal/dispatch"
	"github.com/nextlevelbuilder/wagate/internal/store"
	"github.com/nextlevelbuilder/wagate/internal/transport"
	"github.com/nextlevelbuilder/wagate/pkg/protocol"
)

// ErrStopped is returned by commands issued after Stop.
var ErrStopped = errors.New("session manager stopped")

const (
	inboxSize    = 256
	storeTimeout = 10 * time.Second
)

// Config wires a Manager.
type Config struct {
	Transport transport.Transport
	Store     store.CredentialStore
	Policy    ReconnectPolicy
	Branding  compose.Branding
	Dispatch  dispatch.Config
	// Bus receives state and message events. A private bus is created when nil.
	Bus *bus.MessageBus
	// Dedupe filters redelivered inbound messages. Defaults are used when nil.
	Dedupe *bus.DedupeCache
}

// snapshot is what other goroutines may read.
type snapshot struct {
	state State
	conn  transport.Conn
}

// Loop inbox messages.
type (
	genEvent struct {
		gen uint64
		ev  transport.Event
	}
	startupDone struct {
		gen  uint64
		conn transport.Conn
		err  error
	}
	restartDue struct {
		seq     uint64
		attempt int
	}
	startCmd struct{ reply chan error }
	resetCmd struct{ reply chan error }
)

// Manager owns the account connection. All state changes happen on its loop
// goroutine; State, Live and Submit are safe from any goroutine.
type Manager struct {
	transport transport.Transport
	store     store.CredentialStore
	bus       *bus.MessageBus
	dedupe    *bus.DedupeCache
	gateway   *dispatch.Gateway

	policy   atomic.Pointer[ReconnectPolicy]
	branding atomic.Pointer[compose.Branding]
	snap     atomic.Pointer[snapshot]

	inbox  chan any
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	stopOnce sync.Once

	// Loop-owned.
	state         State
	conn          transport.Conn
	gen           uint64
	starting      bool
	queued        bool
	queuedAttempt int
	restartSeq    uint64
	restartTimer  *time.Timer
}

// New creates a manager and starts its event loop. The connection is not
// opened until Start.
func New(cfg Config) *Manager {
	if cfg.Bus == nil {
		cfg.Bus = bus.New()
	}
	if cfg.Dedupe == nil {
		cfg.Dedupe = bus.NewDedupeCache(0, 0)
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemoryStore()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		transport: cfg.Transport,
		store:     cfg.Store,
		bus:       cfg.Bus,
		dedupe:    cfg.Dedupe,
		inbox:     make(chan any, inboxSize),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.gateway = dispatch.New(m, cfg.Dispatch)
	m.SetPolicy(cfg.Policy)
	m.SetBranding(cfg.Branding)
	m.snap.Store(&snapshot{})

	go m.loop()
	return m
}

// SetPolicy replaces the reconnect policy. Takes effect on the next close.
func (m *Manager) SetPolicy(p ReconnectPolicy) {
	m.policy.Store(&p)
}

// SetBranding replaces the branding applied by Submit and Compose.
func (m *Manager) SetBranding(b compose.Branding) {
	m.branding.Store(&b)
}

// Branding returns the branding currently in effect.
func (m *Manager) Branding() compose.Branding {
	return *m.branding.Load()
}

// State returns the latest published state.
func (m *Manager) State() State {
	return m.snap.Load().state
}

// Live implements dispatch.Link. The handle is only returned while Connected.
func (m *Manager) Live() (transport.Conn, bool) {
	s := m.snap.Load()
	if !s.state.Live() || s.conn == nil {
		return nil, false
	}
	return s.conn, true
}

// Gateway exposes the dispatch gateway (queue depth for status output).
func (m *Manager) Gateway() *dispatch.Gateway {
	return m.gateway
}

// OnStateChange registers fn for every published state change. fn runs on
// the loop goroutine and must not block. The returned func unsubscribes.
func (m *Manager) OnStateChange(fn func(State)) func() {
	id := "state-" + uuid.NewString()
	m.bus.Subscribe(id, func(e bus.Event) {
		if e.Name != protocol.EventSessionStatus {
			return
		}
		if s, ok := e.Payload.(State); ok {
			fn(s)
		}
	})
	return func() { m.bus.Unsubscribe(id) }
}

// OnMessage registers fn for inbound messages, after deduplication.
func (m *Manager) OnMessage(fn func(transport.MessageReceived)) func() {
	id := "message-" + uuid.NewString()
	m.bus.Subscribe(id, func(e bus.Event) {
		if e.Name != protocol.EventMessageReceived {
			return
		}
		if msg, ok := e.Payload.(transport.MessageReceived); ok {
			fn(msg)
		}
	})
	return func() { m.bus.Unsubscribe(id) }
}

// Compose builds outbound content with the current branding.
func (m *Manager) Compose(req compose.OutboundRequest) (compose.Composed, error) {
	return compose.Compose(req, m.Branding())
}

// Submit composes and dispatches req over the live connection.
func (m *Manager) Submit(ctx context.Context, req compose.OutboundRequest) (dispatch.Ack, error) {
	msg, err := m.Compose(req)
	if err != nil {
		return dispatch.Ack{}, err
	}
	if m.State().Status == Terminated {
		return dispatch.Ack{}, fmt.Errorf("%w: session terminated", dispatch.ErrNotConnected)
	}
	return m.gateway.Dispatch(ctx, req.Target, msg)
}

// Start opens the connection. It is idempotent: while a connection is open,
// opening or scheduled, it does nothing. After the reconnect breaker tripped
// it re-arms the breaker. A terminated session stays terminated; use Reset.
func (m *Manager) Start(ctx context.Context) error {
	return m.command(ctx, func(reply chan error) any { return startCmd{reply: reply} })
}

// Reset discards stored credentials and starts a fresh pairing.
func (m *Manager) Reset(ctx context.Context) error {
	return m.command(ctx, func(reply chan error) any { return resetCmd{reply: reply} })
}

func (m *Manager) command(ctx context.Context, build func(chan error) any) error {
	reply := make(chan error, 1)
	select {
	case m.inbox <- build(reply):
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the connection and halts the loop and the gateway. Idempotent.
// The dedupe cache's purge goroutine is process-wide and keeps running; pass
// a shared Config.Dedupe when creating managers repeatedly.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		<-m.done
		m.gateway.Stop()
	})
}

func (m *Manager) post(msg any) {
	select {
	case m.inbox <- msg:
	case <-m.done:
	}
}

// sink tags events with the connection generation they belong to.
func (m *Manager) sink(gen uint64) transport.Sink {
	return func(ev transport.Event) {
		m.post(genEvent{gen: gen, ev: ev})
	}
}

func (m *Manager) loop() {
	defer close(m.done)
	defer m.shutdown()

	for {
		select {
		case <-m.ctx.Done():
			return
		case msg := <-m.inbox:
			m.handle(msg)
		}
	}
}

func (m *Manager) handle(msg any) {
	switch v := msg.(type) {
	case genEvent:
		if v.gen != m.gen {
			slog.Debug("session.stale_event", "event", fmt.Sprintf("%T", v.ev))
			return
		}
		m.apply(v.ev)

	case startupDone:
		m.starting = false
		if v.gen != m.gen {
			// The attempt was superseded while opening.
			if v.conn != nil {
				v.conn.Close()
			}
		} else if v.err != nil {
			slog.Warn("session.open_failed", "error", v.err)
			m.apply(transport.ConnectionClosed{Code: transport.CodeOpenFailed, Err: v.err})
		} else {
			m.conn = v.conn
			m.publish()
		}
		if m.queued {
			m.queued = false
			m.beginStartup(m.queuedAttempt)
		}

	case restartDue:
		if v.seq != m.restartSeq || m.state.Status != Reconnecting {
			return
		}
		if m.starting {
			m.queued, m.queuedAttempt = true, v.attempt
			return
		}
		m.beginStartup(v.attempt)

	case startCmd:
		v.reply <- m.start()

	case resetCmd:
		v.reply <- m.reset()
	}
}

func (m *Manager) start() error {
	switch {
	case m.state.Status == Terminated:
		slog.Warn("session.start_ignored", "reason", "terminated")
		return nil
	case m.starting, m.state.Status == Connected, m.state.Status == AwaitingPairing,
		m.state.Status == Reconnecting:
		return nil
	}
	m.beginStartup(0)
	return nil
}

func (m *Manager) reset() error {
	m.closeConn()
	m.cancelRestart()

	ctx, cancel := context.WithTimeout(m.ctx, storeTimeout)
	defer cancel()
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}

	slog.Info("session.reset")
	m.state = State{}
	m.publish()

	if m.starting {
		// The in-flight open is stale now; start again once it returns.
		m.queued, m.queuedAttempt = true, 0
		return nil
	}
	m.beginStartup(0)
	return nil
}

// beginStartup loads credentials and opens the transport off the loop.
func (m *Manager) beginStartup(attempt int) {
	m.apply(transport.ConnectionOpening{Attempt: attempt})

	m.starting = true
	m.gen++
	gen := m.gen
	ctx := m.ctx

	slog.Info("session.opening", "attempt", attempt)
	go func() {
		creds, err := m.loadCredentials(ctx)
		var conn transport.Conn
		if err == nil {
			conn, err = m.transport.Open(ctx, creds, m.sink(gen))
		}
		if ctx.Err() != nil {
			// Stopped while opening.
			if conn != nil {
				conn.Close()
			}
			return
		}
		select {
		case m.inbox <- startupDone{gen: gen, conn: conn, err: err}:
		case <-m.done:
			if conn != nil {
				conn.Close()
			}
		}
	}()
}

func (m *Manager) loadCredentials(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	creds, err := m.store.Load(ctx)
	if errors.Is(err, store.ErrCorruptCredentials) {
		// Unreadable credentials are as good as none: pair again.
		slog.Error("session.credentials_corrupt", "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return creds, nil
}

func (m *Manager) apply(ev transport.Event) {
	prev := m.state
	next, effects := Reduce(prev, ev, *m.policy.Load())
	m.state = next

	for _, eff := range effects {
		m.run(eff)
	}

	if next != prev {
		attrs := []any{"from", prev.Status, "to", next.Status}
		if next.Attempt > 0 {
			attrs = append(attrs, "attempt", next.Attempt)
		}
		if c, ok := ev.(transport.ConnectionClosed); ok {
			attrs = append(attrs, "code", c.Code)
			if c.Err != nil {
				attrs = append(attrs, "error", c.Err)
			}
		}
		slog.Info("session.state", attrs...)
		if next.GaveUp && !prev.GaveUp {
			slog.Error("session.reconnect_exhausted",
				"attempts", prev.Attempt, "last_code", next.LastCloseCode)
		}
	}
	m.publish()
	if next != prev {
		m.bus.Broadcast(bus.Event{Name: protocol.EventSessionStatus, Payload: next})
	}
}

func (m *Manager) run(eff Effect) {
	switch e := eff.(type) {
	case PersistCredentials:
		ctx, cancel := context.WithTimeout(m.ctx, storeTimeout)
		defer cancel()
		if err := m.store.Save(ctx, e.Blob); err != nil {
			slog.Error("session.persist_failed", "error", err)
		}

	case ClearCredentials:
		ctx, cancel := context.WithTimeout(m.ctx, storeTimeout)
		defer cancel()
		if err := m.store.Clear(ctx); err != nil {
			slog.Error("session.clear_failed", "error", err)
		}

	case CloseTransport:
		m.closeConn()

	case Restart:
		m.scheduleRestart(e.Attempt, e.Delay)

	case DeliverMessage:
		if m.dedupe.IsDuplicate(e.Message.ID) {
			slog.Debug("session.duplicate_message", "id", e.Message.ID)
			return
		}
		m.bus.Broadcast(bus.Event{Name: protocol.EventMessageReceived, Payload: e.Message})
	}
}

// closeConn drops the current handle. Events still in flight from it are
// ignored because the generation moves on.
func (m *Manager) closeConn() {
	m.gen++
	if m.conn == nil {
		return
	}
	if err := m.conn.Close(); err != nil {
		slog.Debug("session.close_error", "error", err)
	}
	m.conn = nil
}

func (m *Manager) scheduleRestart(attempt int, delay time.Duration) {
	m.cancelRestart()
	seq := m.restartSeq
	slog.Info("session.reconnect_scheduled", "attempt", attempt, "delay", delay)
	m.restartTimer = time.AfterFunc(delay, func() {
		m.post(restartDue{seq: seq, attempt: attempt})
	})
}

func (m *Manager) cancelRestart() {
	m.restartSeq++
	if m.restartTimer != nil {
		m.restartTimer.Stop()
		m.restartTimer = nil
	}
}

func (m *Manager) publish() {
	var conn transport.Conn
	if m.state.Live() {
		conn = m.conn
	}
	m.snap.Store(&snapshot{state: m.state, conn: conn})
}

func (m *Manager) shutdown() {
	m.cancelRestart()
	m.closeConn()
	m.queued = false
	slog.Info("session.stopped")
}
