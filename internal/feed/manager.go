// Package feed implements the live market-data boundary: a subscription
// manager that drives a transport through the connection lifecycle,
// reconnects with exponential backoff, and queues subscription requests
// until the stream is up. Delivered bars feed the same per-(timeframe,
// asset) tables the orchestrator consumes.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/openquant/flowscript/internal/ctxlog"
	"github.com/openquant/flowscript/internal/timeframe"
)

// State is the manager's connection state.
type State string

const (
	Idle           State = "idle"
	Connecting     State = "connecting"
	Authenticating State = "authenticating"
	Streaming      State = "streaming"
	Closing        State = "closing"
)

// Bar is one delivered aggregate.
type Bar struct {
	AssetID   string
	TimeFrame timeframe.TimeFrame
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Transport is the wire layer the manager drives. Implementations must be
// safe to reconnect after a disconnect callback.
type Transport interface {
	Connect(ctx context.Context) error
	Authenticate(ctx context.Context) error
	Subscribe(streams []string) error
	OnBar(fn func(Bar))
	OnDisconnect(fn func(error))
	Close() error
}

// Credentials authenticate a transport session.
type Credentials struct {
	Key    string
	Secret string
}

// Manager owns the connection lifecycle and the subscription set.
type Manager struct {
	transport Transport
	handler   func(Bar)

	mu         sync.Mutex
	state      State
	queued     []string
	subscribed map[string]bool

	closed chan struct{}
	once   sync.Once
}

// NewManager builds a manager over the given transport. Bars are delivered
// to handler from the transport's goroutine.
func NewManager(transport Transport, handler func(Bar)) *Manager {
	return &Manager{
		transport:  transport,
		handler:    handler,
		state:      Idle,
		subscribed: make(map[string]bool),
		closed:     make(chan struct{}),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe requests the given streams. Requests made before the stream is
// up are queued and flushed the moment the manager enters Streaming.
func (m *Manager) Subscribe(streams ...string) error {
	m.mu.Lock()
	fresh := make([]string, 0, len(streams))
	for _, s := range streams {
		if !m.subscribed[s] {
			m.subscribed[s] = true
			fresh = append(fresh, s)
		}
	}
	streaming := m.state == Streaming
	if !streaming {
		m.queued = append(m.queued, fresh...)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	return m.transport.Subscribe(fresh)
}

// Run drives the connection until the context ends or Close is called.
// Each session walks Idle -> Connecting -> Authenticating -> Streaming;
// a dropped session restarts the walk after an exponential backoff delay.
func (m *Manager) Run(ctx context.Context) error {
	log := ctxlog.FromContext(ctx)
	m.transport.OnBar(func(b Bar) {
		if m.handler != nil {
			m.handler(b)
		}
	})

	schedule := backoff.NewExponentialBackOff()
	schedule.MaxElapsedTime = 0

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()
		case <-m.closed:
			return nil
		default:
		}

		err := m.runSession(ctx, log)
		if err == nil || errors.Is(err, context.Canceled) {
			m.shutdown()
			return err
		}

		delay := schedule.NextBackOff()
		log.Warn("feed session ended; reconnecting", "error", err, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()
		case <-m.closed:
			return nil
		}
	}
}

func (m *Manager) runSession(ctx context.Context, log *slog.Logger) error {
	dropped := make(chan error, 1)
	m.transport.OnDisconnect(func(err error) {
		select {
		case dropped <- err:
		default:
		}
	})

	m.setState(Connecting)
	if err := m.transport.Connect(ctx); err != nil {
		m.setState(Idle)
		return fmt.Errorf("connect: %w", err)
	}

	m.setState(Authenticating)
	if err := m.transport.Authenticate(ctx); err != nil {
		_ = m.transport.Close()
		m.setState(Idle)
		return fmt.Errorf("authenticate: %w", err)
	}

	// Entering Streaming flushes everything queued while the stream was
	// down, including re-subscribing after a reconnect.
	pending := m.enterStreaming()
	if len(pending) > 0 {
		if err := m.transport.Subscribe(pending); err != nil {
			_ = m.transport.Close()
			m.setState(Idle)
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	log.Info("feed streaming", "subscriptions", len(pending))

	select {
	case err := <-dropped:
		m.setState(Idle)
		if err == nil {
			err = errors.New("connection dropped")
		}
		return err
	case <-ctx.Done():
		return context.Canceled
	case <-m.closed:
		return nil
	}
}

// enterStreaming flips the state and drains the subscription queue. Every
// known subscription is replayed, not just the queued ones, so reconnects
// restore the full set.
func (m *Manager) enterStreaming() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Streaming
	m.queued = nil
	all := make([]string, 0, len(m.subscribed))
	for s := range m.subscribed {
		all = append(all, s)
	}
	return all
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Close stops the manager and closes the transport.
func (m *Manager) Close() error {
	m.setState(Closing)
	m.once.Do(func() { close(m.closed) })
	err := m.transport.Close()
	m.setState(Idle)
	return err
}

func (m *Manager) shutdown() {
	m.setState(Closing)
	_ = m.transport.Close()
	m.setState(Idle)
}
