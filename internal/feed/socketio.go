package feed

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/openquant/flowscript/internal/timeframe"
)

// SocketIOConfig configures the socket.io transport.
type SocketIOConfig struct {
	URL            string
	Namespace      string
	Credentials    Credentials
	ConnectTimeout time.Duration
}

// socketIOTransport speaks the provider's socket.io protocol: connect over
// websocket, emit an auth payload, then receive "bar" events per
// subscription.
type socketIOTransport struct {
	cfg SocketIOConfig

	mu           sync.Mutex
	io           *socket.Socket
	onBar        func(Bar)
	onDisconnect func(error)
}

// NewSocketIOTransport builds the default Transport implementation.
func NewSocketIOTransport(cfg SocketIOConfig) Transport {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	return &socketIOTransport{cfg: cfg}
}

func (t *socketIOTransport) Connect(ctx context.Context) error {
	parsed, err := url.Parse(t.cfg.URL)
	if err != nil {
		return fmt.Errorf("parse feed url: %w", err)
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsed.Path)
	opts.SetTransports(types.NewSet(transports.WebSocket))

	baseURL := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(t.cfg.Namespace, opts)

	connectChan := make(chan error, 1)
	io.Once(types.EventName("connect"), func(...any) {
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		if err, ok := errs[0].(error); ok {
			connectChan <- err
			return
		}
		connectChan <- fmt.Errorf("connect error: %v", errs[0])
	})

	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return ctx.Err()
	case <-time.After(t.cfg.ConnectTimeout):
		io.Disconnect()
		return fmt.Errorf("timed out after %s waiting for socket.io connection", t.cfg.ConnectTimeout)
	}

	io.On(types.EventName("disconnect"), func(...any) {
		t.mu.Lock()
		fn := t.onDisconnect
		t.mu.Unlock()
		if fn != nil {
			fn(fmt.Errorf("socket.io disconnected"))
		}
	})
	io.On(types.EventName("bar"), func(args ...any) {
		t.mu.Lock()
		fn := t.onBar
		t.mu.Unlock()
		if fn == nil || len(args) == 0 {
			return
		}
		if bar, ok := decodeBar(args[0]); ok {
			fn(bar)
		}
	})

	t.mu.Lock()
	t.io = io
	t.mu.Unlock()
	return nil
}

func (t *socketIOTransport) Authenticate(ctx context.Context) error {
	t.mu.Lock()
	io := t.io
	t.mu.Unlock()
	if io == nil {
		return fmt.Errorf("not connected")
	}

	authed := make(chan error, 1)
	io.Once(types.EventName("authenticated"), func(...any) {
		authed <- nil
	})
	io.Once(types.EventName("unauthorized"), func(args ...any) {
		authed <- fmt.Errorf("authentication rejected: %v", args)
	})
	if err := io.Emit("auth", map[string]string{
		"key":    t.cfg.Credentials.Key,
		"secret": t.cfg.Credentials.Secret,
	}); err != nil {
		return err
	}

	select {
	case err := <-authed:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(t.cfg.ConnectTimeout):
		return fmt.Errorf("timed out waiting for authentication")
	}
}

func (t *socketIOTransport) Subscribe(streams []string) error {
	t.mu.Lock()
	io := t.io
	t.mu.Unlock()
	if io == nil {
		return fmt.Errorf("not connected")
	}
	return io.Emit("subscribe", map[string]any{"streams": streams})
}

func (t *socketIOTransport) OnBar(fn func(Bar)) {
	t.mu.Lock()
	t.onBar = fn
	t.mu.Unlock()
}

func (t *socketIOTransport) OnDisconnect(fn func(error)) {
	t.mu.Lock()
	t.onDisconnect = fn
	t.mu.Unlock()
}

func (t *socketIOTransport) Close() error {
	t.mu.Lock()
	io := t.io
	t.io = nil
	t.mu.Unlock()
	if io != nil {
		io.Disconnect()
	}
	return nil
}

// decodeBar converts one wire payload into a Bar. Unknown shapes are
// dropped rather than failing the stream.
func decodeBar(raw any) (Bar, bool) {
	payload, ok := raw.(map[string]any)
	if !ok {
		return Bar{}, false
	}
	bar := Bar{}
	if s, ok := payload["asset"].(string); ok {
		bar.AssetID = s
	}
	if s, ok := payload["timeframe"].(string); ok {
		if tf, err := timeframe.Parse(s); err == nil {
			bar.TimeFrame = tf
		}
	}
	if s, ok := payload["timestamp"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			bar.Timestamp = ts
		}
	}
	bar.Open = floatField(payload, "o")
	bar.High = floatField(payload, "h")
	bar.Low = floatField(payload, "l")
	bar.Close = floatField(payload, "c")
	bar.Volume = floatField(payload, "v")
	if bar.AssetID == "" || bar.Timestamp.IsZero() {
		return Bar{}, false
	}
	return bar, true
}

func floatField(payload map[string]any, key string) float64 {
	if f, ok := payload[key].(float64); ok {
		return f
	}
	return 0
}
