package live

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stockboard/internal/domain"
	"stockboard/internal/eventbus"
	applog "stockboard/internal/log"
	"stockboard/internal/metrics"
)

type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Open         State = "open"
)

var allStates = []string{string(Disconnected), string(Connecting), string(Open)}

// Source is a push connection that publishes decoded notifications.
// Connect is a no-op unless the source is Disconnected. There is no
// automatic reconnect: after a loss the caller decides when to Connect again.
type Source interface {
	Connect(ctx context.Context) error
	Close() error
	State() State
}

// StateHook observes every transition. It runs outside the source's lock.
type StateHook func(State)

// stateMachine is shared by both transports.
type stateMachine struct {
	mu    sync.Mutex
	state State
	hook  StateHook
	name  string
}

func (m *stateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// transition moves from one of from to next; it reports false when the
// current state is not one of from.
func (m *stateMachine) transition(next State, from ...State) bool {
	m.mu.Lock()
	cur := m.state
	ok := len(from) == 0
	for _, f := range from {
		if cur == f {
			ok = true
			break
		}
	}
	if !ok || cur == next {
		m.mu.Unlock()
		return false
	}
	m.state = next
	hook := m.hook
	m.mu.Unlock()

	metrics.LiveState(string(next), allStates...)
	applog.Logger.Info().Str("source", m.name).Str("from", string(cur)).Str("to", string(next)).Msg("live channel state")
	if hook != nil {
		hook(next)
	}
	return true
}

// Channel is the WebSocket transport.
type Channel struct {
	stateMachine
	url    string
	dialer *websocket.Dialer
	pub    eventbus.Publisher

	connMu sync.Mutex
	conn   *websocket.Conn
	done   chan struct{}
}

type Option func(*Channel)

func WithDialer(d *websocket.Dialer) Option { return func(c *Channel) { c.dialer = d } }

func WithStateHook(h StateHook) Option { return func(c *Channel) { c.hook = h } }

func NewChannel(url string, pub eventbus.Publisher, opts ...Option) *Channel {
	c := &Channel{
		stateMachine: stateMachine{state: Disconnected, name: "websocket"},
		url:          url,
		dialer:       &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		pub:          pub,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Channel) Connect(ctx context.Context) error {
	if !c.transition(Connecting, Disconnected) {
		return nil
	}
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.transition(Disconnected)
		return &domain.Error{Kind: domain.KindNetwork, Op: "live.connect", Err: err}
	}

	done := make(chan struct{})
	c.connMu.Lock()
	c.conn = conn
	c.done = done
	c.connMu.Unlock()

	c.transition(Open, Connecting)
	go c.readLoop(conn, done)
	return nil
}

func (c *Channel) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, websocket.ErrCloseSent) {
				applog.Logger.Warn().Err(err).Msg("live channel lost")
			}
			break
		}
		dispatch(context.Background(), c.pub, frame, "")
	}
	_ = conn.Close()
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()
	c.transition(Disconnected)
}

// Close tears the socket down and waits for the reader to exit.
func (c *Channel) Close() error {
	c.connMu.Lock()
	conn, done := c.conn, c.done
	c.connMu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := conn.Close()
	<-done
	return err
}

func dispatch(ctx context.Context, pub eventbus.Publisher, frame []byte, hint domain.NotificationKind) {
	n, ok, err := decode(frame, hint)
	if err != nil {
		metrics.LiveMessage("malformed")
		applog.Logger.Warn().Err(err).Msg("ignoring malformed live message")
		return
	}
	if !ok {
		metrics.LiveMessage("unknown")
		applog.Logger.Debug().Msg("ignoring live message of unknown kind")
		return
	}
	metrics.LiveMessage(string(n.Kind))
	if err := pub.Publish(ctx, n); err != nil {
		applog.WithContext(ctx).Warn().Err(err).Str("kind", string(n.Kind)).Msg("live notification not published")
	}
}
