package kurento

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/one2many/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("kurento: connection closed")

// Engine dials Kurento Media Server. Each Connect opens one WebSocket.
type Engine struct {
	URI string
	// CallTimeout bounds every request; zero relies on the caller's context.
	CallTimeout time.Duration
	// PingPeriod is the keepalive interval; zero disables it.
	PingPeriod time.Duration
	Dialer     *websocket.Dialer
}

var _ core.MediaEngine = (*Engine)(nil)

func (e *Engine) Connect(ctx context.Context) (core.MediaClient, error) {
	dialer := e.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, e.URI, nil)
	if err != nil {
		return nil, fmt.Errorf("kurento dial %s: %w", e.URI, err)
	}
	c := newClient(conn, e.CallTimeout)
	go c.readLoop()
	if e.PingPeriod > 0 {
		go c.pingLoop(e.PingPeriod)
	}
	c.logger.Info().Str("uri", e.URI).Msg("connected")
	return c, nil
}

type eventHandler func(data json.RawMessage)

// Client is one JSON-RPC session with the media server.
type Client struct {
	conn    *websocket.Conn
	timeout time.Duration
	logger  zerolog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	nextID    uint64
	pending   map[uint64]chan *message
	handlers  map[string]eventHandler // object id + event type
	sessionID string
	err       error

	done chan struct{}
}

func newClient(conn *websocket.Conn, timeout time.Duration) *Client {
	return &Client{
		conn:     conn,
		timeout:  timeout,
		logger:   log.With().Str("module", "kurento").Logger(),
		pending:  make(map[uint64]chan *message),
		handlers: make(map[string]eventHandler),
		done:     make(chan struct{}),
	}
}

func (c *Client) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// call sends one request and decodes the result value into out (if non-nil).
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *message, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(request{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params}); err != nil {
		return err
	}

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return msg.Error
		}
		if msg.Result == nil {
			return nil
		}
		if msg.Result.SessionID != "" {
			c.mu.Lock()
			c.sessionID = msg.Result.SessionID
			c.mu.Unlock()
		}
		if out != nil && len(msg.Result.Value) > 0 {
			if err := json.Unmarshal(msg.Result.Value, out); err != nil {
				return fmt.Errorf("kurento %s: decode result: %w", method, err)
			}
		}
		return nil
	case <-c.done:
		return c.closeErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) write(req request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		c.fail(err)
		return fmt.Errorf("kurento write: %w", err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("bad frame from media server")
			continue
		}
		if msg.Method == methodOnEvent {
			c.dispatch(msg.Params)
			continue
		}
		if msg.ID == 0 {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		c.mu.Unlock()
		if ok {
			ch <- &msg
		}
	}
}

func (c *Client) dispatch(raw json.RawMessage) {
	var ev eventParams
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.logger.Warn().Err(err).Msg("bad event from media server")
		return
	}
	c.mu.Lock()
	h := c.handlers[ev.Value.Object+"/"+ev.Value.Type]
	c.mu.Unlock()
	if h == nil {
		c.logger.Debug().Str("object", ev.Value.Object).Str("event", ev.Value.Type).Msg("unhandled event")
		return
	}
	h(ev.Value.Data)
}

func (c *Client) subscribe(ctx context.Context, object, event string, h eventHandler) error {
	c.mu.Lock()
	c.handlers[object+"/"+event] = h
	c.mu.Unlock()
	err := c.call(ctx, methodSubscribe, subscribeParams{Type: event, Object: object, SessionID: c.session()}, nil)
	if err != nil {
		c.unsubscribe(object)
	}
	return err
}

// unsubscribe drops every local handler of object.
func (c *Client) unsubscribe(object string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.handlers {
		if strings.HasPrefix(key, object+"/") {
			delete(c.handlers, key)
		}
	}
}

func (c *Client) release(ctx context.Context, object string) error {
	c.unsubscribe(object)
	return c.call(ctx, methodRelease, releaseParams{Object: object, SessionID: c.session()}, nil)
}

func (c *Client) pingLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			var pong string
			if err := c.call(context.Background(), methodPing, pingParams{Interval: period.Milliseconds() * 2}, &pong); err != nil {
				c.logger.Warn().Err(err).Msg("keepalive ping failed")
			}
		}
	}
}

// fail records the first transport error and wakes every pending call.
func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	if errors.Is(err, ErrClosed) {
		c.err = ErrClosed
	} else {
		c.err = fmt.Errorf("%w: %v", ErrClosed, err)
		c.logger.Warn().Err(err).Msg("media server connection lost")
	}
	close(c.done)
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

var _ core.ClosedNotifier = (*Client)(nil)

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) CreatePipeline(ctx context.Context) (core.Pipeline, error) {
	var id string
	err := c.call(ctx, methodCreate, createParams{
		Type:              typeMediaPipeline,
		ConstructorParams: map[string]any{},
		Properties:        map[string]any{},
		SessionID:         c.session(),
	}, &id)
	if err != nil {
		return nil, err
	}
	return &Pipeline{client: c, id: id}, nil
}

// Close ends the session. Objects still alive on the server are reclaimed
// by it once the session expires.
func (c *Client) Close() error {
	c.fail(ErrClosed)
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	c.logger.Info().Msg("closed")
	return err
}
