// README: Websocket connection manager: one gorilla connection per session, JSON envelopes, join on every connect, bounded reconnect with backoff.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"orbix/internal/apperrors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

type Options struct {
	URL            string
	Token          string
	Identity       Identity
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	Dialer         *websocket.Dialer
	Logger         *zap.Logger
}

// Conn is a reconnecting websocket client. Handlers run on the reader goroutine in
// arrival order.
type Conn struct {
	registry

	opts   Options
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	send   chan Envelope
	done   chan struct{}

	mu        sync.Mutex
	ws        *websocket.Conn
	status    Status
	closeOnce sync.Once
}

// Dial connects and announces the identity. Later connection losses are retried in the
// background and reported through WatchStatus.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = 500 * time.Millisecond
	}
	if opts.BackoffMax < opts.BackoffInitial {
		opts.BackoffMax = opts.BackoffInitial
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		opts:   opts,
		log:    opts.Logger.With(zap.String("component", "realtime")),
		ctx:    runCtx,
		cancel: cancel,
		send:   make(chan Envelope, sendBuffer),
		done:   make(chan struct{}),
		status: StatusDisconnected,
	}
	ws, err := c.connect(ctx)
	if err != nil {
		cancel()
		return nil, apperrors.New(apperrors.KindNetwork, "realtime.dial", err)
	}
	go c.run(ws)
	return c, nil
}

func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Emit queues an event for the writer. It fails fast while not connected.
func (c *Conn) Emit(event string, payload any) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if c.Status() != StatusConnected {
		return ErrNotConnected
	}
	env, err := encode(event, payload, uuid.NewString())
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", event, err)
	}
	select {
	case c.send <- env:
		return nil
	default:
		return ErrSendBuffer
	}
}

// Close stops reconnecting and closes the socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws != nil {
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = ws.Close()
		}
	})
	<-c.done
	return nil
}

func (c *Conn) connect(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	ws, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	join, err := encode(EventJoin, c.opts.Identity, uuid.NewString())
	if err != nil {
		ws.Close()
		return nil, err
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(join); err != nil {
		ws.Close()
		return nil, fmt.Errorf("realtime: join: %w", err)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.setStatus(StatusConnected)
	c.log.Info("realtime connected",
		zap.String("url", c.opts.URL),
		zap.String("identity_id", string(c.opts.Identity.ID)))
	return ws, nil
}

func (c *Conn) run(ws *websocket.Conn) {
	defer close(c.done)
	for ws != nil {
		err := c.serve(ws)
		if c.ctx.Err() != nil {
			break
		}
		c.log.Warn("realtime connection lost", zap.Error(err))
		ws = c.reconnect()
	}
	c.mu.Lock()
	c.ws = nil
	c.mu.Unlock()
	c.setStatus(StatusDisconnected)
}

func (c *Conn) reconnect() *websocket.Conn {
	c.setStatus(StatusReconnecting)
	for attempt := 0; attempt < c.opts.MaxRetries; attempt++ {
		wait := backoff(attempt, c.opts.BackoffInitial, c.opts.BackoffMax)
		select {
		case <-time.After(wait):
		case <-c.ctx.Done():
			return nil
		}
		ws, err := c.connect(c.ctx)
		if err == nil {
			return ws
		}
		c.log.Warn("realtime reconnect failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", c.opts.MaxRetries),
			zap.Error(err))
	}
	c.log.Error("realtime reconnect gave up", zap.Int("max_retries", c.opts.MaxRetries))
	return nil
}

// serve pumps one connection until it fails.
func (c *Conn) serve(ws *websocket.Conn) error {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump(ws, stop)
	}()
	defer func() {
		close(stop)
		ws.Close()
		wg.Wait()
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil || env.Event == "" {
			c.log.Debug("dropping malformed realtime frame", zap.Int("bytes", len(msg)), zap.Error(err))
			continue
		}
		c.dispatch(env)
	}
}

func (c *Conn) writePump(ws *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case env := <-c.send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(env); err != nil {
				c.log.Warn("realtime write failed", zap.String("event", env.Event), zap.Error(err))
				ws.Close()
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				ws.Close()
				return
			}
		}
	}
}

func (c *Conn) setStatus(s Status) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	c.mu.Unlock()
	if changed {
		c.notifyStatus(s)
	}
}

// backoff doubles from initial up to max and applies full jitter.
func backoff(attempt int, initial, ceiling time.Duration) time.Duration {
	d := initial
	for i := 0; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	if d > ceiling {
		d = ceiling
	}
	return time.Duration(rand.Int64N(int64(d)) + 1)
}
