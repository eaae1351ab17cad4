// Package client is a Go client for the subscription endpoint. It speaks
// the protocol served by package ws and hands out one channel of event
// envelopes per subscription.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/relaychat/internal/events"
	"github.com/lalith-99/relaychat/internal/ws"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("connection closed")

const writeWait = 10 * time.Second

// Conn is an initialised subscription connection. It is safe for
// concurrent use.
type Conn struct {
	ws     *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
	done   chan struct{}
}

// Dial opens a connection to url (ws://host/v1/subscriptions) and performs
// the connection_init handshake with token. An empty token gives an
// anonymous connection.
func Dial(ctx context.Context, url, token string, logger *zap.Logger) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	wsConn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Conn{
		ws:     wsConn,
		logger: logger,
		subs:   make(map[string]*Subscription),
		done:   make(chan struct{}),
	}

	if err := c.write(ws.TypeConnectionInit, "", ws.InitPayload{Token: token}); err != nil {
		_ = wsConn.Close()
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = wsConn.SetReadDeadline(deadline)
	}
	var ack ws.Message
	if err := wsConn.ReadJSON(&ack); err != nil {
		_ = wsConn.Close()
		return nil, fmt.Errorf("read connection_ack: %w", err)
	}
	if ack.Type != ws.TypeConnectionAck {
		_ = wsConn.Close()
		return nil, fmt.Errorf("expected %s, got %s", ws.TypeConnectionAck, ack.Type)
	}
	_ = wsConn.SetReadDeadline(time.Time{})

	go c.readLoop()
	return c, nil
}

// Subscription is one live stream. C is closed when the server completes
// the stream, reports an error for it, or the subscription is stopped.
type Subscription struct {
	ID string
	C  <-chan events.Envelope

	ch   chan events.Envelope
	once sync.Once

	mu  sync.Mutex
	err error
}

// Err returns the error the server reported for this subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.ch)
	})
}

// Subscribe starts operation (one of the events.Name* constants). The
// conversationID is only used by messageSent. Cancelling ctx stops the
// subscription on both ends.
func (c *Conn) Subscribe(ctx context.Context, operation string, conversationID uuid.UUID) (*Subscription, error) {
	ch := make(chan events.Envelope, 64)
	sub := &Subscription{ID: uuid.NewString(), C: ch, ch: ch}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.subs[sub.ID] = sub
	c.mu.Unlock()

	payload := ws.SubscribePayload{Operation: operation, ConversationID: conversationID}
	if err := c.write(ws.TypeSubscribe, sub.ID, payload); err != nil {
		c.drop(sub.ID, err)
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			if c.drop(sub.ID, nil) {
				_ = c.write(ws.TypeComplete, sub.ID, nil)
			}
		case <-c.done:
		}
	}()
	return sub, nil
}

// Close ends every subscription and the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *Conn) write(typ, id string, payload any) error {
	m, err := ws.NewMessage(typ, id, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(m); err != nil {
		return fmt.Errorf("write %s: %w", typ, err)
	}
	return nil
}

// drop removes a subscription and closes its channel. It reports whether
// the subscription was still registered.
func (c *Conn) drop(id string, err error) bool {
	c.mu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if ok {
		sub.finish(err)
	}
	return ok
}

func (c *Conn) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		subs := c.subs
		c.subs = make(map[string]*Subscription)
		c.mu.Unlock()
		for _, sub := range subs {
			sub.finish(ErrClosed)
		}
		close(c.done)
	}()

	for {
		var m ws.Message
		if err := c.ws.ReadJSON(&m); err != nil {
			c.logger.Debug("subscription connection ended", zap.Error(err))
			return
		}

		switch m.Type {
		case ws.TypeNext:
			var env events.Envelope
			if err := json.Unmarshal(m.Payload, &env); err != nil {
				c.logger.Warn("bad next payload", zap.Error(err))
				continue
			}
			c.deliver(m.ID, env)
		case ws.TypeComplete:
			c.drop(m.ID, nil)
		case ws.TypeError:
			var errs []ws.ErrorPayload
			_ = json.Unmarshal(m.Payload, &errs)
			msg := "subscription failed"
			if len(errs) > 0 {
				msg = errs[0].Message
			}
			c.drop(m.ID, errors.New(msg))
		case ws.TypePing:
			_ = c.write(ws.TypePong, "", nil)
		}
	}
}

// deliver hands env to the subscription. The channel is buffered; a
// consumer that falls that far behind loses the subscription rather than
// stalling every other stream on the connection.
func (c *Conn) deliver(id string, env events.Envelope) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	delivered := false
	if ok {
		select {
		case sub.ch <- env:
			delivered = true
		default:
		}
	}
	c.mu.Unlock()

	if ok && !delivered {
		c.logger.Warn("subscription consumer too slow, dropping it", zap.String("id", id))
		if c.drop(id, errors.New("consumer too slow")) {
			_ = c.write(ws.TypeComplete, id, nil)
		}
	}
}
