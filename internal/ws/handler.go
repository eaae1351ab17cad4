package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/relaychat/internal/apperr"
	"github.com/lalith-99/relaychat/internal/auth"
	"github.com/lalith-99/relaychat/internal/events"
	"github.com/lalith-99/relaychat/internal/presence"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	initTimeout    = 10 * time.Second
	maxMessageSize = 16 * 1024
	sendBuffer     = 64
)

// Resolver opens subscription streams. *subscription.Resolver satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, who *auth.Identity, operation string, conversationID uuid.UUID) (<-chan events.Envelope, func(), error)
}

type Handler struct {
	resolver  Resolver
	jwtSecret string
	presence  presence.Tracker
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// NewHandler builds the subscription endpoint. An empty allowedOrigins
// accepts any origin.
func NewHandler(resolver Resolver, jwtSecret string, tracker presence.Tracker, allowedOrigins []string, logger *zap.Logger) *Handler {
	return &Handler{
		resolver:  resolver,
		jwtSecret: jwtSecret,
		presence:  tracker,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{"graphql-transport-ws"},
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				return lo.Contains(allowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
}

// Subscribe handles GET /v1/subscriptions.
//
// The identity comes from the Authorization header (OptionalAuth) or from
// the connection_init token, whichever is present; the init token wins.
// A connection without a valid identity is still acknowledged, but every
// filter refuses it, so it never receives an event.
func (h *Handler) Subscribe(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	// Derived from the request so server shutdown reaches the connection.
	ctx, cancel := context.WithCancel(c.Request.Context())
	conn := &conn{
		h:      h,
		ws:     ws,
		send:   make(chan Message, sendBuffer),
		who:    auth.FromContext(c.Request.Context()),
		subs:   make(map[string]func()),
		ctx:    ctx,
		cancel: cancel,
		logger: h.logger,
	}
	go conn.writePump()
	conn.readPump()
}

// conn is one websocket connection. readPump runs on the handler's
// goroutine, writePump on its own; only writePump touches ws for writes.
type conn struct {
	h      *Handler
	ws     *websocket.Conn
	send   chan Message
	who    *auth.Identity
	online bool

	mu   sync.Mutex
	subs map[string]func()
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

func (c *conn) readPump() {
	defer c.shutdown()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(initTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	initialized := false
	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.Error(err))
			}
			if !initialized {
				c.closeWith(CloseInitTimeout, "connection initialisation timeout")
			}
			return
		}

		switch msg.Type {
		case TypeConnectionInit:
			if initialized {
				c.closeWith(CloseTooManyInits, "too many initialisation requests")
				return
			}
			initialized = true
			_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
			c.init(msg.Payload)

		case TypeSubscribe:
			if !initialized {
				c.closeWith(CloseUnauthorized, "unauthorized")
				return
			}
			if !c.subscribe(msg) {
				return
			}

		case TypeComplete:
			c.unsubscribe(msg.ID)

		case TypePing:
			_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
			if c.online {
				if err := c.h.presence.Refresh(c.ctx, c.who.UserID); err != nil {
					c.logger.Warn("presence refresh failed", zap.Error(err))
				}
			}
			c.enqueue(Message{Type: TypePong})

		case TypePong:

		default:
			c.sendError(msg.ID, "unknown message type "+msg.Type)
		}
	}
}

func (c *conn) init(raw json.RawMessage) {
	var p InitPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			c.logger.Debug("bad connection_init payload", zap.Error(err))
		}
	}
	if p.Token != "" {
		claims, err := auth.ParseToken(p.Token, c.h.jwtSecret)
		if err != nil {
			c.logger.Debug("connection_init token rejected", zap.Error(err))
			c.who = nil
		} else {
			c.who = claims.Identity()
		}
	}

	if c.who != nil {
		if err := c.h.presence.Connect(c.ctx, c.who.UserID); err != nil {
			c.logger.Warn("presence connect failed", zap.Error(err))
		} else {
			c.online = true
		}
	}
	c.enqueue(Message{Type: TypeConnectionAck})
}

// subscribe starts a stream. It returns false when the connection must be
// closed.
func (c *conn) subscribe(msg Message) bool {
	if msg.ID == "" {
		c.sendError("", "subscribe needs an id")
		return true
	}
	var p SubscribePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.sendError(msg.ID, "invalid subscribe payload")
		return true
	}

	c.mu.Lock()
	_, exists := c.subs[msg.ID]
	c.mu.Unlock()
	if exists {
		c.closeWith(CloseSubscriberInUse, "subscriber for "+msg.ID+" already exists")
		return false
	}

	ch, stop, err := c.h.resolver.Resolve(c.ctx, c.who, p.Operation, p.ConversationID)
	if err != nil {
		c.sendError(msg.ID, apperr.PublicMessage(err))
		return true
	}

	c.mu.Lock()
	c.subs[msg.ID] = stop
	c.mu.Unlock()

	c.wg.Add(1)
	go c.forward(msg.ID, ch)
	return true
}

// forward copies one stream into the connection's send queue. When the
// stream ends on its own the client is told with a complete frame.
func (c *conn) forward(id string, ch <-chan events.Envelope) {
	defer c.wg.Done()
	for env := range ch {
		m, err := NewMessage(TypeNext, id, env)
		if err != nil {
			c.logger.Error("encode next frame failed", zap.Error(err))
			continue
		}
		if !c.enqueue(m) {
			return
		}
	}

	c.mu.Lock()
	_, active := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if active {
		c.enqueue(Message{Type: TypeComplete, ID: id})
	}
}

func (c *conn) unsubscribe(id string) {
	c.mu.Lock()
	stop, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if ok {
		stop()
	}
}

func (c *conn) sendError(id, message string) {
	m, err := NewMessage(TypeError, id, []ErrorPayload{{Message: message}})
	if err != nil {
		return
	}
	c.enqueue(m)
}

// enqueue hands m to the writer. A connection that cannot keep up is
// closed: dropping frames silently would leave its cache inconsistent.
func (c *conn) enqueue(m Message) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.send <- m:
		return true
	case <-c.ctx.Done():
		return false
	default:
		c.logger.Warn("websocket send buffer full, closing connection")
		c.cancel()
		return false
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case m := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(m); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// closeWith sends a close frame with code and stops the connection. It is
// only called from readPump, before shutdown.
func (c *conn) closeWith(code int, reason string) {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait))
}

func (c *conn) shutdown() {
	c.mu.Lock()
	stops := lo.Values(c.subs)
	c.subs = make(map[string]func())
	c.mu.Unlock()
	for _, stop := range stops {
		stop()
	}

	c.cancel()
	c.wg.Wait()

	if c.online {
		// c.ctx is already cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := c.h.presence.Disconnect(ctx, c.who.UserID); err != nil {
			c.logger.Warn("presence disconnect failed", zap.Error(err))
		}
	}
	_ = c.ws.Close()
}
