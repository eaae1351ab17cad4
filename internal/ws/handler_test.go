package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/relaychat/internal/auth"
	"github.com/lalith-99/relaychat/internal/events"
	"github.com/lalith-99/relaychat/internal/middleware"
	"github.com/lalith-99/relaychat/internal/presence"
	"github.com/lalith-99/relaychat/internal/pubsub"
	"github.com/lalith-99/relaychat/internal/repository/memory"
	"github.com/lalith-99/relaychat/internal/service"
	"github.com/lalith-99/relaychat/internal/subscription"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "ws-test-secret"

type server struct {
	url      string
	store    *memory.Store
	bus      *pubsub.Bus[events.Event]
	convs    *service.ConversationService
	presence *presence.Local
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	bus := pubsub.New[events.Event](zap.NewNop(), 16)
	tracker := presence.NewLocal()
	resolver := subscription.NewResolver(bus, store.Participants(), zap.NewNop())
	h := NewHandler(resolver, secret, tracker, nil, zap.NewNop())

	r := gin.New()
	r.GET("/v1/subscriptions", middleware.OptionalAuth(secret), h.Subscribe)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		bus.Close()
	})

	return &server{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/subscriptions",
		store:    store,
		bus:      bus,
		convs:    service.NewConversationService(store, bus, zap.NewNop()),
		presence: tracker,
	}
}

func (s *server) user(t *testing.T, name string) (*auth.Identity, string) {
	t.Helper()
	u, err := s.store.Users().Create(context.Background(), name+"@example.com", name, "h")
	require.NoError(t, err)
	token, err := auth.GenerateToken(u.ID, u.Email, name, secret, time.Hour)
	require.NoError(t, err)
	return &auth.Identity{UserID: u.ID, Username: name}, token
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func write(t *testing.T, c *websocket.Conn, typ, id string, payload any) {
	t.Helper()
	m, err := NewMessage(typ, id, payload)
	require.NoError(t, err)
	require.NoError(t, c.WriteJSON(m))
}

func read(t *testing.T, c *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m Message
	require.NoError(t, c.ReadJSON(&m))
	return m
}

func initConn(t *testing.T, c *websocket.Conn, token string) {
	t.Helper()
	write(t, c, TypeConnectionInit, "", InitPayload{Token: token})
	require.Equal(t, TypeConnectionAck, read(t, c).Type)
}

func TestHandler_DeliversFilteredEvents(t *testing.T) {
	req := require.New(t)
	s := newServer(t)
	alice, aliceToken := s.user(t, "alice")
	bob, _ := s.user(t, "bob")

	c := dial(t, s.url)
	initConn(t, c, aliceToken)
	write(t, c, TypeSubscribe, "1", SubscribePayload{Operation: events.NameConversationCreated})
	req.Eventually(func() bool {
		return s.bus.SubscriberCount(events.TopicConversationCreated) == 1
	}, time.Second, 5*time.Millisecond)

	// When
	conv, err := s.convs.Create(context.Background(), bob, []uuid.UUID{alice.UserID})
	req.NoError(err)

	// Then
	m := read(t, c)
	req.Equal(TypeNext, m.Type)
	req.Equal("1", m.ID)
	var env events.Envelope
	req.NoError(json.Unmarshal(m.Payload, &env))
	evt, err := events.Decode(env)
	req.NoError(err)
	req.Equal(conv.ID, evt.(events.ConversationCreated).Conversation.ID)
}

func TestHandler_AnonymousConnectionReceivesNothing(t *testing.T) {
	req := require.New(t)
	s := newServer(t)
	alice, _ := s.user(t, "alice")
	bob, _ := s.user(t, "bob")

	c := dial(t, s.url)
	initConn(t, c, "not-a-token")
	write(t, c, TypeSubscribe, "1", SubscribePayload{Operation: events.NameConversationCreated})
	req.Eventually(func() bool {
		return s.bus.SubscriberCount(events.TopicConversationCreated) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := s.convs.Create(context.Background(), bob, []uuid.UUID{alice.UserID})
	req.NoError(err)

	req.NoError(c.SetReadDeadline(time.Now().Add(100 * time.Millisecond)))
	var m Message
	req.Error(c.ReadJSON(&m), "expected no frame, got %q", m.Type)
}

func TestHandler_ProtocolErrors(t *testing.T) {
	t.Run("unknown operation", func(t *testing.T) {
		req := require.New(t)
		s := newServer(t)
		_, token := s.user(t, "alice")
		c := dial(t, s.url)
		initConn(t, c, token)

		write(t, c, TypeSubscribe, "7", SubscribePayload{Operation: "everything"})

		m := read(t, c)
		req.Equal(TypeError, m.Type)
		req.Equal("7", m.ID)
		var errs []ErrorPayload
		req.NoError(json.Unmarshal(m.Payload, &errs))
		req.Contains(errs[0].Message, "unknown subscription operation")
	})

	t.Run("subscribe before init closes the connection", func(t *testing.T) {
		req := require.New(t)
		s := newServer(t)
		c := dial(t, s.url)

		write(t, c, TypeSubscribe, "1", SubscribePayload{Operation: events.NameConversationCreated})

		req.NoError(c.SetReadDeadline(time.Now().Add(2 * time.Second)))
		_, _, err := c.ReadMessage()
		req.True(websocket.IsCloseError(err, CloseUnauthorized), "got %v", err)
	})

	t.Run("ping gets pong", func(t *testing.T) {
		req := require.New(t)
		s := newServer(t)
		c := dial(t, s.url)
		initConn(t, c, "")

		write(t, c, TypePing, "", nil)

		req.Equal(TypePong, read(t, c).Type)
	})
}

func TestHandler_CompleteStopsTheStream(t *testing.T) {
	req := require.New(t)
	s := newServer(t)
	_, token := s.user(t, "alice")
	c := dial(t, s.url)
	initConn(t, c, token)

	write(t, c, TypeSubscribe, "1", SubscribePayload{Operation: events.NameConversationDeleted})
	req.Eventually(func() bool {
		return s.bus.SubscriberCount(events.TopicConversationDeleted) == 1
	}, time.Second, 5*time.Millisecond)

	write(t, c, TypeComplete, "1", nil)

	req.Eventually(func() bool {
		return s.bus.SubscriberCount(events.TopicConversationDeleted) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestHandler_TracksPresence(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := newServer(t)
	alice, token := s.user(t, "alice")

	c := dial(t, s.url)
	initConn(t, c, token)
	online, err := s.presence.IsOnline(ctx, alice.UserID)
	req.NoError(err)
	req.True(online)

	req.NoError(c.Close())

	req.Eventually(func() bool {
		online, err := s.presence.IsOnline(ctx, alice.UserID)
		return err == nil && !online
	}, 2*time.Second, 10*time.Millisecond)
}
