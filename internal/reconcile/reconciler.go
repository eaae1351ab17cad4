package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/relaychat/internal/events"
	"github.com/lalith-99/relaychat/internal/models"
	"go.uber.org/zap"
)

// Navigator moves the UI away from a conversation the user can no longer
// see (removed from it, or it was deleted).
type Navigator interface {
	LeaveConversation(conversationID uuid.UUID)
}

// ReadMarker acknowledges that the user has seen the latest message of a
// conversation. The client implements it with the markConversationAsRead
// mutation.
type ReadMarker interface {
	MarkRead(conversationID uuid.UUID)
}

// SendState is the local life cycle of a message the user sent.
//
//	BeginSend          -> Pending   (shown right away)
//	ConfirmSend / echo -> Confirmed (server has it; never inserted twice)
//	RevertSend         -> Reverted  (removed from the thread)
type SendState int

const (
	Pending SendState = iota + 1
	Confirmed
	Reverted
)

func (s SendState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Reverted:
		return "reverted"
	}
	return "unknown"
}

// Reconciler applies subscription events for one user to a Cache.
//
// Why track sends by message id instead of just ignoring my own messages?
//   - The message id is generated here, before the request goes out, so
//     the event coming back can be matched exactly. Ignoring everything
//     authored by me would also hide messages I sent from another device.
//   - A failed send needs to disappear from the thread. Without the state
//     we would not know which entry to take out.
//
// Events from concurrent mutations can arrive in either order, so every
// conversation snapshot is checked against what is already known before
// it is applied: a snapshot older than the cached copy does not replace
// it, and a conversation the user was removed from only comes back
// through a snapshot newer than the removal. A deleted one never does.
type Reconciler struct {
	userID uuid.UUID
	cache  *Cache
	nav    Navigator
	reads  ReadMarker
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	sends map[uuid.UUID]SendState
	exits map[uuid.UUID]exit
}

// exit records how the user came to be out of a conversation.
type exit struct {
	at      time.Time // UpdatedAt of the snapshot that removed them
	deleted bool
}

// New builds a reconciler for userID. nav and reads may be nil.
func New(userID uuid.UUID, cache *Cache, nav Navigator, reads ReadMarker, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		userID: userID,
		cache:  cache,
		nav:    nav,
		reads:  reads,
		logger: logger,
		now:    time.Now,
		sends:  make(map[uuid.UUID]SendState),
		exits:  make(map[uuid.UUID]exit),
	}
}

func (r *Reconciler) Cache() *Cache { return r.cache }

// Run applies every envelope from ch until it is closed or ctx is done.
// A malformed envelope is logged and skipped.
func (r *Reconciler) Run(ctx context.Context, ch <-chan events.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			if err := r.Apply(env); err != nil {
				r.logger.Warn("dropping event", zap.String("type", env.Type), zap.Error(err))
			}
		}
	}
}

// Apply patches the cache with one delivered event. Applying the same
// envelope twice leaves the cache as it was after the first time.
func (r *Reconciler) Apply(env events.Envelope) error {
	evt, err := events.Decode(env)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	switch e := evt.(type) {
	case events.ConversationCreated:
		r.conversationCreated(e)
	case events.ConversationUpdated:
		r.conversationUpdated(e)
	case events.ConversationDeleted:
		r.leave(e.ID, exit{deleted: true})
	case events.MessageSent:
		r.messageSent(e.Message)
	}
	return nil
}

func (r *Reconciler) conversationCreated(e events.ConversationCreated) {
	conv := e.Conversation
	if !conv.HasParticipant(r.userID) || r.exited(conv) || r.older(conv) {
		return
	}
	r.rejoin(conv.ID)
	r.cache.putConversation(conv)
}

func (r *Reconciler) conversationUpdated(e events.ConversationUpdated) {
	conv := e.Conversation

	if r.exited(conv) {
		return
	}

	if e.IsRemoved(r.userID) || !conv.HasParticipant(r.userID) {
		// A removal older than the cached copy was undone by a later re-add.
		if r.older(conv) {
			return
		}
		r.leave(conv.ID, exit{at: conv.UpdatedAt})
		return
	}

	// Covers both "I was added" and "something changed in a conversation I
	// am in": the event carries the resulting state, so it replaces
	// whatever was cached unless the cached copy is newer.
	if !r.older(conv) {
		r.rejoin(conv.ID)
		r.cache.putConversation(conv)
	}

	// The latest message may reach this stream before the thread's own
	// stream delivers it, or the thread may have no open stream at all.
	// An older snapshot still carries a real message.
	if latest := conv.LatestMessage; latest != nil {
		r.confirm(latest.ID)
		r.cache.putMessage(*latest)
	}

	// A message from someone else arrived in the conversation on screen.
	if r.cache.Viewing() == conv.ID && conv.LatestMessage != nil && conv.LatestMessage.SenderID != r.userID {
		r.markRead(conv.ID)
	}
}

// older reports whether the cached copy of conv is newer than conv.
// Equal timestamps apply, so redelivery stays idempotent.
func (r *Reconciler) older(conv models.Conversation) bool {
	cached, ok := r.cache.updatedAt(conv.ID)
	return ok && conv.UpdatedAt.Before(cached)
}

// exited reports whether the user already left or saw the deletion of
// conv at a point not older than conv.
func (r *Reconciler) exited(conv models.Conversation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	x, ok := r.exits[conv.ID]
	if !ok {
		return false
	}
	return x.deleted || !conv.UpdatedAt.After(x.at)
}

func (r *Reconciler) rejoin(conversationID uuid.UUID) {
	r.mu.Lock()
	delete(r.exits, conversationID)
	r.mu.Unlock()
}

func (r *Reconciler) messageSent(msg models.Message) {
	// A send started here is already in the thread. The server's copy
	// replaces it under the same id, as it does for a redelivered event.
	r.confirm(msg.ID)
	r.cache.putMessage(msg)
}

// leave drops a conversation and navigates away if it was on screen.
func (r *Reconciler) leave(conversationID uuid.UUID, x exit) {
	r.mu.Lock()
	if prev, ok := r.exits[conversationID]; !ok || x.deleted || (!prev.deleted && x.at.After(prev.at)) {
		r.exits[conversationID] = x
	}
	r.mu.Unlock()

	if r.cache.dropConversation(conversationID) && r.nav != nil {
		r.nav.LeaveConversation(conversationID)
	}
}

// confirm moves a pending send to Confirmed. Ids not sent from here are
// ignored.
func (r *Reconciler) confirm(messageID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sends[messageID] == Pending {
		r.sends[messageID] = Confirmed
	}
}

// BeginSend shows msg at the head of its thread before the server has
// answered. msg.ID must be the id sent with the request.
func (r *Reconciler) BeginSend(msg models.Message) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.now()
	}
	if msg.SenderID == uuid.Nil {
		msg.SenderID = r.userID
		msg.Sender.ID = r.userID
	}

	r.mu.Lock()
	if _, ok := r.sends[msg.ID]; ok {
		r.mu.Unlock()
		return
	}
	r.sends[msg.ID] = Pending
	r.mu.Unlock()

	r.cache.putMessage(msg)
}

// ConfirmSend records that the server accepted the message. It reports
// false for ids that are not pending.
func (r *Reconciler) ConfirmSend(messageID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sends[messageID] != Pending {
		return false
	}
	r.sends[messageID] = Confirmed
	return true
}

// RevertSend takes a pending message back out of its thread after the
// server rejected it. Confirmed messages stay.
func (r *Reconciler) RevertSend(conversationID, messageID uuid.UUID) bool {
	r.mu.Lock()
	if r.sends[messageID] != Pending {
		r.mu.Unlock()
		return false
	}
	r.sends[messageID] = Reverted
	r.mu.Unlock()

	r.cache.dropMessage(conversationID, messageID)
	return true
}

// SendState returns the local state of a message sent from here.
func (r *Reconciler) SendState(messageID uuid.UUID) (SendState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sends[messageID]
	return s, ok
}

// View opens a conversation. If its latest message is unread, the read
// is acknowledged and reflected locally right away.
func (r *Reconciler) View(conversationID uuid.UUID) {
	r.cache.setViewing(conversationID)
	r.markRead(conversationID)
}

// MarkReadOptimistic sets the user's own read flag in the cached
// conversation. It reports whether the flag changed.
func (r *Reconciler) MarkReadOptimistic(conversationID uuid.UUID) bool {
	return r.cache.updateConversation(conversationID, func(conv *models.Conversation) bool {
		for i := range conv.Participants {
			p := &conv.Participants[i]
			if p.UserID != r.userID {
				continue
			}
			if p.HasSeenLatestMessage {
				return false
			}
			p.HasSeenLatestMessage = true
			return true
		}
		return false
	})
}

func (r *Reconciler) markRead(conversationID uuid.UUID) {
	if r.MarkReadOptimistic(conversationID) && r.reads != nil {
		r.reads.MarkRead(conversationID)
	}
}
