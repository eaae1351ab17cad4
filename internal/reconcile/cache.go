// Package reconcile keeps a client's local copy of its conversation list
// and message threads consistent with the server by applying delivered
// subscription events in place, without refetching.
package reconcile

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/relaychat/internal/models"
)

// Cache holds the results of the two queries a client keeps around: the
// conversation list and, per conversation, the message thread. Both are
// kept in the order the server returns them, so a read after any number of
// applied events matches what a fresh fetch would return.
//
// Reads return copies. Callers can hold on to them while events keep
// arriving.
type Cache struct {
	mu            sync.RWMutex
	conversations []models.Conversation
	messages      map[uuid.UUID][]models.Message
	viewing       uuid.UUID
}

func NewCache() *Cache {
	return &Cache{messages: make(map[uuid.UUID][]models.Message)}
}

// SetConversations replaces the conversation list, typically with the
// result of the initial conversations query.
func (c *Cache) SetConversations(list []models.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations = c.conversations[:0]
	for _, conv := range list {
		c.conversations = append(c.conversations, conv.Clone())
	}
	sortConversations(c.conversations)
}

// SetMessages replaces the cached thread of one conversation.
func (c *Cache) SetMessages(conversationID uuid.UUID, list []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := append([]models.Message{}, list...)
	sortMessages(msgs)
	c.messages[conversationID] = msgs
}

// Conversations returns the cached list, most recently updated first.
func (c *Cache) Conversations() []models.Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Conversation, 0, len(c.conversations))
	for _, conv := range c.conversations {
		out = append(out, conv.Clone())
	}
	return out
}

func (c *Cache) Conversation(id uuid.UUID) (models.Conversation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.indexOf(id); i >= 0 {
		return c.conversations[i].Clone(), true
	}
	return models.Conversation{}, false
}

// Messages returns the cached thread, newest first. The second value is
// false when the thread was never loaded, which is different from an empty
// thread.
func (c *Cache) Messages(conversationID uuid.UUID) ([]models.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs, ok := c.messages[conversationID]
	if !ok {
		return nil, false
	}
	return append([]models.Message{}, msgs...), true
}

// Viewing returns the conversation currently open, uuid.Nil if none.
func (c *Cache) Viewing() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewing
}

func (c *Cache) setViewing(id uuid.UUID) {
	c.mu.Lock()
	c.viewing = id
	c.mu.Unlock()
}

func (c *Cache) indexOf(id uuid.UUID) int {
	return slices.IndexFunc(c.conversations, func(conv models.Conversation) bool { return conv.ID == id })
}

// updatedAt returns the UpdatedAt of the cached conversation.
func (c *Cache) updatedAt(id uuid.UUID) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.indexOf(id); i >= 0 {
		return c.conversations[i].UpdatedAt, true
	}
	return time.Time{}, false
}

// putConversation inserts or replaces conv and restores the sort order.
func (c *Cache) putConversation(conv models.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexOf(conv.ID); i >= 0 {
		c.conversations[i] = conv.Clone()
	} else {
		c.conversations = append(c.conversations, conv.Clone())
	}
	sortConversations(c.conversations)
}

// dropConversation removes the conversation and its thread. It reports
// whether the conversation was being viewed, and clears the view if so.
func (c *Cache) dropConversation(id uuid.UUID) (wasViewing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations = slices.DeleteFunc(c.conversations, func(conv models.Conversation) bool { return conv.ID == id })
	delete(c.messages, id)
	if c.viewing == id {
		c.viewing = uuid.Nil
		return true
	}
	return false
}

// updateConversation runs fn on the cached conversation, if present.
func (c *Cache) updateConversation(id uuid.UUID, fn func(conv *models.Conversation) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(id)
	if i < 0 {
		return false
	}
	return fn(&c.conversations[i])
}

// putMessage inserts msg into a loaded thread, or replaces the entry with
// the same id. Threads that were never loaded are left alone: the next
// fetch returns the message anyway.
func (c *Cache) putMessage(msg models.Message) (inserted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, ok := c.messages[msg.ConversationID]
	if !ok {
		return false
	}
	if i := slices.IndexFunc(msgs, func(m models.Message) bool { return m.ID == msg.ID }); i >= 0 {
		msgs[i] = msg
		sortMessages(msgs)
		return false
	}
	msgs = append(msgs, msg)
	sortMessages(msgs)
	c.messages[msg.ConversationID] = msgs
	return true
}

func (c *Cache) dropMessage(conversationID, messageID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msgs, ok := c.messages[conversationID]; ok {
		c.messages[conversationID] = slices.DeleteFunc(msgs, func(m models.Message) bool { return m.ID == messageID })
	}
}

// Same ordering as the server queries: conversations by updated_at desc,
// messages by created_at desc.
func sortConversations(list []models.Conversation) {
	slices.SortStableFunc(list, func(a, b models.Conversation) int {
		if c := compareTimeDesc(a.UpdatedAt, b.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
}

func sortMessages(list []models.Message) {
	slices.SortStableFunc(list, func(a, b models.Message) int {
		if c := compareTimeDesc(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID.String(), a.ID.String())
	})
}

func compareTimeDesc(a, b time.Time) int {
	return b.Compare(a)
}
