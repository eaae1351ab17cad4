// Package presence tracks which users currently hold an open subscription
// connection.
//
// A user can be connected from several devices, so presence is a counter
// per user, not a flag: each connection increments it on connect and
// decrements it on disconnect. Online means "counter > 0".
package presence

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type Tracker interface {
	Connect(ctx context.Context, userID uuid.UUID) error
	// Refresh keeps a connected user alive. Called on every client ping.
	Refresh(ctx context.Context, userID uuid.UUID) error
	Disconnect(ctx context.Context, userID uuid.UUID) error
	IsOnline(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Local keeps the counters in process memory. It is used when no Redis is
// configured and is only correct for a single server process.
type Local struct {
	mu     sync.Mutex
	counts map[uuid.UUID]int
}

func NewLocal() *Local {
	return &Local{counts: make(map[uuid.UUID]int)}
}

func (l *Local) Connect(_ context.Context, userID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[userID]++
	return nil
}

func (l *Local) Refresh(context.Context, uuid.UUID) error { return nil }

func (l *Local) Disconnect(_ context.Context, userID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[userID] <= 1 {
		delete(l.counts, userID)
		return nil
	}
	l.counts[userID]--
	return nil
}

func (l *Local) IsOnline(_ context.Context, userID uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[userID] > 0, nil
}
