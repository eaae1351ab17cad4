package presence

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestLocal_CountsConnections(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	l := NewLocal()
	u := uuid.New()

	// Given: two devices
	req.NoError(l.Connect(ctx, u))
	req.NoError(l.Connect(ctx, u))

	// When: one disconnects
	req.NoError(l.Disconnect(ctx, u))

	// Then: still online
	online, err := l.IsOnline(ctx, u)
	req.NoError(err)
	req.True(online)

	req.NoError(l.Disconnect(ctx, u))
	online, err = l.IsOnline(ctx, u)
	req.NoError(err)
	req.False(online)

	// Extra disconnects don't go negative
	req.NoError(l.Disconnect(ctx, u))
	req.NoError(l.Connect(ctx, u))
	online, err = l.IsOnline(ctx, u)
	req.NoError(err)
	req.True(online)
}

func TestKey(t *testing.T) {
	id := uuid.MustParse("6f1c1b1e-3b8a-4b8e-9a55-3a4f5c0e2d11")
	require.Equal(t, "presence:6f1c1b1e-3b8a-4b8e-9a55-3a4f5c0e2d11", key(id))
}
