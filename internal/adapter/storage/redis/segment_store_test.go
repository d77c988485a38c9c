package redis

import (
	"context"
	"testing"
	"time"

	"relay-gateway/internal/core/domain"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSegmentStore(t *testing.T) (*SegmentStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSegmentStore(client, time.Hour), mr
}

func seg(number, total int, content string) domain.Segment {
	return domain.Segment{SessionID: 7, Sender: "+237600000001", Number: number, Total: total, ImageLength: 256, Content: content}
}

func TestSegmentStore_SaveAndClaim(t *testing.T) {
	store, mr := newTestSegmentStore(t)
	ctx := context.Background()

	held, err := store.Save(ctx, seg(1, 2, "BBB"))
	require.NoError(t, err)
	assert.Equal(t, 1, held)
	assert.Equal(t, time.Hour, mr.TTL("segments:7:+237600000001"))

	incomplete, err := store.Claim(ctx, seg(1, 2, "BBB"))
	require.NoError(t, err)
	assert.Nil(t, incomplete)

	held, err = store.Save(ctx, seg(0, 2, "AAA"))
	require.NoError(t, err)
	assert.Equal(t, 2, held)

	segments, err := store.Claim(ctx, seg(0, 2, "AAA"))
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, "AAA", segments[0].Content)
	assert.Equal(t, "BBB", segments[1].Content)
	assert.Equal(t, 256, segments[0].ImageLength)
	assert.False(t, mr.Exists("segments:7:+237600000001"))

	again, err := store.Claim(ctx, seg(0, 2, "AAA"))
	require.NoError(t, err)
	assert.Nil(t, again, "a claimed session cannot be claimed twice")
}

func TestSegmentStore_DuplicateIgnored(t *testing.T) {
	store, _ := newTestSegmentStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, seg(0, 3, "first"))
	require.NoError(t, err)
	held, err := store.Save(ctx, seg(0, 3, "second"))
	require.NoError(t, err)
	assert.Equal(t, 1, held)
}

func TestSegmentStore_SessionsAreIsolatedBySender(t *testing.T) {
	store, _ := newTestSegmentStore(t)
	ctx := context.Background()

	other := seg(0, 2, "X")
	other.Sender = "+237600000002"

	_, err := store.Save(ctx, seg(0, 2, "A"))
	require.NoError(t, err)
	held, err := store.Save(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 1, held)
}

func TestSegmentStore_Expiry(t *testing.T) {
	store, mr := newTestSegmentStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, seg(0, 2, "A"))
	require.NoError(t, err)
	mr.FastForward(2 * time.Hour)

	held, err := store.Save(ctx, seg(1, 2, "B"))
	require.NoError(t, err)
	assert.Equal(t, 1, held, "expired segments must not complete a session")
}
