package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"relay-gateway/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// claimScript removes and returns a session hash only once it holds the
// expected number of segments, so exactly one caller assembles a session.
var claimScript = goredis.NewScript(`
local n = redis.call('HLEN', KEYS[1])
if n < tonumber(ARGV[1]) then
	return false
end
local all = redis.call('HGETALL', KEYS[1])
redis.call('DEL', KEYS[1])
return all
`)

// SegmentStore implements ports.SegmentStore with one hash per session,
// keyed by segment number.
type SegmentStore struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewSegmentStore(client goredis.UniversalClient, ttl time.Duration) *SegmentStore {
	return &SegmentStore{
		client: client,
		prefix: "segments:",
		ttl:    ttl,
	}
}

type storedSegment struct {
	SessionID   uint8  `json:"session_id"`
	Sender      string `json:"sender"`
	Number      int    `json:"segment_number"`
	Total       int    `json:"total_segments"`
	ImageLength int    `json:"image_length"`
	TextLength  int    `json:"text_length"`
	Content     string `json:"content"`
}

// Save stores seg unless its number is already held and refreshes the
// session TTL.
func (s *SegmentStore) Save(ctx context.Context, seg domain.Segment) (int, error) {
	data, err := json.Marshal(storedSegment(seg))
	if err != nil {
		return 0, fmt.Errorf("marshal segment: %w", err)
	}

	key := s.key(seg)
	var held *goredis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSetNX(ctx, key, strconv.Itoa(seg.Number), data)
		pipe.Expire(ctx, key, s.ttl)
		held = pipe.HLen(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis save segment: %w", err)
	}
	return int(held.Val()), nil
}

// Claim returns the session's segments ordered by number, or nil when the
// session is incomplete or already claimed.
func (s *SegmentStore) Claim(ctx context.Context, seg domain.Segment) ([]domain.Segment, error) {
	flat, err := claimScript.Run(ctx, s.client, []string{s.key(seg)}, seg.Total).StringSlice()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis claim segments: %w", err)
	}

	segments := make([]domain.Segment, 0, len(flat)/2)
	for i := 1; i < len(flat); i += 2 {
		var stored storedSegment
		if err := json.Unmarshal([]byte(flat[i]), &stored); err != nil {
			return nil, fmt.Errorf("unmarshal segment: %w", err)
		}
		segments = append(segments, domain.Segment(stored))
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].Number < segments[j].Number })
	return segments, nil
}

func (s *SegmentStore) key(seg domain.Segment) string {
	return s.prefix + seg.SessionKey()
}
