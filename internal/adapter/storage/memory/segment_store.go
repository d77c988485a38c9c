package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"relay-gateway/internal/core/domain"
)

type segmentSession struct {
	segments map[int]domain.Segment
	expires  time.Time
}

// SegmentStore implements ports.SegmentStore in process memory. Sessions
// expire ttl after their last segment arrived.
type SegmentStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*segmentSession
	now      func() time.Time
}

func NewSegmentStore(ttl time.Duration) *SegmentStore {
	return &SegmentStore{
		ttl:      ttl,
		sessions: make(map[string]*segmentSession),
		now:      time.Now,
	}
}

func (s *SegmentStore) Save(ctx context.Context, seg domain.Segment) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evict(now)

	key := seg.SessionKey()
	sess, ok := s.sessions[key]
	if !ok {
		sess = &segmentSession{segments: make(map[int]domain.Segment)}
		s.sessions[key] = sess
	}
	if _, dup := sess.segments[seg.Number]; !dup {
		sess.segments[seg.Number] = seg
	}
	sess.expires = now.Add(s.ttl)
	return len(sess.segments), nil
}

func (s *SegmentStore) Claim(ctx context.Context, seg domain.Segment) ([]domain.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evict(s.now())

	key := seg.SessionKey()
	sess, ok := s.sessions[key]
	if !ok || len(sess.segments) < seg.Total {
		return nil, nil
	}
	delete(s.sessions, key)

	out := make([]domain.Segment, 0, len(sess.segments))
	for _, part := range sess.segments {
		out = append(out, part)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *SegmentStore) evict(now time.Time) {
	for key, sess := range s.sessions {
		if now.After(sess.expires) {
			delete(s.sessions, key)
		}
	}
}
