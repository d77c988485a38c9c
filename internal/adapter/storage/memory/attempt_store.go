package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"relay-gateway/internal/core/domain"
	"relay-gateway/internal/core/ports"
)

type attemptRecord struct {
	mu      sync.Mutex
	attempt domain.DeliveryAttempt
}

// AttemptStore implements ports.AttemptRepository in process memory. Each
// record carries its own lock so terminal writes for one attempt serialize
// without blocking the others.
type AttemptStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64]*attemptRecord
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{records: make(map[int64]*attemptRecord)}
}

func (s *AttemptStore) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	a.ID = s.nextID
	s.records[a.ID] = &attemptRecord{attempt: cloneAttempt(*a)}
	return nil
}

func (s *AttemptStore) GetByID(ctx context.Context, id int64) (*domain.DeliveryAttempt, error) {
	rec := s.record(id)
	if rec == nil {
		return nil, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	a := cloneAttempt(rec.attempt)
	return &a, nil
}

// Mutate applies fn to a copy and stores it only when fn succeeds.
func (s *AttemptStore) Mutate(ctx context.Context, id int64, fn func(*domain.DeliveryAttempt) error) (*domain.DeliveryAttempt, error) {
	rec := s.record(id)
	if rec == nil {
		return nil, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	working := cloneAttempt(rec.attempt)
	if err := fn(&working); err != nil {
		return nil, err
	}
	rec.attempt = working
	out := cloneAttempt(working)
	return &out, nil
}

func (s *AttemptStore) ExpirePending(ctx context.Context, startedBefore time.Time) ([]int64, error) {
	var ids []int64
	for _, rec := range s.snapshot() {
		rec.mu.Lock()
		if rec.attempt.Status == domain.AttemptStatusPending && rec.attempt.StartTime.Before(startedBefore) {
			rec.attempt.Status = domain.AttemptStatusTimedOut
			ids = append(ids, rec.attempt.ID)
		}
		rec.mu.Unlock()
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// List returns attempts for one MSISDN, newest first.
func (s *AttemptStore) List(ctx context.Context, params ports.AttemptListParams) ([]domain.DeliveryAttempt, int64, error) {
	var matched []domain.DeliveryAttempt
	for _, a := range s.attempts(params.MSISDN) {
		if params.Status != nil && a.Status != *params.Status {
			continue
		}
		if params.StartFrom != nil && a.StartTime.Before(*params.StartFrom) {
			continue
		}
		if params.StartTo != nil && a.StartTime.After(*params.StartTo) {
			continue
		}
		matched = append(matched, a)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := int64(len(matched))
	return page(matched, params.Page, params.PerPage), total, nil
}

func (s *AttemptStore) Summary(ctx context.Context, msisdn string) (ports.AttemptSummary, error) {
	var sum ports.AttemptSummary
	for _, a := range s.attempts(msisdn) {
		sum.Records++
		switch a.Status {
		case domain.AttemptStatusSuccess:
			sum.Success++
		case domain.AttemptStatusTimedOut:
			sum.TimedOut++
		}
	}
	return sum, nil
}

func (s *AttemptStore) Tallies(ctx context.Context, msisdns []string) (map[string]domain.ReliabilityTally, error) {
	tallies := make(map[string]domain.ReliabilityTally, len(msisdns))
	for _, msisdn := range msisdns {
		var t domain.ReliabilityTally
		found := false
		for _, a := range s.attempts(msisdn) {
			found = true
			switch a.Status {
			case domain.AttemptStatusSuccess:
				t.Success++
			case domain.AttemptStatusTimedOut:
				t.TimedOut++
			}
		}
		if found {
			tallies[msisdn] = t
		}
	}
	return tallies, nil
}

func (s *AttemptStore) record(id int64) *attemptRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id]
}

func (s *AttemptStore) snapshot() []*attemptRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*attemptRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}

// attempts copies every attempt of one MSISDN.
func (s *AttemptStore) attempts(msisdn string) []domain.DeliveryAttempt {
	var out []domain.DeliveryAttempt
	for _, rec := range s.snapshot() {
		rec.mu.Lock()
		if rec.attempt.MSISDN == msisdn {
			out = append(out, cloneAttempt(rec.attempt))
		}
		rec.mu.Unlock()
	}
	return out
}

func cloneAttempt(a domain.DeliveryAttempt) domain.DeliveryAttempt {
	a.SMSReceivedTime = cloneTime(a.SMSReceivedTime)
	a.SMSRoutedTime = cloneTime(a.SMSRoutedTime)
	a.SMSSentTime = cloneTime(a.SMSSentTime)
	return a
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// page slices items the way LIMIT/OFFSET would.
func page[T any](items []T, pageNum, perPage int) []T {
	if perPage <= 0 {
		return items
	}
	if pageNum < 1 {
		pageNum = 1
	}
	if pageNum-1 > len(items)/perPage {
		return nil
	}
	start := (pageNum - 1) * perPage
	if start >= len(items) {
		return nil
	}
	end := start + perPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
