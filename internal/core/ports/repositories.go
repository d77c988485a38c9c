package ports

import (
	"context"
	"time"

	"relay-gateway/internal/core/domain"
)

// ClientRepository defines persistence operations for gateway clients.
type ClientRepository interface {
	// Upsert inserts the client or merges it into the existing row: country,
	// operator and last_published_date are overwritten, protocols are unioned.
	Upsert(ctx context.Context, client *domain.GatewayClient) error
	GetByMSISDN(ctx context.Context, msisdn string) (*domain.GatewayClient, error)
	List(ctx context.Context, params ClientListParams) ([]domain.GatewayClient, int64, error)
	Countries(ctx context.Context) ([]string, error)
	Operators(ctx context.Context, country string) ([]string, error)
}

// ClientListParams holds filter + pagination for listing clients.
type ClientListParams struct {
	Country        *string // case-insensitive equality
	Operator       *string // case-insensitive substring
	Protocol       *domain.Protocol
	PublishedSince *time.Time
	Page           int
	PerPage        int
}

// AttemptRepository defines persistence operations for delivery attempts.
type AttemptRepository interface {
	// Create inserts a new attempt and assigns its ID.
	Create(ctx context.Context, attempt *domain.DeliveryAttempt) error
	GetByID(ctx context.Context, id int64) (*domain.DeliveryAttempt, error)
	// Mutate loads the attempt under an exclusive per-attempt lock, applies fn
	// and persists the result. Nothing is written when fn returns an error.
	// Returns nil, nil when the attempt does not exist.
	Mutate(ctx context.Context, id int64, fn func(*domain.DeliveryAttempt) error) (*domain.DeliveryAttempt, error)
	// ExpirePending finalizes pending attempts started before the cutoff as
	// timedout and returns their IDs.
	ExpirePending(ctx context.Context, startedBefore time.Time) ([]int64, error)
	List(ctx context.Context, params AttemptListParams) ([]domain.DeliveryAttempt, int64, error)
	// Summary aggregates the full history of one MSISDN.
	Summary(ctx context.Context, msisdn string) (AttemptSummary, error)
	// Tallies returns terminal counts for each MSISDN that has any attempt.
	Tallies(ctx context.Context, msisdns []string) (map[string]domain.ReliabilityTally, error)
}

// AttemptListParams holds filter + pagination for listing attempts.
type AttemptListParams struct {
	MSISDN    string
	Status    *domain.AttemptStatus
	StartFrom *time.Time
	StartTo   *time.Time
	Page      int
	PerPage   int
}

// AttemptSummary holds the per-client aggregates of the tests endpoint.
type AttemptSummary struct {
	Success  int64
	TimedOut int64
	Records  int64
}

// SegmentStore caches image-text segments until a session is complete.
type SegmentStore interface {
	// Save stores a segment and returns how many distinct segments the
	// session now holds. Duplicate segment numbers are ignored.
	Save(ctx context.Context, seg domain.Segment) (int, error)
	// Claim removes a complete session and returns its segments in order.
	// It returns nil when the session is incomplete or another caller
	// claimed it first.
	Claim(ctx context.Context, seg domain.Segment) ([]domain.Segment, error)
}
