package ports

import (
	"context"
	"time"

	"relay-gateway/internal/core/domain"
)

// Router turns a canonical payload into exactly one downstream delivery.
type Router interface {
	Route(ctx context.Context, p *domain.CanonicalPayload) (*domain.RouteOutcome, error)
}

// Ledger records the timing and outcome of delivery attempts.
type Ledger interface {
	Open(ctx context.Context, msisdn string, start time.Time) (*domain.DeliveryAttempt, error)
	RecordStage(ctx context.Context, attemptID int64, stage domain.Stage, at time.Time) error
	Finalize(ctx context.Context, attemptID int64, status domain.AttemptStatus, at time.Time) error
	QueryForClient(ctx context.Context, params AttemptListParams) (*ClientTests, error)
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

// ClientTests is one page of attempts plus whole-history aggregates.
type ClientTests struct {
	Tests   []domain.DeliveryAttempt
	Total   int64 // rows matching the filters
	Summary AttemptSummary
}

// Registry maintains the set of known gateway clients.
type Registry interface {
	Upsert(ctx context.Context, msisdn, country, operator string, protocol domain.Protocol) error
	Query(ctx context.Context, params ClientListParams) ([]domain.GatewayClient, int64, error)
}

// QueryService is the read path behind the REST API.
type QueryService interface {
	ListClients(ctx context.Context, params ClientListParams) ([]domain.GatewayClient, int64, error)
	ListTests(ctx context.Context, params AttemptListParams) (*ClientTests, error)
	Countries(ctx context.Context) ([]string, error)
	Operators(ctx context.Context, country string) ([]string, error)
}

// DownstreamClient calls one of the gRPC services payloads are delivered to.
type DownstreamClient interface {
	PublishContent(ctx context.Context, req DownstreamRequest) (*DownstreamResponse, error)
}

// DownstreamRequest is the content and metadata sent downstream.
type DownstreamRequest struct {
	Content  string // base64 body
	Metadata map[string]string
}

// DownstreamResponse is what a downstream service returned.
type DownstreamResponse struct {
	Success           bool
	Message           string
	PublisherResponse string
}

// NumberingPlan resolves the country and operator behind an MSISDN.
type NumberingPlan interface {
	Lookup(msisdn string) (country, operator string)
}

// HashService handles password hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// RateLimitStore counts requests per key within a window.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}
