package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"relay-gateway/internal/core/domain"
	"relay-gateway/internal/core/payload"
	"relay-gateway/internal/core/ports"
	"relay-gateway/internal/observability"
	"relay-gateway/pkg/apperror"
	"relay-gateway/pkg/logger"

	"github.com/rs/zerolog"
)

const defaultAttemptDeadline = 30 * time.Second

// RouterOptions holds the routing policy.
type RouterOptions struct {
	// DisableBridgeOverHTTP rejects Bridge payloads that arrived on a channel
	// without TLS.
	DisableBridgeOverHTTP bool
	AttemptDeadline       time.Duration
}

// RouterServiceImpl implements ports.Router. It makes exactly one downstream
// call per accepted payload and never retries.
type RouterServiceImpl struct {
	clients  map[domain.Downstream]ports.DownstreamClient
	ledger   ports.Ledger
	registry ports.Registry
	plan     ports.NumberingPlan
	opts     RouterOptions
	metrics  *observability.Metrics
	now      func() time.Time
	log      zerolog.Logger
}

// NewRouterService creates a new RouterServiceImpl.
func NewRouterService(
	bridge ports.DownstreamClient,
	publisher ports.DownstreamClient,
	ledger ports.Ledger,
	registry ports.Registry,
	plan ports.NumberingPlan,
	opts RouterOptions,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *RouterServiceImpl {
	if opts.AttemptDeadline <= 0 {
		opts.AttemptDeadline = defaultAttemptDeadline
	}
	return &RouterServiceImpl{
		clients: map[domain.Downstream]ports.DownstreamClient{
			domain.DownstreamBridge:    bridge,
			domain.DownstreamPublisher: publisher,
		},
		ledger:   ledger,
		registry: registry,
		plan:     plan,
		opts:     opts,
		metrics:  metrics,
		now:      time.Now,
		log:      log,
	}
}

// Route validates and decodes p, opens a delivery attempt and forwards the
// body to the downstream selected by the discriminator byte.
func (s *RouterServiceImpl) Route(ctx context.Context, p *domain.CanonicalPayload) (*domain.RouteOutcome, error) {
	if strings.TrimSpace(p.MSISDN) == "" {
		return nil, apperror.Validation("Missing required field: address or MSISDN")
	}
	if strings.TrimSpace(p.Text) == "" {
		return nil, apperror.Validation("Missing required field: text")
	}

	// Malformed input fails before an attempt exists.
	decoded, err := payload.Apply(p)
	if err != nil {
		return nil, apperror.ErrMalformedPayload(err)
	}

	target := decoded.Route
	if target == domain.DownstreamBridge && s.opts.DisableBridgeOverHTTP && !p.Secure {
		return nil, apperror.ErrPolicyViolation("Bridge payloads are not accepted over an unencrypted channel")
	}
	client, ok := s.clients[target]
	if !ok || client == nil {
		return nil, apperror.ErrDownstreamUnavailable(string(target), errors.New("no client configured"))
	}

	received := p.ReceivedAt
	if received.IsZero() {
		received = s.now()
		p.ReceivedAt = received
	}

	attempt, err := s.ledger.Open(ctx, p.MSISDN, received)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.RecordStage(ctx, attempt.ID, domain.StageReceived, received); err != nil {
		return nil, err
	}
	if err := s.ledger.RecordStage(ctx, attempt.ID, domain.StageRouted, s.stamp(received)); err != nil {
		return nil, err
	}

	req := ports.DownstreamRequest{
		Content:  base64.StdEncoding.EncodeToString(p.Body),
		Metadata: buildMetadata(target, p),
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.AttemptDeadline)
	callStart := time.Now()
	resp, callErr := client.PublishContent(callCtx, req)
	cancel()
	s.metrics.ObserveDownstreamCall(string(target), time.Since(callStart))

	if callErr == nil && (resp == nil || !resp.Success) {
		callErr = fmt.Errorf("%s rejected the payload: %s", target, responseMessage(resp))
	}

	// The terminal write must land even when the caller has gone away.
	writeCtx := context.WithoutCancel(ctx)

	if callErr != nil {
		return nil, s.fail(writeCtx, attempt.ID, target, p, callErr)
	}

	if err := s.ledger.Finalize(writeCtx, attempt.ID, domain.AttemptStatusSuccess, s.stamp(received)); err != nil {
		// Lost the race against the sweeper; the caller must see the rejection.
		s.log.Warn().Err(err).Int64("attempt_id", attempt.ID).Msg("downstream success rejected by ledger")
		return nil, err
	}
	s.metrics.IncRouted(string(target), string(domain.AttemptStatusSuccess))

	country, operator := s.plan.Lookup(p.MSISDN)
	if err := s.registry.Upsert(writeCtx, p.MSISDN, country, operator, p.Protocol); err != nil {
		s.log.Error().Err(err).Str("msisdn", logger.MaskSender(p.MSISDN)).Msg("client registry update failed")
	}

	return &domain.RouteOutcome{
		Downstream: target,
		Response:   responseText(resp),
		AttemptID:  attempt.ID,
	}, nil
}

func (s *RouterServiceImpl) fail(ctx context.Context, attemptID int64, target domain.Downstream, p *domain.CanonicalPayload, callErr error) error {
	if err := s.ledger.Finalize(ctx, attemptID, domain.AttemptStatusTimedOut, s.stamp(p.ReceivedAt)); err != nil {
		s.log.Error().Err(err).Int64("attempt_id", attemptID).Msg("failed to record timedout attempt")
	} else {
		s.metrics.IncRouted(string(target), string(domain.AttemptStatusTimedOut))
	}

	s.log.Warn().
		Err(callErr).
		Int64("attempt_id", attemptID).
		Str("downstream", string(target)).
		Str("protocol", string(p.Protocol)).
		Str("msisdn", logger.MaskSender(p.MSISDN)).
		Msg("downstream delivery failed")

	name := downstreamName(target)
	if errors.Is(callErr, context.DeadlineExceeded) {
		return apperror.ErrDownstreamTimeout(name, callErr)
	}
	return apperror.ErrDownstreamUnavailable(name, callErr)
}

// stamp returns the current time, clamped so stage timestamps never precede
// the receipt time.
func (s *RouterServiceImpl) stamp(received time.Time) time.Time {
	now := s.now()
	if now.Before(received) {
		return received
	}
	return now
}

func buildMetadata(target domain.Downstream, p *domain.CanonicalPayload) map[string]string {
	if target == domain.DownstreamBridge {
		imageLength := ""
		if p.ImageLength > 0 {
			imageLength = strconv.Itoa(p.ImageLength)
		}
		return map[string]string{
			"From":         p.MSISDN,
			"Image-Length": imageLength,
		}
	}
	return map[string]string{
		"From":      p.MSISDN,
		"Date":      millisToSeconds(p.Date),
		"Date_sent": millisToSeconds(p.DateSent),
	}
}

// millisToSeconds converts a device timestamp in milliseconds to whole
// seconds. Values that are not integers pass through unchanged.
func millisToSeconds(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return v
	}
	return strconv.FormatInt(ms/1000, 10)
}

func responseText(resp *ports.DownstreamResponse) string {
	if resp == nil {
		return ""
	}
	if resp.PublisherResponse != "" {
		return resp.PublisherResponse
	}
	return resp.Message
}

func responseMessage(resp *ports.DownstreamResponse) string {
	if resp == nil || resp.Message == "" {
		return "no message"
	}
	return resp.Message
}

func downstreamName(target domain.Downstream) string {
	switch target {
	case domain.DownstreamBridge:
		return "Bridge"
	case domain.DownstreamPublisher:
		return "Publisher"
	default:
		return string(target)
	}
}
