package service

import (
	"context"
	"fmt"
	"time"

	"relay-gateway/internal/core/domain"
	"relay-gateway/internal/core/ports"
	"relay-gateway/pkg/apperror"
	"relay-gateway/pkg/logger"

	"github.com/rs/zerolog"
)

// LedgerServiceImpl implements ports.Ledger. Every state change goes through
// AttemptRepository.Mutate, which serializes writers per attempt id.
type LedgerServiceImpl struct {
	repo           ports.AttemptRepository
	pendingTimeout time.Duration
	log            zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(repo ports.AttemptRepository, pendingTimeout time.Duration, log zerolog.Logger) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		repo:           repo,
		pendingTimeout: pendingTimeout,
		log:            log,
	}
}

// Open creates a pending attempt whose start time is the payload receipt time.
func (s *LedgerServiceImpl) Open(ctx context.Context, msisdn string, start time.Time) (*domain.DeliveryAttempt, error) {
	attempt := domain.NewDeliveryAttempt(msisdn, start)
	if err := s.repo.Create(ctx, attempt); err != nil {
		return nil, apperror.ErrPersistence(fmt.Errorf("create attempt: %w", err))
	}
	return attempt, nil
}

func (s *LedgerServiceImpl) RecordStage(ctx context.Context, attemptID int64, stage domain.Stage, at time.Time) error {
	_, err := s.mutate(ctx, attemptID, func(a *domain.DeliveryAttempt) error {
		return a.RecordStage(stage, at)
	})
	return err
}

// Finalize sets the terminal status. Repeating the stored status is a no-op;
// any other change to a terminal attempt is an InvalidTransition.
func (s *LedgerServiceImpl) Finalize(ctx context.Context, attemptID int64, status domain.AttemptStatus, at time.Time) error {
	var changed bool
	attempt, err := s.mutate(ctx, attemptID, func(a *domain.DeliveryAttempt) error {
		c, err := a.Finalize(status, at)
		changed = c
		return err
	})
	if err != nil {
		return err
	}

	if changed {
		s.log.Info().
			Int64("attempt_id", attemptID).
			Str("msisdn", logger.MaskSender(attempt.MSISDN)).
			Str("status", string(status)).
			Msg("attempt finalized")
	}
	return nil
}

// QueryForClient returns one page of attempts plus the client's full-history
// aggregates, which never depend on the requested page.
func (s *LedgerServiceImpl) QueryForClient(ctx context.Context, params ports.AttemptListParams) (*ports.ClientTests, error) {
	params.Page, params.PerPage = normalizePage(params.Page, params.PerPage)

	tests, total, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, apperror.ErrPersistence(fmt.Errorf("list attempts: %w", err))
	}

	summary, err := s.repo.Summary(ctx, params.MSISDN)
	if err != nil {
		return nil, apperror.ErrPersistence(fmt.Errorf("summarize attempts: %w", err))
	}

	if tests == nil {
		tests = []domain.DeliveryAttempt{}
	}
	return &ports.ClientTests{Tests: tests, Total: total, Summary: summary}, nil
}

// ExpireStale finalizes every pending attempt older than the pending timeout.
func (s *LedgerServiceImpl) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.repo.ExpirePending(ctx, now.Add(-s.pendingTimeout))
	if err != nil {
		return 0, apperror.ErrPersistence(fmt.Errorf("expire pending attempts: %w", err))
	}

	for _, id := range ids {
		s.log.Info().
			Int64("attempt_id", id).
			Str("status", string(domain.AttemptStatusTimedOut)).
			Msg("attempt finalized by sweeper")
	}
	return len(ids), nil
}

func (s *LedgerServiceImpl) mutate(ctx context.Context, attemptID int64, fn func(*domain.DeliveryAttempt) error) (*domain.DeliveryAttempt, error) {
	var transitionErr error
	attempt, err := s.repo.Mutate(ctx, attemptID, func(a *domain.DeliveryAttempt) error {
		if err := fn(a); err != nil {
			transitionErr = err
			return err
		}
		return nil
	})
	if transitionErr != nil {
		return nil, apperror.ErrInvalidTransition(attemptID, transitionErr)
	}
	if err != nil {
		return nil, apperror.ErrPersistence(fmt.Errorf("update attempt %d: %w", attemptID, err))
	}
	if attempt == nil {
		return nil, apperror.ErrNotFound("Attempt")
	}
	return attempt, nil
}
