package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"relay-gateway/internal/core/domain"
	"relay-gateway/internal/core/ports"
	"relay-gateway/pkg/apperror"

	"github.com/rs/zerolog"
)

// RegistryServiceImpl implements ports.Registry.
type RegistryServiceImpl struct {
	clients  ports.ClientRepository
	attempts ports.AttemptRepository
	now      func() time.Time
	log      zerolog.Logger
}

// NewRegistryService creates a new RegistryServiceImpl.
func NewRegistryService(clients ports.ClientRepository, attempts ports.AttemptRepository, log zerolog.Logger) *RegistryServiceImpl {
	return &RegistryServiceImpl{
		clients:  clients,
		attempts: attempts,
		now:      time.Now,
		log:      log,
	}
}

// Upsert records a successful delivery from msisdn. Country and operator are
// last-write-wins; the protocol is added to the client's protocol set.
func (s *RegistryServiceImpl) Upsert(ctx context.Context, msisdn, country, operator string, protocol domain.Protocol) error {
	msisdn = strings.TrimSpace(msisdn)
	if msisdn == "" {
		return apperror.Validation("MSISDN is required")
	}

	now := s.now().UTC()
	client := &domain.GatewayClient{
		MSISDN:            msisdn,
		Country:           strings.TrimSpace(country),
		Operator:          strings.TrimSpace(operator),
		Protocols:         domain.MergeProtocols(nil, protocol),
		LastPublishedDate: &now,
	}
	if err := s.clients.Upsert(ctx, client); err != nil {
		return apperror.ErrPersistence(fmt.Errorf("upsert client: %w", err))
	}
	return nil
}

// Query lists clients and attaches each one's reliability tally, computed
// from the ledger at read time.
func (s *RegistryServiceImpl) Query(ctx context.Context, params ports.ClientListParams) ([]domain.GatewayClient, int64, error) {
	params.Page, params.PerPage = normalizePage(params.Page, params.PerPage)

	clients, total, err := s.clients.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.ErrPersistence(fmt.Errorf("list clients: %w", err))
	}
	if len(clients) == 0 {
		return []domain.GatewayClient{}, total, nil
	}

	msisdns := make([]string, len(clients))
	for i := range clients {
		msisdns[i] = clients[i].MSISDN
	}
	tallies, err := s.attempts.Tallies(ctx, msisdns)
	if err != nil {
		return nil, 0, apperror.ErrPersistence(fmt.Errorf("tally attempts: %w", err))
	}
	for i := range clients {
		clients[i].Reliability = tallies[clients[i].MSISDN]
	}

	return clients, total, nil
}
