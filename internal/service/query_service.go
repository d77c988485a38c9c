package service

import (
	"context"
	"fmt"
	"strings"

	"relay-gateway/internal/core/domain"
	"relay-gateway/internal/core/ports"
	"relay-gateway/pkg/apperror"
)

// QueryServiceImpl implements ports.QueryService over the registry and ledger.
type QueryServiceImpl struct {
	registry ports.Registry
	ledger   ports.Ledger
	clients  ports.ClientRepository
}

// NewQueryService creates a new QueryServiceImpl.
func NewQueryService(registry ports.Registry, ledger ports.Ledger, clients ports.ClientRepository) *QueryServiceImpl {
	return &QueryServiceImpl{registry: registry, ledger: ledger, clients: clients}
}

func (s *QueryServiceImpl) ListClients(ctx context.Context, params ports.ClientListParams) ([]domain.GatewayClient, int64, error) {
	return s.registry.Query(ctx, params)
}

func (s *QueryServiceImpl) ListTests(ctx context.Context, params ports.AttemptListParams) (*ports.ClientTests, error) {
	if strings.TrimSpace(params.MSISDN) == "" {
		return nil, apperror.Validation("MSISDN is required")
	}
	return s.ledger.QueryForClient(ctx, params)
}

func (s *QueryServiceImpl) Countries(ctx context.Context) ([]string, error) {
	countries, err := s.clients.Countries(ctx)
	if err != nil {
		return nil, apperror.ErrPersistence(fmt.Errorf("list countries: %w", err))
	}
	if countries == nil {
		countries = []string{}
	}
	return countries, nil
}

func (s *QueryServiceImpl) Operators(ctx context.Context, country string) ([]string, error) {
	country = strings.TrimSpace(country)
	if country == "" {
		return nil, apperror.Validation("Country parameter is required")
	}
	operators, err := s.clients.Operators(ctx, country)
	if err != nil {
		return nil, apperror.ErrPersistence(fmt.Errorf("list operators: %w", err))
	}
	if operators == nil {
		operators = []string{}
	}
	return operators, nil
}
