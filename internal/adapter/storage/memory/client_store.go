package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"relay-gateway/internal/core/domain"
	"relay-gateway/internal/core/ports"
)

// ClientStore implements ports.ClientRepository in process memory with the
// same merge rules as the SQL upsert.
type ClientStore struct {
	mu      sync.RWMutex
	clients map[string]*domain.GatewayClient
}

func NewClientStore() *ClientStore {
	return &ClientStore{clients: make(map[string]*domain.GatewayClient)}
}

func (s *ClientStore) Upsert(ctx context.Context, c *domain.GatewayClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.clients[c.MSISDN]
	if !ok {
		stored := cloneClient(*c)
		stored.Protocols = domain.MergeProtocols(nil, c.Protocols...)
		s.clients[c.MSISDN] = &stored
		return nil
	}

	if c.Country != "" {
		existing.Country = c.Country
	}
	if c.Operator != "" {
		existing.Operator = c.Operator
	}
	if c.OperatorCode != "" {
		existing.OperatorCode = c.OperatorCode
	}
	existing.Protocols = domain.MergeProtocols(existing.Protocols, c.Protocols...)
	if c.LastPublishedDate != nil &&
		(existing.LastPublishedDate == nil || c.LastPublishedDate.After(*existing.LastPublishedDate)) {
		existing.LastPublishedDate = cloneTime(c.LastPublishedDate)
	}
	return nil
}

func (s *ClientStore) GetByMSISDN(ctx context.Context, msisdn string) (*domain.GatewayClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[msisdn]
	if !ok {
		return nil, nil
	}
	out := cloneClient(*c)
	return &out, nil
}

// List orders by last_published_date descending (unset last), then MSISDN.
func (s *ClientStore) List(ctx context.Context, params ports.ClientListParams) ([]domain.GatewayClient, int64, error) {
	s.mu.RLock()
	var matched []domain.GatewayClient
	for _, c := range s.clients {
		if matches(c, params) {
			matched = append(matched, cloneClient(*c))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i].LastPublishedDate, matched[j].LastPublishedDate
		switch {
		case a == nil && b == nil:
			return matched[i].MSISDN < matched[j].MSISDN
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		default:
			return matched[i].MSISDN < matched[j].MSISDN
		}
	})

	total := int64(len(matched))
	return page(matched, params.Page, params.PerPage), total, nil
}

func (s *ClientStore) Countries(ctx context.Context) ([]string, error) {
	return s.distinct(func(c *domain.GatewayClient) (string, bool) {
		return c.Country, c.Country != ""
	}), nil
}

func (s *ClientStore) Operators(ctx context.Context, country string) ([]string, error) {
	return s.distinct(func(c *domain.GatewayClient) (string, bool) {
		return c.Operator, c.Operator != "" && strings.EqualFold(c.Country, country)
	}), nil
}

func (s *ClientStore) distinct(pick func(*domain.GatewayClient) (string, bool)) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	values := []string{}
	for _, c := range s.clients {
		v, ok := pick(c)
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}
	sort.Strings(values)
	return values
}

func matches(c *domain.GatewayClient, params ports.ClientListParams) bool {
	if params.Country != nil && !strings.EqualFold(c.Country, *params.Country) {
		return false
	}
	if params.Operator != nil &&
		!strings.Contains(strings.ToLower(c.Operator), strings.ToLower(*params.Operator)) {
		return false
	}
	if params.Protocol != nil && !c.HasProtocol(*params.Protocol) {
		return false
	}
	if params.PublishedSince != nil &&
		(c.LastPublishedDate == nil || c.LastPublishedDate.Before(*params.PublishedSince)) {
		return false
	}
	return true
}

func cloneClient(c domain.GatewayClient) domain.GatewayClient {
	c.Protocols = append([]domain.Protocol(nil), c.Protocols...)
	c.LastPublishedDate = cloneTime(c.LastPublishedDate)
	return c
}
