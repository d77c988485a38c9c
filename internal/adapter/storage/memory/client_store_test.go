package memory

import (
	"context"
	"math"
	"testing"
	"time"

	"relay-gateway/internal/core/domain"
	"relay-gateway/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upsert(t *testing.T, s *ClientStore, msisdn, country, operator string, p domain.Protocol, at time.Time) {
	t.Helper()
	require.NoError(t, s.Upsert(context.Background(), &domain.GatewayClient{
		MSISDN:            msisdn,
		Country:           country,
		Operator:          operator,
		Protocols:         []domain.Protocol{p},
		LastPublishedDate: &at,
	}))
}

func TestClientStore_UpsertMerges(t *testing.T) {
	s := NewClientStore()
	ctx := context.Background()

	upsert(t, s, "+237600000001", "Cameroon", "MTN Cameroon", domain.ProtocolSMTP, t0.Add(time.Hour))
	upsert(t, s, "+237600000001", "", "", domain.ProtocolHTTPS, t0)

	c, err := s.GetByMSISDN(ctx, "+237600000001")
	require.NoError(t, err)
	assert.Equal(t, "Cameroon", c.Country)
	assert.Equal(t, "MTN Cameroon", c.Operator)
	assert.Equal(t, []domain.Protocol{domain.ProtocolHTTPS, domain.ProtocolSMTP}, c.Protocols)
	assert.True(t, c.LastPublishedDate.Equal(t0.Add(time.Hour)), "older publish date must not win")

	missing, err := s.GetByMSISDN(ctx, "+1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestClientStore_ListFiltersAndOrder(t *testing.T) {
	s := NewClientStore()
	ctx := context.Background()

	upsert(t, s, "+237600000001", "Cameroon", "MTN Cameroon", domain.ProtocolSMTP, t0)
	upsert(t, s, "+237600000002", "Cameroon", "Orange", domain.ProtocolFTP, t0.Add(time.Hour))
	upsert(t, s, "+2348031234567", "Nigeria", "MTN", domain.ProtocolHTTPS, t0.Add(2*time.Hour))

	all, total, err := s.List(ctx, ports.ClientListParams{Page: 1, PerPage: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, "+2348031234567", all[0].MSISDN)

	country := "cameroon"
	list, total, err := s.List(ctx, ports.ClientListParams{Country: &country, Page: 1, PerPage: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, list, 1)
	assert.Equal(t, "+237600000002", list[0].MSISDN)

	operator := "mtn"
	list, _, err = s.List(ctx, ports.ClientListParams{Operator: &operator, Page: 1, PerPage: 10})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	proto := domain.ProtocolFTP
	list, _, err = s.List(ctx, ports.ClientListParams{Protocol: &proto, Page: 1, PerPage: 10})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "+237600000002", list[0].MSISDN)

	since := t0.Add(90 * time.Minute)
	list, _, err = s.List(ctx, ports.ClientListParams{PublishedSince: &since, Page: 1, PerPage: 10})
	require.NoError(t, err)
	require.Len(t, list, 1)

	for _, page := range []int{5, math.MaxInt / 2, math.MaxInt} {
		beyond, total, err := s.List(ctx, ports.ClientListParams{Page: page, PerPage: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Empty(t, beyond)
	}
}

func TestClientStore_CountriesAndOperators(t *testing.T) {
	s := NewClientStore()
	ctx := context.Background()

	upsert(t, s, "+237600000001", "Cameroon", "MTN Cameroon", domain.ProtocolSMTP, t0)
	upsert(t, s, "+237600000002", "Cameroon", "Orange", domain.ProtocolFTP, t0)
	upsert(t, s, "+237600000003", "Cameroon", "Orange", domain.ProtocolFTP, t0)
	upsert(t, s, "+2348031234567", "Nigeria", "MTN", domain.ProtocolHTTPS, t0)
	upsert(t, s, "+999", "", "", domain.ProtocolHTTPS, t0)

	countries, err := s.Countries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cameroon", "Nigeria"}, countries)

	operators, err := s.Operators(ctx, "CAMEROON")
	require.NoError(t, err)
	assert.Equal(t, []string{"MTN Cameroon", "Orange"}, operators)

	none, err := s.Operators(ctx, "Ghana")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
