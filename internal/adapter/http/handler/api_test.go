package handler_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"relay-gateway/internal/adapter/http/dto"
	"relay-gateway/internal/adapter/http/handler"
	"relay-gateway/internal/adapter/http/middleware"
	"relay-gateway/internal/adapter/storage/memory"
	redisstore "relay-gateway/internal/adapter/storage/redis"
	"relay-gateway/internal/core/domain"
	"relay-gateway/internal/core/ports"
	"relay-gateway/internal/service"
	"relay-gateway/pkg/response"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	cmMTN    = "+237677123456"
	cmOrange = "+237699123456"
)

type fakeDownstream struct {
	mu    sync.Mutex
	calls []ports.DownstreamRequest
	resp  *ports.DownstreamResponse
	err   error
}

func (f *fakeDownstream) PublishContent(_ context.Context, req ports.DownstreamRequest) (*ports.DownstreamResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.resp, f.err
}

func (f *fakeDownstream) Calls() []ports.DownstreamRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.DownstreamRequest(nil), f.calls...)
}

type testAPI struct {
	engine    *gin.Engine
	attempts  *memory.AttemptStore
	bridge    *fakeDownstream
	publisher *fakeDownstream
}

type apiOptions struct {
	disableBridgeOverHTTP bool
	publishLimit          middleware.RateLimitRule
}

func newTestAPI(t *testing.T, opts apiOptions) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zerolog.Nop()

	attempts := memory.NewAttemptStore()
	clients := memory.NewClientStore()
	ledger := service.NewLedgerService(attempts, 15*time.Minute, log)
	registry := service.NewRegistryService(clients, attempts, log)

	bridge := &fakeDownstream{resp: &ports.DownstreamResponse{Success: true, Message: "bridged"}}
	publisher := &fakeDownstream{resp: &ports.DownstreamResponse{Success: true, PublisherResponse: "Published to gmail"}}

	router := service.NewRouterService(bridge, publisher, ledger, registry, service.NewNumberingPlan(),
		service.RouterOptions{DisableBridgeOverHTTP: opts.disableBridgeOverHTTP, AttemptDeadline: time.Second}, nil, log)
	assembler := service.NewSegmentAssembler(router, memory.NewSegmentStore(time.Hour), nil, log)

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	engine := handler.SetupRouter(handler.RouterDeps{
		Query:          service.NewQueryService(registry, ledger, clients),
		Router:         assembler,
		RateLimitStore: redisstore.NewRateLimitStore(rdb),
		PublishLimit:   opts.publishLimit,
		Logger:         log,
	})
	return &testAPI{engine: engine, attempts: attempts, bridge: bridge, publisher: publisher}
}

func (a *testAPI) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:5000"
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func (a *testAPI) attemptCount(t *testing.T, msisdn string) int64 {
	t.Helper()
	summary, err := a.attempts.Summary(context.Background(), msisdn)
	require.NoError(t, err)
	return summary.Records
}

func encode(b ...byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func TestAPI_PublishToPublisher(t *testing.T) {
	api := newTestAPI(t, apiOptions{})
	text := encode(append([]byte{0x01}, "hello"...)...)

	w := api.do(t, http.MethodPost, "/v3/publish", map[string]any{
		"text":      text,
		"MSISDN":    cmMTN,
		"date":      1700000000123,
		"date_sent": "1700000000999",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"publisher_response":"Published to gmail"}`, w.Body.String())

	calls := api.publisher.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, text, calls[0].Content, "publisher receives every decoded byte")
	assert.Equal(t, cmMTN, calls[0].Metadata["From"])
	assert.Equal(t, "1700000000", calls[0].Metadata["Date"])
	assert.Equal(t, "1700000000", calls[0].Metadata["Date_sent"])
	assert.Empty(t, api.bridge.Calls())

	w = api.do(t, http.MethodGet, "/v3/clients", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var clients []dto.ClientResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &clients))
	require.Len(t, clients, 1)
	assert.Equal(t, "Cameroon", clients[0].Country)
	assert.Equal(t, []string{"https"}, clients[0].Protocols)
	require.NotNil(t, clients[0].Reliability)
	assert.Equal(t, "100.00", *clients[0].Reliability)
}

func TestAPI_PublishToBridgeStripsDiscriminator(t *testing.T) {
	api := newTestAPI(t, apiOptions{})

	w := api.do(t, http.MethodPost, "/v3/publish", map[string]any{
		"text":    encode(0x00, 'h', 'i'),
		"address": cmMTN,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"publisher_response":"bridged"}`, w.Body.String())

	calls := api.bridge.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, encode('h', 'i'), calls[0].Content)
	assert.Equal(t, cmMTN, calls[0].Metadata["From"])
	assert.Empty(t, api.publisher.Calls())
}

func TestAPI_BridgeOverPlainHTTPRejected(t *testing.T) {
	api := newTestAPI(t, apiOptions{disableBridgeOverHTTP: true})

	w := api.do(t, http.MethodPost, "/v3/publish", map[string]any{
		"text":   encode(0x00, 'h', 'i'),
		"MSISDN": cmMTN,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, api.bridge.Calls())
	assert.Zero(t, api.attemptCount(t, cmMTN))

	// Publisher payloads are unaffected by the policy.
	w = api.do(t, http.MethodPost, "/v3/publish", map[string]any{
		"text":   encode(0x01, 'h', 'i'),
		"MSISDN": cmMTN,
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_MissingSenderRejected(t *testing.T) {
	api := newTestAPI(t, apiOptions{})

	w := api.do(t, http.MethodPost, "/v3/publish", map[string]any{"text": encode(0x01, 'x')})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp response.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "MSISDN")
	assert.Empty(t, api.publisher.Calls())
	assert.Empty(t, api.bridge.Calls())
}

func TestAPI_MalformedBase64Rejected(t *testing.T) {
	api := newTestAPI(t, apiOptions{})

	w := api.do(t, http.MethodPost, "/v3/publish", map[string]any{"text": "%%%not-base64", "MSISDN": cmMTN})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, api.attemptCount(t, cmMTN))
}

func TestAPI_DownstreamFailureFinalizesTimedOut(t *testing.T) {
	api := newTestAPI(t, apiOptions{})
	api.publisher.err = errors.New("connection refused")

	w := api.do(t, http.MethodPost, "/v3/publish", map[string]any{"text": encode(0x01, 'x'), "MSISDN": cmMTN})
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = api.do(t, http.MethodGet, "/v3/clients/"+cmMTN+"/tests", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tests dto.TestListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tests))
	require.Len(t, tests.Data, 1)
	assert.Equal(t, string(domain.AttemptStatusTimedOut), tests.Data[0].Status)
	assert.Equal(t, int64(0), tests.TotalSuccess)
	assert.Equal(t, int64(1), tests.TotalFailed)
	assert.Equal(t, int64(1), tests.TotalRecords)

	// A failed delivery does not register the client.
	w = api.do(t, http.MethodGet, "/v3/clients", nil)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestAPI_ClientPagination(t *testing.T) {
	api := newTestAPI(t, apiOptions{})
	for _, sender := range []string{cmMTN, cmOrange} {
		w := api.do(t, http.MethodPost, "/v3/publish", map[string]any{"text": encode(0x01, 'x'), "MSISDN": sender})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := api.do(t, http.MethodGet, "/v3/clients?country=Cameroon&page=1&per_page=1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var clients []dto.ClientResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &clients))
	assert.Len(t, clients, 1)
	assert.Equal(t, "2", w.Header().Get(response.HeaderTotalCount))
	assert.Equal(t, "1", w.Header().Get(response.HeaderPage))
	assert.Equal(t, "1", w.Header().Get(response.HeaderPerPage))
	assert.Contains(t, w.Header().Get(response.HeaderLink), `rel="next"`)

	w = api.do(t, http.MethodGet, "/v3/clients/countries", nil)
	assert.JSONEq(t, `["Cameroon"]`, w.Body.String())

	w = api.do(t, http.MethodGet, "/v3/clients?per_page=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_SecurityHeaders(t *testing.T) {
	api := newTestAPI(t, apiOptions{})

	for _, target := range []string{"/v3/clients", "/v3/clients?page=-1", "/v3/unknown"} {
		w := api.do(t, http.MethodGet, target, nil)
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"), target)
		assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"), target)
		assert.NotEmpty(t, w.Header().Get("Content-Security-Policy"), target)
		assert.Equal(t, "no-store", w.Header().Get("Cache-Control"), target)
		assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID), target)
	}
}

func TestAPI_PublishRateLimited(t *testing.T) {
	api := newTestAPI(t, apiOptions{publishLimit: middleware.RateLimitRule{Limit: 2, Window: time.Minute}})
	body := map[string]any{"text": encode(0x01, 'x'), "MSISDN": cmMTN}

	for i := 0; i < 2; i++ {
		w := api.do(t, http.MethodPost, "/v3/publish", body)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := api.do(t, http.MethodPost, "/v3/publish", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Len(t, api.publisher.Calls(), 2)

	// Reads are not limited.
	w = api.do(t, http.MethodGet, "/v3/clients", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_HugePageIsEmptyNotError(t *testing.T) {
	api := newTestAPI(t, apiOptions{})
	for _, sender := range []string{cmMTN, cmOrange} {
		w := api.do(t, http.MethodPost, "/v3/publish", map[string]any{"text": encode(0x01, 'x'), "MSISDN": sender})
		require.Equal(t, http.StatusOK, w.Code)
	}

	for _, target := range []string{
		"/v3/clients?page=4611686018427387904&per_page=4",
		"/v3/clients?page=9223372036854775807&per_page=10",
	} {
		w := api.do(t, http.MethodGet, target, nil)
		require.Equal(t, http.StatusOK, w.Code, target)
		assert.JSONEq(t, `[]`, w.Body.String(), target)
		assert.Equal(t, "2", w.Header().Get(response.HeaderTotalCount), target)
	}

	w := api.do(t, http.MethodGet, "/v3/clients/"+cmMTN+"/tests?page=4611686018427387904&per_page=4", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tests dto.TestListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tests))
	assert.Empty(t, tests.Data)
	assert.Equal(t, int64(1), tests.TotalSuccess)
	assert.Equal(t, int64(1), tests.TotalRecords)
	assert.Equal(t, "1", w.Header().Get(response.HeaderTotalCount))
}

func TestAPI_LegacyPublishRoute(t *testing.T) {
	api := newTestAPI(t, apiOptions{publishLimit: middleware.RateLimitRule{Limit: 2, Window: time.Minute}})

	w := api.do(t, http.MethodPost, "/v2/sms/platform/gmail", map[string]any{"text": encode(0x01, 'x'), "MSISDN": cmMTN})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"publisher_response":"Published to gmail"}`, w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	require.Len(t, api.publisher.Calls(), 1)
	assert.Equal(t, int64(1), api.attemptCount(t, cmMTN))

	w = api.do(t, http.MethodPost, "/v2/sms/platform/gmail", map[string]any{"text": "not base64!", "MSISDN": cmMTN})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Both routes draw from the same publish limit.
	w = api.do(t, http.MethodPost, "/v3/publish", map[string]any{"text": encode(0x01, 'x'), "MSISDN": cmMTN})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
