package handler

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"relay-gateway/internal/adapter/http/dto"
	"relay-gateway/internal/core/domain"
	"relay-gateway/internal/core/ports"
	"relay-gateway/internal/core/ports/mocks"
	"relay-gateway/pkg/apperror"
	"relay-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func postJSON(t *testing.T, body any) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v3/publish", bytes.NewReader(raw))
	c.Request.Header.Set("Content-Type", "application/json")
	return w, c
}

func get(target string, params ...gin.Param) (*httptest.ResponseRecorder, *gin.Context) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	c.Params = params
	return w, c
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) response.ErrorResponse {
	t.Helper()
	var resp response.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// --- Publish Handler Tests ---

func TestPublish_Routed(t *testing.T) {
	ctrl := gomock.NewController(t)
	router := mocks.NewMockRouter(ctrl)
	h := NewPublishHandler(router, nil)

	router.EXPECT().Route(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p *domain.CanonicalPayload) (*domain.RouteOutcome, error) {
			assert.Equal(t, "AWhlbGxv", p.Text)
			assert.Equal(t, "+237600000001", p.MSISDN)
			assert.Equal(t, domain.ProtocolHTTPS, p.Protocol)
			assert.Equal(t, "1700000000123", p.Date)
			assert.False(t, p.Secure)
			assert.False(t, p.ReceivedAt.IsZero())
			return &domain.RouteOutcome{Downstream: domain.DownstreamPublisher, Response: "Published to gmail", AttemptID: 1}, nil
		})

	w, c := postJSON(t, map[string]any{"text": "AWhlbGxv", "address": "+237600000001", "date": 1700000000123})
	h.Publish(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp dto.PublishResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Published to gmail", resp.PublisherResponse)
}

func TestPublish_TLSRequestIsSecure(t *testing.T) {
	ctrl := gomock.NewController(t)
	router := mocks.NewMockRouter(ctrl)
	h := NewPublishHandler(router, nil)

	router.EXPECT().Route(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p *domain.CanonicalPayload) (*domain.RouteOutcome, error) {
			assert.True(t, p.Secure)
			return &domain.RouteOutcome{Downstream: domain.DownstreamBridge, Response: "ok"}, nil
		})

	w, c := postJSON(t, map[string]any{"text": "AGhlbGxv", "MSISDN": "+237600000001"})
	c.Request.TLS = &tls.ConnectionState{}
	h.Publish(c)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPublish_BufferedSegment(t *testing.T) {
	ctrl := gomock.NewController(t)
	router := mocks.NewMockRouter(ctrl)
	h := NewPublishHandler(router, nil)

	router.EXPECT().Route(gomock.Any(), gomock.Any()).Return(&domain.RouteOutcome{Buffered: true, Response: "Segment 1/3 received (1 held)"}, nil)

	w, c := postJSON(t, map[string]any{"text": "040703AAA", "MSISDN": "+237600000001"})
	h.Publish(c)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "Segment 1/3")
}

func TestPublish_InvalidJSON(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := NewPublishHandler(mocks.NewMockRouter(ctrl), nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v3/publish", bytes.NewReader([]byte("{not json")))
	c.Request.Header.Set("Content-Type", "application/json")
	h.Publish(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperror.CodeValidation, decodeError(t, w).ErrorCode)
}

func TestPublish_InvalidSenderFormat(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := NewPublishHandler(mocks.NewMockRouter(ctrl), nil)

	w, c := postJSON(t, map[string]any{"text": "AQ==", "MSISDN": "not-a-number"})
	h.Publish(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublish_RouterErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", apperror.Validation("Missing required field: address or MSISDN"), http.StatusBadRequest, apperror.CodeValidation},
		{"malformed", apperror.ErrMalformedPayload(errors.New("bad base64")), http.StatusBadRequest, apperror.CodeMalformedPayload},
		{"policy", apperror.ErrPolicyViolation("Bridge payloads are not accepted over an unencrypted channel"), http.StatusForbidden, apperror.CodePolicyViolation},
		{"unavailable", apperror.ErrDownstreamUnavailable("Publisher", errors.New("refused")), http.StatusInternalServerError, apperror.CodeDownstreamDown},
		{"timeout", apperror.ErrDownstreamTimeout("Bridge", context.DeadlineExceeded), http.StatusInternalServerError, apperror.CodeDownstreamTimeout},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "SYS_000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			router := mocks.NewMockRouter(ctrl)
			h := NewPublishHandler(router, nil)
			router.EXPECT().Route(gomock.Any(), gomock.Any()).Return(nil, tt.err)

			w, c := postJSON(t, map[string]any{"text": "AQ==", "MSISDN": "+237600000001"})
			h.Publish(c)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w).ErrorCode)
		})
	}
}

// --- Client Handler Tests ---

func TestListClients_FiltersAndHeaders(t *testing.T) {
	ctrl := gomock.NewController(t)
	query := mocks.NewMockQueryService(ctrl)
	h := NewClientHandler(query)

	published := time.Unix(1_700_000_000, 0).UTC()
	query.EXPECT().ListClients(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, params ports.ClientListParams) ([]domain.GatewayClient, int64, error) {
			require.NotNil(t, params.Country)
			assert.Equal(t, "Cameroon", *params.Country)
			require.NotNil(t, params.Protocol)
			assert.Equal(t, domain.ProtocolSMTP, *params.Protocol)
			require.NotNil(t, params.PublishedSince)
			assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *params.PublishedSince)
			assert.Nil(t, params.Operator)
			assert.Equal(t, 2, params.Page)
			assert.Equal(t, 1, params.PerPage)
			return []domain.GatewayClient{{
				MSISDN:            "+237600000002",
				Country:           "Cameroon",
				Operator:          "Orange",
				Protocols:         []domain.Protocol{domain.ProtocolSMTP},
				LastPublishedDate: &published,
			}}, 3, nil
		})

	w, c := get("/v3/clients?country=Cameroon&protocols=smtp&last_published_date=2024-03-01&page=2&per_page=1")
	h.ListClients(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "3", w.Header().Get(response.HeaderTotalCount))
	assert.Equal(t, "2", w.Header().Get(response.HeaderPage))
	assert.Equal(t, "1", w.Header().Get(response.HeaderPerPage))
	assert.Contains(t, w.Header().Get(response.HeaderLink), `rel="next"`)

	var body []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "+237600000002", body[0]["msisdn"])
	assert.Nil(t, body[0]["reliability"])
	assert.Equal(t, float64(1_700_000_000), body[0]["last_published_date"])
}

func TestListClients_EmptyIsArray(t *testing.T) {
	ctrl := gomock.NewController(t)
	query := mocks.NewMockQueryService(ctrl)
	h := NewClientHandler(query)
	query.EXPECT().ListClients(gomock.Any(), gomock.Any()).Return([]domain.GatewayClient{}, int64(0), nil)

	w, c := get("/v3/clients")
	h.ListClients(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
	assert.Equal(t, "0", w.Header().Get(response.HeaderTotalCount))
}

func TestListClients_BadParams(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := NewClientHandler(mocks.NewMockQueryService(ctrl))

	for _, target := range []string{
		"/v3/clients?page=0",
		"/v3/clients?per_page=abc",
		"/v3/clients?protocols=gopher",
		"/v3/clients?last_published_date=yesterday",
	} {
		w, c := get(target)
		h.ListClients(c)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
}

func TestListTests(t *testing.T) {
	ctrl := gomock.NewController(t)
	query := mocks.NewMockQueryService(ctrl)
	h := NewClientHandler(query)

	start := time.Unix(1_700_000_000, 0).UTC()
	query.EXPECT().ListTests(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, params ports.AttemptListParams) (*ports.ClientTests, error) {
			assert.Equal(t, "+237600000001", params.MSISDN)
			require.NotNil(t, params.Status)
			assert.Equal(t, domain.AttemptStatusSuccess, *params.Status)
			require.NotNil(t, params.StartFrom)
			require.NotNil(t, params.StartTo)
			assert.Equal(t, 10, params.PerPage)
			return &ports.ClientTests{
				Tests:   []domain.DeliveryAttempt{{ID: 4, MSISDN: "+237600000001", StartTime: start, Status: domain.AttemptStatusSuccess}},
				Total:   1,
				Summary: ports.AttemptSummary{Success: 1, TimedOut: 2, Records: 3},
			}, nil
		})

	w, c := get("/v3/clients/+237600000001/tests?status=success&start_time=2023-01-01T00:00:00&end_time=2025-01-01",
		gin.Param{Key: clientKeyParam, Value: "+237600000001"})
	h.ListTests(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get(response.HeaderTotalCount))
	var body dto.TestListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.TotalSuccess)
	assert.Equal(t, int64(2), body.TotalFailed)
	assert.Equal(t, int64(3), body.TotalRecords)
	require.Len(t, body.Data, 1)
	assert.Equal(t, start.Unix(), body.Data[0].StartTime)
}

func TestListTests_InvalidStatus(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := NewClientHandler(mocks.NewMockQueryService(ctrl))

	w, c := get("/v3/clients/+1/tests?status=lost", gin.Param{Key: clientKeyParam, Value: "+1"})
	h.ListTests(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCountriesAndOperators(t *testing.T) {
	ctrl := gomock.NewController(t)
	query := mocks.NewMockQueryService(ctrl)
	h := NewClientHandler(query)

	query.EXPECT().Countries(gomock.Any()).Return([]string{"Cameroon", "Nigeria"}, nil)
	w, c := get("/v3/clients/countries")
	h.Countries(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["Cameroon","Nigeria"]`, w.Body.String())

	query.EXPECT().Operators(gomock.Any(), "cameroon").Return([]string{"MTN Cameroon"}, nil)
	w, c = get("/v3/clients/cameroon/operators", gin.Param{Key: clientKeyParam, Value: "cameroon"})
	h.Operators(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["MTN Cameroon"]`, w.Body.String())

	query.EXPECT().Countries(gomock.Any()).Return(nil, apperror.ErrPersistence(errors.New("db down")))
	w, c = get("/v3/clients/countries")
	h.Countries(c)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// --- Health Tests ---

func TestHealthCheck(t *testing.T) {
	ctrl := gomock.NewController(t)
	pg := mocks.NewMockHealthChecker(ctrl)
	rd := mocks.NewMockHealthChecker(ctrl)
	pg.EXPECT().Name().Return("postgresql").AnyTimes()
	rd.EXPECT().Name().Return("redis").AnyTimes()

	pg.EXPECT().Ping(gomock.Any()).Return(nil)
	rd.EXPECT().Ping(gomock.Any()).Return(nil)
	w, c := get("/health")
	HealthCheck(pg, rd)(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)

	pg.EXPECT().Ping(gomock.Any()).Return(nil)
	rd.EXPECT().Ping(gomock.Any()).Return(errors.New("connection refused"))
	w, c = get("/health")
	HealthCheck(pg, rd)(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestSwagger(t *testing.T) {
	w, c := get("/swagger/spec")
	SwaggerSpec(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/v3/publish")

	w, c = get("/swagger")
	SwaggerUI(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "swagger-ui")
}
