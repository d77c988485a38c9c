package handler

import (
	"strings"
	"time"

	"relay-gateway/internal/adapter/http/dto"
	"relay-gateway/internal/core/domain"
	"relay-gateway/internal/core/ports"
	"relay-gateway/pkg/apperror"
	"relay-gateway/pkg/response"

	"github.com/gin-gonic/gin"
)

const defaultPerPage = 10

// clientKeyParam is shared by /clients/:key/tests (an MSISDN) and
// /clients/:key/operators (a country); gin requires one wildcard name per
// path segment.
const clientKeyParam = "key"

// ClientHandler serves the read-only gateway client endpoints.
type ClientHandler struct {
	query ports.QueryService
}

// NewClientHandler creates a new ClientHandler.
func NewClientHandler(query ports.QueryService) *ClientHandler {
	return &ClientHandler{query: query}
}

// ListClients handles GET /v3/clients.
func (h *ClientHandler) ListClients(c *gin.Context) {
	page, perPage, ok := pagination(c)
	if !ok {
		return
	}

	params := ports.ClientListParams{Page: page, PerPage: perPage}
	if v := strings.TrimSpace(c.Query("country")); v != "" {
		params.Country = &v
	}
	if v := strings.TrimSpace(c.Query("operator")); v != "" {
		params.Operator = &v
	}
	if raw := c.Query("protocols"); raw != "" {
		p, err := dto.ParseProtocols(raw)
		if err != nil {
			response.Error(c, apperror.Validation("Invalid protocols filter. Use https, smtp or ftp."))
			return
		}
		params.Protocol = p
	}
	if raw := c.Query("last_published_date"); raw != "" {
		since, err := dto.ParseDate(raw)
		if err != nil {
			response.Error(c, apperror.Validation("Invalid last_published_date. Please provide a valid ISO format datetime (YYYY-MM-DD)."))
			return
		}
		params.PublishedSince = &since
	}

	clients, total, err := h.query.ListClients(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]dto.ClientResponse, 0, len(clients))
	for _, client := range clients {
		out = append(out, dto.ToClientResponse(client))
	}
	response.Paginate(c, page, perPage, total)
	response.OK(c, out)
}

// ListTests handles GET /v3/clients/:key/tests.
func (h *ClientHandler) ListTests(c *gin.Context) {
	page, perPage, ok := pagination(c)
	if !ok {
		return
	}

	params := ports.AttemptListParams{
		MSISDN:  strings.TrimSpace(c.Param(clientKeyParam)),
		Page:    page,
		PerPage: perPage,
	}
	if raw := c.Query("status"); raw != "" {
		status, err := domain.ParseAttemptStatus(strings.ToLower(raw))
		if err != nil {
			response.Error(c, apperror.Validation("Invalid status. Use pending, success or timedout."))
			return
		}
		params.Status = &status
	}
	for _, f := range []struct {
		name string
		dst  **time.Time
	}{
		{"start_time", &params.StartFrom},
		{"end_time", &params.StartTo},
	} {
		raw := c.Query(f.name)
		if raw == "" {
			continue
		}
		t, err := dto.ParseDate(raw)
		if err != nil {
			response.Error(c, apperror.Validation("Invalid "+f.name+" format. Use ISO format (YYYY-MM-DDTHH:MM:SS)."))
			return
		}
		*f.dst = &t
	}

	res, err := h.query.ListTests(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginate(c, page, perPage, res.Total)
	response.OK(c, dto.ToTestListResponse(res))
}

// Countries handles GET /v3/clients/countries.
func (h *ClientHandler) Countries(c *gin.Context) {
	countries, err := h.query.Countries(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, countries)
}

// Operators handles GET /v3/clients/:key/operators.
func (h *ClientHandler) Operators(c *gin.Context) {
	operators, err := h.query.Operators(c.Request.Context(), c.Param(clientKeyParam))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, operators)
}

// pagination reads page and per_page, writing a 400 when either is invalid.
func pagination(c *gin.Context) (page, perPage int, ok bool) {
	page, err := dto.ParsePage(c.Query("page"), 1)
	if err == nil {
		perPage, err = dto.ParsePage(c.Query("per_page"), defaultPerPage)
	}
	if err != nil {
		response.Error(c, apperror.Validation("Invalid page or per_page parameter. Must be positive integers."))
		return 0, 0, false
	}
	return page, perPage, true
}
