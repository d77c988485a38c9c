package handler

import (
	"errors"
	"net/http"
	"time"

	"relay-gateway/internal/adapter/http/dto"
	"relay-gateway/internal/core/domain"
	"relay-gateway/internal/core/ports"
	"relay-gateway/internal/observability"
	"relay-gateway/pkg/apperror"
	"relay-gateway/pkg/response"

	"github.com/gin-gonic/gin"
)

// PublishHandler is the REST ingress adapter.
type PublishHandler struct {
	router  ports.Router
	metrics *observability.Metrics
}

// NewPublishHandler creates a new PublishHandler.
func NewPublishHandler(router ports.Router, metrics *observability.Metrics) *PublishHandler {
	return &PublishHandler{router: router, metrics: metrics}
}

// Publish handles POST /v3/publish and the legacy
// POST /v2/sms/platform/:platform. A routed payload answers 200 with the
// downstream response; a buffered image-text segment answers 202.
func (h *PublishHandler) Publish(c *gin.Context) {
	var req dto.PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.IncIngress(string(domain.ProtocolHTTPS), "rejected")
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.Error(c, apperror.New(apperror.CodeValidation, "Request body too large", http.StatusRequestEntityTooLarge))
			return
		}
		response.Error(c, apperror.Validation("Invalid request body: "+err.Error()))
		return
	}

	outcome, err := h.router.Route(c.Request.Context(), &domain.CanonicalPayload{
		Text:       req.Text,
		MSISDN:     req.Sender(),
		Protocol:   domain.ProtocolHTTPS,
		ReceivedAt: time.Now().UTC(),
		Secure:     c.Request.TLS != nil,
		Date:       string(req.Date),
		DateSent:   string(req.DateSent),
	})
	if err != nil {
		h.metrics.IncIngress(string(domain.ProtocolHTTPS), "failed")
		response.Error(c, err)
		return
	}

	body := dto.PublishResponse{PublisherResponse: outcome.Response}
	if outcome.Buffered {
		h.metrics.IncIngress(string(domain.ProtocolHTTPS), "buffered")
		response.Accepted(c, body)
		return
	}
	h.metrics.IncIngress(string(domain.ProtocolHTTPS), "routed")
	response.OK(c, body)
}
