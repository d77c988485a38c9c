package middleware

import (
	"net/http"
	"time"

	"relay-gateway/pkg/apperror"
	"relay-gateway/pkg/response"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	HeaderRequestID = "X-Request-ID"

	// CtxRequestID is read by response.Error.
	CtxRequestID = "request_id"
)

// securityHeaders are set on every response.
var securityHeaders = map[string]string{
	"Strict-Transport-Security": "max-age=63072000; includeSubdomains",
	"X-Content-Type-Options":    "nosniff",
	"Content-Security-Policy":   "script-src 'self'; object-src 'self'",
	"Referrer-Policy":           "strict-origin-when-cross-origin",
	"Cache-Control":             "no-store",
	"Permissions-Policy": "accelerometer=(), ambient-light-sensor=(), autoplay=(), battery=(), camera=(), " +
		"clipboard-read=(), clipboard-write=(), cross-origin-isolated=(), display-capture=(), " +
		"document-domain=(), encrypted-media=(), execution-while-not-rendered=(), " +
		"execution-while-out-of-viewport=(), fullscreen=(), gamepad=(), geolocation=(), " +
		"gyroscope=(), magnetometer=(), microphone=(), midi=(), navigation-override=(), " +
		"payment=(), picture-in-picture=(), publickey-credentials-get=(), screen-wake-lock=(), " +
		"speaker=(), speaker-selection=(), sync-xhr=(), usb=(), web-share=(), " +
		"xr-spatial-tracking=()",
}

// SecurityHeaders sets the hardening headers before the handler runs, so
// they are present on error and abort paths too.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		for k, v := range securityHeaders {
			h.Set(k, v)
		}
		c.Next()
	}
}

// RequestID propagates the caller's X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		c.Set(CtxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// CORS allows the configured origins and exposes the pagination headers.
// An empty origin list allows any origin.
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", HeaderRequestID},
		ExposeHeaders: []string{response.HeaderTotalCount, response.HeaderPage, response.HeaderPerPage, response.HeaderLink},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// MaxBodySize limits the request body. Once the limit is exceeded the reader
// returns an error and binding fails.
func MaxBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// RequestLogger creates a middleware that logs every HTTP request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		event.
			Str("request_id", c.GetString(CtxRequestID)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

// Recovery creates a panic recovery middleware.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				response.Error(c, apperror.New("SYS_000", "Oops! Something went wrong. Please try again later.", http.StatusInternalServerError))
				c.Abort()
			}
		}()
		c.Next()
	}
}
