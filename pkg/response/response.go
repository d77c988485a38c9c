package response

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"relay-gateway/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Pagination header names.
const (
	HeaderTotalCount = "X-Total-Count"
	HeaderPage       = "X-Page"
	HeaderPerPage    = "X-Per-Page"
	HeaderLink       = "Link"
)

// ErrorResponse is the error body returned for every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	RequestID string `json:"request_id"`
}

// OK sends a 200 response with the body as-is.
func OK(c *gin.Context, body interface{}) {
	c.JSON(http.StatusOK, body)
}

// Accepted sends a 202 response with the body as-is.
func Accepted(c *gin.Context, body interface{}) {
	c.JSON(http.StatusAccepted, body)
}

// Error sends an error response. It checks if err is an *apperror.AppError
// and maps it accordingly, otherwise returns 500.
func Error(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, ErrorResponse{
			Error:     appErr.Message,
			ErrorCode: appErr.Code,
			RequestID: getRequestID(c),
		})
		return
	}

	// Unknown error -> 500
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:     "Oops! Something went wrong. Please try again later.",
		ErrorCode: "SYS_000",
		RequestID: getRequestID(c),
	})
}

// Paginate writes the pagination headers for a page of a result set.
func Paginate(c *gin.Context, page, perPage int, total int64) {
	c.Header(HeaderTotalCount, strconv.FormatInt(total, 10))
	c.Header(HeaderPage, strconv.Itoa(page))
	c.Header(HeaderPerPage, strconv.Itoa(perPage))
	if link := buildLinkHeader(c.Request.URL, page, perPage, total); link != "" {
		c.Header(HeaderLink, link)
	}
}

// LastPage returns the number of the final page, never less than 1.
func LastPage(perPage int, total int64) int {
	if perPage <= 0 || total <= 0 {
		return 1
	}
	return int((total-1)/int64(perPage)) + 1
}

func buildLinkHeader(u *url.URL, page, perPage int, total int64) string {
	if u == nil {
		return ""
	}
	last := LastPage(perPage, total)

	link := func(p int, rel string) string {
		q := u.Query()
		q.Set("page", strconv.Itoa(p))
		q.Set("per_page", strconv.Itoa(perPage))
		return fmt.Sprintf(`<%s?%s>; rel="%s"`, u.Path, q.Encode(), rel)
	}

	links := []string{link(1, "first")}
	if page > 1 {
		prev := page - 1
		if prev > last {
			prev = last
		}
		links = append(links, link(prev, "prev"))
	}
	if page < last {
		links = append(links, link(page+1, "next"))
	}
	links = append(links, link(last, "last"))
	return strings.Join(links, ", ")
}

// getRequestID retrieves request ID from context, or generates one.
func getRequestID(c *gin.Context) string {
	if id, exists := c.Get("request_id"); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return uuid.New().String()
}
