package dto

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"relay-gateway/internal/core/domain"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// msisdnRe accepts an optional leading + and 5 to 15 digits.
var msisdnRe = regexp.MustCompile(`^\+?[0-9]{5,15}$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("msisdn", validateMSISDN)
	}
}

func validateMSISDN(fl validator.FieldLevel) bool {
	return ValidMSISDN(fl.Field().String())
}

// ValidMSISDN reports whether s looks like a phone number.
func ValidMSISDN(s string) bool {
	return msisdnRe.MatchString(strings.TrimSpace(s))
}

// ParsePage reads a positive integer query value, using def when empty.
func ParsePage(raw string, def int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return n, nil
}

// dateLayouts are tried in order for date filters.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses an ISO 8601 date or date-time. Values without a zone are UTC.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO date %q", raw)
}

// ParseProtocols reads the protocols filter. Only the first listed protocol
// is used; unknown names are rejected.
func ParseProtocols(raw string) (*domain.Protocol, error) {
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		p, ok := domain.ParseProtocol(part)
		if !ok {
			return nil, fmt.Errorf("unknown protocol %q", strings.TrimSpace(part))
		}
		return &p, nil
	}
	return nil, nil
}
