// Package ingress holds what the mailbox and upload adapters share: the JSON
// envelope gateway clients write into emails and uploaded files.
package ingress

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"relay-gateway/internal/core/domain"
	"relay-gateway/pkg/apperror"
)

// Envelope is the body of an email or uploaded file. It has the same shape
// as the REST publish request.
type Envelope struct {
	Text     string `json:"text"`
	MSISDN   string `json:"MSISDN"`
	Address  string `json:"address"`
	Date     any    `json:"date"`
	DateSent any    `json:"date_sent"`
}

// Source describes the channel an envelope arrived on.
type Source struct {
	Protocol   domain.Protocol
	Secure     bool
	ReceivedAt time.Time
}

// ParseEnvelope decodes raw into a canonical payload. Errors are validation
// errors: retrying the same bytes can never succeed.
func ParseEnvelope(raw []byte, src Source) (*domain.CanonicalPayload, error) {
	raw = bytes.TrimSpace(bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf")))
	if len(raw) == 0 {
		return nil, apperror.Validation("Empty payload")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, apperror.Validation("Invalid JSON payload: " + err.Error())
	}

	received := src.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}

	sender := strings.TrimSpace(env.MSISDN)
	if sender == "" {
		sender = strings.TrimSpace(env.Address)
	}
	return &domain.CanonicalPayload{
		Text:       strings.TrimSpace(env.Text),
		MSISDN:     sender,
		Protocol:   src.Protocol,
		ReceivedAt: received.UTC(),
		Secure:     src.Secure,
		Date:       looseString(env.Date),
		DateSent:   looseString(env.DateSent),
	}, nil
}

// looseString renders a JSON string or number; anything else is dropped.
func looseString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// Retryable reports whether an ingress artifact should be kept for another
// delivery attempt. Client-caused failures never succeed on retry.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !apperror.IsClientError(err)
}
