package dto

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"relay-gateway/internal/core/domain"
	"relay-gateway/internal/core/ports"
)

// PublishRequest is the body of POST /v3/publish. Devices send the sender
// as either MSISDN or address.
type PublishRequest struct {
	Text     string    `json:"text" binding:"required,max=65536"`
	MSISDN   string    `json:"MSISDN" binding:"omitempty,msisdn"`
	Address  string    `json:"address" binding:"omitempty,msisdn"`
	Date     LooseText `json:"date"`
	DateSent LooseText `json:"date_sent"`
}

// Sender returns MSISDN, falling back to address.
func (r PublishRequest) Sender() string {
	if s := strings.TrimSpace(r.MSISDN); s != "" {
		return s
	}
	return strings.TrimSpace(r.Address)
}

// PublishResponse is returned for routed and buffered payloads.
type PublishResponse struct {
	PublisherResponse string `json:"publisher_response"`
}

// LooseText accepts a JSON string or number and keeps its text form.
// Device timestamps arrive as either.
type LooseText string

func (t *LooseText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = LooseText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*t = LooseText(n.String())
	return nil
}

// ClientResponse is one element of GET /v3/clients.
type ClientResponse struct {
	MSISDN            string   `json:"msisdn"`
	Country           string   `json:"country"`
	Operator          string   `json:"operator"`
	OperatorCode      string   `json:"operator_code"`
	Protocols         []string `json:"protocols"`
	LastPublishedDate *int64   `json:"last_published_date"`
	// Reliability is null until the client has a terminal attempt.
	Reliability *string `json:"reliability"`
}

// TestResponse is one delivery attempt, timestamps in unix seconds.
type TestResponse struct {
	ID              int64  `json:"id"`
	MSISDN          string `json:"msisdn"`
	StartTime       int64  `json:"start_time"`
	SMSReceivedTime *int64 `json:"sms_received_time"`
	SMSRoutedTime   *int64 `json:"sms_routed_time"`
	SMSSentTime     *int64 `json:"sms_sent_time"`
	Status          string `json:"status"`
}

// TestListResponse is the body of GET /v3/clients/:msisdn/tests.
type TestListResponse struct {
	Data         []TestResponse `json:"data"`
	TotalSuccess int64          `json:"total_success"`
	TotalFailed  int64          `json:"total_failed"`
	TotalRecords int64          `json:"total_records"`
}

// ToClientResponse converts domain.GatewayClient to DTO.
func ToClientResponse(c domain.GatewayClient) ClientResponse {
	protocols := make([]string, 0, len(c.Protocols))
	for _, p := range c.Protocols {
		protocols = append(protocols, string(p))
	}
	return ClientResponse{
		MSISDN:            c.MSISDN,
		Country:           c.Country,
		Operator:          c.Operator,
		OperatorCode:      c.OperatorCode,
		Protocols:         protocols,
		LastPublishedDate: unix(c.LastPublishedDate),
		Reliability:       c.Reliability.Format(),
	}
}

// ToTestListResponse converts a page of attempts plus aggregates to DTO.
func ToTestListResponse(res *ports.ClientTests) TestListResponse {
	out := TestListResponse{
		Data:         make([]TestResponse, 0, len(res.Tests)),
		TotalSuccess: res.Summary.Success,
		TotalFailed:  res.Summary.TimedOut,
		TotalRecords: res.Summary.Records,
	}
	for _, a := range res.Tests {
		out.Data = append(out.Data, TestResponse{
			ID:              a.ID,
			MSISDN:          a.MSISDN,
			StartTime:       a.StartTime.Unix(),
			SMSReceivedTime: unix(a.SMSReceivedTime),
			SMSRoutedTime:   unix(a.SMSRoutedTime),
			SMSSentTime:     unix(a.SMSSentTime),
			Status:          string(a.Status),
		})
	}
	return out
}

func unix(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	s := t.Unix()
	return &s
}
