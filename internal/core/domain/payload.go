package domain

import (
	"strings"
	"time"
)

// Protocol identifies the ingress channel a payload arrived on.
type Protocol string

const (
	ProtocolHTTPS Protocol = "https"
	ProtocolSMTP  Protocol = "smtp"
	ProtocolFTP   Protocol = "ftp"
)

// ParseProtocol normalizes a protocol name. The boolean is false for unknown names.
func ParseProtocol(s string) (Protocol, bool) {
	switch p := Protocol(strings.ToLower(strings.TrimSpace(s))); p {
	case ProtocolHTTPS, ProtocolSMTP, ProtocolFTP:
		return p, true
	default:
		return "", false
	}
}

// Downstream names the gRPC service a payload is forwarded to.
type Downstream string

const (
	DownstreamBridge    Downstream = "bridge"
	DownstreamPublisher Downstream = "publisher"
)

// CanonicalPayload is the protocol-independent form every ingress adapter
// produces. It is owned by one adapter until handed to the router.
type CanonicalPayload struct {
	Text          string // base64 text as received
	Decoded       []byte
	Discriminator byte
	Body          []byte
	MSISDN        string
	Protocol      Protocol
	ReceivedAt    time.Time
	// Secure is true when the ingress channel was TLS-protected.
	Secure bool

	// Device-side timestamps in milliseconds, as sent by the client.
	Date     string
	DateSent string

	// ImageLength is set when the text was reassembled from image-text segments.
	ImageLength int
}

// RouteOutcome is the result of a single routing decision.
type RouteOutcome struct {
	Downstream Downstream
	Response   string
	AttemptID  int64
	// Buffered is true when the payload was a partial image-text segment
	// that was stored without being routed.
	Buffered bool
}
