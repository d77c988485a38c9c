// Package payload turns the base64 text carried by gateway clients into a
// routing decision and the bytes forwarded downstream.
package payload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"relay-gateway/internal/core/domain"
)

// ErrMalformed is returned for text that is not base64 or decodes to nothing.
var ErrMalformed = errors.New("malformed payload")

// BridgeDiscriminator is the leading byte that selects the Bridge service.
const BridgeDiscriminator byte = 0

// Decoded is the routing view of a payload.
type Decoded struct {
	Bytes         []byte
	Discriminator byte
	Route         domain.Downstream
	Body          []byte
}

// forwardRule derives the downstream body from the full decoded bytes.
type forwardRule func(decoded []byte) []byte

// Bridge strips the discriminator; Publisher receives every byte, discriminator
// included. Downstream services depend on this asymmetry.
var forwardRules = map[domain.Downstream]forwardRule{
	domain.DownstreamBridge:    func(b []byte) []byte { return b[1:] },
	domain.DownstreamPublisher: func(b []byte) []byte { return b },
}

// RouteFor maps a discriminator byte to its downstream.
func RouteFor(discriminator byte) domain.Downstream {
	if discriminator == BridgeDiscriminator {
		return domain.DownstreamBridge
	}
	return domain.DownstreamPublisher
}

// Decode parses raw base64 text. It has no side effects.
func Decode(raw string) (Decoded, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Decoded{}, fmt.Errorf("%w: empty text", ErrMalformed)
	}

	b, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(b) == 0 {
		return Decoded{}, fmt.Errorf("%w: decodes to zero bytes", ErrMalformed)
	}

	route := RouteFor(b[0])
	return Decoded{
		Bytes:         b,
		Discriminator: b[0],
		Route:         route,
		Body:          forwardRules[route](b),
	}, nil
}

// Apply decodes p.Text and fills the decoded fields of p.
func Apply(p *domain.CanonicalPayload) (Decoded, error) {
	d, err := Decode(p.Text)
	if err != nil {
		return Decoded{}, err
	}
	p.Decoded = d.Bytes
	p.Discriminator = d.Discriminator
	p.Body = d.Body
	return d, nil
}
