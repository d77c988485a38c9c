package domain

import (
	"fmt"
	"sort"
	"time"
)

// GatewayClient is a device known to have relayed at least one payload.
type GatewayClient struct {
	MSISDN            string
	Country           string
	Operator          string
	OperatorCode      string
	Protocols         []Protocol
	LastPublishedDate *time.Time
	// Reliability is filled in at read time from the attempt ledger.
	Reliability ReliabilityTally
}

// ReliabilityTally counts terminal attempts for one MSISDN.
type ReliabilityTally struct {
	Success  int64
	TimedOut int64
}

// Terminal returns the number of terminal attempts.
func (t ReliabilityTally) Terminal() int64 {
	return t.Success + t.TimedOut
}

// Percent returns successful/terminal as a percentage. ok is false when no
// terminal attempt exists, in which case no score can be computed.
func (t ReliabilityTally) Percent() (pct float64, ok bool) {
	total := t.Terminal()
	if total == 0 {
		return 0, false
	}
	return float64(t.Success) / float64(total) * 100, true
}

// Format renders the score with two decimals, or nil when not computable.
func (t ReliabilityTally) Format() *string {
	pct, ok := t.Percent()
	if !ok {
		return nil
	}
	s := fmt.Sprintf("%.2f", pct)
	return &s
}

// MergeProtocols adds p to the set, keeping it sorted and duplicate free.
func MergeProtocols(set []Protocol, p ...Protocol) []Protocol {
	seen := make(map[Protocol]struct{}, len(set)+len(p))
	out := make([]Protocol, 0, len(set)+len(p))
	for _, list := range [][]Protocol{set, p} {
		for _, proto := range list {
			if proto == "" {
				continue
			}
			if _, ok := seen[proto]; ok {
				continue
			}
			seen[proto] = struct{}{}
			out = append(out, proto)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasProtocol reports protocol membership.
func (c *GatewayClient) HasProtocol(p Protocol) bool {
	for _, existing := range c.Protocols {
		if existing == p {
			return true
		}
	}
	return false
}
