package imap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

var errNoBody = errors.New("message has no text body or attachment")

// parsedMessage holds the parts of an email the listener routes on.
type parsedMessage struct {
	From    []string // lower-cased addresses
	Subject string
	Body    []byte
}

// parseMessage extracts the sender addresses and the envelope text. The
// first inline text/plain part wins; the first attachment is the fallback.
func parseMessage(raw []byte) (*parsedMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	if mr == nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	defer mr.Close()

	out := &parsedMessage{}
	if addrs, err := mr.Header.AddressList("From"); err == nil {
		for _, a := range addrs {
			out.From = append(out.From, strings.ToLower(a.Address))
		}
	}
	out.Subject, _ = mr.Header.Subject()

	var attachment []byte
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return nil, fmt.Errorf("read part: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			if out.Body != nil {
				continue
			}
			if ct, _, _ := h.ContentType(); ct != "" && ct != "text/plain" {
				continue
			}
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("read body: %w", err)
			}
			if len(bytes.TrimSpace(b)) > 0 {
				out.Body = b
			}
		case *mail.AttachmentHeader:
			if attachment != nil {
				continue
			}
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("read attachment: %w", err)
			}
			attachment = b
		}
	}

	if out.Body == nil {
		out.Body = attachment
	}
	if len(bytes.TrimSpace(out.Body)) == 0 {
		return nil, errNoBody
	}
	return out, nil
}

// subjectMatches mirrors the server-side SUBJECT search, which is a
// case-insensitive substring match.
func subjectMatches(subject, want string) bool {
	if want == "" {
		return true
	}
	return strings.Contains(strings.ToLower(subject), strings.ToLower(want))
}
