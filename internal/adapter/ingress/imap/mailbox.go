// Package imap polls a mailbox for gateway client emails.
package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"relay-gateway/config"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

const dialTimeout = 30 * time.Second

// Message is one fetched email, body unparsed.
type Message struct {
	UID uint32
	Raw []byte
}

// Mailbox is the subset of an IMAP session the listener needs.
type Mailbox interface {
	// FetchUnseen returns unseen messages whose subject contains subject,
	// without setting \Seen.
	FetchUnseen(ctx context.Context, subject string) ([]Message, error)
	MarkSeen(ctx context.Context, uids ...uint32) error
	// Acknowledge flags the messages \Seen and \Deleted and expunges them.
	Acknowledge(ctx context.Context, uids ...uint32) error
	Close() error
}

// Dialer opens a logged-in session with the folder selected.
type Dialer func(ctx context.Context) (Mailbox, error)

type clientMailbox struct {
	c *client.Client
}

// DialTLS returns a Dialer for an implicit-TLS IMAP server.
func DialTLS(cfg config.IMAPConfig) Dialer {
	folder := cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	return func(ctx context.Context) (Mailbox, error) {
		d := &net.Dialer{Timeout: dialTimeout}
		if deadline, ok := ctx.Deadline(); ok {
			d.Deadline = deadline
		}
		c, err := client.DialWithDialerTLS(d, cfg.Addr(), &tls.Config{
			ServerName: cfg.Server,
			MinVersion: tls.VersionTLS12,
		})
		if err != nil {
			return nil, fmt.Errorf("dial imap %s: %w", cfg.Addr(), err)
		}

		if err := c.Login(cfg.Username, cfg.Password); err != nil {
			_ = c.Logout()
			return nil, fmt.Errorf("imap login: %w", err)
		}
		if _, err := c.Select(folder, false); err != nil {
			_ = c.Logout()
			return nil, fmt.Errorf("select %s: %w", folder, err)
		}
		return &clientMailbox{c: c}, nil
	}
}

func (m *clientMailbox) FetchUnseen(_ context.Context, subject string) ([]Message, error) {
	criteria := goimap.NewSearchCriteria()
	criteria.WithoutFlags = []string{goimap.SeenFlag}
	if subject != "" {
		criteria.Header.Add("Subject", subject)
	}
	uids, err := m.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(goimap.SeqSet)
	seqset.AddNum(uids...)
	section := &goimap.BodySectionName{Peek: true}
	items := []goimap.FetchItem{goimap.FetchUid, section.FetchItem()}

	messages := make(chan *goimap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- m.c.UidFetch(seqset, items, messages)
	}()

	out := make([]Message, 0, len(uids))
	var readErr error
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil && readErr == nil {
			readErr = fmt.Errorf("read message %d: %w", msg.Uid, err)
			continue
		}
		out = append(out, Message{UID: msg.Uid, Raw: raw})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch unseen: %w", err)
	}
	return out, readErr
}

func (m *clientMailbox) MarkSeen(_ context.Context, uids ...uint32) error {
	return m.addFlags(uids, goimap.SeenFlag)
}

func (m *clientMailbox) Acknowledge(_ context.Context, uids ...uint32) error {
	if err := m.addFlags(uids, goimap.SeenFlag, goimap.DeletedFlag); err != nil {
		return err
	}
	if err := m.c.Expunge(nil); err != nil {
		return fmt.Errorf("expunge: %w", err)
	}
	return nil
}

func (m *clientMailbox) addFlags(uids []uint32, flags ...string) error {
	if len(uids) == 0 {
		return nil
	}
	seqset := new(goimap.SeqSet)
	seqset.AddNum(uids...)
	values := make([]interface{}, 0, len(flags))
	for _, f := range flags {
		values = append(values, f)
	}
	if err := m.c.UidStore(seqset, goimap.FormatFlagsOp(goimap.AddFlags, true), values, nil); err != nil {
		return fmt.Errorf("store flags %v: %w", flags, err)
	}
	return nil
}

func (m *clientMailbox) Close() error {
	return m.c.Logout()
}
