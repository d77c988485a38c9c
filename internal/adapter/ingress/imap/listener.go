package imap

import (
	"context"
	"strings"
	"time"

	"relay-gateway/config"
	"relay-gateway/internal/adapter/ingress"
	"relay-gateway/internal/core/domain"
	"relay-gateway/internal/core/ports"
	"relay-gateway/internal/observability"
	"relay-gateway/pkg/logger"

	"github.com/rs/zerolog"
)

const defaultPollInterval = 20 * time.Second

// disposition is what happens to a message after one delivery attempt.
type disposition int

const (
	// keep leaves the message unseen so the next poll retries it.
	keep disposition = iota
	// markSeen hides a message that can never be routed. It is not deleted.
	markSeen
	// acknowledge deletes a routed message.
	acknowledge
)

// Listener polls one mailbox folder and routes every matching email.
type Listener struct {
	cfg     config.IMAPConfig
	dial    Dialer
	router  ports.Router
	metrics *observability.Metrics
	allowed map[string]struct{}
	mailbox Mailbox
	now     func() time.Time
	log     zerolog.Logger
}

func NewListener(cfg config.IMAPConfig, dial Dialer, router ports.Router, metrics *observability.Metrics, log zerolog.Logger) *Listener {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedSenders))
	for _, s := range cfg.AllowedSenders {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			allowed[s] = struct{}{}
		}
	}
	return &Listener{
		cfg:     cfg,
		dial:    dial,
		router:  router,
		metrics: metrics,
		allowed: allowed,
		now:     time.Now,
		log:     log.With().Str("component", "imap").Logger(),
	}
}

// Start polls immediately and then every PollInterval until ctx is done.
// Connection errors are logged and the session is redialed on the next tick.
func (l *Listener) Start(ctx context.Context) error {
	if len(l.allowed) == 0 {
		l.log.Warn().Msg("no allowed senders configured, accepting mail from any sender")
	}
	l.log.Info().
		Str("server", l.cfg.Addr()).
		Str("subject", l.cfg.Subject).
		Dur("interval", l.cfg.PollInterval).
		Msg("imap listener started")
	defer l.disconnect()

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := l.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.log.Error().Err(err).Msg("mailbox poll failed")
			l.disconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll fetches unseen messages once and routes them in order.
func (l *Listener) Poll(ctx context.Context) error {
	mb, err := l.connect(ctx)
	if err != nil {
		return err
	}

	msgs, err := mb.FetchUnseen(ctx, l.cfg.Subject)
	if err != nil {
		return err
	}
	if len(msgs) > 0 {
		l.log.Debug().Int("messages", len(msgs)).Msg("unseen messages fetched")
	}

	for _, msg := range msgs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var flagErr error
		switch l.handle(ctx, msg) {
		case acknowledge:
			flagErr = mb.Acknowledge(ctx, msg.UID)
		case markSeen:
			flagErr = mb.MarkSeen(ctx, msg.UID)
		}
		if flagErr != nil {
			return flagErr
		}
	}
	return nil
}

func (l *Listener) handle(ctx context.Context, msg Message) disposition {
	log := l.log.With().Uint32("uid", msg.UID).Logger()

	parsed, err := parseMessage(msg.Raw)
	if err != nil {
		log.Warn().Err(err).Msg("unreadable email skipped")
		l.metrics.IncIngress(string(domain.ProtocolSMTP), "rejected")
		return markSeen
	}
	if !subjectMatches(parsed.Subject, l.cfg.Subject) {
		return keep
	}
	if !l.senderAllowed(parsed.From) {
		log.Warn().Strs("from", parsed.From).Msg("email from unlisted sender skipped")
		l.metrics.IncIngress(string(domain.ProtocolSMTP), "rejected")
		return markSeen
	}

	p, err := ingress.ParseEnvelope(parsed.Body, ingress.Source{
		Protocol:   domain.ProtocolSMTP,
		Secure:     true,
		ReceivedAt: l.now(),
	})
	if err != nil {
		log.Warn().Err(err).Msg("invalid envelope skipped")
		l.metrics.IncIngress(string(domain.ProtocolSMTP), "rejected")
		return markSeen
	}

	outcome, err := l.router.Route(ctx, p)
	if err != nil {
		log = log.With().Str("msisdn", logger.MaskSender(p.MSISDN)).Logger()
		if ingress.Retryable(err) {
			log.Error().Err(err).Msg("routing failed, email kept for retry")
			l.metrics.IncIngress(string(domain.ProtocolSMTP), "failed")
			return keep
		}
		log.Warn().Err(err).Msg("email rejected")
		l.metrics.IncIngress(string(domain.ProtocolSMTP), "rejected")
		return markSeen
	}

	result := "routed"
	if outcome.Buffered {
		result = "buffered"
	}
	l.metrics.IncIngress(string(domain.ProtocolSMTP), result)
	log.Info().
		Str("msisdn", logger.MaskSender(p.MSISDN)).
		Str("downstream", string(outcome.Downstream)).
		Str("response", outcome.Response).
		Msg("email " + result)
	return acknowledge
}

// senderAllowed reports whether any From address is allow-listed. An empty
// allow-list accepts everyone.
func (l *Listener) senderAllowed(from []string) bool {
	if len(l.allowed) == 0 {
		return true
	}
	for _, addr := range from {
		if _, ok := l.allowed[addr]; ok {
			return true
		}
	}
	return false
}

func (l *Listener) connect(ctx context.Context) (Mailbox, error) {
	if l.mailbox != nil {
		return l.mailbox, nil
	}
	mb, err := l.dial(ctx)
	if err != nil {
		return nil, err
	}
	l.mailbox = mb
	return mb, nil
}

func (l *Listener) disconnect() {
	if l.mailbox == nil {
		return
	}
	if err := l.mailbox.Close(); err != nil {
		l.log.Debug().Err(err).Msg("mailbox close failed")
	}
	l.mailbox = nil
}
