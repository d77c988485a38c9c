package service

import (
	"context"
	"fmt"
	"strings"

	"relay-gateway/internal/core/domain"
	"relay-gateway/internal/core/payload"
	"relay-gateway/internal/core/ports"
	"relay-gateway/internal/observability"
	"relay-gateway/pkg/apperror"
	"relay-gateway/pkg/logger"

	"github.com/rs/zerolog"
)

// SegmentAssembler buffers image-text segments until their session is
// complete and routes the reassembled text through next. Other payloads pass
// straight through.
type SegmentAssembler struct {
	next    ports.Router
	store   ports.SegmentStore
	metrics *observability.Metrics
	log     zerolog.Logger
}

// NewSegmentAssembler wraps next with image-text reassembly.
func NewSegmentAssembler(next ports.Router, store ports.SegmentStore, metrics *observability.Metrics, log zerolog.Logger) *SegmentAssembler {
	return &SegmentAssembler{next: next, store: store, metrics: metrics, log: log}
}

func (a *SegmentAssembler) Route(ctx context.Context, p *domain.CanonicalPayload) (*domain.RouteOutcome, error) {
	if strings.TrimSpace(p.MSISDN) == "" || !payload.IsImageText(p.Text) {
		return a.next.Route(ctx, p)
	}

	seg, err := payload.ParseImageText(p.Text, p.MSISDN)
	if err != nil {
		return a.next.Route(ctx, p)
	}

	held, err := a.store.Save(ctx, seg)
	if err != nil {
		return nil, apperror.ErrPersistence(fmt.Errorf("store segment: %w", err))
	}
	a.metrics.IncSegmentBuffered()

	log := a.log.With().
		Uint8("session_id", seg.SessionID).
		Str("msisdn", logger.MaskSender(p.MSISDN)).
		Logger()

	if held < seg.Total {
		log.Debug().Int("held", held).Int("total", seg.Total).Msg("image-text segment buffered")
		return bufferedOutcome(seg, held), nil
	}

	segments, err := a.store.Claim(ctx, seg)
	if err != nil {
		return nil, apperror.ErrPersistence(fmt.Errorf("claim segments: %w", err))
	}
	if segments == nil {
		// Another delivery completed the session first.
		return bufferedOutcome(seg, held), nil
	}

	var text strings.Builder
	for _, s := range segments {
		text.WriteString(s.Content)
	}

	assembled := *p
	assembled.Text = text.String()
	assembled.ImageLength = segments[0].ImageLength
	if assembled.ImageLength == 0 {
		assembled.ImageLength = seg.ImageLength
	}

	log.Info().Int("segments", len(segments)).Msg("image-text session assembled")
	return a.next.Route(ctx, &assembled)
}

func bufferedOutcome(seg domain.Segment, held int) *domain.RouteOutcome {
	return &domain.RouteOutcome{
		Buffered: true,
		Response: fmt.Sprintf("Segment %d/%d received (%d held)", seg.Number+1, seg.Total, held),
	}
}
