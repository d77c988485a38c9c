package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"relay-gateway/internal/adapter/storage/memory"
	"relay-gateway/internal/core/domain"
	"relay-gateway/internal/core/ports/mocks"
	"relay-gateway/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestSegmentAssembler_PassThrough(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := mocks.NewMockRouter(ctrl)
	store := mocks.NewMockSegmentStore(ctrl)
	a := NewSegmentAssembler(next, store, nil, zerolog.Nop())

	p := &domain.CanonicalPayload{Text: b64("\x01hello"), MSISDN: testMSISDN}
	want := &domain.RouteOutcome{Downstream: domain.DownstreamPublisher, AttemptID: 1}
	next.EXPECT().Route(gomock.Any(), p).Return(want, nil)

	got, err := a.Route(context.Background(), p)
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestSegmentAssembler_AssemblesInOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := mocks.NewMockRouter(ctrl)
	a := NewSegmentAssembler(next, memory.NewSegmentStore(time.Hour), nil, zerolog.Nop())
	ctx := context.Background()

	// session 7, three segments, delivered out of order: 2, 0, 1
	out, err := a.Route(ctx, &domain.CanonicalPayload{Text: "040723CCC", MSISDN: testMSISDN})
	require.NoError(t, err)
	assert.True(t, out.Buffered)

	out, err = a.Route(ctx, &domain.CanonicalPayload{Text: "040703AAA", MSISDN: testMSISDN})
	require.NoError(t, err)
	assert.True(t, out.Buffered)

	next.EXPECT().Route(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p *domain.CanonicalPayload) (*domain.RouteOutcome, error) {
			assert.Equal(t, "AAABBBCCC", p.Text)
			assert.Equal(t, testMSISDN, p.MSISDN)
			return &domain.RouteOutcome{Downstream: domain.DownstreamBridge, AttemptID: 9}, nil
		})

	out, err = a.Route(ctx, &domain.CanonicalPayload{Text: "040713BBB", MSISDN: testMSISDN})
	require.NoError(t, err)
	assert.False(t, out.Buffered)
	assert.Equal(t, int64(9), out.AttemptID)
}

func TestSegmentAssembler_LongMetadataCarriesImageLength(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := mocks.NewMockRouter(ctrl)
	a := NewSegmentAssembler(next, memory.NewSegmentStore(time.Hour), nil, zerolog.Nop())

	next.EXPECT().Route(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p *domain.CanonicalPayload) (*domain.RouteOutcome, error) {
			assert.Equal(t, 256, p.ImageLength)
			assert.Equal(t, "QUJD", p.Text)
			return &domain.RouteOutcome{}, nil
		})

	// session 7, single segment, image length 256, text length 5
	_, err := a.Route(context.Background(), &domain.CanonicalPayload{Text: "04070100010500QUJD", MSISDN: testMSISDN})
	require.NoError(t, err)
}

func TestSegmentAssembler_DuplicateSegmentIgnored(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := mocks.NewMockRouter(ctrl)
	a := NewSegmentAssembler(next, memory.NewSegmentStore(time.Hour), nil, zerolog.Nop())
	ctx := context.Background()

	out, err := a.Route(ctx, &domain.CanonicalPayload{Text: "040102AAA", MSISDN: testMSISDN})
	require.NoError(t, err)
	assert.True(t, out.Buffered)

	out, err = a.Route(ctx, &domain.CanonicalPayload{Text: "040102AAA", MSISDN: testMSISDN})
	require.NoError(t, err)
	assert.True(t, out.Buffered, "a repeated segment must not complete the session")
}

func TestSegmentAssembler_StoreError(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockSegmentStore(ctrl)
	a := NewSegmentAssembler(mocks.NewMockRouter(ctrl), store, nil, zerolog.Nop())

	store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(0, errors.New("redis down"))

	_, err := a.Route(context.Background(), &domain.CanonicalPayload{Text: "040713abc", MSISDN: testMSISDN})
	assert.True(t, apperror.Is(err, apperror.CodePersistence))
}

func TestSegmentAssembler_ClaimLostToConcurrentDelivery(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockSegmentStore(ctrl)
	a := NewSegmentAssembler(mocks.NewMockRouter(ctrl), store, nil, zerolog.Nop())

	store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(1, nil)
	store.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(nil, nil)

	out, err := a.Route(context.Background(), &domain.CanonicalPayload{Text: "040701abc", MSISDN: testMSISDN})
	require.NoError(t, err)
	assert.True(t, out.Buffered)
}
