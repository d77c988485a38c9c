package postgres

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"relay-gateway/internal/core/domain"
	"relay-gateway/internal/core/ports"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attemptColumnNames() []string {
	return []string{"id", "msisdn", "start_time", "sms_received_time", "sms_routed_time", "sms_sent_time", "status"}
}

func TestAttemptRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	start := time.Now().UTC()
	a := domain.NewDeliveryAttempt("+237600000001", start)

	mock.ExpectQuery("INSERT INTO reliability_tests .+ RETURNING id").
		WithArgs("+237600000001", start, a.SMSReceivedTime, a.SMSRoutedTime, a.SMSSentTime, "pending").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))

	require.NoError(t, NewAttemptRepo(mock).Create(context.Background(), a))
	assert.Equal(t, int64(11), a.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM reliability_tests WHERE id").
		WithArgs(int64(5)).
		WillReturnError(pgx.ErrNoRows)

	a, err := NewAttemptRepo(mock).GetByID(context.Background(), 5)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestAttemptRepo_Mutate_Commits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	start := time.Now().UTC()
	received := start.Add(time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM reliability_tests WHERE id = \\$1 FOR UPDATE").
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows(attemptColumnNames()).
			AddRow(int64(3), "+237600000001", start, nil, nil, nil, "pending"))
	mock.ExpectExec("UPDATE reliability_tests SET sms_received_time").
		WithArgs(&received, (*time.Time)(nil), (*time.Time)(nil), "pending", int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	a, err := NewAttemptRepo(mock).Mutate(context.Background(), 3, func(a *domain.DeliveryAttempt) error {
		return a.RecordStage(domain.StageReceived, received)
	})
	require.NoError(t, err)
	require.NotNil(t, a.SMSReceivedTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptRepo_Mutate_RejectedTransitionRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	start := time.Now().UTC()
	sent := start.Add(time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(int64(4)).
		WillReturnRows(pgxmock.NewRows(attemptColumnNames()).
			AddRow(int64(4), "+237600000001", start, nil, nil, &sent, "success"))
	mock.ExpectRollback()

	_, err = NewAttemptRepo(mock).Mutate(context.Background(), 4, func(a *domain.DeliveryAttempt) error {
		_, err := a.Finalize(domain.AttemptStatusTimedOut, time.Now())
		return err
	})
	assert.ErrorIs(t, err, domain.ErrStatusConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptRepo_Mutate_Missing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(int64(9)).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	a, err := NewAttemptRepo(mock).Mutate(context.Background(), 9, func(*domain.DeliveryAttempt) error { return nil })
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptRepo_ExpirePending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cutoff := time.Now().UTC().Add(-15 * time.Minute)
	mock.ExpectQuery("UPDATE reliability_tests SET status = 'timedout' WHERE status = 'pending'").
		WithArgs(cutoff).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))

	ids, err := NewAttemptRepo(mock).ExpirePending(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptRepo_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	status := domain.AttemptStatusSuccess
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	start := from.Add(time.Hour)
	sent := start.Add(time.Minute)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM reliability_tests WHERE msisdn = \\$1 AND status = \\$2 AND start_time >= \\$3").
		WithArgs("+237600000001", "success", from).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT .+ FROM reliability_tests WHERE .+ ORDER BY id DESC LIMIT \\$4 OFFSET \\$5").
		WithArgs("+237600000001", "success", from, 10, 0).
		WillReturnRows(pgxmock.NewRows(attemptColumnNames()).
			AddRow(int64(8), "+237600000001", start, &start, &start, &sent, "success"))

	attempts, total, err := NewAttemptRepo(mock).List(context.Background(), ports.AttemptListParams{
		MSISDN:    "+237600000001",
		Status:    &status,
		StartFrom: &from,
		Page:      1,
		PerPage:   10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, attempts, 1)
	assert.Equal(t, domain.AttemptStatusSuccess, attempts[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptRepo_List_HugePageSkipsDataQuery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM reliability_tests WHERE msisdn = \\$1").
		WithArgs("+237600000001").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))

	attempts, total, err := NewAttemptRepo(mock).List(context.Background(), ports.AttemptListParams{
		MSISDN:  "+237600000001",
		Page:    math.MaxInt / 2,
		PerPage: 4,
	})
	require.NoError(t, err)
	assert.Empty(t, attempts)
	assert.Equal(t, int64(3), total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptRepo_Summary(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM reliability_tests WHERE msisdn = \\$1").
		WithArgs("+237600000001").
		WillReturnRows(pgxmock.NewRows([]string{"total_success", "total_failed", "total_records"}).
			AddRow(int64(2), int64(1), int64(4)))

	s, err := NewAttemptRepo(mock).Summary(context.Background(), "+237600000001")
	require.NoError(t, err)
	assert.Equal(t, ports.AttemptSummary{Success: 2, TimedOut: 1, Records: 4}, s)
}

func TestAttemptRepo_Tallies(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAttemptRepo(mock)

	empty, err := repo.Tallies(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	msisdns := []string{"a", "b"}
	mock.ExpectQuery("WHERE msisdn = ANY\\(\\$1\\) GROUP BY msisdn").
		WithArgs(msisdns).
		WillReturnRows(pgxmock.NewRows([]string{"msisdn", "success", "timedout"}).
			AddRow("a", int64(3), int64(1)))

	tallies, err := repo.Tallies(context.Background(), msisdns)
	require.NoError(t, err)
	assert.Equal(t, domain.ReliabilityTally{Success: 3, TimedOut: 1}, tallies["a"])
	_, ok := tallies["b"]
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptRepo_Tallies_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("GROUP BY msisdn").WillReturnError(errors.New("boom"))
	_, err = NewAttemptRepo(mock).Tallies(context.Background(), []string{"a"})
	assert.Error(t, err)
}
