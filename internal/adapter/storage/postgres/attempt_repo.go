package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"relay-gateway/internal/core/domain"
	"relay-gateway/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

const attemptColumns = `id, msisdn, start_time, sms_received_time, sms_routed_time, sms_sent_time, status`

// AttemptRepo implements ports.AttemptRepository.
type AttemptRepo struct {
	pool Pool
}

// NewAttemptRepo creates a new AttemptRepo.
func NewAttemptRepo(pool Pool) *AttemptRepo {
	return &AttemptRepo{pool: pool}
}

// Create inserts a new attempt and assigns its ID.
func (r *AttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	query := `INSERT INTO reliability_tests (msisdn, start_time, sms_received_time, sms_routed_time, sms_sent_time, status)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	err := r.pool.QueryRow(ctx, query,
		a.MSISDN, a.StartTime, a.SMSReceivedTime, a.SMSRoutedTime, a.SMSSentTime, string(a.Status),
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when the attempt does not exist.
func (r *AttemptRepo) GetByID(ctx context.Context, id int64) (*domain.DeliveryAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM reliability_tests WHERE id = $1`

	a, err := scanAttempt(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get attempt by id: %w", err)
	}
	return a, nil
}

// Mutate applies fn to the attempt while holding its row lock (SELECT ... FOR
// UPDATE), so terminal writes for one attempt id are serialized.
func (r *AttemptRepo) Mutate(ctx context.Context, id int64, fn func(*domain.DeliveryAttempt) error) (*domain.DeliveryAttempt, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin attempt update: %w", err)
	}
	rollback := func() { _ = tx.Rollback(ctx) }

	query := `SELECT ` + attemptColumns + ` FROM reliability_tests WHERE id = $1 FOR UPDATE`
	a, err := scanAttempt(tx.QueryRow(ctx, query, id))
	if err != nil {
		rollback()
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock attempt: %w", err)
	}

	if err := fn(a); err != nil {
		rollback()
		return nil, err
	}

	_, err = tx.Exec(ctx, `UPDATE reliability_tests
		SET sms_received_time = $1, sms_routed_time = $2, sms_sent_time = $3, status = $4
		WHERE id = $5`,
		a.SMSReceivedTime, a.SMSRoutedTime, a.SMSSentTime, string(a.Status), a.ID,
	)
	if err != nil {
		rollback()
		return nil, fmt.Errorf("update attempt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit attempt update: %w", err)
	}
	return a, nil
}

// ExpirePending finalizes stale pending attempts in one conditional update.
// Rows already terminal are untouched, so a racing success keeps its status.
func (r *AttemptRepo) ExpirePending(ctx context.Context, startedBefore time.Time) ([]int64, error) {
	query := `UPDATE reliability_tests SET status = 'timedout'
		WHERE status = 'pending' AND start_time < $1
		RETURNING id`

	rows, err := r.pool.Query(ctx, query, startedBefore)
	if err != nil {
		return nil, fmt.Errorf("expire pending attempts: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// List fetches attempts for one MSISDN, newest first.
func (r *AttemptRepo) List(ctx context.Context, params ports.AttemptListParams) ([]domain.DeliveryAttempt, int64, error) {
	conditions := []string{"msisdn = $1"}
	args := []any{params.MSISDN}
	argIdx := 2

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(*params.Status))
		argIdx++
	}
	if params.StartFrom != nil {
		conditions = append(conditions, fmt.Sprintf("start_time >= $%d", argIdx))
		args = append(args, *params.StartFrom)
		argIdx++
	}
	if params.StartTo != nil {
		conditions = append(conditions, fmt.Sprintf("start_time <= $%d", argIdx))
		args = append(args, *params.StartTo)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM reliability_tests %s", where)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count attempts: %w", err)
	}

	offset, ok := pageOffset(params.Page, params.PerPage, total)
	if !ok {
		return nil, total, nil
	}
	dataQuery := fmt.Sprintf(`SELECT `+attemptColumns+` FROM reliability_tests %s
		ORDER BY id DESC LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, params.PerPage, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.DeliveryAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, total, nil
}

// Summary aggregates the full history of one MSISDN.
func (r *AttemptRepo) Summary(ctx context.Context, msisdn string) (ports.AttemptSummary, error) {
	query := `SELECT
		COUNT(*) FILTER (WHERE status = 'success') AS total_success,
		COUNT(*) FILTER (WHERE status = 'timedout') AS total_failed,
		COUNT(*) AS total_records
		FROM reliability_tests WHERE msisdn = $1`

	var s ports.AttemptSummary
	if err := r.pool.QueryRow(ctx, query, msisdn).Scan(&s.Success, &s.TimedOut, &s.Records); err != nil {
		return ports.AttemptSummary{}, fmt.Errorf("summarize attempts: %w", err)
	}
	return s, nil
}

// Tallies counts terminal attempts per MSISDN in one grouped query.
func (r *AttemptRepo) Tallies(ctx context.Context, msisdns []string) (map[string]domain.ReliabilityTally, error) {
	tallies := make(map[string]domain.ReliabilityTally, len(msisdns))
	if len(msisdns) == 0 {
		return tallies, nil
	}

	query := `SELECT msisdn,
		COUNT(*) FILTER (WHERE status = 'success'),
		COUNT(*) FILTER (WHERE status = 'timedout')
		FROM reliability_tests WHERE msisdn = ANY($1)
		GROUP BY msisdn`

	rows, err := r.pool.Query(ctx, query, msisdns)
	if err != nil {
		return nil, fmt.Errorf("tally attempts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msisdn string
			t      domain.ReliabilityTally
		)
		if err := rows.Scan(&msisdn, &t.Success, &t.TimedOut); err != nil {
			return nil, fmt.Errorf("scan tally: %w", err)
		}
		tallies[msisdn] = t
	}
	return tallies, rows.Err()
}

func scanAttempt(row rowScanner) (*domain.DeliveryAttempt, error) {
	var (
		a      domain.DeliveryAttempt
		status string
	)
	if err := row.Scan(
		&a.ID, &a.MSISDN, &a.StartTime,
		&a.SMSReceivedTime, &a.SMSRoutedTime, &a.SMSSentTime,
		&status,
	); err != nil {
		return nil, err
	}
	a.Status = domain.AttemptStatus(status)
	return &a, nil
}
