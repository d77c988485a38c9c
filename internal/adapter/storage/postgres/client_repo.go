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

const clientColumns = `msisdn, country, operator, operator_code, protocols, last_published_date`

// ClientRepo implements ports.ClientRepository.
type ClientRepo struct {
	pool Pool
}

// NewClientRepo creates a new ClientRepo.
func NewClientRepo(pool Pool) *ClientRepo {
	return &ClientRepo{pool: pool}
}

// Upsert inserts or merges a client. Empty country/operator values never
// overwrite known ones and the protocol arrays are unioned, so concurrent
// upserts for one MSISDN serialize on the row lock taken by ON CONFLICT.
func (r *ClientRepo) Upsert(ctx context.Context, c *domain.GatewayClient) error {
	query := `INSERT INTO gateway_clients (` + clientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (msisdn) DO UPDATE SET
			country = COALESCE(NULLIF(EXCLUDED.country, ''), gateway_clients.country),
			operator = COALESCE(NULLIF(EXCLUDED.operator, ''), gateway_clients.operator),
			operator_code = COALESCE(NULLIF(EXCLUDED.operator_code, ''), gateway_clients.operator_code),
			protocols = ARRAY(SELECT DISTINCT p FROM unnest(gateway_clients.protocols || EXCLUDED.protocols) AS p ORDER BY p),
			last_published_date = GREATEST(EXCLUDED.last_published_date, gateway_clients.last_published_date)`

	_, err := r.pool.Exec(ctx, query,
		c.MSISDN, c.Country, c.Operator, c.OperatorCode,
		protocolStrings(c.Protocols), c.LastPublishedDate,
	)
	if err != nil {
		return fmt.Errorf("upsert client: %w", err)
	}
	return nil
}

// GetByMSISDN returns nil, nil when the client is unknown.
func (r *ClientRepo) GetByMSISDN(ctx context.Context, msisdn string) (*domain.GatewayClient, error) {
	query := `SELECT ` + clientColumns + ` FROM gateway_clients WHERE msisdn = $1`

	c, err := scanClient(r.pool.QueryRow(ctx, query, msisdn))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get client by msisdn: %w", err)
	}
	return c, nil
}

// List fetches clients with filtering and pagination.
func (r *ClientRepo) List(ctx context.Context, params ports.ClientListParams) ([]domain.GatewayClient, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.Country != nil {
		conditions = append(conditions, fmt.Sprintf("lower(country) = lower($%d)", argIdx))
		args = append(args, *params.Country)
		argIdx++
	}
	if params.Operator != nil {
		conditions = append(conditions, fmt.Sprintf("position(lower($%d) in lower(operator)) > 0", argIdx))
		args = append(args, *params.Operator)
		argIdx++
	}
	if params.Protocol != nil {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(protocols)", argIdx))
		args = append(args, string(*params.Protocol))
		argIdx++
	}
	if params.PublishedSince != nil {
		conditions = append(conditions, fmt.Sprintf("last_published_date >= $%d", argIdx))
		args = append(args, *params.PublishedSince)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM gateway_clients %s", where)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count clients: %w", err)
	}

	offset, ok := pageOffset(params.Page, params.PerPage, total)
	if !ok {
		return nil, total, nil
	}
	dataQuery := fmt.Sprintf(`SELECT `+clientColumns+` FROM gateway_clients %s
		ORDER BY last_published_date DESC NULLS LAST, msisdn LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, params.PerPage, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var clients []domain.GatewayClient
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate clients: %w", err)
	}
	return clients, total, nil
}

func (r *ClientRepo) Countries(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, `SELECT DISTINCT country FROM gateway_clients WHERE country <> '' ORDER BY country`)
}

// Operators lists the operators seen in a country, matched case-insensitively.
func (r *ClientRepo) Operators(ctx context.Context, country string) ([]string, error) {
	return r.distinct(ctx, `SELECT DISTINCT operator FROM gateway_clients
		WHERE lower(country) = lower($1) AND operator <> '' ORDER BY operator`, country)
}

func (r *ClientRepo) distinct(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query distinct values: %w", err)
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan distinct value: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func scanClient(row rowScanner) (*domain.GatewayClient, error) {
	var (
		c         domain.GatewayClient
		protocols []string
		published *time.Time
	)
	if err := row.Scan(&c.MSISDN, &c.Country, &c.Operator, &c.OperatorCode, &protocols, &published); err != nil {
		return nil, err
	}
	c.Protocols = make([]domain.Protocol, 0, len(protocols))
	for _, p := range protocols {
		c.Protocols = append(c.Protocols, domain.Protocol(p))
	}
	c.LastPublishedDate = published
	return &c, nil
}

func protocolStrings(protocols []domain.Protocol) []string {
	out := make([]string, len(protocols))
	for i, p := range protocols {
		out[i] = string(p)
	}
	return out
}
