package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidehook/tidehook/internal/model"
)

// sweepLockKey is the advisory lock key arbitrating a single active
// sweeper across processes sharing the database.
const sweepLockKey = 0x7468_5357 // "thSW"

// Postgres is the production Store, backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) CreateEndpoint(ctx context.Context, ep *model.Endpoint) error {
	return p.pool.QueryRow(ctx, `
		INSERT INTO tidehook.endpoints(id, org_id, url, description, secret, event_types, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		ep.ID, ep.OrgID, ep.URL, ep.Description, ep.Secret, ep.EventTypes, ep.Active,
	).Scan(&ep.CreatedAt, &ep.UpdatedAt)
}

func (p *Postgres) GetEndpoint(ctx context.Context, id string) (*model.Endpoint, error) {
	ep := &model.Endpoint{}
	err := p.pool.QueryRow(ctx, `
		SELECT id, org_id, url, description, secret, event_types, active, created_at, updated_at
		FROM tidehook.endpoints WHERE id = $1`, id,
	).Scan(&ep.ID, &ep.OrgID, &ep.URL, &ep.Description, &ep.Secret, &ep.EventTypes,
		&ep.Active, &ep.CreatedAt, &ep.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ep, nil
}

func (p *Postgres) UpdateEndpoint(ctx context.Context, ep *model.Endpoint) error {
	ct, err := p.pool.Exec(ctx, `
		UPDATE tidehook.endpoints
		SET url=$2, description=$3, secret=$4, event_types=$5, active=$6, updated_at=now()
		WHERE id=$1`,
		ep.ID, ep.URL, ep.Description, ep.Secret, ep.EventTypes, ep.Active,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListEndpoints(ctx context.Context, orgID string) ([]*model.Endpoint, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, org_id, url, description, secret, event_types, active, created_at, updated_at
		FROM tidehook.endpoints
		WHERE ($1 = '' OR org_id = $1)
		ORDER BY created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Endpoint
	for rows.Next() {
		ep := &model.Endpoint{}
		if err := rows.Scan(&ep.ID, &ep.OrgID, &ep.URL, &ep.Description, &ep.Secret,
			&ep.EventTypes, &ep.Active, &ep.CreatedAt, &ep.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateDelivery(ctx context.Context, d *model.Delivery) error {
	// Marshal once, pass as TEXT and cast to ::jsonb in SQL (avoids some
	// driver type ambiguity issues).
	return p.pool.QueryRow(ctx, `
		INSERT INTO tidehook.deliveries(id, endpoint_id, event_type, payload, attempts)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		RETURNING created_at`,
		d.ID, d.EndpointID, d.EventType, string(d.Payload), d.Attempts,
	).Scan(&d.CreatedAt)
}

func (p *Postgres) GetDelivery(ctx context.Context, id string) (*model.Delivery, error) {
	d := &model.Delivery{}
	err := p.pool.QueryRow(ctx, `
		SELECT id, endpoint_id, event_type, payload, response_body, response_status,
		       attempts, next_retry_at, delivered_at, created_at
		FROM tidehook.deliveries WHERE id = $1`, id,
	).Scan(&d.ID, &d.EndpointID, &d.EventType, &d.Payload, &d.ResponseBody,
		&d.ResponseStatus, &d.Attempts, &d.NextRetryAt, &d.DeliveredAt, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// RecordAttempt is the engine's only write path for attempt results. The
// guard makes overlapping attempts on one delivery safe: a stale copy can
// neither drop an increment nor regress a delivered record back to
// scheduled.
func (p *Postgres) RecordAttempt(ctx context.Context, d *model.Delivery) error {
	ct, err := p.pool.Exec(ctx, `
		UPDATE tidehook.deliveries
		SET response_body=$2, response_status=$3, attempts=$4, next_retry_at=$5, delivered_at=$6
		WHERE id=$1 AND delivered_at IS NULL AND attempts = $4 - 1`,
		d.ID, d.ResponseBody, d.ResponseStatus, d.Attempts, d.NextRetryAt, d.DeliveredAt,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return p.deliveryWriteConflict(ctx, d.ID)
	}
	return nil
}

func (p *Postgres) UpdateDelivery(ctx context.Context, d *model.Delivery) error {
	ct, err := p.pool.Exec(ctx, `
		UPDATE tidehook.deliveries
		SET response_body=$2, response_status=$3, attempts=$4, next_retry_at=$5, delivered_at=$6
		WHERE id=$1 AND (delivered_at IS NULL OR $6::timestamptz IS NOT NULL)`,
		d.ID, d.ResponseBody, d.ResponseStatus, d.Attempts, d.NextRetryAt, d.DeliveredAt,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return p.deliveryWriteConflict(ctx, d.ID)
	}
	return nil
}

// deliveryWriteConflict distinguishes a missing row from a lost race.
func (p *Postgres) deliveryWriteConflict(ctx context.Context, id string) error {
	if _, err := p.GetDelivery(ctx, id); err != nil {
		return err
	}
	return ErrStaleDelivery
}

func (p *Postgres) ListDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*model.Delivery, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, endpoint_id, event_type, payload, response_body, response_status,
		       attempts, next_retry_at, delivered_at, created_at
		FROM tidehook.deliveries
		WHERE delivered_at IS NULL
		  AND (next_retry_at IS NULL OR next_retry_at <= $1)
		  AND attempts < $2
		ORDER BY created_at
		LIMIT $3`, now, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

func (p *Postgres) ListDeliveries(ctx context.Context, endpointID string, limit int) ([]*model.Delivery, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, endpoint_id, event_type, payload, response_body, response_status,
		       attempts, next_retry_at, delivered_at, created_at
		FROM tidehook.deliveries
		WHERE endpoint_id = $1
		ORDER BY created_at
		LIMIT NULLIF($2, 0)`, endpointID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

// AcquireSweepLock takes the session-scoped advisory lock on a dedicated
// connection. held=false means another process is sweeping.
func (p *Postgres) AcquireSweepLock(ctx context.Context) (func(), bool, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	var held bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, sweepLockKey).Scan(&held); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !held {
		conn.Release()
		return nil, false, nil
	}
	release := func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, sweepLockKey)
		conn.Release()
	}
	return release, true, nil
}

func scanDeliveries(rows pgx.Rows) ([]*model.Delivery, error) {
	var out []*model.Delivery
	for rows.Next() {
		d := &model.Delivery{}
		if err := rows.Scan(&d.ID, &d.EndpointID, &d.EventType, &d.Payload, &d.ResponseBody,
			&d.ResponseStatus, &d.Attempts, &d.NextRetryAt, &d.DeliveredAt, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
