package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/veridian-id/veridian/internal/auth/domain"
	"github.com/veridian-id/veridian/internal/auth/store"
)

type grantsRepo struct {
	q querier
}

func (r *grantsRepo) GetGrantByKey(ctx context.Context, key string) (domain.Grant, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT key, type, subject_id, client_id,
		       created_at, expires_at, consumed_at, payload
		FROM grants WHERE key = ?`, key)

	var (
		g        domain.Grant
		consumed sql.NullTime
	)
	err := row.Scan(
		&g.Key, &g.Type, &g.SubjectID, &g.ClientID,
		&g.CreatedAt, &g.ExpiresAt, &consumed, &g.Payload,
	)
	if err != nil {
		return domain.Grant{}, mapNotFound(err)
	}
	if consumed.Valid {
		t := consumed.Time
		g.ConsumedAt = &t
	}
	return g, nil
}

func (r *grantsRepo) CreateGrant(ctx context.Context, g domain.Grant) error {
	var consumed sql.NullTime
	if g.ConsumedAt != nil {
		consumed = sql.NullTime{Time: *g.ConsumedAt, Valid: true}
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO grants (key, type, subject_id, client_id,
		                    created_at, expires_at, consumed_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.Key, g.Type, g.SubjectID, g.ClientID,
		g.CreatedAt, g.ExpiresAt, consumed, g.Payload,
	)
	return err
}

func (r *grantsRepo) ConsumeGrant(ctx context.Context, key string, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE grants SET consumed_at = ?
		WHERE key = ? AND consumed_at IS NULL`, at, key)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *grantsRepo) DeleteExpiredGrants(ctx context.Context) error {
	_, err := r.q.ExecContext(ctx, `
		DELETE FROM grants WHERE expires_at < ?`, time.Now().UTC())
	return err
}

// requireRowAffected maps zero-row updates to ErrNotFound so callers can
// distinguish "missing" from "updated".
func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
