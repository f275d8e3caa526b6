package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/veridian-id/veridian/internal/auth/domain"
	"github.com/veridian-id/veridian/pkg/idx"
)

type clientsRepo struct {
	q querier
}

func (r *clientsRepo) GetClientByID(ctx context.Context, id string) (domain.Client, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, name, enabled, grant_types, scopes,
		       require_client_secret, require_dpop, require_pkce,
		       allow_plain_text_pkce, access_token_lifetime_s,
		       refresh_token_lifetime_s, properties
		FROM clients WHERE id = ?`, id)

	var (
		c          domain.Client
		grantTypes string
		scopes     string
		accessTTL  int64
		refreshTTL int64
		props      string
	)
	err := row.Scan(
		&c.ID, &c.Name, &c.Enabled, &grantTypes, &scopes,
		&c.RequireClientSecret, &c.RequireDPoP, &c.RequirePKCE,
		&c.AllowPlainTextPKCE, &accessTTL, &refreshTTL, &props,
	)
	if err != nil {
		return domain.Client{}, mapNotFound(err)
	}

	c.GrantTypes = splitAndFilter(grantTypes)
	c.Scopes = splitAndFilter(scopes)
	c.AccessTokenLifetime = time.Duration(accessTTL) * time.Second
	c.RefreshTokenLifetime = time.Duration(refreshTTL) * time.Second

	if props != "" {
		if err := json.Unmarshal([]byte(props), &c.Properties); err != nil {
			return domain.Client{}, err
		}
	}

	secrets, err := r.secretsFor(ctx, c.ID)
	if err != nil {
		return domain.Client{}, err
	}
	c.Secrets = secrets

	return c, nil
}

func (r *clientsRepo) secretsFor(ctx context.Context, clientID string) ([]domain.ClientSecret, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, type, value, expiration
		FROM client_secrets WHERE client_id = ?`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var secrets []domain.ClientSecret
	for rows.Next() {
		var (
			s   domain.ClientSecret
			exp sql.NullTime
		)
		if err := rows.Scan(&s.ID, &s.Type, &s.Value, &exp); err != nil {
			return nil, err
		}
		if exp.Valid {
			t := exp.Time
			s.Expiration = &t
		}
		secrets = append(secrets, s)
	}
	return secrets, rows.Err()
}

func (r *clientsRepo) CreateClient(ctx context.Context, c domain.Client) error {
	props := "{}"
	if c.Properties != nil {
		b, err := json.Marshal(c.Properties)
		if err != nil {
			return err
		}
		props = string(b)
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO clients (
			id, name, enabled, grant_types, scopes,
			require_client_secret, require_dpop, require_pkce,
			allow_plain_text_pkce, access_token_lifetime_s,
			refresh_token_lifetime_s, properties
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Enabled,
		strings.Join(c.GrantTypes, " "), strings.Join(c.Scopes, " "),
		c.RequireClientSecret, c.RequireDPoP, c.RequirePKCE,
		c.AllowPlainTextPKCE,
		int64(c.AccessTokenLifetime.Seconds()),
		int64(c.RefreshTokenLifetime.Seconds()),
		props,
	)
	if err != nil {
		return err
	}

	for _, s := range c.Secrets {
		id := s.ID
		if id == "" {
			id = idx.New().String()
		}
		var exp sql.NullTime
		if s.Expiration != nil {
			exp = sql.NullTime{Time: *s.Expiration, Valid: true}
		}
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO client_secrets (id, client_id, type, value, expiration)
			VALUES (?, ?, ?, ?, ?)`,
			id, c.ID, s.Type, s.Value, exp,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *clientsRepo) SetClientEnabled(ctx context.Context, clientID string, enabled bool) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE clients SET enabled = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, enabled, clientID)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *clientsRepo) DeleteClient(ctx context.Context, clientID string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, clientID)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *clientsRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients`).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

func splitAndFilter(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Fields(s)
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}
