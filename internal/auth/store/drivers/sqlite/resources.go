package sqlite

import (
	"context"
	"strings"

	"github.com/veridian-id/veridian/internal/auth/domain"
)

type resourcesRepo struct {
	q querier
}

func (r *resourcesRepo) GetScopeByName(ctx context.Context, name string) (domain.Scope, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT name, type, description FROM scopes WHERE name = ?`, name)

	var s domain.Scope
	if err := row.Scan(&s.Name, &s.Type, &s.Description); err != nil {
		return domain.Scope{}, mapNotFound(err)
	}
	return s, nil
}

func (r *resourcesRepo) GetAPIResourceByName(ctx context.Context, name string) (domain.APIResource, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT name, scopes FROM api_resources WHERE name = ?`, name)

	var (
		res    domain.APIResource
		scopes string
	)
	if err := row.Scan(&res.Name, &scopes); err != nil {
		return domain.APIResource{}, mapNotFound(err)
	}
	res.Scopes = splitAndFilter(scopes)
	return res, nil
}

func (r *resourcesRepo) ListAPIResourcesByScope(ctx context.Context, scope string) ([]domain.APIResource, error) {
	// Scopes are a space-delimited column; match on padded boundaries so
	// "pay" never matches "payments".
	rows, err := r.q.QueryContext(ctx, `
		SELECT name, scopes FROM api_resources
		WHERE ' ' || scopes || ' ' LIKE '% ' || ? || ' %'`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.APIResource
	for rows.Next() {
		var (
			res       domain.APIResource
			scopesCol string
		)
		if err := rows.Scan(&res.Name, &scopesCol); err != nil {
			return nil, err
		}
		res.Scopes = splitAndFilter(scopesCol)
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *resourcesRepo) CreateScope(ctx context.Context, s domain.Scope) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO scopes (name, type, description) VALUES (?, ?, ?)`,
		s.Name, s.Type, s.Description)
	return err
}

func (r *resourcesRepo) CreateAPIResource(ctx context.Context, res domain.APIResource) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO api_resources (name, scopes) VALUES (?, ?)`,
		res.Name, strings.Join(res.Scopes, " "))
	return err
}
