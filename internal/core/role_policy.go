package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RolePolicy resolves the role tier an action on a document type requires.
// Rules live in the role_rules table so the tiers can be retuned without a
// deploy; actors arrive with their role already resolved upstream.
type RolePolicy interface {
	RequiredRole(ctx context.Context, docType DocumentType, action string) (Role, error)
}

type rolePolicy struct {
	pool *pgxpool.Pool
}

// NewRolePolicy constructs a RolePolicy backed by the role_rules table.
func NewRolePolicy(pool *pgxpool.Pool) RolePolicy {
	return &rolePolicy{pool: pool}
}

func (p *rolePolicy) RequiredRole(ctx context.Context, docType DocumentType, action string) (Role, error) {
	var role string
	err := p.pool.QueryRow(ctx,
		"SELECT min_role FROM role_rules WHERE doc_type = $1 AND action = $2",
		string(docType), action,
	).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("no role rule for %s %s, seed role_rules or run migrations", docType, action)
		}
		return "", fmt.Errorf("resolve role rule (%s, %s): %w", docType, action, err)
	}
	return Role(role), nil
}
