package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends events to audit_events.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, type, actor_id, actor_role, ip_address, account_id, agent_id, message, metadata, created_at)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, '')::jsonb, $10)`
	_, err := r.db.ExecContext(ctx, q, e.ID, string(e.Type), e.ActorID, e.ActorRole, e.IPAddress, e.AccountID, e.AgentID, e.Message, e.Metadata, e.CreatedAt)
	return err
}
