package workitem

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresAttemptRepo appends attempts to the contact_attempts table
// (see internal/migrate). Rows are never updated or deleted.
type PostgresAttemptRepo struct {
	db *sql.DB
}

func NewPostgresAttemptRepo(db *sql.DB) *PostgresAttemptRepo {
	return &PostgresAttemptRepo{db: db}
}

func (r *PostgresAttemptRepo) AppendAttempt(ctx context.Context, a Attempt) error {
	if r.db == nil {
		return errors.New("workitem: attempt repository not configured")
	}
	const q = `
INSERT INTO contact_attempts (account_id, attempted_at, kind, agent_id, step_index, outcome, detail)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	_, err := r.db.ExecContext(ctx, q,
		a.AccountID,
		a.At,
		string(a.Kind),
		nullable(a.AgentID),
		a.StepIndex,
		a.Outcome,
		nullable(a.Detail),
	)
	return err
}

// ListAttempts returns attempts in [from, to), oldest first. An empty accountID
// lists every account.
func (r *PostgresAttemptRepo) ListAttempts(ctx context.Context, accountID string, from, to time.Time) ([]Attempt, error) {
	if r.db == nil {
		return nil, errors.New("workitem: attempt repository not configured")
	}
	const q = `
SELECT account_id, attempted_at, kind, COALESCE(agent_id, ''), step_index, outcome, COALESCE(detail, '')
FROM contact_attempts
WHERE ($1::text = '' OR account_id = $1) AND attempted_at >= $2 AND attempted_at < $3
ORDER BY attempted_at ASC, id ASC
`
	rows, err := r.db.QueryContext(ctx, q, accountID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var kind string
		if err := rows.Scan(&a.AccountID, &a.At, &kind, &a.AgentID, &a.StepIndex, &a.Outcome, &a.Detail); err != nil {
			return nil, err
		}
		a.Kind = AttemptKind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
