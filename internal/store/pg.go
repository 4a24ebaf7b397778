package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vantagetrading/approvald/internal/models"
)

// PGStore persists decisions into Postgres.
//
// Expected schema:
//
//	CREATE TABLE approval_decisions (
//	    id           TEXT PRIMARY KEY,
//	    approval_key TEXT NOT NULL,
//	    kind         TEXT NOT NULL,
//	    action       TEXT NOT NULL DEFAULT '',
//	    body         JSONB NOT NULL,
//	    decided_at   TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX approval_decisions_key_idx ON approval_decisions (approval_key, decided_at DESC);
type PGStore struct {
	db *sql.DB
}

// NewPGStore constructs a Postgres-backed decision log.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (p *PGStore) AppendDecision(ctx context.Context, d models.Decision) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	q := `
		INSERT INTO approval_decisions (id, approval_key, kind, action, body, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = p.db.ExecContext(ctx, q, d.ID, d.ApprovalKey, string(d.Kind), d.Action, body, d.DecidedAt)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func (p *PGStore) LatestDecision(ctx context.Context, approvalKey string) (models.Decision, error) {
	q := `
		SELECT body FROM approval_decisions
		WHERE approval_key = $1
		ORDER BY decided_at DESC
		LIMIT 1
	`
	var body []byte
	if err := p.db.QueryRowContext(ctx, q, approvalKey).Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return models.Decision{}, ErrNotFound
		}
		return models.Decision{}, err
	}
	var d models.Decision
	if err := json.Unmarshal(body, &d); err != nil {
		return models.Decision{}, fmt.Errorf("unmarshal decision: %w", err)
	}
	return d, nil
}

func (p *PGStore) ListDecisions(ctx context.Context, filter ListFilter) ([]models.Decision, error) {
	q := `SELECT body FROM approval_decisions WHERE 1=1`
	var args []interface{}
	idx := 1
	if filter.ApprovalKey != "" {
		q += fmt.Sprintf(" AND approval_key = $%d", idx)
		args = append(args, filter.ApprovalKey)
		idx++
	}
	if filter.Kind != "" {
		q += fmt.Sprintf(" AND kind = $%d", idx)
		args = append(args, string(filter.Kind))
		idx++
	}
	if filter.Action != "" {
		q += fmt.Sprintf(" AND action = $%d", idx)
		args = append(args, filter.Action)
		idx++
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	q += fmt.Sprintf(" ORDER BY decided_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, filter.Offset)

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Decision
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var d models.Decision
		if err := json.Unmarshal(body, &d); err != nil {
			return nil, fmt.Errorf("unmarshal decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PGStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM approval_decisions WHERE decided_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (p *PGStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
