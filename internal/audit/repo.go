package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mealgate/internal/meal"
)

// Decision is a persisted terminal decision, one row per approve/deny.
type Decision struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	UID       string    `json:"uid"`
	Operator  string    `json:"operator"`
	Committed bool      `json:"committed"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository persists the decision log and terminal credentials in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertTerminal ensures a terminal record exists.
func (r *Repository) UpsertTerminal(ctx context.Context, terminalID string) error {
	if terminalID == "" {
		return errors.New("terminal id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO terminals (terminal_id)
		VALUES ($1)
		ON CONFLICT (terminal_id) DO NOTHING
	`, terminalID)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, terminalID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (terminal_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, terminalID, token, expiresAt)
	return err
}

// RevokeRefreshToken marks a token revoked.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return err
}

// InsertDecision appends one decision row. The log is append-only.
func (r *Repository) InsertDecision(ctx context.Context, d Decision) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO meal_decisions (id, decision_type, student_uid, operator_id, committed, reason, decided_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING
	`, d.ID, d.Type, d.UID, d.Operator, d.Committed, d.Reason, d.At)
	return err
}

// ListDecisions returns recent decisions, newest first, optionally filtered
// by student uid.
func (r *Repository) ListDecisions(ctx context.Context, uid string, limit, offset int) ([]Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT id, decision_type, student_uid, operator_id, committed, reason, decided_at, created_at
		FROM meal_decisions`
	args := []any{}
	if uid != "" {
		query += ` WHERE student_uid = $1`
		args = append(args, uid)
	}
	query += ` ORDER BY decided_at DESC LIMIT $` + itoa(len(args)+1) + ` OFFSET $` + itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Decision
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.ID, &d.Type, &d.UID, &d.Operator, &d.Committed, &d.Reason, &d.At, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }

// FromEvent converts a queue-delivered core decision into a row.
func FromEvent(d meal.Decision) Decision {
	return Decision{
		ID:        d.ID,
		Type:      d.Type,
		UID:       d.UID,
		Operator:  d.Operator,
		Committed: d.Committed,
		Reason:    string(d.Reason),
		At:        d.At,
	}
}

// DecodeEvent parses a queue message body back into a core decision.
func DecodeEvent(body []byte) (meal.Decision, error) {
	var d meal.Decision
	if err := json.Unmarshal(body, &d); err != nil {
		return meal.Decision{}, err
	}
	return d, nil
}
