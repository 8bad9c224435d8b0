package store

import (
	"database/sql"
	"time"
)

// Outcome is how the link resolved a command.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeEchoMismatch Outcome = "echo_mismatch"
	OutcomeEchoTimeout  Outcome = "echo_timeout"
	OutcomeLinkError    Outcome = "link_error"
)

// Actuation is one command sent during a run.
type Actuation struct {
	RunID    string    `json:"run_id"`
	Seq      uint64    `json:"seq"`
	CurrentX int       `json:"current_x"`
	CurrentY int       `json:"current_y"`
	TargetX  int       `json:"target_x"`
	TargetY  int       `json:"target_y"`
	Outcome  Outcome   `json:"outcome"`
	SentAt   time.Time `json:"sent_at"`
}

// ActuationRepository records commands.
type ActuationRepository struct {
	db *sql.DB
}

// Actuations returns the actuation repository for this store.
func (s *Store) Actuations() *ActuationRepository {
	return &ActuationRepository{db: s.db}
}

// Record inserts a.
func (r *ActuationRepository) Record(a *Actuation) error {
	if a.SentAt.IsZero() {
		a.SentAt = time.Now().UTC()
	}
	_, err := r.db.Exec(
		`INSERT INTO actuations (run_id, seq, current_x, current_y, target_x, target_y, outcome, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, int64(a.Seq), a.CurrentX, a.CurrentY, a.TargetX, a.TargetY, a.Outcome, a.SentAt,
	)
	return err
}

// ListByRun returns a run's actuations in send order. A limit of zero or
// less returns all of them.
func (r *ActuationRepository) ListByRun(runID string, limit int) ([]*Actuation, error) {
	query := `SELECT run_id, seq, current_x, current_y, target_x, target_y, outcome, sent_at
		 FROM actuations WHERE run_id = ? ORDER BY id`
	args := []any{runID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Actuation
	for rows.Next() {
		a := &Actuation{}
		var seq int64
		if err := rows.Scan(&a.RunID, &seq, &a.CurrentX, &a.CurrentY, &a.TargetX, &a.TargetY, &a.Outcome, &a.SentAt); err != nil {
			return nil, err
		}
		a.Seq = uint64(seq)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Count returns how many actuations a run recorded.
func (r *ActuationRepository) Count(runID string) (int64, error) {
	var n int64
	err := r.db.QueryRow(`SELECT COUNT(*) FROM actuations WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}
