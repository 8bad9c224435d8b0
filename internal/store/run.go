package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a journaled run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunStopped RunStatus = "stopped"
	RunFailed  RunStatus = "failed"
)

// Run is one pipeline run.
type Run struct {
	ID        string     `json:"id"`
	Backend   string     `json:"backend"`
	Target    string     `json:"target"`
	Port      string     `json:"port"`
	Status    RunStatus  `json:"status"`
	Error     string     `json:"error,omitempty"`
	Cycles    int64      `json:"cycles"`
	Commands  int64      `json:"commands"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// RunRepository records runs.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

// Start inserts r as running. An empty ID is filled with a new UUID.
func (r *RunRepository) Start(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.Status = RunRunning
	run.StartedAt = time.Now().UTC()

	_, err := r.db.Exec(
		`INSERT INTO runs (id, backend, target, port, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Backend, run.Target, run.Port, run.Status, run.StartedAt,
	)
	return err
}

// SetPort records the port the actuator was found on.
func (r *RunRepository) SetPort(id, port string) error {
	return expectOne(r.db.Exec(`UPDATE runs SET port = ? WHERE id = ?`, port, id))
}

// Finish closes a run with its final status and counters.
func (r *RunRepository) Finish(id string, status RunStatus, runErr error, cycles, commands int64) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	return expectOne(r.db.Exec(
		`UPDATE runs SET status = ?, error = ?, cycles = ?, commands = ?, ended_at = ?
		 WHERE id = ?`,
		status, msg, cycles, commands, time.Now().UTC(), id,
	))
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	run, err := scanRun(r.db.QueryRow(
		`SELECT id, backend, target, port, status, error, cycles, commands, started_at, ended_at
		 FROM runs WHERE id = ?`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// List returns the most recent runs first. A limit of zero or less means 50.
func (r *RunRepository) List(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(
		`SELECT id, backend, target, port, status, error, cycles, commands, started_at, ended_at
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Delete removes a run and its actuations.
func (r *RunRepository) Delete(id string) error {
	return expectOne(r.db.Exec(`DELETE FROM runs WHERE id = ?`, id))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	run := &Run{}
	var ended sql.NullTime
	err := s.Scan(&run.ID, &run.Backend, &run.Target, &run.Port, &run.Status, &run.Error,
		&run.Cycles, &run.Commands, &run.StartedAt, &ended)
	if err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		run.EndedAt = &t
	}
	return run, nil
}

func expectOne(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
