package store

import (
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Run represents one streaming session: which source fed it, which wire
// variant it spoke and where it sent frames.
type Run struct {
	ID          string
	Source      string
	Variant     string
	Destination string
	StartedAt   time.Time
	FinishedAt  *time.Time
	FramesSent  int64
	AvgFPS      float64
}

// Finished reports whether the run has been closed out.
func (r *Run) Finished() bool {
	return r.FinishedAt != nil
}

// RunRepository provides CRUD operations for runs.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

// Create inserts a new run into the database. The caller assigns the ID.
func (r *RunRepository) Create(run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO runs (id, source, variant, destination, started_at, frames_sent, avg_fps)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.Variant, run.Destination, run.StartedAt, run.FramesSent, run.AvgFPS,
	)
	if err != nil {
		return err
	}

	return nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	run := &Run{}
	var finished sql.NullTime

	err := r.db.QueryRow(
		`SELECT id, source, variant, destination, started_at, finished_at, frames_sent, avg_fps
		 FROM runs WHERE id = ?`,
		id,
	).Scan(&run.ID, &run.Source, &run.Variant, &run.Destination, &run.StartedAt,
		&finished, &run.FramesSent, &run.AvgFPS)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return run, nil
}

// List retrieves all runs, most recent first.
func (r *RunRepository) List() ([]*Run, error) {
	rows, err := r.db.Query(
		`SELECT id, source, variant, destination, started_at, finished_at, frames_sent, avg_fps
		 FROM runs ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var finished sql.NullTime

		err := rows.Scan(&run.ID, &run.Source, &run.Variant, &run.Destination, &run.StartedAt,
			&finished, &run.FramesSent, &run.AvgFPS)
		if err != nil {
			return nil, err
		}

		if finished.Valid {
			run.FinishedAt = &finished.Time
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// Finish closes out a run with its final counters.
func (r *RunRepository) Finish(id string, finishedAt time.Time, framesSent uint64, avgFPS float64) error {
	result, err := r.db.Exec(
		`UPDATE runs SET finished_at = ?, frames_sent = ?, avg_fps = ? WHERE id = ?`,
		finishedAt, int64(framesSent), avgFPS, id,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes a run and, via cascade, its frame stats.
func (r *RunRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
