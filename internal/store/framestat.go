package store

import (
	"database/sql"
	"time"
)

// FrameStat is one sampled observation of the producer loop within a run.
type FrameStat struct {
	ID         int64
	RunID      string
	FrameID    int64
	RecordedAt time.Time
	FPS        float64
	NumHands   int
	NumJoints  int
}

// FrameStatRepository provides operations for sampled frame statistics.
type FrameStatRepository struct {
	db *sql.DB
}

// FrameStats returns the frame stat repository for this store.
func (s *Store) FrameStats() *FrameStatRepository {
	return &FrameStatRepository{db: s.db}
}

// Insert records one sampled observation.
func (r *FrameStatRepository) Insert(stat *FrameStat) error {
	result, err := r.db.Exec(
		`INSERT INTO frame_stats (run_id, frame_id, recorded_at, fps, num_hands, num_joints)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		stat.RunID, stat.FrameID, stat.RecordedAt, stat.FPS, stat.NumHands, stat.NumJoints,
	)
	if err != nil {
		return err
	}

	stat.ID, err = result.LastInsertId()
	return err
}

// ListByRun retrieves the sampled stats for one run in recording order.
func (r *FrameStatRepository) ListByRun(runID string) ([]*FrameStat, error) {
	rows, err := r.db.Query(
		`SELECT id, run_id, frame_id, recorded_at, fps, num_hands, num_joints
		 FROM frame_stats WHERE run_id = ? ORDER BY frame_id`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*FrameStat
	for rows.Next() {
		stat := &FrameStat{}
		err := rows.Scan(&stat.ID, &stat.RunID, &stat.FrameID, &stat.RecordedAt,
			&stat.FPS, &stat.NumHands, &stat.NumJoints)
		if err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

// RunRecorder binds frame stat inserts to one run. It satisfies the
// producer loop's frame sink.
type RunRecorder struct {
	repo  *FrameStatRepository
	runID string
}

// RecorderFor returns a recorder that attributes samples to runID.
func (s *Store) RecorderFor(runID string) *RunRecorder {
	return &RunRecorder{repo: s.FrameStats(), runID: runID}
}

// RecordFrame inserts one sampled observation for the bound run.
func (r *RunRecorder) RecordFrame(frameID uint64, at time.Time, fps float64, hands, joints int) error {
	return r.repo.Insert(&FrameStat{
		RunID:      r.runID,
		FrameID:    int64(frameID),
		RecordedAt: at,
		FPS:        fps,
		NumHands:   hands,
		NumJoints:  joints,
	})
}
