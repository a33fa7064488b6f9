// Package history persists optimizer trials in a SQLite database so that
// sweeps can be inspected and compared after the fact.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"tplpath/internal/models"
	"tplpath/pkg/optimizer"
)

// Store wraps the trial database
type Store struct {
	*sql.DB
}

// Open opens (creating if needed) the database at path. Use ":memory:" for
// a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history %s: %w", path, err)
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			base TEXT NOT NULL,
			started TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS trials (
			trial_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			stage TEXT NOT NULL,
			power DOUBLE,
			speed DOUBLE,
			hatch DOUBLE,
			layer_height DOUBLE,
			passed BOOLEAN,
			score DOUBLE,
			voxel_lateral DOUBLE,
			under_exposed BOOLEAN,
			over_exposed BOOLEAN,
			thermal_risk BOOLEAN,
			lines_merged BOOLEAN,
			params TEXT NOT NULL,
			report TEXT NOT NULL,
			at TEXT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);
		CREATE INDEX IF NOT EXISTS trials_run ON trials(run_id, seq);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &Store{db}, nil
}

// Run records the trials of one optimization. It implements
// optimizer.Recorder.
type Run struct {
	ID    uuid.UUID
	store *Store
	seq   int
}

// StartRun registers a new optimization starting from base.
func (s *Store) StartRun(ctx context.Context, base models.ParameterSet) (*Run, error) {
	b, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("encoding base parameters: %w", err)
	}
	id := uuid.New()
	started := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.ExecContext(ctx, "INSERT INTO runs (run_id, base, started) VALUES (?, ?, ?)", id.String(), string(b), started); err != nil {
		return nil, fmt.Errorf("inserting run: %w", err)
	}
	return &Run{ID: id, store: s}, nil
}

// Record stores one trial.
func (r *Run) Record(ctx context.Context, t optimizer.Trial) error {
	params, err := json.Marshal(t.Params)
	if err != nil {
		return fmt.Errorf("encoding trial params: %w", err)
	}
	report, err := json.Marshal(t.Report)
	if err != nil {
		return fmt.Errorf("encoding trial report: %w", err)
	}
	_, err = r.store.ExecContext(ctx, `
		INSERT INTO trials (
			trial_id, run_id, seq, stage, power, speed, hatch, layer_height,
			passed, score, voxel_lateral, under_exposed, over_exposed,
			thermal_risk, lines_merged, params, report, at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), r.ID.String(), r.seq, t.Stage.String(),
		t.Params.Power, t.Params.Speed, t.Params.HatchDistance, t.Params.LayerHeight,
		t.Passed, t.Report.Score, t.Report.VoxelLateral,
		t.Report.UnderExposed, t.Report.OverExposed, t.Report.ThermalRisk, t.Report.LinesMerged,
		string(params), string(report), t.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting trial %s: %w", t.ID, err)
	}
	r.seq++
	return nil
}

// RunInfo summarises a stored run
type RunInfo struct {
	ID      uuid.UUID
	Base    models.ParameterSet
	Started time.Time
	Trials  int
}

// Runs lists stored runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT r.run_id, r.base, r.started, COUNT(t.trial_id)
		FROM runs r LEFT JOIN trials t ON t.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.started DESC, r.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var (
			info    RunInfo
			id      string
			base    string
			started string
		)
		if err := rows.Scan(&id, &base, &started, &info.Trials); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if info.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("run id %q: %w", id, err)
		}
		if err := json.Unmarshal([]byte(base), &info.Base); err != nil {
			return nil, fmt.Errorf("decoding run %s base: %w", id, err)
		}
		if info.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s start time: %w", id, err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Trials returns the trials of a run in the order they were recorded.
func (s *Store) Trials(ctx context.Context, run uuid.UUID) ([]optimizer.Trial, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT trial_id, stage, passed, params, report, at
		FROM trials WHERE run_id = ? ORDER BY seq`, run.String())
	if err != nil {
		return nil, fmt.Errorf("querying trials: %w", err)
	}
	defer rows.Close()

	var out []optimizer.Trial
	for rows.Next() {
		var (
			t              optimizer.Trial
			id, stage, at  string
			params, report string
		)
		if err := rows.Scan(&id, &stage, &t.Passed, &params, &report, &at); err != nil {
			return nil, fmt.Errorf("scanning trial: %w", err)
		}
		if t.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("trial id %q: %w", id, err)
		}
		if t.Stage, err = parseStage(stage); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &t.Params); err != nil {
			return nil, fmt.Errorf("decoding trial %s params: %w", id, err)
		}
		if err := json.Unmarshal([]byte(report), &t.Report); err != nil {
			return nil, fmt.Errorf("decoding trial %s report: %w", id, err)
		}
		if t.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("trial %s time: %w", id, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Best returns the passing trial with the highest score in a run. ok is
// false when no trial passed.
func (s *Store) Best(ctx context.Context, run uuid.UUID) (optimizer.Trial, bool, error) {
	trials, err := s.Trials(ctx, run)
	if err != nil {
		return optimizer.Trial{}, false, err
	}
	var best optimizer.Trial
	found := false
	for _, t := range trials {
		if t.Passed && (!found || t.Report.Score > best.Report.Score) {
			best, found = t, true
		}
	}
	return best, found, nil
}

func parseStage(s string) (optimizer.Stage, error) {
	for st := optimizer.StagePowerThreshold; st <= optimizer.StageDone; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", s)
}
