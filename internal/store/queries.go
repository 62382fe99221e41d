package store

import (
	"database/sql"
	"fmt"
)

// Deployment represents a row in the deployments table.
type Deployment struct {
	ID            int64
	MigrationID   string
	Environment   string
	Tag           string
	Phase         string
	Operations    int
	CoveragePct   *int
	Bypassed      bool
	Outcome       string
	DurationMs    *int
	StartedAt     string
	FinishedAt    *string
}

// PhaseEvent represents a row in the phase_events table.
type PhaseEvent struct {
	ID           int64
	DeploymentID int64
	Phase        string
	Kind         string
	Message      string
	Detail       string
	Timestamp    string
}

// BeginDeployment inserts the initial deployment row, returning its id.
func (s *Store) BeginDeployment(migrationID, environment string) (int64, error) {
	res, err := s.conn.Exec(
		`INSERT INTO deployments (migration_id, environment, tag, phase, outcome) VALUES (?, ?, '', 'validation', 'failed')`,
		migrationID, environment,
	)
	if err != nil {
		return 0, fmt.Errorf("begin deployment: %w", err)
	}
	return res.LastInsertId()
}

// AdvancePhase updates a deployment's current phase.
func (s *Store) AdvancePhase(id int64, phase string) error {
	_, err := s.conn.Exec(`UPDATE deployments SET phase = ? WHERE id = ?`, phase, id)
	if err != nil {
		return fmt.Errorf("advance phase: %w", err)
	}
	return nil
}

// FinishDeployment records the terminal state of a deployment.
func (s *Store) FinishDeployment(id int64, tag, outcome string, operations int, coveragePct *int, bypassed bool, durationMs int) error {
	_, err := s.conn.Exec(
		`UPDATE deployments SET tag = ?, outcome = ?, operations = ?, coverage_pct = ?, bypassed = ?, duration_ms = ?, finished_at = datetime('now') WHERE id = ?`,
		tag, outcome, operations, coveragePct, bypassed, durationMs, id,
	)
	if err != nil {
		return fmt.Errorf("finish deployment: %w", err)
	}
	return nil
}

// LogPhaseEvent appends an orchestrator event tied to a deployment.
func (s *Store) LogPhaseEvent(deploymentID int64, phase, kind, message, detail string) error {
	_, err := s.conn.Exec(
		`INSERT INTO phase_events (deployment_id, phase, kind, message, detail) VALUES (?, ?, ?, ?, ?)`,
		deploymentID, phase, kind, message, detail,
	)
	if err != nil {
		return fmt.Errorf("log phase event: %w", err)
	}
	return nil
}

// LastDeployment returns the most recent deployment for an environment, or
// nil if none exists.
func (s *Store) LastDeployment(environment string) (*Deployment, error) {
	row := s.conn.QueryRow(
		`SELECT id, migration_id, environment, tag, phase, operations, coverage_pct, bypassed, outcome, duration_ms, started_at, finished_at
		 FROM deployments WHERE environment = ? ORDER BY started_at DESC, id DESC LIMIT 1`,
		environment,
	)
	return scanDeployment(row)
}

// History returns up to limit most-recent deployments for environment.
func (s *Store) History(environment string, limit int) ([]Deployment, error) {
	rows, err := s.conn.Query(
		`SELECT id, migration_id, environment, tag, phase, operations, coverage_pct, bypassed, outcome, duration_ms, started_at, finished_at
		 FROM deployments WHERE environment = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
		environment, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDeployment(r rowScanner) (*Deployment, error) {
	var d Deployment
	var coveragePct sql.NullInt64
	var durationMs sql.NullInt64
	var finishedAt sql.NullString
	err := r.Scan(&d.ID, &d.MigrationID, &d.Environment, &d.Tag, &d.Phase, &d.Operations, &coveragePct, &d.Bypassed, &d.Outcome, &durationMs, &d.StartedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan deployment: %w", err)
	}
	if coveragePct.Valid {
		v := int(coveragePct.Int64)
		d.CoveragePct = &v
	}
	if durationMs.Valid {
		v := int(durationMs.Int64)
		d.DurationMs = &v
	}
	if finishedAt.Valid {
		d.FinishedAt = &finishedAt.String
	}
	return &d, nil
}
