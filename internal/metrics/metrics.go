// Package metrics computes deployment history analytics from the local
// bookkeeping database: percentile phase durations, coverage trend, and a
// bypass-rate counter. `data status --analytics` prints the phase durations
// and the bypass rate; the coverage trend is not printed by any command.
//
// Grounded on internal/analytics/analytics.go's QueryStageDurations: the same
// pattern of pairing timestamped events per subject (there: issue/stage; here:
// deployment/phase), bucketing durations, and reducing to avg/p50/p95.
package metrics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"
)

// DB is the subset of *store.Store that metrics queries need.
type DB interface {
	Conn() *sql.DB
}

// PhaseDuration holds duration statistics for a deployment phase.
type PhaseDuration struct {
	Phase string  `json:"phase"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_seconds"`
	P50   float64 `json:"p50_seconds"`
	P95   float64 `json:"p95_seconds"`
}

// QueryPhaseDurations pairs consecutive phase_events rows per deployment and
// attributes the elapsed seconds to the phase the later event entered.
func QueryPhaseDurations(database DB, environment string) ([]PhaseDuration, error) {
	query := `
		SELECT pe1.deployment_id, pe1.phase, pe1.timestamp AS end_ts,
			(SELECT MAX(pe2.timestamp) FROM phase_events pe2
			 WHERE pe2.deployment_id = pe1.deployment_id
			 AND pe2.id < pe1.id) AS start_ts
		FROM phase_events pe1
		JOIN deployments d ON d.id = pe1.deployment_id
		WHERE pe1.kind = 'start'`
	args := []interface{}{}
	if environment != "" {
		query += ` AND d.environment = ?`
		args = append(args, environment)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query phase durations: %w", err)
	}
	defer rows.Close()

	byPhase := make(map[string][]float64)
	for rows.Next() {
		var deploymentID int64
		var phase, endTS string
		var startTS sql.NullString
		if err := rows.Scan(&deploymentID, &phase, &endTS, &startTS); err != nil {
			return nil, fmt.Errorf("scan phase duration: %w", err)
		}
		if !startTS.Valid {
			continue
		}
		seconds, err := elapsedSeconds(startTS.String, endTS)
		if err != nil || seconds <= 0 {
			continue
		}
		byPhase[phase] = append(byPhase[phase], seconds)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []PhaseDuration
	for phase, durations := range byPhase {
		sort.Float64s(durations)
		out = append(out, PhaseDuration{
			Phase: phase,
			Count: len(durations),
			Avg:   avg(durations),
			P50:   percentile(durations, 50),
			P95:   percentile(durations, 95),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phase < out[j].Phase })
	return out, nil
}

// CoverageTrend is a single point in the coverage-over-time series.
type CoverageTrend struct {
	Tag         string `json:"tag"`
	StartedAt   string `json:"started_at"`
	CoveragePct int    `json:"coverage_pct"`
}

// QueryCoverageTrend returns coverage percentage per deployment, most recent
// last, suitable for plotting.
func QueryCoverageTrend(database DB, environment string, limit int) ([]CoverageTrend, error) {
	query := `
		SELECT tag, started_at, coverage_pct FROM deployments
		WHERE environment = ? AND coverage_pct IS NOT NULL
		ORDER BY started_at DESC, id DESC LIMIT ?`
	rows, err := database.Conn().Query(query, environment, limit)
	if err != nil {
		return nil, fmt.Errorf("query coverage trend: %w", err)
	}
	defer rows.Close()

	var out []CoverageTrend
	for rows.Next() {
		var t CoverageTrend
		if err := rows.Scan(&t.Tag, &t.StartedAt, &t.CoveragePct); err != nil {
			return nil, fmt.Errorf("scan coverage trend: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse into chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// BypassRate summarizes how often coverage enforcement was bypassed.
type BypassRate struct {
	Total    int     `json:"total"`
	Bypassed int     `json:"bypassed"`
	RatePct  float64 `json:"rate_pct"`
}

// QueryBypassRate reports the fraction of deployments that bypassed coverage
// enforcement for environment.
func QueryBypassRate(database DB, environment string) (BypassRate, error) {
	var total, bypassed int
	err := database.Conn().QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN bypassed THEN 1 ELSE 0 END), 0) FROM deployments WHERE environment = ?`,
		environment,
	).Scan(&total, &bypassed)
	if err != nil {
		return BypassRate{}, fmt.Errorf("query bypass rate: %w", err)
	}
	return BypassRate{Total: total, Bypassed: bypassed, RatePct: pct(bypassed, total)}, nil
}

// --- helpers ---

var timestampFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
}

func elapsedSeconds(start, end string) (float64, error) {
	s, err := parseTimestamp(start)
	if err != nil {
		return 0, err
	}
	e, err := parseTimestamp(end)
	if err != nil {
		return 0, err
	}
	return e.Sub(s).Seconds(), nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, f := range timestampFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return round1(sum / float64(len(values)))
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return round1(sorted[lower])
	}
	weight := rank - float64(lower)
	return round1(sorted[lower]*(1-weight) + sorted[upper]*weight)
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
