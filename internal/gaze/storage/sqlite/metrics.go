package sqlite

import (
	"database/sql"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Metrics summarizes fixation behaviour over one session. Dwell figures
// are in seconds; dispersion and jitter are in pixels.
type Metrics struct {
	Fixations   int     `json:"fixations"`
	DwellMean   float64 `json:"dwell_mean_s"`
	DwellStdDev float64 `json:"dwell_stddev_s"`
	DwellP50    float64 `json:"dwell_p50_s"`
	DwellP90    float64 `json:"dwell_p90_s"`
	DwellMax    float64 `json:"dwell_max_s"`
	Dispersion  float64 `json:"dispersion_px"`
	JitterRMS   float64 `json:"jitter_rms_px"`
}

// SessionMetrics rolls up a session's hover events into summary statistics.
// A session with no hovers yields zeroed dwell figures, not an error.
func (s *Store) SessionMetrics(sessionID string) (*Metrics, error) {
	var jitter float64
	err := s.QueryRow(`SELECT jitter_rms FROM sessions WHERE session_id = ?`, sessionID).Scan(&jitter)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session %s not found", sessionID)
		}
		return nil, fmt.Errorf("query session jitter: %w", err)
	}

	rows, err := s.Query(`
		SELECT x, y, dwell_ns
		FROM hover_events
		WHERE session_id = ?
		ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query hover events: %w", err)
	}
	defer rows.Close()

	var xs, ys, dwells []float64
	for rows.Next() {
		var x, y float64
		var dwellNs int64
		if err := rows.Scan(&x, &y, &dwellNs); err != nil {
			return nil, fmt.Errorf("scan hover event: %w", err)
		}
		xs = append(xs, x)
		ys = append(ys, y)
		dwells = append(dwells, float64(dwellNs)/1e9)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	m := &Metrics{
		Fixations: len(dwells),
		JitterRMS: jitter,
	}
	if len(dwells) == 0 {
		return m, nil
	}

	// stat.Quantile requires ascending order.
	sort.Float64s(dwells)

	m.DwellMean = stat.Mean(dwells, nil)
	if len(dwells) > 1 {
		m.DwellStdDev = stat.StdDev(dwells, nil)
	}
	m.DwellP50 = stat.Quantile(0.5, stat.Empirical, dwells, nil)
	m.DwellP90 = stat.Quantile(0.9, stat.Empirical, dwells, nil)
	m.DwellMax = dwells[len(dwells)-1]

	// Dispersion is the RMS distance of hover points from their centroid:
	// how spread out the session's fixations were on screen.
	cx := stat.Mean(xs, nil)
	cy := stat.Mean(ys, nil)
	var sumSq float64
	for i := range xs {
		dx := xs[i] - cx
		dy := ys[i] - cy
		sumSq += dx*dx + dy*dy
	}
	m.Dispersion = math.Sqrt(sumSq / float64(len(xs)))

	return m, nil
}
