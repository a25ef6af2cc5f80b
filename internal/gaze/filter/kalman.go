// Package filter implements the per-tick smoothing stages applied to raw
// gaze samples: a constant-velocity Kalman predictor, a dead-zone jitter
// suppressor, a spring display integrator, and a temporal stability
// detector. All stages are owned by the consumer tick goroutine and need no
// internal locking.
package filter

import (
	"math"

	"github.com/openlook/gazeline/internal/gaze"
)

// MinDeterminantThreshold is the minimum determinant accepted when inverting
// the 2x2 innovation covariance. Below this the update is treated as
// degenerate and the filter re-seeds from the raw measurement instead of
// propagating non-finite values.
const MinDeterminantThreshold = 1e-9

// KalmanConfig holds the tuning constants for the gaze Kalman filter.
// The noise values are applied per tick: dt is fixed for a given scheduler
// mode, so the constants are tuned against the tick cadence directly.
type KalmanConfig struct {
	// Dt is the prediction interval in seconds, matching the scheduler tick.
	Dt float64
	// ProcessNoisePos is the per-tick position process noise (favours
	// responsiveness over smoothness when raised).
	ProcessNoisePos float64
	// ProcessNoiseVel is the per-tick velocity process noise.
	ProcessNoiseVel float64
	// MeasurementNoise is the measurement variance R for both axes.
	MeasurementNoise float64
}

// DefaultKalmanConfig returns the tuned constants for 60Hz operation.
func DefaultKalmanConfig() KalmanConfig {
	return KalmanConfig{
		Dt:               1.0 / 60.0,
		ProcessNoisePos:  0.1,
		ProcessNoiseVel:  1.0,
		MeasurementNoise: 2.0,
	}
}

// Kalman is a constant-velocity Kalman filter over a single gaze track.
// State vector is [x, y, vx, vy]; the covariance P is stored as a 4x4
// row-major array. The filter seeds itself from the first measurement and
// lives for one tracking session; Reset returns it to the unseeded state.
type Kalman struct {
	Config KalmanConfig

	X, Y   float64
	VX, VY float64
	P      [16]float64

	seeded bool
	resets uint64
}

// NewKalman creates a filter with the given config.
func NewKalman(cfg KalmanConfig) *Kalman {
	k := &Kalman{Config: cfg}
	k.Reset()
	return k
}

// initialCovariance is the covariance used at seed time and after a
// degenerate-update reset: moderate position uncertainty, unit velocity
// uncertainty.
func initialCovariance() [16]float64 {
	return [16]float64{
		10, 0, 0, 0,
		0, 10, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Reset clears the state so the next Update re-seeds from its measurement.
func (k *Kalman) Reset() {
	k.X, k.Y, k.VX, k.VY = 0, 0, 0, 0
	k.P = initialCovariance()
	k.seeded = false
}

// SetDt changes the prediction interval. Called when the scheduler switches
// between the 60Hz and 15Hz modes so the prediction horizon keeps matching
// the real cadence.
func (k *Kalman) SetDt(dt float64) {
	if dt > 0 {
		k.Config.Dt = dt
	}
}

// Resets returns how many times the filter recovered from a degenerate or
// non-finite state. Surfaced in pipeline stats.
func (k *Kalman) Resets() uint64 {
	return k.resets
}

// Update runs one predict+update cycle against a raw measurement and
// returns the position component of the corrected state. The returned point
// leads the measurement slightly in the direction of estimated velocity,
// which is what makes the output feel predictive rather than laggy.
func (k *Kalman) Update(meas gaze.Point) gaze.Point {
	if !meas.IsFinite() {
		// Never ingest garbage; hold the current estimate.
		return gaze.Point{X: k.X, Y: k.Y}
	}

	if !k.seeded {
		k.X, k.Y = meas.X, meas.Y
		k.VX, k.VY = 0, 0
		k.P = initialCovariance()
		k.seeded = true
		return meas
	}

	dt := k.Config.Dt

	// Predict state: x' = F * x with F encoding position += velocity*dt.
	k.X += k.VX * dt
	k.Y += k.VY * dt

	// Predict covariance: P' = F * P * F^T + Q, computed directly.
	// F = [1 0 dt 0; 0 1 0 dt; 0 0 1 0; 0 0 0 1]
	P := k.P
	var FP [16]float64
	for j := 0; j < 4; j++ {
		FP[0*4+j] = P[0*4+j] + dt*P[2*4+j]
		FP[1*4+j] = P[1*4+j] + dt*P[3*4+j]
		FP[2*4+j] = P[2*4+j]
		FP[3*4+j] = P[3*4+j]
	}
	for i := 0; i < 4; i++ {
		k.P[i*4+0] = FP[i*4+0] + dt*FP[i*4+2]
		k.P[i*4+1] = FP[i*4+1] + dt*FP[i*4+3]
		k.P[i*4+2] = FP[i*4+2]
		k.P[i*4+3] = FP[i*4+3]
	}
	k.P[0*4+0] += k.Config.ProcessNoisePos
	k.P[1*4+1] += k.Config.ProcessNoisePos
	k.P[2*4+2] += k.Config.ProcessNoiseVel
	k.P[3*4+3] += k.Config.ProcessNoiseVel

	// Innovation y = z - H*x with H selecting position only.
	yX := meas.X - k.X
	yY := meas.Y - k.Y

	// Innovation covariance S = H * P * H^T + R (2x2).
	S00 := k.P[0*4+0] + k.Config.MeasurementNoise
	S01 := k.P[0*4+1]
	S10 := k.P[1*4+0]
	S11 := k.P[1*4+1] + k.Config.MeasurementNoise

	det := S00*S11 - S01*S10
	if math.Abs(det) < MinDeterminantThreshold {
		// Singular innovation covariance: re-seed from the measurement
		// rather than dividing by ~zero.
		k.reseed(meas)
		return meas
	}

	invS00 := S11 / det
	invS01 := -S01 / det
	invS10 := -S10 / det
	invS11 := S00 / det

	// Kalman gain K = P * H^T * S^-1 (4x2).
	var K [8]float64
	for i := 0; i < 4; i++ {
		K[i*2+0] = k.P[i*4+0]*invS00 + k.P[i*4+1]*invS10
		K[i*2+1] = k.P[i*4+0]*invS01 + k.P[i*4+1]*invS11
	}

	// State update: x' = x + K * y.
	k.X += K[0*2+0]*yX + K[0*2+1]*yY
	k.Y += K[1*2+0]*yX + K[1*2+1]*yY
	k.VX += K[2*2+0]*yX + K[2*2+1]*yY
	k.VY += K[3*2+0]*yX + K[3*2+1]*yY

	// Covariance update: P' = (I - K*H) * P.
	// (K*H)[i,j] is K[i,0] for j==0, K[i,1] for j==1, zero otherwise.
	var IminusKH [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var identity float64
			if i == j {
				identity = 1
			}
			var kh float64
			switch j {
			case 0:
				kh = K[i*2+0]
			case 1:
				kh = K[i*2+1]
			}
			IminusKH[i*4+j] = identity - kh
		}
	}
	var newP [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for x := 0; x < 4; x++ {
				sum += IminusKH[i*4+x] * k.P[x*4+j]
			}
			newP[i*4+j] = sum
		}
	}
	k.P = newP

	if !k.isFinite() {
		k.reseed(meas)
		return meas
	}

	return gaze.Point{X: k.X, Y: k.Y}
}

// reseed recovers from a degenerate update by restarting the track at the
// given measurement with the initial covariance.
func (k *Kalman) reseed(meas gaze.Point) {
	k.X, k.Y = meas.X, meas.Y
	k.VX, k.VY = 0, 0
	k.P = initialCovariance()
	k.seeded = true
	k.resets++
}

// isFinite reports whether every element of the state vector and the
// covariance diagonal is finite (not NaN or ±Inf). Used as a post-update
// guard against numerical instability.
func (k *Kalman) isFinite() bool {
	for _, v := range [4]float64{k.X, k.Y, k.VX, k.VY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	for i := 0; i < 4; i++ {
		v := k.P[i*4+i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
