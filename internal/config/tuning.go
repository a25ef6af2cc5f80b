package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root configuration for pipeline and supervisor
// tuning. The schema matches the /api/gaze/tuning endpoint so the same
// JSON serves startup configuration and runtime updates. All fields are
// pointers: nil means "use the tuned default", so partial files are
// safe and a marshalled config only carries what was actually set.
type TuningConfig struct {
	// Kalman filter params
	ProcessNoisePos  *float64 `json:"process_noise_pos,omitempty"`
	ProcessNoiseVel  *float64 `json:"process_noise_vel,omitempty"`
	MeasurementNoise *float64 `json:"measurement_noise,omitempty"`

	// Dead zone params
	DeadZoneRadius *float64 `json:"dead_zone_radius,omitempty"`
	EscapeVelocity *float64 `json:"escape_velocity,omitempty"`

	// Spring integrator params
	SpringStiffness *float64 `json:"spring_stiffness,omitempty"`

	// Hover detection params
	StabilityRadius   *float64 `json:"stability_radius,omitempty"`
	StabilityDuration *string  `json:"stability_duration,omitempty"` // duration string like "150ms"
	HoverCooldown     *string  `json:"hover_cooldown,omitempty"`     // duration string like "2s"
	HistorySize       *int     `json:"history_size,omitempty"`

	// Supervisor params
	HealthInterval      *string `json:"health_interval,omitempty"`   // duration string like "5s"
	HeartbeatTimeout    *string `json:"heartbeat_timeout,omitempty"` // duration string like "10s"
	MaxRecoveryAttempts *int    `json:"max_recovery_attempts,omitempty"`
	RecoveryDelay       *string `json:"recovery_delay,omitempty"` // duration string like "2s"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from a file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a config with every field materialized to
// its tuned default, matching the shipped defaults file.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		ProcessNoisePos:     ptrFloat64(0.1),
		ProcessNoiseVel:     ptrFloat64(1.0),
		MeasurementNoise:    ptrFloat64(2.0),
		DeadZoneRadius:      ptrFloat64(15),
		EscapeVelocity:      ptrFloat64(50),
		SpringStiffness:     ptrFloat64(0.45),
		StabilityRadius:     ptrFloat64(30),
		StabilityDuration:   ptrString("150ms"),
		HoverCooldown:       ptrString("2s"),
		HistorySize:         ptrInt(10),
		HealthInterval:      ptrString("5s"),
		HeartbeatTimeout:    ptrString("10s"),
		MaxRecoveryAttempts: ptrInt(3),
		RecoveryDelay:       ptrString("2s"),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under
// the max file size. Fields omitted from the JSON keep their defaults,
// so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into an empty config. The Get* methods provide
	// fallback defaults for any fields not present in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath, searching the current directory and common parent
// directories. Panics if the file cannot be loaded; intended for test
// setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/gaze/...
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are usable.
func (c *TuningConfig) Validate() error {
	if c.MeasurementNoise != nil && *c.MeasurementNoise <= 0 {
		return fmt.Errorf("measurement_noise must be positive, got %f", *c.MeasurementNoise)
	}
	if c.DeadZoneRadius != nil && *c.DeadZoneRadius < 0 {
		return fmt.Errorf("dead_zone_radius must be non-negative, got %f", *c.DeadZoneRadius)
	}
	if c.SpringStiffness != nil {
		if *c.SpringStiffness <= 0 || *c.SpringStiffness > 1 {
			return fmt.Errorf("spring_stiffness must be in (0, 1], got %f", *c.SpringStiffness)
		}
	}
	if c.MaxRecoveryAttempts != nil && *c.MaxRecoveryAttempts < 0 {
		return fmt.Errorf("max_recovery_attempts must be non-negative, got %d", *c.MaxRecoveryAttempts)
	}

	for name, v := range map[string]*string{
		"stability_duration": c.StabilityDuration,
		"hover_cooldown":     c.HoverCooldown,
		"health_interval":    c.HealthInterval,
		"heartbeat_timeout":  c.HeartbeatTimeout,
		"recovery_delay":     c.RecoveryDelay,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	return nil
}

// GetProcessNoisePos returns the process_noise_pos value or the default.
func (c *TuningConfig) GetProcessNoisePos() float64 {
	if c.ProcessNoisePos == nil {
		return 0.1
	}
	return *c.ProcessNoisePos
}

// GetProcessNoiseVel returns the process_noise_vel value or the default.
func (c *TuningConfig) GetProcessNoiseVel() float64 {
	if c.ProcessNoiseVel == nil {
		return 1.0
	}
	return *c.ProcessNoiseVel
}

// GetMeasurementNoise returns the measurement_noise value or the default.
func (c *TuningConfig) GetMeasurementNoise() float64 {
	if c.MeasurementNoise == nil {
		return 2.0
	}
	return *c.MeasurementNoise
}

// GetDeadZoneRadius returns the dead_zone_radius value or the default.
func (c *TuningConfig) GetDeadZoneRadius() float64 {
	if c.DeadZoneRadius == nil {
		return 15
	}
	return *c.DeadZoneRadius
}

// GetEscapeVelocity returns the escape_velocity value or the default.
func (c *TuningConfig) GetEscapeVelocity() float64 {
	if c.EscapeVelocity == nil {
		return 50
	}
	return *c.EscapeVelocity
}

// GetSpringStiffness returns the spring_stiffness value or the default.
func (c *TuningConfig) GetSpringStiffness() float64 {
	if c.SpringStiffness == nil {
		return 0.45
	}
	return *c.SpringStiffness
}

// GetStabilityRadius returns the stability_radius value or the default.
func (c *TuningConfig) GetStabilityRadius() float64 {
	if c.StabilityRadius == nil {
		return 30
	}
	return *c.StabilityRadius
}

// GetStabilityDuration parses and returns the hover dwell requirement.
func (c *TuningConfig) GetStabilityDuration() time.Duration {
	if c.StabilityDuration == nil || *c.StabilityDuration == "" {
		return 150 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.StabilityDuration)
	if err != nil {
		return 150 * time.Millisecond // default on parse error
	}
	return d
}

// GetHoverCooldown parses and returns the post-hover cooldown.
func (c *TuningConfig) GetHoverCooldown() time.Duration {
	if c.HoverCooldown == nil || *c.HoverCooldown == "" {
		return 2 * time.Second // default
	}
	d, err := time.ParseDuration(*c.HoverCooldown)
	if err != nil {
		return 2 * time.Second // default on parse error
	}
	return d
}

// GetHistorySize returns the history_size value or the default.
func (c *TuningConfig) GetHistorySize() int {
	if c.HistorySize == nil {
		return 10
	}
	return *c.HistorySize
}

// GetHealthInterval parses and returns the backend health cadence.
func (c *TuningConfig) GetHealthInterval() time.Duration {
	if c.HealthInterval == nil || *c.HealthInterval == "" {
		return 5 * time.Second // default
	}
	d, err := time.ParseDuration(*c.HealthInterval)
	if err != nil {
		return 5 * time.Second // default on parse error
	}
	return d
}

// GetHeartbeatTimeout parses and returns the backend silence limit.
func (c *TuningConfig) GetHeartbeatTimeout() time.Duration {
	if c.HeartbeatTimeout == nil || *c.HeartbeatTimeout == "" {
		return 10 * time.Second // default
	}
	d, err := time.ParseDuration(*c.HeartbeatTimeout)
	if err != nil {
		return 10 * time.Second // default on parse error
	}
	return d
}

// GetMaxRecoveryAttempts returns the max_recovery_attempts value or the
// default.
func (c *TuningConfig) GetMaxRecoveryAttempts() int {
	if c.MaxRecoveryAttempts == nil {
		return 3
	}
	return *c.MaxRecoveryAttempts
}

// GetRecoveryDelay parses and returns the pause before each relaunch.
func (c *TuningConfig) GetRecoveryDelay() time.Duration {
	if c.RecoveryDelay == nil || *c.RecoveryDelay == "" {
		return 2 * time.Second // default
	}
	d, err := time.ParseDuration(*c.RecoveryDelay)
	if err != nil {
		return 2 * time.Second // default on parse error
	}
	return d
}
