package main

import (
	"testing"
	"time"

	"github.com/openlook/gazeline/internal/config"
)

func TestFilterTuning_Defaults(t *testing.T) {
	tun := filterTuning(*config.EmptyTuningConfig())

	if tun.Kalman.ProcessNoisePos != 0.1 {
		t.Errorf("Expected default process noise 0.1, got %v", tun.Kalman.ProcessNoisePos)
	}
	if tun.Kalman.MeasurementNoise != 2.0 {
		t.Errorf("Expected default measurement noise 2.0, got %v", tun.Kalman.MeasurementNoise)
	}
	if tun.DeadZone.Radius != 15 {
		t.Errorf("Expected default dead zone radius 15, got %v", tun.DeadZone.Radius)
	}
	if tun.DeadZone.EscapeVelocity != 50 {
		t.Errorf("Expected default escape velocity 50, got %v", tun.DeadZone.EscapeVelocity)
	}
	if tun.Stability.RequiredDuration != 150*time.Millisecond {
		t.Errorf("Expected default stability duration 150ms, got %v", tun.Stability.RequiredDuration)
	}
	if tun.Stability.HistorySize != 10 {
		t.Errorf("Expected default history size 10, got %v", tun.Stability.HistorySize)
	}
	if tun.SpringStiffness != 0.45 {
		t.Errorf("Expected default spring stiffness 0.45, got %v", tun.SpringStiffness)
	}
}

func TestFilterTuning_Explicit(t *testing.T) {
	radius := 22.5
	escape := 80.0
	stiffness := 0.5
	dwell := "200ms"
	cooldown := "1s"
	history := 64

	cfg := config.EmptyTuningConfig()
	cfg.DeadZoneRadius = &radius
	cfg.EscapeVelocity = &escape
	cfg.SpringStiffness = &stiffness
	cfg.StabilityDuration = &dwell
	cfg.HoverCooldown = &cooldown
	cfg.HistorySize = &history

	tun := filterTuning(*cfg)

	if tun.DeadZone.Radius != 22.5 {
		t.Errorf("Expected dead zone radius 22.5, got %v", tun.DeadZone.Radius)
	}
	if tun.DeadZone.EscapeVelocity != 80 {
		t.Errorf("Expected escape velocity 80, got %v", tun.DeadZone.EscapeVelocity)
	}
	if tun.SpringStiffness != 0.5 {
		t.Errorf("Expected spring stiffness 0.5, got %v", tun.SpringStiffness)
	}
	if tun.Stability.RequiredDuration != 200*time.Millisecond {
		t.Errorf("Expected stability duration 200ms, got %v", tun.Stability.RequiredDuration)
	}
	if tun.Stability.Cooldown != time.Second {
		t.Errorf("Expected hover cooldown 1s, got %v", tun.Stability.Cooldown)
	}
	if tun.Stability.HistorySize != 64 {
		t.Errorf("Expected history size 64, got %v", tun.Stability.HistorySize)
	}

	// Fields the file leaves unset keep their defaults.
	if tun.Kalman.ProcessNoiseVel != 1.0 {
		t.Errorf("Expected default velocity process noise 1.0, got %v", tun.Kalman.ProcessNoiseVel)
	}
}
