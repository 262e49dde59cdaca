package config

import (
	"testing"
	"time"
)

func TestGetEnv_Fallback(t *testing.T) {
	t.Setenv("NONEXISTENT_KEY_12345", "")
	if val := GetEnv("NONEXISTENT_KEY_12345", "fallback"); val != "fallback" {
		t.Errorf("expected fallback, got %s", val)
	}
}

func TestGetEnv_Set(t *testing.T) {
	t.Setenv("TEST_KEY_ABC", "value123")
	if val := GetEnv("TEST_KEY_ABC", "fallback"); val != "value123" {
		t.Errorf("expected value123, got %s", val)
	}
}

func TestGetEnvInt_InvalidFallsToDefault(t *testing.T) {
	t.Setenv("BAD_INT", "not-a-number")
	if val := GetEnvInt("BAD_INT", 42); val != 42 {
		t.Errorf("expected default 42 for invalid int, got %d", val)
	}
}

func TestGetEnvInt_Valid(t *testing.T) {
	t.Setenv("GOOD_INT", "7")
	if val := GetEnvInt("GOOD_INT", 42); val != 7 {
		t.Errorf("expected 7, got %d", val)
	}
}

func TestGetEnvFloat_InvalidFallsToDefault(t *testing.T) {
	t.Setenv("BAD_FLOAT", "nope")
	if val := GetEnvFloat("BAD_FLOAT", 1.5); val != 1.5 {
		t.Errorf("expected default 1.5 for invalid float, got %v", val)
	}
}

func TestGetEnvDuration_Valid(t *testing.T) {
	t.Setenv("GOOD_DURATION", "90s")
	if val := GetEnvDuration("GOOD_DURATION", time.Second); val != 90*time.Second {
		t.Errorf("expected 90s, got %v", val)
	}
}

func TestGetEnvDuration_InvalidFallsToDefault(t *testing.T) {
	t.Setenv("BAD_DURATION", "not-a-duration")
	if val := GetEnvDuration("BAD_DURATION", 5*time.Second); val != 5*time.Second {
		t.Errorf("expected default 5s for invalid duration, got %v", val)
	}
}
