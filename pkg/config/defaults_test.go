package config

import (
	"testing"
)

func TestDefaultPolicyConfig(t *testing.T) {
	config := DefaultPolicyConfig()

	if config.RejectBelow != 70 {
		t.Errorf("Expected RejectBelow 70, got %f", config.RejectBelow)
	}

	if config.ReimplementAtLeast != 80 {
		t.Errorf("Expected ReimplementAtLeast 80, got %f", config.ReimplementAtLeast)
	}

	if sum := config.Scoring.Weights.Sum(); sum < 0.999 || sum > 1.001 {
		t.Errorf("Expected weights to sum to 1.0, got %f", sum)
	}

	foundMIT := false
	for _, l := range config.SafeLicenses {
		if l == "MIT" {
			foundMIT = true
			break
		}
	}
	if !foundMIT {
		t.Error("Expected 'MIT' to be in SafeLicenses")
	}
}

func TestDefaultPacingConfig(t *testing.T) {
	config := DefaultPacingConfig()

	if config.FileDelay <= 0 || config.RepoDelay <= 0 {
		t.Error("Default delays must be positive")
	}

	if config.CycleInterval < config.RepoDelay {
		t.Error("CycleInterval should not be shorter than RepoDelay")
	}
}
