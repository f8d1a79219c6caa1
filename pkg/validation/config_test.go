package validation

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConfigValidator_Required(t *testing.T) {
	cv := NewConfigValidator("ClusterConfig")
	cv.Required("ID", "")

	if !cv.HasErrors() {
		t.Error("Expected error for empty required field")
	}

	cv2 := NewConfigValidator("ClusterConfig")
	cv2.Required("ID", "cluster-1")

	if cv2.HasErrors() {
		t.Error("Expected no error for non-empty required field")
	}
}

func TestConfigValidator_Unique(t *testing.T) {
	cv := NewConfigValidator("ClusterConfig")
	cv.Unique("Members", []string{"db1", "db2", "db1"})

	err := cv.Validate()
	if err == nil {
		t.Fatal("Expected duplicate error")
	}
	if !strings.Contains(err.Error(), `duplicate value "db1"`) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestConfigValidator_Durations(t *testing.T) {
	err := NewConfigValidator("ClusterConfig").
		NonNegativeDuration("FailureDetectInterval", -time.Second).
		NonNegativeDuration("AutoActivateInterval", 0).
		NonNegativeDuration("VoteTimeout", -time.Millisecond).
		Validate()

	if err == nil || !strings.Contains(err.Error(), "failed with 2 errors") {
		t.Errorf("Expected 2 errors, got %v", err)
	}
}

func TestConfigValidator_OneOf(t *testing.T) {
	cv := NewConfigValidator("ClusterConfig")
	cv.OneOf("Balancer", "weighted", []string{"simple", "random", "round-robin"})
	if !cv.HasErrors() {
		t.Error("Expected error for value outside the allowed set")
	}
}

func TestConfigValidator_CombinedErrorUnwraps(t *testing.T) {
	sentinel := errors.New("unknown strategy")
	cv := NewConfigValidator("ClusterConfig").
		Required("ID", "").
		Custom("DefaultStrategy", func() error { return sentinel })

	err := cv.Validate()
	if !errors.Is(err, sentinel) {
		t.Errorf("combined error should wrap sentinel, got %v", err)
	}
}

func TestConfigValidator_When(t *testing.T) {
	cv := NewConfigValidator("GroupConfig")
	cv.When(false, func(v *ConfigValidator) { v.Required("PubAddr", "") })
	if cv.HasErrors() {
		t.Error("When(false) must not apply validations")
	}
	cv.When(true, func(v *ConfigValidator) { v.NonNegative("MaxWorkers", -1) })
	if !cv.HasErrors() {
		t.Error("When(true) must apply validations")
	}
}

func TestDefaultOr(t *testing.T) {
	if got := DefaultOr(0, 100); got != 100 {
		t.Errorf("DefaultOr(0, 100) = %d", got)
	}
	if got := DefaultOr(5*time.Second, time.Second); got != 5*time.Second {
		t.Errorf("DefaultOr(5s, 1s) = %v", got)
	}
}
