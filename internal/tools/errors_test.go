package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"not found", fmt.Errorf("%w: x", ErrToolNotFound), ErrorNotFound},
		{"disabled", ErrToolDisabled, ErrorDisabled},
		{"panic", ErrToolPanic, ErrorPanic},
		{"deadline", context.DeadlineExceeded, ErrorTimeout},
		{"invalid", fmt.Errorf("%w: bad", ErrInvalidArguments), ErrorInvalidInput},
		{"missing arg text", errMissing("path"), ErrorInvalidInput},
		{"other", errors.New("disk full"), ErrorExecution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewError("tool", tt.err).Type; got != tt.want {
				t.Errorf("Type = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestErrorString(t *testing.T) {
	err := NewError("file", errors.New("permission denied"))
	s := err.Error()
	for _, want := range []string{"[tool:execution]", "file", "permission denied"} {
		if !strings.Contains(s, want) {
			t.Errorf("%q should contain %q", s, want)
		}
	}
	if !errors.Is(err, err.Cause) {
		t.Error("Unwrap should expose the cause")
	}
}

func TestCountsAsFailure(t *testing.T) {
	counted := []ErrorType{ErrorInvalidInput, ErrorExecution, ErrorPanic, ErrorTimeout}
	for _, typ := range counted {
		if !typ.CountsAsFailure() {
			t.Errorf("%s should count", typ)
		}
	}
	for _, typ := range []ErrorType{ErrorNotFound, ErrorDisabled, ErrorRuleViolation, ErrorLimitExceeded, ErrorSubAgent} {
		if typ.CountsAsFailure() {
			t.Errorf("%s should not count", typ)
		}
	}
}

func TestReflectSchema(t *testing.T) {
	schema := string(ReflectSchema(&responseArgs{}))
	if !strings.Contains(schema, `"message"`) || !strings.Contains(schema, `"required"`) {
		t.Fatalf("schema = %s", schema)
	}
	if err := ValidateArguments(ReflectSchema(&responseArgs{}), map[string]string{"message": "x"}); err != nil {
		t.Fatalf("ValidateArguments: %v", err)
	}
}
