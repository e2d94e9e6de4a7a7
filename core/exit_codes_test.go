package core

import (
	"errors"
	"testing"
)

func TestExitCodeConstants(t *testing.T) {
	tests := []struct {
		name  string
		code  int
		value int
	}{
		{"ExitCodeSuccess", ExitCodeSuccess, 0},
		{"ExitCodeError", ExitCodeError, 1},
		{"ExitCodeRejected", ExitCodeRejected, 2},
		{"ExitCodeSIGINT", ExitCodeSIGINT, 130},
		{"ExitCodeSIGTERM", ExitCodeSIGTERM, 143},
	}

	for _, tt := range tests {
		if tt.code != tt.value {
			t.Errorf("%s = %d, want %d", tt.name, tt.code, tt.value)
		}
	}
}

func TestExitCodeName(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{ExitCodeSuccess, "success"},
		{ExitCodeError, "error"},
		{ExitCodeRejected, "rejected"},
		{ExitCodeSIGINT, "interrupted (SIGINT)"},
		{ExitCodeSIGTERM, "terminated (SIGTERM)"},
		{99, "unknown"},
	}

	for _, tt := range tests {
		if got := ExitCodeName(tt.code); got != tt.want {
			t.Errorf("ExitCodeName(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestIsSignalExit(t *testing.T) {
	if !IsSignalExit(ExitCodeSIGINT) || !IsSignalExit(ExitCodeSIGTERM) {
		t.Error("signal exit codes not recognised")
	}
	if IsSignalExit(ExitCodeRejected) {
		t.Error("IsSignalExit(ExitCodeRejected) = true")
	}
}

func TestExitError(t *testing.T) {
	cause := errors.New("too long")
	err := &ExitError{Code: ExitCodeRejected, Err: cause}

	if err.Error() != "too long" || !errors.Is(err, cause) {
		t.Errorf("ExitError = %v", err)
	}

	var ee *ExitError
	if !errors.As(error(err), &ee) || ee.Code != ExitCodeRejected {
		t.Error("errors.As did not find ExitError")
	}
	if (&ExitError{Code: ExitCodeError}).Error() != "error" {
		t.Error("ExitError without cause should name its code")
	}
}
