package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil-ish plain error", errors.New("boom"), false},
		{"transient code", &APIError{Code: "response_cancel_not_active", Message: "Cancellation failed"}, true},
		{"transient commit-empty code", &APIError{Code: "input_audio_buffer_commit_empty", Message: "Error committing input audio buffer"}, true},
		{"buffer too small message", &APIError{Code: "invalid_request_error", Message: "Audio buffer too small: 40ms of audio"}, true},
		{"no active response message", &APIError{Code: "invalid_request_error", Message: "Cancellation failed: no active response found"}, true},
		{"fatal auth error", &APIError{Code: "invalid_api_key", Message: "Incorrect API key provided"}, false},
		{"fatal rate limit", &APIError{Code: "rate_limit_exceeded", Message: "Rate limit reached"}, false},
		{"wrapped transient", fmt.Errorf("dispatch: %w", &APIError{Code: "response_cancel_not_active", Message: "x"}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestAPIError_Error(t *testing.T) {
	withCode := &APIError{Code: "server_error", Message: "internal"}
	if withCode.Error() != "engine error server_error: internal" {
		t.Errorf("unexpected error string: %s", withCode.Error())
	}
	noCode := &APIError{Message: "internal"}
	if noCode.Error() != "engine error: internal" {
		t.Errorf("unexpected error string: %s", noCode.Error())
	}
}
