package engine

import (
	"errors"
	"fmt"
	"strings"
)

// APIError is an error reported by the upstream engine.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("engine error: %s", e.Message)
	}
	return fmt.Sprintf("engine error %s: %s", e.Code, e.Message)
}

// transientCodes are protocol noise the engine emits during normal operation,
// e.g. cancelling a response that already finished or committing an audio
// buffer the server-side VAD already consumed.
var transientCodes = map[string]struct{}{
	"input_audio_buffer_commit_empty": {},
	"response_cancel_not_active":      {},
	"conversation_already_has_active_response": {},
}

var transientFragments = []string{
	"buffer too small",
	"no active response",
	"already has an active response",
}

// IsTransient reports whether an engine error is routine protocol noise
// that should be logged and swallowed rather than surfaced to the client.
func IsTransient(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if _, ok := transientCodes[apiErr.Code]; ok {
		return true
	}
	msg := strings.ToLower(apiErr.Message)
	for _, frag := range transientFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
