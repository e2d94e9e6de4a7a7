package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"leveler/session"
	"leveler/textinput"
)

// ErrorResponse is the JSON error body of the leveler routes.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// statusFor maps a pipeline error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, textinput.ErrTextTooLong):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errQueueTimeout):
		return http.StatusTooManyRequests
	}
	switch session.KindOf(err) {
	case session.KindTokenLimitExceeded, session.KindContextOverflow:
		return http.StatusRequestEntityTooLarge
	case session.KindOutOfMemory, session.KindModelNotLoaded, session.KindCancelled:
		return http.StatusServiceUnavailable
	case session.KindBusy:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// errorCode is the stable machine-readable name of err.
func errorCode(err error) string {
	switch {
	case errors.Is(err, textinput.ErrTextTooLong):
		return "text_too_long"
	case errors.Is(err, errQueueTimeout):
		return session.KindBusy.String()
	}
	return session.KindOf(err).String()
}

// userMessage returns the message for end users, falling back to the error
// text for kinds without one.
func userMessage(err error) string {
	if msg := textinput.UserMessage(err); msg != "" && msg != textinput.MessageGeneric {
		return msg
	}
	if errors.Is(err, errQueueTimeout) {
		return textinput.MessageBusy
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg, Code: status})
}

func writePipelineError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), errorCode(err), userMessage(err))
}
