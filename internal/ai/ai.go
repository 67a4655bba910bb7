// Package ai talks to the upstream services behind the Monocle: OpenAI for
// speech and chat, Stability for image-to-image.
package ai

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Mode selects what the assistant does with speech.
type Mode int

const (
	// ModeAssistant transcribes speech and answers it.
	ModeAssistant Mode = iota
	// ModeTranslator translates speech into English and shows it.
	ModeTranslator
)

func (m Mode) String() string {
	switch m {
	case ModeAssistant:
		return "assistant"
	case ModeTranslator:
		return "translator"
	default:
		return "unknown"
	}
}

// ParseMode accepts the names returned by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "assistant", "":
		return ModeAssistant, nil
	case "translator":
		return ModeTranslator, nil
	default:
		return 0, fmt.Errorf("ai: unknown mode %q", s)
	}
}

// DefaultTimeout bounds a single upstream request.
const DefaultTimeout = 60 * time.Second

// APIError is a non-2xx reply from an upstream service.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Service, e.StatusCode, e.Message)
}

// checkResponse turns an error status into an *APIError, pulling the message
// out of the common {"error":{"message":...}} and {"message":...} shapes.
func checkResponse(service string, res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 64*1024))
	apiErr := &APIError{Service: service, StatusCode: res.StatusCode}

	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &wrapped) == nil {
		apiErr.Message = wrapped.Error.Message
		if apiErr.Message == "" {
			apiErr.Message = wrapped.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
