package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrMissingAPIKey = errors.New("api key is required")
	ErrNoChoices     = errors.New("no choices in model response")
	ErrBodyTooLarge  = fmt.Errorf("response body exceeds %d bytes", maxBodyBytes)
)

type ErrorKind string

const (
	KindTransport        ErrorKind = "transport"
	KindHTTPStatus       ErrorKind = "http_status"
	KindUnexpectedStatus ErrorKind = "unexpected_status"
	KindDecode           ErrorKind = "decode"
)

// Error is returned by every outbound call. StatusCode is zero for
// transport failures.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	APIMessage string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTPStatus, KindUnexpectedStatus:
		if e.APIMessage != "" {
			return fmt.Sprintf("%s: status=%d message=%s", e.Kind, e.StatusCode, e.APIMessage)
		}
		return fmt.Sprintf("%s: status=%d", e.Kind, e.StatusCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func AsError(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

func IsNotFound(err error) bool {
	te, ok := AsError(err)
	return ok && te.Kind == KindHTTPStatus && te.StatusCode == http.StatusNotFound
}

func IsValidation(err error) bool {
	te, ok := AsError(err)
	if !ok || te.Kind != KindHTTPStatus {
		return false
	}
	return te.StatusCode == http.StatusBadRequest || te.StatusCode == http.StatusUnprocessableEntity
}

// IsRateLimited reports 429s and the 403 GitHub uses when the primary
// rate limit is exhausted.
func IsRateLimited(err error) bool {
	te, ok := AsError(err)
	if !ok || te.Kind != KindHTTPStatus {
		return false
	}
	if te.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return te.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(te.APIMessage), "rate limit")
}

// IsBodyTooLarge reports a successful response whose body hit the size cap.
func IsBodyTooLarge(err error) bool {
	return errors.Is(err, ErrBodyTooLarge)
}

func transportError(err error) *Error {
	return &Error{Kind: KindTransport, Err: err}
}

func decodeError(err error) *Error {
	return &Error{Kind: KindDecode, Err: err}
}

func statusError(kind ErrorKind, status int, body []byte) *Error {
	return &Error{Kind: kind, StatusCode: status, APIMessage: extractAPIMessage(body)}
}

// extractAPIMessage understands both {"error":{"message":...}} and
// {"message":...} bodies.
func extractAPIMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if msg := strings.TrimSpace(payload.Message); msg != "" {
		return msg
	}
	if len(payload.Error) == 0 {
		return ""
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload.Error, &nested); err == nil && strings.TrimSpace(nested.Message) != "" {
		return strings.TrimSpace(nested.Message)
	}
	var plain string
	if err := json.Unmarshal(payload.Error, &plain); err == nil {
		return strings.TrimSpace(plain)
	}
	return ""
}
