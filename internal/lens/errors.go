package lens

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

var (
	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("lens: protocol api unavailable")
	// ErrNotFound is returned when a post or account does not exist.
	ErrNotFound = errors.New("lens: not found")
	// ErrResponseTooLarge is returned when a response body exceeds maxResponseBytes.
	ErrResponseTooLarge = errors.New("lens: response body too large")
)

// StatusError is a non-200 answer from the protocol API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("lens: http %d", e.StatusCode)
	}
	return fmt.Sprintf("lens: http %d: %s", e.StatusCode, e.Body)
}

// retryable reports whether a failed request may succeed on another attempt:
// transport failures, 429 and 5xx.
func retryable(err error) bool {
	if err == nil || IsProtocolError(err) || errors.Is(err, ErrResponseTooLarge) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return true
}

// ProtocolError is a failure reported by the protocol itself, as opposed to a
// transport failure. It is never retried.
type ProtocolError struct {
	Operation string
	Message   string
	Code      string
}

func (e *ProtocolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("lens %s: %s (%s)", e.Operation, e.Message, e.Code)
	}
	return fmt.Sprintf("lens %s: %s", e.Operation, e.Message)
}

// IsProtocolError reports whether err carries a protocol-reported failure.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// fromGraphQL converts GraphQL error lists into a ProtocolError and leaves
// every other error untouched.
func fromGraphQL(op string, err error) error {
	var list gqlerror.List
	if !errors.As(err, &list) || len(list) == 0 {
		return err
	}
	msgs := make([]string, 0, len(list))
	code := ""
	for _, e := range list {
		if e == nil {
			continue
		}
		msgs = append(msgs, e.Message)
		if code == "" {
			if c, ok := e.Extensions["code"].(string); ok {
				code = c
			}
		}
	}
	return &ProtocolError{Operation: op, Message: strings.Join(msgs, "; "), Code: code}
}
