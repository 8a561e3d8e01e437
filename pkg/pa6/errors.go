package pa6

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors. Use errors.Is(err, pa6.ErrBusy) to check.
var (
	ErrBadRequest         = errors.New("pa6: bad request")
	ErrNotLoggedIn        = errors.New("pa6: not logged in")
	ErrForbidden          = errors.New("pa6: forbidden")
	ErrNotFound           = errors.New("pa6: not found")
	ErrConflict           = errors.New("pa6: conflict")
	ErrServerError        = errors.New("pa6: server error")
	ErrBusy               = errors.New("pa6: server is busy")
	ErrAlreadyExists      = errors.New("pa6: already exists")
	ErrStaleReference     = errors.New("pa6: stale server reference")
	ErrTransport          = errors.New("pa6: transport error")
	ErrMalformedResponse  = errors.New("pa6: malformed response")
	ErrInvalidArgument    = errors.New("pa6: invalid argument")
	ErrUnsupportedVersion = errors.New("pa6: unsupported API version")
	ErrNodeNotFound       = errors.New("pa6: node not found")
	ErrAmbiguousNode      = errors.New("pa6: ambiguous node reference")
	ErrOperationFailed    = errors.New("pa6: operation failed")
)

// APIError is a server-reported failure. Title and Message are the server's
// text, unmodified.
type APIError struct {
	StatusCode int
	Endpoint   string
	Title      string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.Title != "" {
		msg = fmt.Sprintf("%s. Message: '%s'", e.Title, e.Message)
	}

	return fmt.Sprintf("pa6: HTTP %d from %s: %s", e.StatusCode, e.Endpoint, msg)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classify picks the sentinel for a failed response. Message-based kinds win
// over the status-based ones because the server reports them with generic
// status codes.
func classify(code int, message string) error {
	lower := strings.ToLower(message)

	switch {
	case code == http.StatusServiceUnavailable:
		return ErrBusy
	case strings.Contains(lower, "already exists"):
		return ErrAlreadyExists
	case isStaleWrapperMessage(lower):
		return ErrStaleReference
	case strings.Contains(lower, "are not logged in"):
		return ErrNotLoggedIn
	}

	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrNotLoggedIn
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrBadRequest
	}
}

// isStaleWrapperMessage matches the errors returned when a dataset wrapper
// GUID is empty, expired or unknown to the server.
func isStaleWrapperMessage(lower string) bool {
	if !strings.Contains(lower, "wrapper") {
		return false
	}

	return strings.Contains(lower, "not found") ||
		strings.Contains(lower, "invalid") ||
		strings.Contains(lower, "does not exist")
}

// IsBusy reports whether err is the server's transient busy signal.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}

// StatusCode returns the HTTP status of an *APIError in err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}

	return 0
}

func invalidArgf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
