package pa6

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Legacy 403 bodies predate the JSON error envelope.
const (
	legacyNotLoggedIn = "are not logged in"
	legacyLimited     = "operation is limited"
)

// checkStatus turns a non-success response into an *APIError. 200 and 202
// are the only success codes the server uses.
//
// Error bodies come in three shapes:
//
//	{"error": {"title": "...", "message": "..."}}
//	["Error", "message"]            (HTTP 500, old servers)
//	plain text                      (HTTP 403, old servers)
func checkStatus(endpoint string, code int, body []byte) error {
	if code == http.StatusOK || code == http.StatusAccepted {
		return nil
	}

	title, message := errorText(code, body)

	return &APIError{
		StatusCode: code,
		Endpoint:   endpoint,
		Title:      title,
		Message:    message,
		Err:        classify(code, title+" "+message),
	}
}

func errorText(code int, body []byte) (string, string) {
	if gjson.ValidBytes(body) {
		doc := gjson.ParseBytes(body)

		if e := doc.Get("error"); e.IsObject() {
			return e.Get("title").String(), e.Get("message").String()
		}

		if code == http.StatusInternalServerError && doc.IsArray() {
			if parts := doc.Array(); len(parts) >= 2 && parts[0].String() == "Error" {
				return "", parts[1].String()
			}
		}
	}

	text := string(body)

	switch {
	case code == http.StatusServiceUnavailable:
		return "", "PolyAnalyst server is busy"
	case code == http.StatusForbidden && strings.Contains(text, legacyNotLoggedIn):
		return "", "You are not logged in to PolyAnalyst Server"
	case code == http.StatusForbidden && strings.Contains(text, legacyLimited):
		return "", "Access to this operation is limited to project owners and administrator"
	}

	if text = strings.TrimSpace(text); text != "" {
		return "", truncate(text, 512)
	}

	return "", http.StatusText(code)
}

// decodeJSON unmarshals a success body into out. A nil out skips decoding.
func decodeJSON(endpoint string, body []byte, out any) error {
	if out == nil {
		return nil
	}

	if len(body) == 0 {
		return fmt.Errorf("%w: %s returned an empty body", ErrMalformedResponse, endpoint)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decoding %s: %w", ErrMalformedResponse, endpoint, err)
	}

	return nil
}

// Document is a loosely structured JSON response, for endpoints whose shape
// varies between server builds.
type Document struct {
	gjson.Result
}

// UnmarshalJSON keeps the raw bytes for later path queries.
func (d *Document) UnmarshalJSON(b []byte) error {
	if !gjson.ValidBytes(b) {
		return fmt.Errorf("%w: invalid JSON document", ErrMalformedResponse)
	}

	d.Result = gjson.ParseBytes(b)

	return nil
}

// MarshalJSON returns the document as received.
func (d Document) MarshalJSON() ([]byte, error) {
	if d.Raw == "" {
		return []byte("null"), nil
	}

	return []byte(d.Raw), nil
}

// Value returns the document as plain Go values.
func (d Document) Value() any {
	return d.Result.Value()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
