// Package asyncop polls long-running PolyAnalyst server operations
// (execution waves, project import/export/load/duplicate, parameter
// configuration) until they reach a terminal state.
//
// The server is the sole source of truth: every poll re-fetches status and
// nothing but the last fetched payload is kept. There is no server-side
// cancel. A caller that stops polling (by canceling its context) abandons the
// operation, which keeps running on the server.
package asyncop

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// ErrNoOperation is returned when a start response carries no operation id.
// Older servers execute synchronously and omit the Location header.
var ErrNoOperation = errors.New("asyncop: response carries no operation id")

// Kind identifies the type of asynchronous server operation.
type Kind int

// Operation kinds.
const (
	KindExecute Kind = iota
	KindImport
	KindExport
	KindLoad
	KindDuplicate
	KindConfigure
)

// Location query keys carrying the operation id.
const (
	KeyExecutionWave    = "executionWave"
	KeyImportID         = "importId"
	KeyExportID         = "exportId"
	KeyAsyncOperationID = "asyncOperationId"
)

func (k Kind) String() string {
	switch k {
	case KindExecute:
		return "execute"
	case KindImport:
		return "import"
	case KindExport:
		return "export"
	case KindLoad:
		return "load"
	case KindDuplicate:
		return "duplicate"
	case KindConfigure:
		return "configure"
	default:
		return "unknown"
	}
}

// QueryKey returns the Location query parameter that holds the id for k.
func (k Kind) QueryKey() string {
	switch k {
	case KindImport:
		return KeyImportID
	case KindExport:
		return KeyExportID
	case KindLoad, KindDuplicate:
		return KeyAsyncOperationID
	default:
		return KeyExecutionWave
	}
}

// Operation is a handle on a server-side long-running task. It holds only the
// id; status always comes from the server.
type Operation struct {
	ID   string
	Kind Kind
}

// ExtractID parses location (absolute or relative URL) and returns the value
// of the query parameter key. A missing or unparsable location, or a missing
// key, yields ("", false).
func ExtractID(location, key string) (string, bool) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", false
	}

	u, err := url.Parse(location)
	if err != nil {
		return "", false
	}

	id := u.Query().Get(key)
	if id == "" {
		return "", false
	}

	return id, true
}

// FromHeader extracts the operation for kind from a start response's
// Location header. It returns ErrNoOperation when the header or the
// kind-specific key is absent.
func FromHeader(h http.Header, kind Kind) (Operation, error) {
	id, ok := ExtractID(h.Get("Location"), kind.QueryKey())
	if !ok {
		return Operation{}, ErrNoOperation
	}

	return Operation{ID: id, Kind: kind}, nil
}
