package pa6

import "log/slog"

// Diagnostic is an advisory message: a server-side validation warning or a
// condition the client tolerated on the caller's behalf. It never means the
// call failed.
type Diagnostic struct {
	Source  string
	Message string
}

// DiagnosticFunc receives diagnostics as they are produced.
type DiagnosticFunc func(Diagnostic)

// Diagnostic sources.
const (
	SourceParameters = "parameters"
	SourceUnload     = "project/unload"
	SourceUpload     = "drive/upload"
)

func (c *Client) diagnose(source, message string) {
	d := Diagnostic{Source: source, Message: message}

	if c.diagnostics != nil {
		c.diagnostics(d)
		return
	}

	c.logger.Warn("server diagnostic",
		slog.String("source", d.Source),
		slog.String("message", d.Message),
	)
}
