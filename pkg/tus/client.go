// Package tus implements the client side of the tus 1.0.0 resumable upload
// protocol as served by PolyAnalyst's file/upload endpoint.
package tus

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Protocol constants.
const (
	protocolVersion    = "1.0.0"
	offsetContentType  = "application/offset+octet-stream"
	headerTusResumable = "Tus-Resumable"
	headerUploadLength = "Upload-Length"
	headerUploadOffset = "Upload-Offset"
	headerUploadMeta   = "Upload-Metadata"

	// DefaultChunkSize is the PATCH body size used when none is configured.
	DefaultChunkSize = 4 * 1024 * 1024
)

// Sentinel errors.
var (
	ErrProtocol         = errors.New("tus: protocol violation")
	ErrNotAtStart       = errors.New("tus: stream is not positioned at offset 0")
	ErrIncompleteUpload = errors.New("tus: upload incomplete")
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ProgressFunc is called after each accepted chunk.
type ProgressFunc func(uploaded, total int64)

// Session is a server-assigned upload endpoint.
type Session struct {
	URL  string
	Size int64
}

// StatusError is returned for unexpected HTTP statuses.
type StatusError struct {
	Method     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("tus: %s returned HTTP %d: %s", e.Method, e.StatusCode, e.Body)
	}

	return fmt.Sprintf("tus: %s returned HTTP %d", e.Method, e.StatusCode)
}

// Client speaks the tus protocol over a shared HTTP client, so cookies, TLS
// policy and connection pooling match the rest of the API session.
type Client struct {
	http      Doer
	logger    *slog.Logger
	chunkSize int64
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithChunkSize sets the PATCH body size. Non-positive values are ignored.
func WithChunkSize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a tus client. A nil doer uses http.DefaultClient.
func NewClient(doer Doer, logger *slog.Logger, opts ...Option) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		http:      doer,
		logger:    logger,
		chunkSize: DefaultChunkSize,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Create opens an upload session of size bytes at createURL. metadata is sent
// base64-encoded in Upload-Metadata; the file name goes under "filename".
func (c *Client) Create(
	ctx context.Context, createURL, name string, size int64, metadata map[string]string,
) (*Session, error) {
	c.logger.Info("creating upload session",
		slog.String("name", name),
		slog.Int64("size", size),
	)

	req, err := c.newRequest(ctx, http.MethodPost, createURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}

	meta["filename"] = name

	req.Header.Set(headerUploadLength, strconv.FormatInt(size, 10))
	req.Header.Set(headerUploadMeta, encodeMetadata(meta))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tus: create request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, statusError(http.MethodPost, resp)
	}

	drain(resp.Body)

	location := resp.Header.Get("Location")
	if location == "" {
		return nil, fmt.Errorf("%w: create response has no Location", ErrProtocol)
	}

	endpoint, err := resolveLocation(createURL, location)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("upload session created", slog.String("endpoint", endpoint))

	return &Session{URL: endpoint, Size: size}, nil
}

// Transfer streams r into the session starting at offset, one PATCH per
// chunk. It returns the last offset acknowledged by the server, which is
// meaningful even when an error is returned.
func (c *Client) Transfer(
	ctx context.Context, s *Session, r io.Reader, offset int64, progress ProgressFunc,
) (int64, error) {
	buf := make([]byte, min(c.chunkSize, max(s.Size-offset, 1)))

	for offset < s.Size {
		want := min(c.chunkSize, s.Size-offset)

		n, readErr := io.ReadFull(r, buf[:want])
		if n == 0 {
			if readErr == nil || errors.Is(readErr, io.EOF) {
				readErr = io.ErrUnexpectedEOF
			}

			return offset, fmt.Errorf("tus: reading source at offset %d: %w", offset, readErr)
		}

		next, err := c.patch(ctx, s, buf[:n], offset)
		if err != nil {
			return offset, err
		}

		if next != offset+int64(n) {
			return next, fmt.Errorf("%w: server acknowledged offset %d, expected %d",
				ErrProtocol, next, offset+int64(n))
		}

		offset = next

		if progress != nil {
			progress(offset, s.Size)
		}

		if readErr != nil && !errors.Is(readErr, io.ErrUnexpectedEOF) {
			return offset, fmt.Errorf("tus: reading source at offset %d: %w", offset, readErr)
		}
	}

	return offset, nil
}

// patch sends one chunk and returns the new offset from the response.
func (c *Client) patch(ctx context.Context, s *Session, chunk []byte, offset int64) (int64, error) {
	c.logger.Debug("uploading chunk",
		slog.Int64("offset", offset),
		slog.Int("length", len(chunk)),
		slog.Int64("total", s.Size),
	)

	req, err := c.newRequest(ctx, http.MethodPatch, s.URL, bytes.NewReader(chunk))
	if err != nil {
		return offset, err
	}

	req.ContentLength = int64(len(chunk))
	req.Header.Set("Content-Type", offsetContentType)
	req.Header.Set(headerUploadOffset, strconv.FormatInt(offset, 10))

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("chunk upload request failed", slog.String("error", err.Error()))

		return offset, fmt.Errorf("tus: chunk upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return offset, statusError(http.MethodPatch, resp)
	}

	drain(resp.Body)

	return parseOffset(resp.Header)
}

// Offset asks the server how many bytes of the session are committed.
func (c *Client) Offset(ctx context.Context, s *Session) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodHead, s.URL, http.NoBody)
	if err != nil {
		return 0, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("tus: offset request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return 0, statusError(http.MethodHead, resp)
	}

	return parseOffset(resp.Header)
}

// Terminate deletes the session and any bytes it holds on the server.
func (c *Client) Terminate(ctx context.Context, s *Session) error {
	c.logger.Info("terminating upload session", slog.String("endpoint", s.URL))

	req, err := c.newRequest(ctx, http.MethodDelete, s.URL, http.NoBody)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tus: terminate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return statusError(http.MethodDelete, resp)
	}

	drain(resp.Body)

	return nil
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("tus: creating %s request: %w", method, err)
	}

	req.Header.Set(headerTusResumable, protocolVersion)

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	return req, nil
}

// encodeMetadata renders the Upload-Metadata header with keys sorted for
// deterministic output.
func encodeMetadata(meta map[string]string) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+" "+base64.StdEncoding.EncodeToString([]byte(meta[k])))
	}

	return strings.Join(pairs, ",")
}

func parseOffset(h http.Header) (int64, error) {
	raw := h.Get(headerUploadOffset)
	if raw == "" {
		return 0, fmt.Errorf("%w: missing %s header", ErrProtocol, headerUploadOffset)
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", ErrProtocol, headerUploadOffset, raw)
	}

	return n, nil
}

func resolveLocation(base, location string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("tus: parsing create URL: %w", err)
	}

	l, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: invalid Location %q", ErrProtocol, location)
	}

	return b.ResolveReference(l).String(), nil
}

func statusError(method string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)) //nolint:errcheck // best-effort read for error message

	return &StatusError{
		Method:     method,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

// drain consumes the body so the connection can be reused.
func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, r)
}
