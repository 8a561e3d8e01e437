// Package pa6 is a client for the PolyAnalyst 6 HTTP API.
//
// A Client owns one server session (cookie or API token) and exposes the
// server's resources through thin facades: Project, Parameters, Dataset,
// Report and Drive. Long-running commands return an asyncop.Operation that
// can be waited on; file uploads go through the tus protocol client.
//
// A Client is safe for concurrent use, but it represents a single
// authenticated identity.
package pa6

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/megaputer/pa6-go/pkg/tus"
)

// Defaults applied by New.
const (
	DefaultAPIVersion    = "1.0"
	DefaultTimeout       = 60 * time.Second
	DefaultRetryCount    = 3
	DefaultRetryWait     = 1 * time.Second
	DefaultBusyTolerance = 3
	DefaultUserAgent     = "pa6-go/0.1"

	apiPath          = "/polyanalyst/api/"
	maxRetryWait     = 30 * time.Second
	sessionCookie    = "sid"
	maxErrorBodySize = 64 * 1024
)

// DefaultRetryStatuses are retried by the transport. 503 is deliberately
// absent: it is the server's busy signal and is handled by the callers that
// know how to tolerate it.
var DefaultRetryStatuses = []int{http.StatusBadGateway, http.StatusGatewayTimeout}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Options configures a Client. Only URL and either Username or Token are
// required. Nil RetryCount and BusyTolerance take the defaults; a pointer to
// zero disables transport retries or busy tolerance.
type Options struct {
	URL        string `validate:"required,http_url"`
	Username   string `validate:"required_without=Token"`
	Password   string
	LDAPServer string
	Token      string
	APIVersion string

	Timeout            time.Duration `validate:"gte=0"`
	InsecureSkipVerify bool
	CAFile             string
	RetryCount         *int          `validate:"omitempty,gte=0,lte=10"`
	RetryWait          time.Duration `validate:"gte=0"`
	RetryStatuses      []int         `validate:"dive,gte=400,lte=599,ne=503"`
	UserAgent          string

	PollInterval  time.Duration `validate:"gte=0"`
	BusyTolerance *int          `validate:"omitempty,gte=0"`
	ChunkSize     int64         `validate:"gte=0"`

	// UploadJournal, when set, records every upload session until its
	// outcome is settled.
	UploadJournal tus.Journal

	Logger         *slog.Logger
	Diagnostics    DiagnosticFunc
	Registerer     prometheus.Registerer
	TracerProvider trace.TracerProvider

	// Transport overrides the base round tripper. TLS options are ignored
	// when it is set.
	Transport http.RoundTripper
}

// Client talks to one PolyAnalyst server.
type Client struct {
	apiRoot string // scheme://host/polyanalyst/api
	apiURL  string // apiRoot + /v<version>
	origin  string // scheme://host
	version string

	http        *resty.Client
	uploads     *tus.Client
	journal     tus.Journal
	logger      *slog.Logger
	metrics     *metrics
	tracer      trace.Tracer
	diagnostics DiagnosticFunc
	creds       Options

	pollInterval  time.Duration
	busyTolerance int

	// sleep is used by pollers. Nil means a real timer.
	sleep func(ctx context.Context, d time.Duration) error
	// unloadDelay is the base backoff between busy unload attempts.
	unloadDelay time.Duration

	mu  sync.RWMutex
	sid string
}

// New validates opts and builds a Client. It performs no network I/O.
func New(opts Options) (*Client, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	version := opts.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}

	if !IsSupportedVersion(version) {
		return nil, fmt.Errorf("%w: %q (supported: %s)",
			ErrUnsupportedVersion, version, strings.Join(SupportedVersions, ", "))
	}

	u, err := url.Parse(opts.URL)
	if err != nil || u.Host == "" {
		return nil, invalidArgf("invalid server url %q", opts.URL)
	}

	origin := u.Scheme + "://" + u.Host
	apiRoot := strings.TrimSuffix(u.ResolveReference(&url.URL{Path: apiPath}).String(), "/")

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hc, err := newHTTPClient(opts)
	if err != nil {
		return nil, err
	}

	c := &Client{
		apiRoot:       apiRoot,
		apiURL:        apiRoot + "/v" + version,
		origin:        origin,
		version:       version,
		journal:       opts.UploadJournal,
		logger:        logger,
		metrics:       newMetrics(opts.Registerer),
		tracer:        newTracer(opts.TracerProvider),
		diagnostics:   opts.Diagnostics,
		creds:         opts,
		pollInterval:  opts.PollInterval,
		busyTolerance: DefaultBusyTolerance,
		unloadDelay:   100 * time.Millisecond,
	}

	if opts.BusyTolerance != nil {
		c.busyTolerance = *opts.BusyTolerance
	}

	c.http = c.newResty(hc, opts)

	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	c.uploads = tus.NewClient(c.http.GetClient(), logger,
		tus.WithChunkSize(opts.ChunkSize),
		tus.WithUserAgent(ua),
	)

	return c, nil
}

// newHTTPClient builds the pooled client shared by API calls and uploads.
func newHTTPClient(opts Options) (*http.Client, error) {
	base := opts.Transport
	if base == nil {
		tlsCfg := &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // operator opt-in for self-signed servers
			MinVersion:         tls.VersionTLS12,
		}

		if opts.CAFile != "" {
			pem, err := os.ReadFile(opts.CAFile)
			if err != nil {
				return nil, fmt.Errorf("%w: reading CA file: %w", ErrInvalidArgument, err)
			}

			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, invalidArgf("no certificates found in %s", opts.CAFile)
			}

			tlsCfg.RootCAs = pool
		}

		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = tlsCfg
		t.MaxIdleConnsPerHost = 8
		base = t
	}

	if opts.Token != "" {
		base = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token, TokenType: "Bearer"}),
			Base:   base,
		}
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("pa6: creating cookie jar: %w", err)
	}

	return &http.Client{Transport: base, Jar: jar}, nil
}

func (c *Client) newResty(hc *http.Client, opts Options) *resty.Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	retries := DefaultRetryCount
	if opts.RetryCount != nil {
		retries = *opts.RetryCount
	}

	wait := opts.RetryWait
	if wait == 0 {
		wait = DefaultRetryWait
	}

	statuses := opts.RetryStatuses
	if len(statuses) == 0 {
		statuses = DefaultRetryStatuses
	}

	retryable := make(map[int]bool, len(statuses))
	for _, s := range statuses {
		retryable[s] = true
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	rc := resty.NewWithClient(hc).
		SetBaseURL(c.apiURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", ua).
		SetAllowGetMethodPayload(true).
		SetRetryCount(retries).
		SetRetryWaitTime(wait).
		SetRetryMaxWaitTime(maxRetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && r != nil && idempotent(r.Request.Method) && retryable[r.StatusCode()]
		})

	rc.SetLogger(restyLogger{c.logger})

	return rc
}

// idempotent reports whether a request may be re-sent after a gateway
// error. Commands are POSTs and may already be running server-side.
func idempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// Int returns a pointer to v, for the optional integer fields of Options.
func Int(v int) *int {
	return &v
}

// Version returns the API version the client speaks.
func (c *Client) Version() string {
	return c.version
}

// BaseURL returns the versioned API root.
func (c *Client) BaseURL() string {
	return c.apiURL
}

// call describes one API request.
type call struct {
	method   string
	endpoint string // relative to the versioned root, or absolute
	query    map[string]string
	header   map[string]string
	body     any
	out      any

	// emptyOK accepts an empty success body, leaving out untouched.
	emptyOK bool
}

// do sends one request, classifies the response and decodes the body into
// cl.out. Transport errors wrap ErrTransport.
func (c *Client) do(ctx context.Context, cl call) (*resty.Response, error) {
	ctx, span := c.startSpan(ctx, cl.method, cl.endpoint)

	start := time.Now()

	req := c.http.R().SetContext(ctx)
	if len(cl.query) > 0 {
		req.SetQueryParams(cl.query)
	}

	if len(cl.header) > 0 {
		req.SetHeaders(cl.header)
	}

	if cl.body != nil {
		req.SetBody(cl.body)
	}

	injectTraceContext(ctx, req.Header)

	resp, err := req.Execute(cl.method, cl.endpoint)
	if err != nil {
		c.metrics.observeRequest(cl.endpoint, cl.method, 0, time.Since(start))

		err = fmt.Errorf("%w: %s %s: %w", ErrTransport, cl.method, cl.endpoint, err)
		endSpan(span, 0, err)

		c.logger.Error("request failed",
			slog.String("method", cl.method),
			slog.String("endpoint", cl.endpoint),
			slog.String("error", err.Error()),
		)

		return nil, err
	}

	code := resp.StatusCode()
	c.metrics.observeRequest(cl.endpoint, cl.method, code, time.Since(start))

	if err := checkStatus(cl.endpoint, code, resp.Body()); err != nil {
		endSpan(span, code, err)

		c.logger.Debug("request rejected",
			slog.String("method", cl.method),
			slog.String("endpoint", cl.endpoint),
			slog.Int("status", code),
			slog.String("error", err.Error()),
		)

		return resp, err
	}

	if cl.emptyOK && len(resp.Body()) == 0 {
		cl.out = nil
	}

	if err := decodeJSON(cl.endpoint, resp.Body(), cl.out); err != nil {
		endSpan(span, code, err)
		return resp, err
	}

	endSpan(span, code, nil)

	c.logger.Debug("request succeeded",
		slog.String("method", cl.method),
		slog.String("endpoint", cl.endpoint),
		slog.Int("status", code),
	)

	return resp, nil
}

func (c *Client) get(ctx context.Context, endpoint string, query map[string]string, out any) (*resty.Response, error) {
	return c.do(ctx, call{method: http.MethodGet, endpoint: endpoint, query: query, out: out})
}

func (c *Client) post(ctx context.Context, endpoint string, query map[string]string, body, out any) (*resty.Response, error) {
	return c.do(ctx, call{method: http.MethodPost, endpoint: endpoint, query: query, body: body, out: out})
}

// restyLogger routes resty's own retry chatter into slog at debug level.
type restyLogger struct {
	l *slog.Logger
}

func (r restyLogger) Errorf(format string, v ...any) {
	r.l.Debug("transport", slog.String("msg", fmt.Sprintf(format, v...)))
}

func (r restyLogger) Warnf(format string, v ...any) {
	r.l.Debug("transport", slog.String("msg", fmt.Sprintf(format, v...)))
}

func (r restyLogger) Debugf(format string, v ...any) {
	r.l.Debug("transport", slog.String("msg", fmt.Sprintf(format, v...)))
}
