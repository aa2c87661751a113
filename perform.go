package wordpress

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// CallOption configures a single call to Perform.
type CallOption interface {
	config(*callConfig)
}

type callConfig struct {
	ranges   []StatusRange
	progress *Progress
}

func newCallConfig(opts []CallOption) callConfig {
	cfg := callConfig{ranges: defaultAcceptableStatusCodes}

	for _, opt := range opts {
		opt.config(&cfg)
	}

	return cfg
}

// WithAcceptableStatusCodes replaces the default 200-299 range of status codes treated as success.
func WithAcceptableStatusCodes(ranges ...StatusRange) CallOption {
	return &withAcceptableStatusCodes{ranges: ranges}
}

type withAcceptableStatusCodes struct {
	ranges []StatusRange
}

func (opt withAcceptableStatusCodes) config(cfg *callConfig) {
	cfg.ranges = opt.ranges
}

// WithProgress reports transfer progress to the given progress and lets it cancel the call.
// The progress must have a positive total, no completed units, and must not be used by another call.
func WithProgress(progress *Progress) CallOption {
	return &withProgress{progress: progress}
}

type withProgress struct {
	progress *Progress
}

func (opt withProgress) config(cfg *callConfig) {
	cfg.progress = opt.progress
}

// Perform executes the request once and classifies the outcome.
// It never retries. Cancelling ctx or the call's progress resolves the call with a cancelled connection error.
func Perform[E any](ctx context.Context, m *Manager, req *Request, opts ...CallOption) Result[*Response, E] {
	out := m.execute(ctx, req, newCallConfig(opts))

	switch out.kind {
	case 0:
		return Success[*Response, E](out.res)

	case ErrorKindRequestEncoding:
		return Failure[*Response](NewRequestEncodingError[E](out.cause))

	case ErrorKindConnection:
		return Failure[*Response](NewConnectionError[E](out.code, out.cause))

	case ErrorKindUnacceptableStatusCode:
		return Failure[*Response](NewUnacceptableStatusCodeError[E](out.res))

	default:
		return Failure[*Response](NewUnknownError[E](out.cause))
	}
}

// Do performs the request and returns the response, or an *APIError[RESTError] describing the failure.
// Unacceptable status codes are decoded as WordPress.com REST errors where possible.
func (m *Manager) Do(ctx context.Context, req *Request, opts ...CallOption) (*Response, error) {
	return MapUnacceptableStatusCodeError(Perform[RESTError](ctx, m, req, opts...), decodeRESTError).Get()
}

// outcome is the untyped classification of a single call.
type outcome struct {
	res   *Response
	kind  ErrorKind
	code  ConnectionCode
	cause error
}

func (m *Manager) execute(ctx context.Context, req *Request, cfg callConfig) outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.progress != nil {
		if err := cfg.progress.attach(cancel); err != nil {
			return outcome{kind: ErrorKindRequestEncoding, cause: err}
		}

		defer cfg.progress.detach()
	}

	r := m.r(ctx)

	for name, values := range req.Header {
		for _, value := range values {
			r.Header.Add(name, value)
		}
	}

	upload := int64(-1)

	if req.Body != nil {
		body, length, err := req.Body.Open()
		if err != nil {
			return outcome{kind: ErrorKindRequestEncoding, cause: err}
		}
		defer body.Close()

		r.SetBody(body)

		upload = length
	}

	if cfg.progress != nil || upload > 0 {
		r.SetContext(withTransfer(ctx, &transfer{progress: cfg.progress, upload: upload}))
	}

	start := time.Now()

	res, err := r.Execute(req.Method, req.URL.String())

	out := classify(ctx, req, res, err, cfg.ranges)

	m.observe(req, out, time.Since(start))

	if out.kind == 0 && cfg.progress != nil {
		cfg.progress.finish()
	}

	return out
}

func classify(ctx context.Context, req *Request, res *resty.Response, err error, ranges []StatusRange) outcome {
	// If we receive no response, or the body could not be read, the transport failed.
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return outcome{kind: ErrorKindConnection, code: ConnectionTimedOut, cause: err}
			}

			return outcome{kind: ErrorKindConnection, code: ConnectionCancelled, cause: err}
		}

		if code, ok := classifyTransportError(err); ok {
			return outcome{kind: ErrorKindConnection, code: code, cause: err}
		}

		return outcome{kind: ErrorKindUnknown, cause: err}
	}

	if res == nil || res.RawResponse == nil {
		return outcome{kind: ErrorKindUnknown, cause: errors.New("received no response")}
	}

	out := &Response{
		StatusCode: res.StatusCode(),
		Header:     res.Header(),
		Body:       res.Body(),
		URL:        req.URL,
	}

	if !statusAcceptable(out.StatusCode, ranges) {
		return outcome{res: out, kind: ErrorKindUnacceptableStatusCode}
	}

	return outcome{res: out}
}

func (m *Manager) observe(req *Request, out outcome, elapsed time.Duration) {
	fields := logrus.Fields{
		"method":  req.Method,
		"url":     req.URL.Redacted(),
		"outcome": out.label(),
		"elapsed": elapsed,
	}

	if out.res != nil {
		fields["status"] = out.res.StatusCode
	}

	if out.kind == ErrorKindConnection || out.kind == ErrorKindUnknown {
		log.WithFields(fields).WithError(out.cause).Warn("Request failed without a response")
	} else {
		log.WithFields(fields).Debug("Request completed")
	}

	if m.metrics != nil {
		m.metrics.observe(req.Method, out.label(), elapsed)
	}
}

func (out outcome) label() string {
	if out.kind == 0 {
		return "success"
	}

	return out.kind.label()
}

type transferKey struct{}

// transfer describes the body and progress tracking of one in-flight request.
type transfer struct {
	// progress is nil when the call is not tracked.
	progress *Progress

	// upload is the request body length; when positive, progress follows the upload.
	upload int64
}

func withTransfer(ctx context.Context, t *transfer) context.Context {
	return context.WithValue(ctx, transferKey{}, t)
}

func transferFromContext(ctx context.Context) (*transfer, bool) {
	t, ok := ctx.Value(transferKey{}).(*transfer)
	return t, ok
}

// progressTransport sets the length of request bodies and drives the progress attached to a
// request's context from the bytes it transfers.
type progressTransport struct {
	http.RoundTripper
}

func (t *progressTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tr, ok := transferFromContext(req.Context())
	if !ok {
		return t.RoundTripper.RoundTrip(req)
	}

	if tr.upload > 0 && req.Body != nil {
		req = req.Clone(req.Context())

		req.ContentLength = tr.upload
		req.Body = &readCloser{
			Reader: newProgressReader(req.Body, tr.progress, tr.upload),
			Closer: req.Body,
		}
	}

	res, err := t.RoundTripper.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if tr.progress != nil && tr.upload <= 0 {
		res.Body = &readCloser{
			Reader: newProgressReader(res.Body, tr.progress, res.ContentLength),
			Closer: res.Body,
		}
	}

	return res, nil
}

func (t *progressTransport) CloseIdleConnections() {
	if closer, ok := t.RoundTripper.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
}
