package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkgfast/pkgfast/internal/pool"
	"github.com/pkgfast/pkgfast/pkg/errors"
)

// Options carries per-request settings.
type Options struct {
	Method  string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// Response is the settled result of one request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Parsed holds the decoded JSON body when the protocol path decided to
	// parse it, nil otherwise.
	Parsed interface{}
}

// Executor performs one request over a pooled connection with a
// per-request timeout.
type Executor struct {
	defaultTimeout time.Duration
}

// NewExecutor creates an executor with the given default request timeout.
func NewExecutor(defaultTimeout time.Duration) *Executor {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Executor{defaultTimeout: defaultTimeout}
}

// Execute issues the request over conn and accumulates the response. The
// request is canceled when the per-request timer expires; the timer is
// released on every settlement path via the context cancel.
//
// JSON parsing is protocol-dependent on purpose: the HTTP/2 path sniffs the
// body shape (leading '{' or '['), the HTTP/1.x path trusts the
// Content-Type header. Callers must not rely on uniform behavior across
// protocols.
func (e *Executor) Execute(ctx context.Context, conn *pool.Connection, target string, opts Options) (*Response, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeNetwork, "invalid request", err).
			WithComponent("executor").WithContext("url", target)
	}
	for key, values := range opts.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := conn.Transport().RoundTrip(req)
	if err != nil {
		return nil, e.classify(ctx, err, target)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, e.classify(ctx, err, target)
	}

	result := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}

	if e.shouldParseJSON(conn.Protocol(), resp.Header, data) {
		var parsed interface{}
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, errors.Wrap(errors.ErrCodeParse, "malformed JSON body", err).
				WithComponent("executor").WithContext("url", target)
		}
		result.Parsed = parsed
	}

	return result, nil
}

// shouldParseJSON implements the protocol-path asymmetry: body sniffing for
// HTTP/2, Content-Type for HTTP/1.x.
func (e *Executor) shouldParseJSON(protocol pool.Protocol, header http.Header, body []byte) bool {
	if len(body) == 0 {
		return false
	}
	if protocol == pool.ProtocolHTTP2 {
		trimmed := bytes.TrimLeft(body, " \t\r\n")
		return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
	}
	contentType := header.Get("Content-Type")
	return strings.Contains(contentType, "application/json")
}

func (e *Executor) classify(ctx context.Context, err error, target string) error {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Wrap(errors.ErrCodeRequestTimeout, "request deadline exceeded", err).
			WithComponent("executor").WithContext("url", target)
	}
	return errors.Wrap(errors.ErrCodeNetwork, "transport failure", err).
		WithComponent("executor").WithContext("url", target)
}
