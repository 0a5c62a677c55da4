// Package httpclient is the o11y instrumented client for service to service
// HTTP calls: JSON requests with per attempt timeouts, retries on server
// errors, and response decoding helpers.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/korthq/bx/o11y"
)

const contentTypeJSON = "application/json; charset=utf-8"

// Config describes the service this client talks to.
type Config struct {
	// Name identifies the client in spans and metrics.
	Name string
	// BaseURL is the scheme, host and optional path prefix of the server.
	BaseURL string
	// Timeout caps a whole call including retries. Zero means retry forever.
	Timeout time.Duration
	// MaxConnectionsPerHost sizes the connection pool. Defaults to 10.
	MaxConnectionsPerHost int
}

// Client issues requests against one base URL. It is safe for concurrent use.
type Client struct {
	name       string
	baseURL    string
	maxElapsed time.Duration
	httpClient *http.Client
}

func New(cfg Config) *Client {
	if cfg.MaxConnectionsPerHost == 0 {
		cfg.MaxConnectionsPerHost = 10
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxConnsPerHost = cfg.MaxConnectionsPerHost
	tr.MaxIdleConnsPerHost = cfg.MaxConnectionsPerHost

	return &Client{
		name:       cfg.Name,
		baseURL:    cfg.BaseURL,
		maxElapsed: cfg.Timeout,
		httpClient: &http.Client{Transport: tr},
	}
}

// Decoder consumes a 2XX response body.
type Decoder func(r io.Reader) error

// Request is a single call the Client will make. Route is the low cardinality
// form of the path used for tracing; the expanded url is private so callers
// go through NewRequest.
type Request struct {
	Method  string
	Route   string
	Body    interface{} // marshalled to JSON when set
	Decoder Decoder
	Headers map[string]string
	Timeout time.Duration // per attempt, not per call
	Query   url.Values

	url string
}

// NewRequest expands routeParams into route to form the url, keeping the
// unexpanded route for span naming. Callers may adjust the returned Request
// before passing it to Call.
func NewRequest(method, route string, timeout time.Duration, routeParams ...interface{}) Request {
	return Request{
		Method:  method,
		Route:   route,
		Timeout: timeout,
		url:     fmt.Sprintf(route, routeParams...),
	}
}

// Get issues a GET for route and decodes the JSON response body into resp,
// which should be a pointer. A nil resp discards the body.
func (c *Client) Get(ctx context.Context, route string, resp interface{}, routeParams ...interface{}) error {
	r := NewRequest("GET", route, 0, routeParams...)
	if resp != nil {
		r.Decoder = NewJSONDecoder(resp)
	}
	return c.Call(ctx, r)
}

// Call performs the request, spanning each attempt. 5XX responses and
// transport failures are retried with exponential backoff until the client
// Timeout elapses; other non 2XX responses fail immediately with an
// HTTPError.
func (c *Client) Call(ctx context.Context, r Request) error {
	if r.url == "" {
		// a Request built by hand rather than NewRequest
		r.url = r.Route
	}
	target, err := url.Parse(c.baseURL + r.url)
	if err != nil {
		return err
	}
	target.RawQuery = r.Query.Encode()

	attempts := 0
	op := func() error {
		attempts++
		return c.attempt(ctx, r, target.String(), attempts)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Millisecond * 50
	bo.MaxElapsedTime = c.maxElapsed
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

func (c *Client) attempt(ctx context.Context, r Request, target string, attempts int) (err error) {
	_, span := o11y.StartSpan(ctx, fmt.Sprintf("httpclient: %s %s", c.name, r.Route))
	defer o11y.End(span, &err)
	start := time.Now()

	req, err := c.buildRequest(r, target)
	if err != nil {
		return backoff.Permanent(err)
	}

	// Service to service calls want a sane per attempt bound even when the
	// caller gave none.
	perAttempt := r.Timeout
	if perAttempt == 0 {
		perAttempt = time.Second * 5
	}
	ctx, cancel := context.WithTimeout(ctx, perAttempt)
	defer cancel()
	req = req.WithContext(ctx)

	annotateRequest(span, c, r, req, attempts)

	res, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error repeats the method and url, which clutters traces
		uerr := &url.Error{}
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("call: %s %s failed with: %w after %d attempt(s)",
			req.Method, r.Route, err, attempts)
	}
	defer func() {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}()

	c.recordTiming(ctx, r, res.StatusCode, attempts, start)
	annotateResponse(span, res)

	if err := statusToError(req.Method, r.Route, res.StatusCode, attempts); err != nil {
		return err
	}
	if r.Decoder == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := r.Decoder(res.Body); err != nil {
		// a body we cannot decode will not improve on retry
		return backoff.Permanent(fmt.Errorf("call: %s %s decoding failed with: %w after %d attempt(s)",
			req.Method, r.Route, err, attempts))
	}
	return nil
}

func (c *Client) buildRequest(r Request, target string) (*http.Request, error) {
	req, err := http.NewRequest(r.Method, target, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if r.Body != nil {
		b := &bytes.Buffer{}
		if err := json.NewEncoder(b).Encode(r.Body); err != nil {
			return nil, fmt.Errorf("could not json encode request: %w", err)
		}
		req.Header.Set("Content-Type", contentTypeJSON)
		req.Body = io.NopCloser(b)
	}
	return req, nil
}

func (c *Client) recordTiming(ctx context.Context, r Request, status, attempts int, start time.Time) {
	m := o11y.FromContext(ctx).MetricsProvider()
	if m == nil {
		return
	}
	_ = m.TimeInMilliseconds("httpclient",
		float64(time.Since(start).Nanoseconds())/1000000.0,
		[]string{
			"http.client_name:" + c.name,
			"http.route:" + r.Route,
			"http.method:" + r.Method,
			"http.status_code:" + strconv.Itoa(status),
			"http.retry:" + strconv.FormatBool(attempts > 1),
		},
		1,
	)
}

func annotateRequest(span o11y.Span, c *Client, r Request, req *http.Request, attempts int) {
	span.AddRawField("span.kind", "Client")
	span.AddRawField("http.client_name", c.name)
	span.AddRawField("http.base_url", c.baseURL)
	span.AddRawField("http.route", r.Route)
	span.AddRawField("http.method", req.Method)
	span.AddRawField("http.url", req.URL.String())
	span.AddRawField("http.attempt", attempts)
	span.AddRawField("http.retry", attempts > 1)
	span.AddRawField("http.request_content_length", req.ContentLength)
}

func annotateResponse(span o11y.Span, res *http.Response) {
	span.AddRawField("http.status_code", res.StatusCode)
	if cl := res.Header.Get("Content-Length"); cl != "" {
		span.AddRawField("http.response_content_length", cl)
	}
	if ct := res.Header.Get("Content-Type"); ct != "" {
		span.AddRawField("http.response_content_type", ct)
	}
}

// NewJSONDecoder decodes the response body as JSON into resp.
func NewJSONDecoder(resp interface{}) Decoder {
	return func(r io.Reader) error {
		if err := json.NewDecoder(r).Decode(resp); err != nil {
			return fmt.Errorf("failed to unmarshal: %w", err)
		}
		return nil
	}
}

// NewBytesDecoder copies the response body into resp.
func NewBytesDecoder(resp *[]byte) Decoder {
	return func(r io.Reader) error {
		bs, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		*resp = bs
		return nil
	}
}

// NewStringDecoder copies the response body into resp as a string.
func NewStringDecoder(resp *string) Decoder {
	return func(r io.Reader) error {
		var bs []byte
		if err := NewBytesDecoder(&bs)(r); err != nil {
			return err
		}
		*resp = string(bs)
		return nil
	}
}

// HTTPError is returned when the call completed with a non 2XX status.
type HTTPError struct {
	method   string
	route    string
	code     int
	attempts int
}

var _ error = (*HTTPError)(nil)

func (e *HTTPError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("the response from %s %s was %d (%s) (%d attempts)",
		e.method, e.route, e.code, http.StatusText(e.code), e.attempts)
}

// Code returns the response status code carried by this error.
func (e *HTTPError) Code() int {
	return e.code
}

// Is treats the expected failure codes (401, 403, 404) as o11y warnings so
// they do not show up in traces as errors.
func (e *HTTPError) Is(target error) bool {
	if o11y.IsWarningNoUnwrap(target) {
		return e.code > 400 && e.code <= 404
	}
	return false
}

// HasStatusCode reports whether err is an HTTPError carrying one of codes.
func HasStatusCode(err error, codes ...int) bool {
	e := &HTTPError{}
	if errors.As(err, &e) {
		for _, code := range codes {
			if e.code == code {
				return true
			}
		}
	}
	return false
}

// IsRequestProblem reports whether err is an HTTPError in the 4XX range.
func IsRequestProblem(err error) bool {
	e := &HTTPError{}
	if errors.As(err, &e) {
		return e.code >= 400 && e.code < 500
	}
	return false
}

// statusToError converts a non 2XX status into an HTTPError. Server errors
// stay retryable; everything else in the 3XX and 4XX ranges is the caller's
// problem and ends the retry loop.
func statusToError(method, route string, code, attempts int) error {
	if code < 300 {
		return nil
	}
	httpErr := &HTTPError{method: method, route: route, code: code, attempts: attempts}
	if code >= 500 {
		return httpErr
	}
	return backoff.Permanent(httpErr)
}
