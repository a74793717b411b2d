// Package request runs authenticated exchanges against the service with
// bounded exponential retry for rate-limit and connection failures.
package request

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
	"strings"
	"time"

	"github.com/asnowfix/myecho/internal/metrics"
	"github.com/asnowfix/myecho/pkg/alexa/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
)

// Transport is the session side of an exchange: it owns the HTTP client,
// the header set and the close flags, and reconciles its state from every
// response.
type Transport interface {
	HTTPClient() *http.Client
	Header() http.Header
	BaseURL() *url.URL
	CloseRequested() bool
	Closed() bool
	Observe(resp *http.Response)
	// Unauthorized is called when the service rejects the session's
	// credentials.
	Unauthorized(ctx context.Context)
}

// Policy bounds the retries of a single exchange.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxRetries      uint64
	MaxElapsedTime  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		MaxRetries:      5,
		MaxElapsedTime:  2 * time.Minute,
	}
}

func (p Policy) backOff() backoff.BackOff {
	if p.Multiplier <= 1 {
		p.Multiplier = 2
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
		MaxElapsedTime:      p.MaxElapsedTime,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithMaxRetries(b, p.MaxRetries)
}

// hinted raises the next delay to the server's Retry-After when that is
// longer. Delays never decrease once a hint has raised one.
type hinted struct {
	backoff.BackOff
	hint time.Duration
	last time.Duration
}

func (h *hinted) NextBackOff() time.Duration {
	d := h.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if h.hint > d {
		d = h.hint
	}
	if d <= h.last {
		d = h.last + time.Millisecond
	}
	h.hint = 0
	h.last = d
	return d
}

func (h *hinted) Reset() {
	h.BackOff.Reset()
	h.hint = 0
	h.last = 0
}

// Request describes one exchange. URL is either absolute or a path relative
// to the transport's base URL.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Header http.Header
	// At most one of JSON and Form is set.
	JSON any
	Form url.Values
}

type Executor struct {
	transport Transport
	policy    Policy
	notify    func(err error, d time.Duration)
}

type Option func(*Executor)

// WithNotify observes each scheduled retry.
func WithNotify(fn func(err error, d time.Duration)) Option {
	return func(e *Executor) {
		e.notify = fn
	}
}

func New(t Transport, p Policy, opts ...Option) *Executor {
	e := &Executor{transport: t, policy: p}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Policy() Policy {
	return e.policy
}

// Do runs r, retrying rate-limited and connection failures. The returned
// response has a non-nil body the caller must close. Status codes other
// than 401 and 429 are returned as-is.
func (e *Executor) Do(ctx context.Context, r *Request) (*http.Response, error) {
	log := logr.FromContextOrDiscard(ctx)

	target, err := e.resolve(r)
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	b := &hinted{BackOff: e.policy.backOff()}

	op := func() error {
		// checked on every attempt, including retries
		if e.transport.CloseRequested() || e.transport.Closed() {
			return backoff.Permanent(fmt.Errorf("%s %s: %w", r.Method, target.Path, types.ErrCloseRequested))
		}

		req, err := e.build(ctx, r, target)
		if err != nil {
			return backoff.Permanent(err)
		}

		res, err := e.transport.HTTPClient().Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			metrics.Requests.WithLabelValues(r.Method, "error").Inc()
			return fmt.Errorf("%s %s: %w: %v", r.Method, target.Path, types.ErrConnection, err)
		}
		metrics.Requests.WithLabelValues(r.Method, strconv.Itoa(res.StatusCode)).Inc()
		e.transport.Observe(res)

		switch res.StatusCode {
		case http.StatusUnauthorized:
			drain(res)
			e.transport.Unauthorized(ctx)
			return backoff.Permanent(fmt.Errorf("%s %s: %w (status %d)", r.Method, target.Path, types.ErrLogin, res.StatusCode))
		case http.StatusTooManyRequests:
			after := ParseRetryAfter(res.Header.Get("Retry-After"))
			drain(res)
			b.hint = after
			return fmt.Errorf("%s %s: %w", r.Method, target.Path, &types.RateLimitError{RetryAfter: after})
		}
		resp = res
		return nil
	}

	notify := func(err error, d time.Duration) {
		reason := "connection"
		if errors.Is(err, types.ErrTooManyRequests) {
			reason = "rate_limited"
		}
		metrics.Retries.WithLabelValues(reason).Inc()
		log.V(1).Info("Retrying", "method", r.Method, "path", target.Path, "reason", reason, "delay", d)
		if e.notify != nil {
			e.notify(err, d)
		}
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return resp, nil
}

func (e *Executor) resolve(r *Request) (*url.URL, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, fmt.Errorf("bad request url %q: %w", r.URL, err)
	}
	if !u.IsAbs() {
		u = e.transport.BaseURL().ResolveReference(u)
	}
	if len(r.Query) > 0 {
		q := u.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

func (e *Executor) build(ctx context.Context, r *Request, target *url.URL) (*http.Request, error) {
	var body io.Reader
	contentType := ""
	switch {
	case r.JSON != nil:
		b, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", r.Method, target.Path, err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json; charset=UTF-8"
	case r.Form != nil:
		body = strings.NewReader(r.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range e.transport.Header() {
		req.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range r.Header {
		req.Header[k] = append([]string(nil), vs...)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func drain(res *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
	res.Body.Close()
}

// ParseRetryAfter accepts either delay-seconds or an HTTP date.
func ParseRetryAfter(val string) time.Duration {
	if val == "" {
		return 0
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(val); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
