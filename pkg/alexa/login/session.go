// Package login authenticates an account against the service web sign-in
// flow and owns the resulting HTTP session: cookie jar, headers and close
// flags.
package login

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asnowfix/myecho/hlog"
	"github.com/asnowfix/myecho/internal/metrics"
	"github.com/asnowfix/myecho/pkg/alexa/cookies"
	"github.com/asnowfix/myecho/pkg/alexa/request"
	"github.com/go-logr/logr"
	"golang.org/x/net/publicsuffix"
)

const (
	UserAgent      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_14_6) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/84.0.4147.135 Safari/537.36"
	acceptHTML     = "text/html,application/xhtml+xml, application/xml;q=0.9,*/*;q=0.8"
	acceptLanguage = "*"
)

type Config struct {
	// Host is the regional domain, e.g. "amazon.com" or "amazon.de".
	Host     string
	Email    string
	Password string
	// BaseURL overrides https://alexa.<Host>.
	BaseURL string
	// SignInURL overrides the first page of the sign-in flow, which
	// defaults to BaseURL.
	SignInURL string
	// Store persists the cookies of an authenticated session. Optional.
	Store  cookies.Store
	Policy request.Policy
	// DebugDir receives a dump of every authentication page when set.
	DebugDir string
}

// Session is the authenticated HTTP context of one account. It implements
// request.Transport.
type Session struct {
	host     string
	email    string
	base     *url.URL
	signIn   string
	store    cookies.Store
	debugDir string

	closeRequested atomic.Bool
	closed         atomic.Bool

	// serializes Authenticate
	auth sync.Mutex

	mu         sync.RWMutex
	password   string
	client     *http.Client
	jar        *cookiejar.Jar
	cookies    map[string]string
	header     http.Header
	state      State
	status     *Status
	customerID string
	challenge  *Challenge
	options    []Option
	links      []Link
	site       string
	last       *page
	// fields submitted by the last POST
	submitted Fields

	exec *request.Executor
}

func New(cfg Config) (*Session, error) {
	if cfg.Host == "" {
		return nil, errors.New("login: host is required")
	}
	if cfg.Email == "" {
		return nil, errors.New("login: email is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://alexa." + cfg.Host
	}
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("login: base url: %w", err)
	}
	s := &Session{
		host:     cfg.Host,
		email:    cfg.Email,
		password: cfg.Password,
		base:     u,
		signIn:   cfg.SignInURL,
		store:    cfg.Store,
		debugDir: cfg.DebugDir,
	}
	if s.signIn == "" {
		s.signIn = u.String()
	}
	p := cfg.Policy
	if p.InitialInterval == 0 {
		p = request.DefaultPolicy()
	}
	s.exec = request.New(s, p, request.WithNotify(func(err error, d time.Duration) {
		hlog.Logger.V(1).Info("Retrying", "email", hlog.HideEmail(s.email), "in", d, "error", err)
	}))
	s.renew()
	return s, nil
}

// renew installs a fresh client, cookie jar and header set.
func (s *Session) renew() {
	jar, h := fresh()
	s.mu.Lock()
	s.install(jar, h, &Status{State: Unauthenticated})
	s.mu.Unlock()

	s.closeRequested.Store(false)
	s.closed.Store(false)
}

func fresh() (*cookiejar.Jar, http.Header) {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	h := make(http.Header)
	h.Set("User-Agent", UserAgent)
	h.Set("Accept", acceptHTML)
	h.Set("Accept-Language", acceptLanguage)
	return jar, h
}

// install replaces the client state and forgets the flow. s.mu must be held.
func (s *Session) install(jar *cookiejar.Jar, h http.Header, status *Status) {
	s.jar = jar
	s.client = &http.Client{Jar: jar}
	s.header = h
	s.cookies = make(map[string]string)
	s.state = status.State
	s.status = status
	s.customerID = ""
	s.challenge = nil
	s.options = nil
	s.links = nil
	s.site = ""
	s.last = nil
	s.submitted = nil
}

func (s *Session) Executor() *request.Executor {
	return s.exec
}

func (s *Session) Email() string {
	return s.email
}

func (s *Session) Host() string {
	return s.host
}

func (s *Session) HTTPClient() *http.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

func (s *Session) Header() http.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header.Clone()
}

func (s *Session) BaseURL() *url.URL {
	u := *s.base
	return &u
}

func (s *Session) CloseRequested() bool {
	return s.closeRequested.Load()
}

func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Observe records the final URL of resp as the next Referer and adopts the
// cookies the jar now holds.
func (s *Session) Observe(resp *http.Response) {
	if resp == nil || resp.Request == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header.Set("Referer", resp.Request.URL.String())
	s.reconcile(resp.Request.URL)
}

// Unauthorized drops an authenticated session whose cookies the service no
// longer accepts: the jar and the persisted cookies are discarded and the
// next Authenticate signs in again. Rejections during sign-in are ignored.
func (s *Session) Unauthorized(ctx context.Context) {
	log := logr.FromContextOrDiscard(ctx)

	jar, h := fresh()
	s.mu.Lock()
	if s.state != Authenticated {
		s.mu.Unlock()
		return
	}
	s.install(jar, h, &Status{State: Unauthenticated, Message: "session expired"})
	s.mu.Unlock()
	metrics.LoginAttempts.WithLabelValues(Unauthenticated.String()).Inc()

	log.Info("Session expired", "email", hlog.HideEmail(s.email))
	if s.store == nil {
		return
	}
	if err := s.store.Delete(ctx, s.email); err != nil {
		log.Error(err, "Unable to delete saved cookies", "email", hlog.HideEmail(s.email))
	}
}

// reconcile merges the jar cookies visible from the base URL, the sign-in
// host and extra into the session cookie map. s.mu must be held.
func (s *Session) reconcile(extra ...*url.URL) {
	for _, u := range s.cookieURLs(extra...) {
		for _, c := range s.jar.Cookies(u) {
			s.cookies[c.Name] = c.Value
		}
	}
}

func (s *Session) cookieURLs(extra ...*url.URL) []*url.URL {
	urls := []*url.URL{s.base, {Scheme: "https", Host: "www." + s.host, Path: "/"}}
	return append(urls, extra...)
}

// Cookies is a copy of the session cookie map.
func (s *Session) Cookies() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := make(map[string]string, len(s.cookies))
	for k, v := range s.cookies {
		m[k] = v
	}
	return m
}

// Records lists the jar cookies as persistable records.
func (s *Session) Records() []cookies.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []cookies.Record
	for _, u := range s.cookieURLs() {
		for _, r := range cookies.FromHTTP(s.jar.Cookies(u), u.Hostname()) {
			if seen[r.Name] {
				continue
			}
			seen[r.Name] = true
			out = append(out, r)
		}
	}
	return out
}

// inject loads saved cookies into the jar.
func (s *Session) inject(records []cookies.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		host := strings.TrimPrefix(r.Domain, ".")
		if host == "" {
			host = s.base.Hostname()
		}
		c := r.HTTP()
		if net.ParseIP(host) != nil {
			c.Domain = ""
		}
		u := &url.URL{Scheme: s.base.Scheme, Host: host, Path: "/"}
		s.jar.SetCookies(u, []*http.Cookie{c})
	}
	s.reconcile()
}

// CSRF is the anti-forgery token adopted after authentication.
func (s *Session) CSRF() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header.Get("csrf")
}

func (s *Session) CustomerID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.customerID
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status is a copy of the last status record.
func (s *Session) Status() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := *s.status
	return &st
}

// Challenge is the form of the pending challenge, nil when none is pending.
func (s *Session) Challenge() *Challenge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.challenge
}

// Links are the navigable links of the last authentication page.
func (s *Session) Links() []Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Link(nil), s.links...)
}

func (s *Session) setState(st State, status *Status) {
	status.State = st
	s.mu.Lock()
	s.state = st
	s.status = status
	s.mu.Unlock()
	metrics.LoginAttempts.WithLabelValues(st.String()).Inc()
}

// Close stops every exchange. The session cannot be used until Reset.
func (s *Session) Close() {
	s.closeRequested.Store(true)
	s.HTTPClient().CloseIdleConnections()
	s.closed.Store(true)
}

// Reset closes the session, forgets everything learned since New and
// deletes the persisted cookies.
func (s *Session) Reset(ctx context.Context) error {
	log := logr.FromContextOrDiscard(ctx)
	s.Close()
	s.renew()
	if s.store == nil {
		return nil
	}
	if err := s.store.Delete(ctx, s.email); err != nil {
		log.Error(err, "Unable to delete saved cookies", "email", hlog.HideEmail(s.email))
		return err
	}
	return nil
}
