package login

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/asnowfix/myecho/hlog"
	"github.com/asnowfix/myecho/pkg/alexa/cookies"
	"github.com/asnowfix/myecho/pkg/alexa/request"
	"github.com/asnowfix/myecho/pkg/alexa/types"
	"github.com/go-logr/logr"
	"golang.org/x/net/html"
)

const (
	bootstrapPath        = "/api/bootstrap"
	transactionCompleted = "TransactionCompleted"
	maxPageSize          = 4 << 20
)

type page struct {
	url  *url.URL
	code int
	body []byte
	doc  *html.Node
}

func (p *page) resolve(ref string) string {
	if ref == "" {
		return ""
	}
	u, err := p.url.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

// Authenticate advances the sign-in flow by one step and reports which
// challenge, if any, the caller must answer next. Saved cookies, from in or
// from the store, are tried first. A Failed session must be Reset.
func (s *Session) Authenticate(ctx context.Context, in Input) (*Status, error) {
	s.auth.Lock()
	defer s.auth.Unlock()

	log := logr.FromContextOrDiscard(ctx).WithName("login").WithValues("email", hlog.HideEmail(s.email))
	ctx = logr.NewContext(ctx, log)

	if s.CloseRequested() || s.Closed() {
		s.setState(Failed, &Status{LoginFailed: ReasonCloseRequested})
		return s.Status(), fmt.Errorf("authenticate: %w", types.ErrCloseRequested)
	}
	switch st := s.Status(); st.State {
	case Authenticated:
		return st, nil
	case Failed:
		return st, fmt.Errorf("authenticate: %s, reset required: %w", st.LoginFailed, types.ErrLogin)
	case Unauthenticated:
		ok, err := s.resume(ctx, in.Cookies)
		if err != nil || ok {
			return s.Status(), err
		}
	default:
		if len(in.Cookies) > 0 {
			ok, err := s.resume(ctx, in.Cookies)
			if err != nil || ok {
				return s.Status(), err
			}
		}
	}

	p, err := s.current(ctx, in)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.last = p
	s.mu.Unlock()

	st, err := s.process(ctx, p)
	if err != nil || st.State.Terminal() || st.APError {
		return st, err
	}

	p, err = s.submit(ctx, in, st.ForceGet)
	if err != nil {
		return nil, err
	}
	return s.process(ctx, p)
}

// resume tries saved cookies, loading them from the store when none are
// given.
func (s *Session) resume(ctx context.Context, saved []cookies.Record) (bool, error) {
	log := logr.FromContextOrDiscard(ctx)

	if len(saved) == 0 && s.store != nil {
		records, err := s.store.Load(ctx, s.email)
		switch {
		case err == nil:
			saved = records
		case errors.Is(err, cookies.ErrNotFound):
		default:
			log.Error(err, "Unable to load saved cookies")
		}
	}
	if len(saved) == 0 {
		return false, nil
	}

	log.V(1).Info("Trying saved cookies", "count", len(saved))
	s.inject(saved)
	ok, err := s.whoami(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Info("Saved cookies are no longer valid")
		if err := s.Reset(ctx); err != nil {
			log.Error(err, "Unable to reset session")
		}
		return false, nil
	}
	s.succeed(ctx)
	return true, nil
}

// current is the page to process: a selected link, the replayed last
// response or a fresh GET of the pending target.
func (s *Session) current(ctx context.Context, in Input) (*page, error) {
	log := logr.FromContextOrDiscard(ctx)

	s.mu.RLock()
	last, site, links := s.last, s.site, s.links
	s.mu.RUnlock()

	if i, ok := in.linkIndex(); ok && i >= 0 && i < len(links) {
		log.V(1).Info("Following link", "index", i, "href", links[i].Href)
		return s.exchange(ctx, http.MethodGet, links[i].Href, nil)
	}
	if last != nil {
		return last, nil
	}
	if site == "" {
		site = s.signIn
	}
	return s.exchange(ctx, http.MethodGet, site, nil)
}

// process classifies p and applies the matching step to the session.
func (s *Session) process(ctx context.Context, p *page) (*Status, error) {
	log := logr.FromContextOrDiscard(ctx)

	c := Classify(p.doc)
	kind, st := c.Kind, steps[c.Kind]
	status := &Status{ForceGet: c.ForceGet, ErrorMessage: errorMessage(p.doc)}

	s.mu.RLock()
	prevOptions, submitted, prevMessage := s.options, s.submitted, s.status.Message
	s.mu.RUnlock()

	var ch *Challenge
	if st.form != nil {
		form := st.form(p.doc)
		if form == nil {
			form = firstForm(p.doc)
		}
		if form == nil {
			log.V(1).Info("Challenge page without a form", "kind", kind, "url", p.url.Path)
			kind, st = KindNone, step{}
		} else {
			ch = scrape(kind, form)
			switch kind {
			case KindClaimsPicker:
				ch.Options = claimsOptions(form)
			case KindAuthSelect:
				ch.Options = authSelectOptions(form)
			}
		}
	}
	if kind == KindNone {
		return s.confirm(ctx, status)
	}
	if kind == KindApprovalPolling {
		ch = &Challenge{Kind: kind, Method: http.MethodGet, Fields: make(Fields, len(submitted))}
		for k, v := range submitted {
			ch.Fields[k] = v
		}
		status.Message = prevMessage
	}
	if ch != nil {
		if len(ch.Options) == 0 {
			ch.Options = prevOptions
		} else {
			status.Options = ch.Options
		}
	}
	if st.status != nil {
		st.status(p, ch, status)
	}
	if status.ErrorMessage != "" {
		log.Info("Sign-in page reports an error", "kind", kind, "error", status.ErrorMessage)
	}

	target, forget := s.next(kind, p, ch, status, submitted)
	log.V(1).Info("Processed page", "kind", kind, "state", st.state, "next", target, "force_get", status.ForceGet)

	s.mu.Lock()
	s.challenge = ch
	if ch != nil {
		s.options = ch.Options
	}
	s.links = links(p.doc, p.url)
	s.site = target
	if forget {
		s.last = nil
	}
	s.mu.Unlock()

	s.setState(st.state, status)
	return s.Status(), nil
}

// next is the URL the answered challenge goes to. forget asks for the next
// step to fetch it afresh instead of replaying p.
func (s *Session) next(kind Kind, p *page, ch *Challenge, st *Status, submitted Fields) (target string, forget bool) {
	if st.ApprovalStatus == transactionCompleted {
		if rt := submitted["openid.return_to"]; rt != "" {
			return rt, true
		}
	}
	switch kind {
	case KindMissingCookies:
		if st.APErrorHref != "" {
			return st.APErrorHref, true
		}
		return s.referer(p), true
	case KindForgotPassword:
		return s.signIn, true
	case KindApprovalPolling:
		return p.url.String(), false
	case KindPolling:
		return p.url.Scheme + "://" + p.url.Host + ch.Action, false
	}

	switch ch.Action {
	case "verify":
		u := *p.url
		u.Path = path.Join(path.Dir(u.Path), "verify")
		u.RawQuery = ""
		return u.String(), false
	case "get":
		return s.referer(p), true
	case "":
		return p.url.String(), false
	default:
		return p.resolve(ch.Action), false
	}
}

func (s *Session) referer(p *page) string {
	if r := s.Header().Get("Referer"); r != "" {
		return r
	}
	return p.url.String()
}

// submit answers the pending challenge.
func (s *Session) submit(ctx context.Context, in Input, forceGet bool) (*page, error) {
	log := logr.FromContextOrDiscard(ctx)

	s.mu.RLock()
	ch, target, options, password := s.challenge, s.site, s.options, s.password
	s.mu.RUnlock()
	if target == "" {
		target = s.signIn
	}

	method := http.MethodPost
	if forceGet {
		method = http.MethodGet
	}
	var fields Fields
	if ch != nil {
		steps[ch.Kind].fill(ch, s.email, password, in, options)
		if empty := ch.Fields.Empty(); len(empty) > 0 {
			log.V(1).Info("Submitting with empty fields", "kind", ch.Kind, "fields", empty)
		}
		fields = ch.Fields
	}

	p, err := s.exchange(ctx, method, target, fields)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.submitted = fields
	s.last = p
	s.mu.Unlock()
	return p, nil
}

// exchange fetches one authentication page. Form fields go in the query of
// a GET and in the body of a POST.
func (s *Session) exchange(ctx context.Context, method, target string, fields Fields) (*page, error) {
	r := &request.Request{Method: method, URL: target}
	if fields != nil {
		if method == http.MethodGet {
			r.Query = fields.Values()
		} else {
			r.Form = fields.Values()
			s.mu.Lock()
			s.header.Set("Content-Type", "application/x-www-form-urlencoded")
			s.mu.Unlock()
		}
	}

	resp, err := s.exec.Do(ctx, r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", types.ErrConnection, target, err)
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", types.ErrDecode, target, err)
	}
	p := &page{url: resp.Request.URL, code: resp.StatusCode, body: body, doc: doc}
	s.dump(ctx, method, p)
	return p, nil
}

func (s *Session) dump(ctx context.Context, method string, p *page) {
	if s.debugDir == "" {
		return
	}
	name := fmt.Sprintf("%s.%s.html", strings.NewReplacer("@", "_", "/", "_").Replace(s.email), strings.ToLower(method))
	if err := os.WriteFile(filepath.Join(s.debugDir, name), p.body, 0o600); err != nil {
		logr.FromContextOrDiscard(ctx).V(1).Info("Unable to dump page", "error", err)
	}
}

type bootstrap struct {
	Authentication *struct {
		Authenticated bool   `json:"authenticated"`
		CustomerEmail string `json:"customerEmail"`
		CustomerID    string `json:"customerId"`
	} `json:"authentication"`
}

// whoami asks the service who the session belongs to. Any answer other than
// the configured account, or a mobile account with no email, is "not
// logged in"; a different account also resets the session.
func (s *Session) whoami(ctx context.Context) (bool, error) {
	log := logr.FromContextOrDiscard(ctx)

	resp, err := s.exec.Do(ctx, bootstrapRequest())
	if errors.Is(err, types.ErrLogin) {
		log.V(1).Info("Not logged in", "error", err)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var b bootstrap
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPageSize)).Decode(&b); err != nil || b.Authentication == nil {
		log.V(1).Info("Not logged in", "status", resp.StatusCode)
		return false, nil
	}
	email := b.Authentication.CustomerEmail
	if email != "" && !strings.EqualFold(email, s.email) {
		log.Info("Session belongs to another account", "found", hlog.HideEmail(email))
		if err := s.Reset(ctx); err != nil {
			log.Error(err, "Unable to reset session")
		}
		return false, nil
	}

	s.mu.Lock()
	s.customerID = b.Authentication.CustomerID
	s.mu.Unlock()
	return true, nil
}

// confirm checks a page with no recognizable challenge: either the flow is
// over or the credentials were refused.
func (s *Session) confirm(ctx context.Context, status *Status) (*Status, error) {
	log := logr.FromContextOrDiscard(ctx)

	ok, err := s.whoami(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return s.succeed(ctx), nil
	}

	log.Info("Login failed", "error", status.ErrorMessage)
	if err := s.Reset(ctx); err != nil {
		log.Error(err, "Unable to reset session")
	}
	status.ForceGet = false
	status.LoginFailed = ReasonCredentialMismatch
	s.setState(Failed, status)
	return s.Status(), nil
}

// succeed adopts the jar cookies and the csrf token and persists them.
func (s *Session) succeed(ctx context.Context) *Status {
	log := logr.FromContextOrDiscard(ctx)

	s.mu.Lock()
	s.reconcile()
	if v := s.cookies["csrf"]; v != "" {
		s.header.Set("csrf", v)
	}
	s.header.Del("Content-Type")
	s.password = ""
	s.challenge = nil
	s.last = nil
	s.site = ""
	s.submitted = nil
	customerID := s.customerID
	s.mu.Unlock()

	s.setState(Authenticated, &Status{LoginSuccessful: true})
	log.Info("Logged in", "customer_id", hlog.HideSerial(customerID))

	if s.store != nil {
		if err := s.store.Save(ctx, s.email, s.Records()); err != nil {
			log.Error(err, "Unable to save cookies")
		}
	}
	return s.Status()
}

func bootstrapRequest() *request.Request {
	return &request.Request{
		Method: http.MethodGet,
		URL:    bootstrapPath,
		Header: http.Header{"Accept": {"application/json"}},
	}
}
