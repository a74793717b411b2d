package login

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
)

const (
	testEmail    = "user@example.com"
	testPassword = "secret"
	testOTP      = "123456"
	testCaptcha  = "CAPT"
)

// fakeSite serves a minimal sign-in flow.
type fakeSite struct {
	srv *httptest.Server

	captcha       bool
	otp           bool
	approval      bool
	missingCookie bool
	accountEmail  string
	// revoked rejects every session cookie
	revoked atomic.Bool

	mu    sync.Mutex
	hits  map[string]int
	posts []url.Values
}

func newFakeSite(t *testing.T) *fakeSite {
	f := &fakeSite{accountEmail: "User@Example.com", hits: make(map[string]int)}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ap/signin", http.StatusFound)
	})
	mux.HandleFunc("/ap/signin", f.signIn)
	mux.HandleFunc("/ap/mfa", f.mfa)
	mux.HandleFunc("/ap/cvf/approval/poll", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div id="updatedChannelDetails"></div>
<input type="hidden" id="transactionApprovalStatus" value="TransactionCompleted"></body></html>`)
	})
	mux.HandleFunc("/ap/done", func(w http.ResponseWriter, r *http.Request) {
		f.grant(w)
	})
	mux.HandleFunc("/api/bootstrap", f.bootstrap)
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.hits[r.Method+" "+r.URL.Path]++
		if r.Method == http.MethodPost {
			_ = r.ParseForm()
			f.posts = append(f.posts, r.PostForm)
		}
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeSite) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[key]
}

func (f *fakeSite) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.hits {
		n += v
	}
	return n
}

func (f *fakeSite) lastPost() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.posts) == 0 {
		return nil
	}
	return f.posts[len(f.posts)-1]
}

func (f *fakeSite) config() Config {
	return Config{
		Host:     "example.test",
		Email:    testEmail,
		Password: testPassword,
		BaseURL:  f.srv.URL,
	}
}

func (f *fakeSite) signInPage(w http.ResponseWriter) {
	captcha := ""
	if f.captcha {
		captcha = `<img id="auth-captcha-image" src="/captcha.jpg"><input type="text" name="guess">`
	}
	fmt.Fprintf(w, `<html><body>
<form name="signIn" method="post" action="/ap/signin">
<input type="hidden" name="appActionToken" value="tok123">
<input type="hidden" name="openid.return_to" value="/ap/done">
<input type="email" name="email">
<input type="password" name="password">
<input type="checkbox" name="rememberMe">
%s
</form>
<a href="/help">Help</a>
</body></html>`, captcha)
}

func (f *fakeSite) signIn(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		if f.missingCookie && r.URL.Query().Get("retry") == "" {
			fmt.Fprint(w, `<html><body><div id="ap_error_return_home">
<p>Please enable cookies</p><a href="/">Home</a> <a href="/ap/signin?retry=1">Try again</a></div></body></html>`)
			return
		}
		f.signInPage(w)
		return
	}
	if f.captcha && r.PostForm.Get("guess") != testCaptcha {
		f.signInPage(w)
		return
	}
	if r.PostForm.Get("password") != testPassword {
		fmt.Fprint(w, `<html><body><div id="auth-error-message-box"><h4>There was a problem</h4>
<ul><li><span>Your password is incorrect</span></li></ul></div></body></html>`)
		return
	}
	switch {
	case f.otp:
		f.otpPage(w)
	case f.approval:
		fmt.Fprint(w, `<html><body><span>Approve the notification</span>
<div id="channelDetails">sent to   your phone</div>
<form id="pollingForm" method="get" action="/ap/cvf/approval/poll">
<input type="hidden" name="arb" value="A1">
<input type="hidden" name="openid.return_to" value="/ap/done">
</form></body></html>`)
	default:
		f.grant(w)
	}
}

func (f *fakeSite) otpPage(w http.ResponseWriter) {
	fmt.Fprint(w, `<html><body>
<form id="auth-mfa-form" method="post" action="/ap/mfa">
<input type="hidden" name="mfaToken" value="m1">
<input id="auth-mfa-otpcode" type="tel" name="otpCode">
<input type="checkbox" name="rememberDevice">
</form></body></html>`)
}

func (f *fakeSite) mfa(w http.ResponseWriter, r *http.Request) {
	if r.PostForm.Get("otpCode") != testOTP || r.PostForm.Get("rememberDevice") != "true" || r.PostForm.Get("mfaToken") != "m1" {
		f.otpPage(w)
		return
	}
	f.grant(w)
}

func (f *fakeSite) grant(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: "session-id", Value: "S1", Path: "/"})
	http.SetCookie(w, &http.Cookie{Name: "csrf", Value: "C1", Path: "/"})
	fmt.Fprint(w, `<html><body><p>Welcome</p></body></html>`)
}

func (f *fakeSite) bootstrap(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie("session-id")
	if err != nil || c.Value != "S1" || f.revoked.Load() {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"authentication":{"authenticated":true,"customerEmail":%q,"customerId":"A1"}}`, f.accountEmail)
}
