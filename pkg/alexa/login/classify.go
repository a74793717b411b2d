package login

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Classification is the result of Classify.
type Classification struct {
	Kind Kind
	// ForceGet asks for the next exchange to be a GET rather than a form POST.
	ForceGet bool
}

type marker struct {
	kind     Kind
	forceGet bool
	match    predicate
}

func present(p predicate) predicate {
	return func(doc *html.Node) bool {
		return find(doc, p) != nil
	}
}

// markers are evaluated in order; the first match wins.
var markers = []marker{
	{kind: KindSignIn, match: func(doc *html.Node) bool {
		return find(doc, elementWith(atom.Form, "name", "signIn")) != nil &&
			find(doc, byID("auth-captcha-image")) == nil
	}},
	{kind: KindCaptcha, match: present(byID("auth-captcha-image"))},
	{kind: KindSecurityCode, match: present(byID("auth-mfa-otpcode"))},
	{kind: KindClaimsPicker, match: present(elementWith(atom.Form, "name", "claimspicker"))},
	{kind: KindAuthSelect, match: present(elementWith(atom.Form, "id", "auth-select-device-form"))},
	{kind: KindVerificationCaptcha, match: present(elementWith(atom.Img, "alt", "captcha"))},
	{kind: KindVerificationCode, match: present(elementWith(atom.Form, "action", "verify"))},
	{kind: KindMissingCookies, forceGet: true, match: present(byID("ap_error_return_home"))},
	{kind: KindPolling, forceGet: true, match: present(elementWith(atom.Form, "id", "pollingForm"))},
	{kind: KindForgotPassword, match: func(doc *html.Node) bool {
		return find(doc, elementWith(atom.Form, "name", "forgotPassword")) != nil ||
			find(doc, elementWith(atom.Input, "name", "OTPChallengeOptions")) != nil
	}},
	{kind: KindApprovalPolling, forceGet: true, match: present(byID("updatedChannelDetails"))},
}

// Classify recognizes which authentication page doc is. It has no side
// effects; KindNone means no challenge marker was found.
func Classify(doc *html.Node) Classification {
	for _, m := range markers {
		if m.match(doc) {
			return Classification{Kind: m.kind, ForceGet: m.forceGet}
		}
	}
	return Classification{Kind: KindNone}
}
