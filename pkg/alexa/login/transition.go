package login

import (
	"strconv"

	"golang.org/x/net/html/atom"
)

// step is what a page kind does to the session: the state it enters, the
// form it scrapes, the status keys it sets and the inputs it accepts.
type step struct {
	state   State
	form    formFinder
	status  func(p *page, ch *Challenge, st *Status)
	accepts []string
}

var signIn = formBy("name", "signIn")

var steps = map[Kind]step{
	KindSignIn: {
		state:   CredentialsPage,
		form:    signIn,
		accepts: []string{"password"},
	},
	KindCaptcha: {
		state: CaptchaRequired,
		form:  signIn,
		status: func(p *page, _ *Challenge, st *Status) {
			st.CaptchaRequired = true
			st.CaptchaImageURL = p.resolve(attr(find(p.doc, byID("auth-captcha-image")), "src"))
		},
		accepts: []string{"password", "captcha"},
	},
	KindSecurityCode: {
		state: SecurityCodeRequired,
		form:  formBy("id", "auth-mfa-form"),
		status: func(_ *page, _ *Challenge, st *Status) {
			st.SecurityCodeRequired = true
		},
		accepts: []string{"securitycode"},
	},
	KindClaimsPicker: {
		state: ClaimsPickerRequired,
		form:  formBy("name", "claimspicker"),
		status: func(_ *page, ch *Challenge, st *Status) {
			st.ClaimsPickerRequired = true
			st.ClaimsPickerMessage = optionsMessage(ch.Options, true)
		},
		accepts: []string{"claimsoption"},
	},
	KindAuthSelect: {
		state: DeviceSelectRequired,
		form:  formBy("id", "auth-select-device-form"),
		status: func(p *page, ch *Challenge, st *Status) {
			st.AuthSelectRequired = true
			st.AuthSelectMessage = collapse(text(find(find(p.doc, hasClass(atom.Div, "a-box-inner")), element(atom.P))))
			if m := optionsMessage(ch.Options, false); m != "" {
				st.AuthSelectMessage += "\n" + m
			}
		},
		accepts: []string{"authselectoption"},
	},
	KindVerificationCaptcha: {
		state: CaptchaVerificationRequired,
		form:  formBy("action", "verify"),
		status: func(p *page, _ *Challenge, st *Status) {
			st.CaptchaRequired = true
			st.VerificationCaptchaRequired = true
			st.CaptchaImageURL = p.resolve(attr(find(p.doc, elementWith(atom.Img, "alt", "captcha")), "src"))
		},
		accepts: []string{"captcha"},
	},
	KindVerificationCode: {
		state: VerificationCodeRequired,
		form:  formBy("action", "verify"),
		status: func(_ *page, _ *Challenge, st *Status) {
			st.VerificationCodeRequired = true
		},
		accepts: []string{"verificationcode"},
	},
	KindMissingCookies: {
		state: TransientServiceError,
		status: func(p *page, _ *Challenge, st *Status) {
			st.APError = true
			st.APErrorHref = p.resolve(recoveryHref(p.doc))
		},
	},
	KindPolling: {
		state: ApprovalPolling,
		form:  formBy("id", "pollingForm"),
		status: func(p *page, _ *Challenge, st *Status) {
			st.Message = pollingMessage(p.doc)
		},
	},
	KindForgotPassword: {
		state: Failed,
		status: func(_ *page, _ *Challenge, st *Status) {
			st.APError = true
			st.LoginFailed = ReasonForgotPassword
			st.Message = "Too many failed logins, the account requires a password reset."
		},
	},
	KindApprovalPolling: {
		state: ApprovalPolling,
		status: func(p *page, _ *Challenge, st *Status) {
			st.ApprovalStatus = attr(find(p.doc, byID("transactionApprovalStatus")), "value")
		},
	},
}

func (s step) accept(name string) bool {
	for _, a := range s.accepts {
		if a == name {
			return true
		}
	}
	return false
}

// fill answers ch with the session credentials and the accepted caller
// inputs. Options are looked up in opts.
func (s step) fill(ch *Challenge, email, password string, in Input, opts []Option) {
	f := ch.Fields
	set := func(name, value string) {
		if _, ok := f[name]; ok && value != "" {
			f[name] = value
		}
	}
	option := func(idx string) string {
		i, err := strconv.Atoi(idx)
		if err != nil {
			return ""
		}
		for _, o := range opts {
			if o.Index == i {
				return o.Value
			}
		}
		return ""
	}

	if f["email"] == "" {
		set("email", email)
	}
	if v, ok := f["password"]; ok && v == "" {
		pw := password
		if s.accept("password") && in.Password != "" {
			pw = in.Password + in.SecurityCode
		}
		set("password", pw)
	}
	set("rememberMe", "true")

	if s.accept("captcha") {
		set("guess", in.Captcha)
		if _, ok := f["cvf_captcha_input"]; ok && in.Captcha != "" {
			f["cvf_captcha_input"] = in.Captcha
			f["cvf_captcha_captcha_action"] = "verifyCaptcha"
		}
	}
	if _, ok := f["otpCode"]; ok && s.accept("securitycode") && in.SecurityCode != "" {
		f["otpCode"] = in.SecurityCode
		f["rememberDevice"] = "true"
	}
	if s.accept("claimsoption") {
		set("option", option(in.ClaimsOption))
	}
	if s.accept("authselectoption") {
		set("otpDeviceContext", option(in.AuthSelectOption))
	}
	if s.accept("verificationcode") {
		set("code", in.VerificationCode)
	}
	delete(f, "")
}
