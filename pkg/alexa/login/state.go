package login

import "fmt"

// State of the authentication state machine.
type State int

const (
	Unauthenticated State = iota
	CredentialsPage
	CaptchaRequired
	SecurityCodeRequired
	ClaimsPickerRequired
	DeviceSelectRequired
	VerificationCodeRequired
	CaptchaVerificationRequired
	ApprovalPolling
	TransientServiceError
	Authenticated
	Failed
)

var stateNames = [...]string{
	Unauthenticated:             "unauthenticated",
	CredentialsPage:             "credentials_page",
	CaptchaRequired:             "captcha_required",
	SecurityCodeRequired:        "securitycode_required",
	ClaimsPickerRequired:        "claimspicker_required",
	DeviceSelectRequired:        "authselect_required",
	VerificationCodeRequired:    "verificationcode_required",
	CaptchaVerificationRequired: "verification_captcha_required",
	ApprovalPolling:             "approval_polling",
	TransientServiceError:       "transient_service_error",
	Authenticated:               "authenticated",
	Failed:                      "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further caller input can change the state
// without a Reset.
func (s State) Terminal() bool {
	return s == Authenticated || s == Failed
}

// Kind is the shape of an authentication page, as recognized by Classify.
type Kind int

const (
	KindNone Kind = iota
	KindSignIn
	KindCaptcha
	KindSecurityCode
	KindClaimsPicker
	KindAuthSelect
	KindVerificationCaptcha
	KindVerificationCode
	KindMissingCookies
	KindPolling
	KindForgotPassword
	KindApprovalPolling
)

var kindNames = [...]string{
	KindNone:                "none",
	KindSignIn:              "signin",
	KindCaptcha:             "captcha",
	KindSecurityCode:        "securitycode",
	KindClaimsPicker:        "claimspicker",
	KindAuthSelect:          "authselect",
	KindVerificationCaptcha: "verification_captcha",
	KindVerificationCode:    "verificationcode",
	KindMissingCookies:      "missing_cookies",
	KindPolling:             "polling",
	KindForgotPassword:      "forgot_password",
	KindApprovalPolling:     "approval_polling",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}
