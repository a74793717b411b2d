package login

// Option is one choice of a multi-choice challenge.
type Option struct {
	Index int    `json:"index" yaml:"index"`
	Value string `json:"value" yaml:"value"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Link is a navigable link of the last page, selectable with Input.Link.
type Link struct {
	Index int    `json:"index" yaml:"index"`
	Text  string `json:"text" yaml:"text"`
	Href  string `json:"href" yaml:"href"`
}

// Failure reasons.
const (
	ReasonCredentialMismatch = "credential mismatch"
	ReasonForgotPassword     = "forgot_password"
	ReasonCloseRequested     = "close requested"
)

// Status describes the outcome of the last authentication step: which
// challenge is pending, and what the caller needs to answer it.
type Status struct {
	State State `json:"state" yaml:"state"`

	LoginSuccessful bool   `json:"login_successful,omitempty" yaml:"login_successful,omitempty"`
	LoginFailed     string `json:"login_failed,omitempty" yaml:"login_failed,omitempty"`

	CaptchaRequired             bool     `json:"captcha_required,omitempty" yaml:"captcha_required,omitempty"`
	CaptchaImageURL             string   `json:"captcha_image_url,omitempty" yaml:"captcha_image_url,omitempty"`
	SecurityCodeRequired        bool     `json:"securitycode_required,omitempty" yaml:"securitycode_required,omitempty"`
	ClaimsPickerRequired        bool     `json:"claimspicker_required,omitempty" yaml:"claimspicker_required,omitempty"`
	ClaimsPickerMessage         string   `json:"claimspicker_message,omitempty" yaml:"claimspicker_message,omitempty"`
	AuthSelectRequired          bool     `json:"authselect_required,omitempty" yaml:"authselect_required,omitempty"`
	AuthSelectMessage           string   `json:"authselect_message,omitempty" yaml:"authselect_message,omitempty"`
	VerificationCaptchaRequired bool     `json:"verification_captcha_required,omitempty" yaml:"verification_captcha_required,omitempty"`
	VerificationCodeRequired    bool     `json:"verificationcode_required,omitempty" yaml:"verificationcode_required,omitempty"`
	Options                     []Option `json:"options,omitempty" yaml:"options,omitempty"`

	APError        bool   `json:"ap_error,omitempty" yaml:"ap_error,omitempty"`
	APErrorHref    string `json:"ap_error_href,omitempty" yaml:"ap_error_href,omitempty"`
	ForceGet       bool   `json:"force_get,omitempty" yaml:"force_get,omitempty"`
	ApprovalStatus string `json:"approval_status,omitempty" yaml:"approval_status,omitempty"`

	Message      string `json:"message,omitempty" yaml:"message,omitempty"`
	ErrorMessage string `json:"error_message,omitempty" yaml:"error_message,omitempty"`
}

// Pending reports whether the caller is expected to answer a challenge.
func (s *Status) Pending() bool {
	return s != nil && !s.State.Terminal() && s.State != Unauthenticated
}
