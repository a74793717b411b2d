package login

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/asnowfix/myecho/pkg/alexa/cookies"
	"github.com/gorilla/schema"
)

// Input is what the caller supplies to Authenticate. Every field is
// optional; fields the current challenge does not need are ignored.
type Input struct {
	// Cookies saved from an earlier session.
	Cookies []cookies.Record `schema:"-"`

	Password         string `schema:"password"`
	Captcha          string `schema:"captcha"`
	SecurityCode     string `schema:"securitycode"`
	ClaimsOption     string `schema:"claimsoption"`
	AuthSelectOption string `schema:"authselectoption"`
	VerificationCode string `schema:"verificationcode"`
	// Link follows a link of the last page ("3" or "link3").
	Link string `schema:"link"`
}

var decoder = schema.NewDecoder()

func init() {
	decoder.IgnoreUnknownKeys(true)
}

// ParseInput decodes challenge answers from form or query values.
func ParseInput(v url.Values) (Input, error) {
	var in Input
	if err := decoder.Decode(&in, v); err != nil {
		return Input{}, err
	}
	return in, nil
}

func (in Input) linkIndex() (int, bool) {
	if in.Link == "" {
		return 0, false
	}
	i, err := strconv.Atoi(strings.TrimPrefix(in.Link, "link"))
	if err != nil {
		return 0, false
	}
	return i, true
}
