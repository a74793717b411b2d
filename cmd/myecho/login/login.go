package login

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/asnowfix/myecho/cmd/myecho/options"
	"github.com/asnowfix/myecho/pkg/alexa/cookies"
	"github.com/asnowfix/myecho/pkg/alexa/login"
)

const (
	maxSteps     = 20
	pollInterval = 5 * time.Second
)

var flags struct {
	Set     []string
	Cookies string
	Reset   bool
}

var Cmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate the account, answering challenges on the terminal",
	Long: `Authenticate the account. Saved cookies are tried first. When the
service asks for a challenge (captcha, one-time code, device choice...),
the answer is prompted on the terminal, or given upfront with --set, e.g.
--set securitycode=123456.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := logr.FromContextOrDiscard(ctx).WithName("login")

		c, err := options.NewClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		if flags.Reset {
			if err := c.Session().Reset(ctx); err != nil {
				return err
			}
		}

		in, err := initialInput(c.Config().Host)
		if err != nil {
			return err
		}

		interactive := isatty.IsTerminal(os.Stdin.Fd())
		prompter := &prompter{in: bufio.NewReader(os.Stdin), out: os.Stderr}

		var st *login.Status
		for step := 0; step < maxSteps; step++ {
			st, err = c.Login(ctx, in)
			if err != nil {
				return err
			}
			log.V(1).Info("Authentication step", "step", step, "state", st.State)
			if !st.Pending() {
				break
			}

			in = login.Input{}
			switch {
			case st.State == login.ApprovalPolling:
				fmt.Fprintln(os.Stderr, st.Message)
				if err := wait(ctx, pollInterval); err != nil {
					return err
				}
				continue
			case st.State == login.TransientServiceError:
				log.Info("Transient service error, retrying", "message", st.ErrorMessage)
				continue
			case !interactive:
				return options.PrintResult(st)
			}
			if in, err = prompter.answer(st); err != nil {
				return err
			}
		}
		return options.PrintResult(st)
	},
}

func init() {
	Cmd.Flags().StringArrayVar(&flags.Set, "set", nil, "challenge answer as `key=value` (password, captcha, securitycode, claimsoption, authselectoption, verificationcode, link)")
	Cmd.Flags().StringVar(&flags.Cookies, "cookies", "", "import cookies from a `file` (JSON, Cookie header or Netscape cookies.txt)")
	Cmd.Flags().BoolVar(&flags.Reset, "reset", false, "forget the saved session first")
}

func initialInput(host string) (login.Input, error) {
	values := url.Values{}
	for _, kv := range flags.Set {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return login.Input{}, fmt.Errorf("--set %q: expected key=value", kv)
		}
		values.Add(strings.ToLower(strings.TrimSpace(k)), v)
	}
	in, err := login.ParseInput(values)
	if err != nil {
		return in, err
	}
	if flags.Cookies != "" {
		data, err := os.ReadFile(flags.Cookies)
		if err != nil {
			return in, err
		}
		in.Cookies, _, err = cookies.Parse(data, host)
		if err != nil {
			return in, fmt.Errorf("%s: %w", flags.Cookies, err)
		}
	}
	return in, nil
}

func wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *prompter) ask(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *prompter) choices(message string, opts []login.Option) {
	if message != "" {
		fmt.Fprintln(p.out, message)
	}
	for _, o := range opts {
		fmt.Fprintf(p.out, "  %d: %s\n", o.Index, o.Label)
	}
}

// answer prompts for whatever st asks.
func (p *prompter) answer(st *login.Status) (login.Input, error) {
	var in login.Input
	var err error

	if st.ErrorMessage != "" {
		fmt.Fprintln(p.out, st.ErrorMessage)
	}

	switch {
	case st.CaptchaRequired, st.VerificationCaptchaRequired:
		fmt.Fprintln(p.out, "Captcha:", st.CaptchaImageURL)
		in.Captcha, err = p.ask("Characters shown")
	case st.SecurityCodeRequired:
		in.SecurityCode, err = p.ask("Security code")
	case st.ClaimsPickerRequired:
		p.choices(st.ClaimsPickerMessage, st.Options)
		in.ClaimsOption, err = p.ask("Where to send the code")
	case st.AuthSelectRequired:
		p.choices(st.AuthSelectMessage, st.Options)
		in.AuthSelectOption, err = p.ask("Which device")
	case st.VerificationCodeRequired:
		in.VerificationCode, err = p.ask("Verification code")
	case st.State == login.CredentialsPage:
		in.Password, err = p.ask("Password")
	default:
		err = fmt.Errorf("no answer for state %s", st.State)
	}
	return in, err
}
