package options

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/asnowfix/myecho/internal/global"
	"github.com/asnowfix/myecho/pkg/alexa"
	"github.com/asnowfix/myecho/pkg/alexa/login"
	"github.com/asnowfix/myecho/pkg/alexa/types"
)

var Flags struct {
	Verbose        bool
	Debug          bool
	Output         string
	ConfigFile     string
	CommandTimeout time.Duration
}

// Viper holds the merged configuration: flags, MYECHO_* environment,
// .env and the optional config file.
var Viper = viper.New()

func init() {
	alexa.SetDefaults(Viper)
}

func CommandLineContext(ctx context.Context, log logr.Logger, timeout time.Duration, version string) context.Context {
	ctx = logr.NewContext(ctx, log)
	ctx = context.WithValue(ctx, global.VersionKey, version)
	ctx = context.WithValue(ctx, global.ProcessContextKey, ctx)

	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	ctx = context.WithValue(ctx, global.CancelKey, cancel)

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		select {
		case <-signals:
			log.Info("Received signal")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}

// ReadConfigFile merges the YAML file named by --config, if any.
func ReadConfigFile(log logr.Logger) error {
	if Flags.ConfigFile == "" {
		return nil
	}
	Viper.SetConfigFile(Flags.ConfigFile)
	if err := Viper.ReadInConfig(); err != nil {
		return fmt.Errorf("reading %s: %w", Flags.ConfigFile, err)
	}
	log.V(1).Info("Loaded config file", "file", Viper.ConfigFileUsed())
	return nil
}

func NewClient(ctx context.Context) (*alexa.Client, error) {
	cfg, err := alexa.LoadConfig(Viper)
	if err != nil {
		return nil, err
	}
	return alexa.New(ctx, *cfg)
}

// AuthenticatedClient resumes the saved session of the account. It fails
// when no saved session is valid: run "myecho login" first.
func AuthenticatedClient(ctx context.Context) (*alexa.Client, error) {
	c, err := NewClient(ctx)
	if err != nil {
		return nil, err
	}
	st, err := c.Login(ctx, login.Input{})
	if err != nil {
		c.Close()
		return nil, err
	}
	if st.State != login.Authenticated {
		c.Close()
		return nil, fmt.Errorf("%w: session is %s, run 'myecho login' first", types.ErrLogin, st.State)
	}
	return c, nil
}

var ErrOutput = errors.New("unknown output format")

func PrintResult(out any) error {
	return Fprint(os.Stdout, out)
}

func Fprint(w io.Writer, out any) error {
	switch Flags.Output {
	case "json":
		s, err := json.Marshal(out)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(s))
	case "", "yaml":
		s, err := yaml.Marshal(out)
		if err != nil {
			return err
		}
		fmt.Fprint(w, string(s))
	default:
		return fmt.Errorf("%w: %q", ErrOutput, Flags.Output)
	}
	return nil
}
