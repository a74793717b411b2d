package alexa

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/asnowfix/myecho/pkg/alexa/devices"
	"github.com/asnowfix/myecho/pkg/alexa/push"
	"github.com/asnowfix/myecho/pkg/alexa/relay"
	"github.com/asnowfix/myecho/pkg/alexa/request"
	"github.com/asnowfix/myecho/pkg/alexa/sequence"
)

const (
	EnvPrefix = "MYECHO"

	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

var ErrConfig = errors.New("invalid configuration")

type Config struct {
	Host     string `yaml:"host"`
	Email    string `yaml:"email"`
	Password string `yaml:"-"`
	Locale   string `yaml:"locale"`
	// BaseURL overrides https://alexa.<Host>; used against test servers.
	BaseURL string `yaml:"base_url,omitempty"`

	StorageDir     string `yaml:"storage_dir"`
	StorageBackend string `yaml:"storage_backend"`
	DebugDir       string `yaml:"debug_dir,omitempty"`

	Debounce    time.Duration `yaml:"debounce"`
	MinInterval time.Duration `yaml:"min_interval"`
	DeviceTTL   time.Duration `yaml:"device_ttl"`

	Request request.Policy `yaml:"request"`

	PingInterval time.Duration `yaml:"ping_interval"`
	Verify       bool          `yaml:"verify"`

	MQTTBroker string `yaml:"mqtt_broker,omitempty"`
	MQTTTopic  string `yaml:"mqtt_topic"`

	MetricsListen string `yaml:"metrics_listen,omitempty"`
}

// SetDefaults registers every key with its default, so that environment
// variables are seen by viper even without a config file.
func SetDefaults(v *viper.Viper) {
	p := request.DefaultPolicy()

	v.SetDefault("alexa.host", "amazon.com")
	v.SetDefault("alexa.email", "")
	v.SetDefault("alexa.password", "")
	v.SetDefault("alexa.locale", "en-US")
	v.SetDefault("alexa.base_url", "")
	v.SetDefault("storage.dir", ".")
	v.SetDefault("storage.backend", BackendFile)
	v.SetDefault("storage.debug_dir", "")
	v.SetDefault("sequence.debounce", sequence.DefaultWindow)
	v.SetDefault("sequence.min_interval", time.Duration(0))
	v.SetDefault("devices.ttl", devices.DefaultTTL)
	v.SetDefault("request.max_retries", p.MaxRetries)
	v.SetDefault("request.initial_interval", p.InitialInterval)
	v.SetDefault("request.max_interval", p.MaxInterval)
	v.SetDefault("request.max_elapsed", p.MaxElapsedTime)
	v.SetDefault("push.ping_interval", push.DefaultPingInterval)
	v.SetDefault("push.verify", true)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", relay.DefaultPrefix)
	v.SetDefault("metrics.listen", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadConfig reads the typed configuration out of v.
func LoadConfig(v *viper.Viper) (*Config, error) {
	p := request.DefaultPolicy()
	p.MaxRetries = v.GetUint64("request.max_retries")
	p.InitialInterval = v.GetDuration("request.initial_interval")
	p.MaxInterval = v.GetDuration("request.max_interval")
	p.MaxElapsedTime = v.GetDuration("request.max_elapsed")

	cfg := &Config{
		Host:           strings.ToLower(strings.TrimSpace(v.GetString("alexa.host"))),
		Email:          strings.TrimSpace(v.GetString("alexa.email")),
		Password:       v.GetString("alexa.password"),
		Locale:         v.GetString("alexa.locale"),
		BaseURL:        v.GetString("alexa.base_url"),
		StorageDir:     v.GetString("storage.dir"),
		StorageBackend: strings.ToLower(v.GetString("storage.backend")),
		DebugDir:       v.GetString("storage.debug_dir"),
		Debounce:       v.GetDuration("sequence.debounce"),
		MinInterval:    v.GetDuration("sequence.min_interval"),
		DeviceTTL:      v.GetDuration("devices.ttl"),
		Request:        p,
		PingInterval:   v.GetDuration("push.ping_interval"),
		Verify:         v.GetBool("push.verify"),
		MQTTBroker:     v.GetString("mqtt.broker"),
		MQTTTopic:      v.GetString("mqtt.topic"),
		MetricsListen:  v.GetString("metrics.listen"),
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: alexa.host is empty", ErrConfig)
	}
	if c.Email == "" {
		return fmt.Errorf("%w: alexa.email is empty", ErrConfig)
	}
	switch c.StorageBackend {
	case "", BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrConfig, c.StorageBackend)
	}
	if c.Debounce < 0 || c.MinInterval < 0 {
		return fmt.Errorf("%w: negative sequence timing", ErrConfig)
	}
	if c.Request.InitialInterval <= 0 {
		return fmt.Errorf("%w: request.initial_interval must be positive", ErrConfig)
	}
	return nil
}
