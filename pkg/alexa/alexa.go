// Package alexa wires one account together: its Session, the request
// executor it owns, the command dispatcher, the device registry and the
// push channel.
package alexa

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"

	"github.com/asnowfix/myecho/pkg/alexa/cookies"
	"github.com/asnowfix/myecho/pkg/alexa/devices"
	"github.com/asnowfix/myecho/pkg/alexa/login"
	"github.com/asnowfix/myecho/pkg/alexa/push"
	"github.com/asnowfix/myecho/pkg/alexa/ratelimit"
	"github.com/asnowfix/myecho/pkg/alexa/sequence"
	"github.com/asnowfix/myecho/pkg/alexa/types"
)

type Client struct {
	cfg        Config
	session    *login.Session
	store      cookies.Store
	db         *cookies.SQLiteStore
	dispatcher *sequence.Dispatcher
	registry   *devices.Registry
}

// New builds the client of cfg.Email. No exchange happens until Login.
func New(ctx context.Context, cfg Config) (*Client, error) {
	log := logr.FromContextOrDiscard(ctx).WithName("alexa")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg}

	files := cookies.NewFileStore(cfg.StorageDir, cfg.Host)
	c.store = files
	if cfg.StorageBackend == BackendSQLite {
		db, err := cookies.NewSQLiteStore(log, filepath.Join(cfg.StorageDir, "myecho.db"), files)
		if err != nil {
			return nil, fmt.Errorf("alexa: cookie database: %w", err)
		}
		c.db = db
		c.store = db
	}

	session, err := login.New(login.Config{
		Host:     cfg.Host,
		Email:    cfg.Email,
		Password: cfg.Password,
		BaseURL:  cfg.BaseURL,
		Store:    c.store,
		Policy:   cfg.Request,
		DebugDir: cfg.DebugDir,
	})
	if err != nil {
		c.closeStore()
		return nil, err
	}
	c.session = session

	c.dispatcher = sequence.New(session.Executor(), cfg.Email,
		sequence.WithWindow(cfg.Debounce),
		sequence.WithLimiter(ratelimit.New(cfg.MinInterval)),
		sequence.WithCustomerID(session.CustomerID),
	)

	c.registry, err = devices.New(session.Executor(), cfg.DeviceTTL)
	if err != nil {
		c.closeStore()
		return nil, err
	}

	log.V(1).Info("Client ready", "host", cfg.Host, "backend", cfg.StorageBackend)
	return c, nil
}

func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) Session() *login.Session {
	return c.session
}

func (c *Client) Dispatcher() *sequence.Dispatcher {
	return c.dispatcher
}

func (c *Client) Registry() *devices.Registry {
	return c.registry
}

// Login runs one step of the authentication flow.
func (c *Client) Login(ctx context.Context, in login.Input) (*login.Status, error) {
	return c.session.Authenticate(ctx, in)
}

func (c *Client) Devices(ctx context.Context) ([]types.Device, error) {
	return c.registry.List(ctx)
}

func (c *Client) device(ctx context.Context, key string) (types.Device, error) {
	dev, err := c.registry.Find(ctx, key)
	if err != nil {
		return dev, err
	}
	if dev.Locale == "" {
		dev.Locale = c.cfg.Locale
	}
	return dev, nil
}

// Run queues nodes for the device named or numbered key.
func (c *Client) Run(ctx context.Context, key string, nodes ...types.Node) error {
	dev, err := c.device(ctx, key)
	if err != nil {
		return err
	}
	return c.dispatcher.Submit(ctx, dev, nodes...)
}

func (c *Client) Speak(ctx context.Context, key, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("alexa: nothing to say")
	}
	return c.Run(ctx, key, sequence.Speak(text))
}

func (c *Client) Announce(ctx context.Context, key, text string) error {
	return c.Run(ctx, key, sequence.Announcement(text))
}

func (c *Client) Volume(ctx context.Context, key string, level int) error {
	return c.Run(ctx, key, sequence.Volume(level))
}

// Push prepares the push channel of the account for obs. Connect it once
// Login reports an authenticated session.
func (c *Client) Push(obs push.Observer, opts ...push.Option) *push.Channel {
	base := []push.Option{
		push.WithPingInterval(c.cfg.PingInterval),
		push.WithVerify(c.cfg.Verify),
	}
	return push.New(c.session, obs, append(base, opts...)...)
}

func (c *Client) closeStore() {
	if c.db != nil {
		_ = c.db.Close()
	}
}

// Close requests the session to stop and releases the stores. Pending
// submissions fail with types.ErrCloseRequested.
func (c *Client) Close() {
	c.session.Close()
	c.registry.Close()
	c.closeStore()
}
