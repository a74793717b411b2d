// Package push keeps the WebSocket push channel of an account: it runs the
// connection handshake, then decodes every inbound frame for an Observer.
// There is no automatic reconnect.
package push

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asnowfix/myecho/internal/metrics"
	"github.com/asnowfix/myecho/pkg/alexa/frame"
	"github.com/asnowfix/myecho/pkg/alexa/types"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	DeviceType          = "ALEGCNGL9K0HM"
	DefaultPingInterval = 180 * time.Second
	handshakePause      = 100 * time.Millisecond
	settleDelay         = 500 * time.Millisecond
)

type State int32

const (
	Disconnected State = iota
	Connecting
	HandshakeInProgress
	Live
	Closing
	Errored
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case HandshakeInProgress:
		return "handshake"
	case Live:
		return "live"
	case Closing:
		return "closing"
	case Errored:
		return "errored"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Source provides the credentials of the account; *login.Session is one.
type Source interface {
	Host() string
	Cookies() map[string]string
	Header() http.Header
}

type Channel struct {
	src          Source
	obs          Observer
	dialer       *websocket.Dialer
	url          string
	pingInterval time.Duration
	pause        time.Duration
	settle       time.Duration
	verify       bool
	now          func() time.Time

	state atomic.Int32

	// serializes writes
	wmu    sync.Mutex
	conn   *websocket.Conn
	msgID  uint32
	cancel context.CancelFunc
	group  *errgroup.Group
}

type Option func(*Channel)

// WithVerify turns checksum and length verification of inbound frames on
// or off. It is on by default.
func WithVerify(v bool) Option {
	return func(c *Channel) {
		c.verify = v
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(c *Channel) {
		c.pingInterval = d
	}
}

// WithURL overrides the gateway URL computed from the source.
func WithURL(u string) Option {
	return func(c *Channel) {
		c.url = u
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) {
		c.dialer = d
	}
}

// withTiming shortens the handshake pauses in tests.
func withTiming(pause, settle time.Duration) Option {
	return func(c *Channel) {
		c.pause = pause
		c.settle = settle
	}
}

// New prepares a channel; nothing runs until Connect.
func New(src Source, obs Observer, opts ...Option) *Channel {
	c := &Channel{
		src:          src,
		obs:          obs,
		dialer:       websocket.DefaultDialer,
		pingInterval: DefaultPingInterval,
		pause:        handshakePause,
		settle:       settleDelay,
		verify:       true,
		now:          time.Now,
		msgID:        rand.Uint32(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) State() State {
	return State(c.state.Load())
}

// URL is the gateway address for host. The device serial is the ubid
// cookie of the region, or ubid-main, suffixed with the current time.
func URL(host string, cookies map[string]string, now time.Time) string {
	sub := "dp-gw-na"
	if strings.EqualFold(host, "amazon.com") {
		sub = "dp-gw-na-js"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "wss://%s.%s/?x-amz-device-type=%s&x-amz-device-serial=", sub, host, DeviceType)
	labels := strings.Split(host, ".")
	if v, ok := cookies["ubid-acb"+labels[len(labels)-1]]; ok {
		b.WriteString(v)
	} else if v, ok := cookies["ubid-main"]; ok {
		b.WriteString(v)
	}
	fmt.Fprintf(&b, "-%d000", now.Unix())
	return b.String()
}

func (c *Channel) header(cookies map[string]string) http.Header {
	names := make([]string, 0, len(cookies))
	for k := range cookies {
		names = append(names, k)
	}
	sort.Strings(names)
	var jar strings.Builder
	for _, k := range names {
		fmt.Fprintf(&jar, "%s=%s; ", k, cookies[k])
	}
	h := make(http.Header)
	h.Set("Cookie", strings.TrimSuffix(jar.String(), " "))
	h.Set("Origin", "https://alexa."+c.src.Host())
	if ua := c.src.Header().Get("User-Agent"); ua != "" {
		h.Set("User-Agent", ua)
	}
	return h
}

// Connect dials the gateway and runs the handshake. On success the channel
// is Live, OnOpen has been called, and the receive loop and the pinger run
// until Close or until the connection drops.
func (c *Channel) Connect(ctx context.Context) error {
	log := logr.FromContextOrDiscard(ctx).WithName("push")

	if !c.state.CompareAndSwap(int32(Disconnected), int32(Connecting)) {
		return fmt.Errorf("push: connect while %s", c.State())
	}

	cookies := c.src.Cookies()
	target := c.url
	if target == "" {
		target = URL(c.src.Host(), cookies, c.now())
	}
	log.Info("Connecting", "host", c.src.Host())
	log.V(1).Info("Dialing", "url", target, "cookies", len(cookies))

	conn, resp, err := c.dialer.DialContext(ctx, target, c.header(cookies))
	if err != nil {
		c.state.Store(int32(Disconnected))
		if resp != nil {
			return fmt.Errorf("push: dial (status %d): %w: %v", resp.StatusCode, types.ErrConnection, err)
		}
		return fmt.Errorf("push: dial: %w: %v", types.ErrConnection, err)
	}
	c.conn = conn
	c.state.Store(int32(HandshakeInProgress))

	runCtx, cancel := context.WithCancel(logr.NewContext(context.Background(), log))
	c.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	c.group = g
	g.Go(func() error {
		return c.receive(gctx)
	})

	if err := c.handshake(ctx); err != nil {
		log.Error(err, "Handshake failed")
		c.abort()
		return err
	}

	if !c.state.CompareAndSwap(int32(HandshakeInProgress), int32(Live)) {
		return fmt.Errorf("push: connection closed during handshake: %w", types.ErrConnection)
	}
	log.Info("Push channel live")
	c.obs.OnOpen()

	g.Go(func() error {
		return c.pinger(gctx)
	})
	return nil
}

func (c *Channel) nextID() uint32 {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.msgID++
	return c.msgID
}

func (c *Channel) handshake(ctx context.Context) error {
	now := c.now()
	steps := []func() ([]byte, error){
		func() ([]byte, error) { return frame.EncodeTune(frame.Directive()), nil },
		func() ([]byte, error) { return frame.EncodeTune(frame.Negotiation()), nil },
		func() ([]byte, error) {
			return frame.Encode(frame.NewGatewayHandshake(c.nextID(), uuid.NewString(), now))
		},
		func() ([]byte, error) { return frame.Encode(frame.NewRegister(c.nextID())) },
	}
	for i, step := range steps {
		b, err := step()
		if err != nil {
			return err
		}
		if err := c.send(b); err != nil {
			return fmt.Errorf("push: handshake step %d: %w: %v", i+1, types.ErrConnection, err)
		}
		if err := sleep(ctx, c.pause); err != nil {
			return err
		}
	}
	if err := c.ping(); err != nil {
		return fmt.Errorf("push: handshake ping: %w: %v", types.ErrConnection, err)
	}
	return sleep(ctx, c.settle)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Channel) send(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (c *Channel) ping() error {
	b, err := frame.Encode(frame.NewPing(c.nextID(), c.now()))
	if err != nil {
		return err
	}
	return c.send(b)
}

func (c *Channel) pinger(ctx context.Context) error {
	log := logr.FromContextOrDiscard(ctx)
	if c.pingInterval <= 0 {
		return nil
	}
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := c.ping(); err != nil {
				// the receive loop sees the broken connection
				log.V(1).Info("Ping failed", "error", err)
				return nil
			}
		}
	}
}

func (c *Channel) receive(ctx context.Context) error {
	log := logr.FromContextOrDiscard(ctx)
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return c.finish(ctx, err)
		}
		if kind != websocket.BinaryMessage {
			log.V(1).Info("Ignoring non-binary message", "type", kind)
			continue
		}
		c.dispatch(ctx, data)
	}
}

func (c *Channel) dispatch(ctx context.Context, data []byte) {
	log := logr.FromContextOrDiscard(ctx)

	m, err := frame.Decode(data, frame.DecodeOptions{Verify: c.verify})
	switch {
	case errors.Is(err, frame.ErrNotEnvelope), errors.Is(err, frame.ErrUnknownChannel):
		metrics.Frames.WithLabelValues("dropped").Inc()
		log.V(1).Info("Dropping frame", "reason", err, "size", len(data))
	case err != nil:
		metrics.Frames.WithLabelValues("error").Inc()
		c.obs.OnError(fmt.Errorf("push: %w: %w", types.ErrDecode, err))
	default:
		metrics.Frames.WithLabelValues("decoded").Inc()
		if m.Gateway != nil {
			log.V(1).Info("Received", "command", m.Gateway.Command())
		}
		c.obs.OnMessage(m)
	}
}

// finish tears the connection down after the receive loop ended with err.
func (c *Channel) finish(ctx context.Context, err error) error {
	log := logr.FromContextOrDiscard(ctx)

	closing := c.State() == Closing
	c.cancel()
	c.conn.Close()

	var cause error
	if !closing && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.state.Store(int32(Errored))
		cause = fmt.Errorf("push: connection lost: %w: %v", types.ErrConnection, err)
		log.Error(err, "Push channel closed abnormally")
		c.obs.OnError(cause)
	} else {
		log.Info("Push channel closed")
	}
	c.obs.OnClose()
	c.state.Store(int32(Disconnected))
	return cause
}

func (c *Channel) abort() {
	c.state.Store(int32(Closing))
	c.conn.Close()
	_ = c.group.Wait()
}

// Close ends the connection and waits for the receive loop to exit. It is
// a no-op unless the channel is live or handshaking.
func (c *Channel) Close() error {
	if !c.state.CompareAndSwap(int32(Live), int32(Closing)) &&
		!c.state.CompareAndSwap(int32(HandshakeInProgress), int32(Closing)) {
		return nil
	}

	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	c.conn.Close()
	return c.Wait()
}

// Wait blocks until the receive loop has exited and returns the cause of
// an abnormal close.
func (c *Channel) Wait() error {
	if c.group == nil {
		return nil
	}
	return c.group.Wait()
}
