package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/asnowfix/myecho/cmd/myecho/options"
	"github.com/asnowfix/myecho/hlog"
	"github.com/asnowfix/myecho/internal/metrics"
	"github.com/asnowfix/myecho/pkg/alexa/frame"
	"github.com/asnowfix/myecho/pkg/alexa/push"
	"github.com/asnowfix/myecho/pkg/alexa/relay"
)

var flags struct {
	Embedded string
}

var bound = map[string]string{
	"mqtt-broker":    "mqtt.broker",
	"mqtt-topic":     "mqtt.topic",
	"metrics-listen": "metrics.listen",
	"ping-interval":  "push.ping_interval",
	"verify":         "push.verify",
}

var Cmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the push events of the account, and relay them to MQTT",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := logr.FromContextOrDiscard(ctx).WithName("watch")

		c, err := options.AuthenticatedClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		cfg := c.Config()

		if cfg.MetricsListen != "" {
			go func() {
				if err := metrics.Serve(ctx, cfg.MetricsListen); err != nil {
					hlog.ErrorIfNotCanceled(log, err, "Metrics server stopped")
				}
			}()
		}

		broker := cfg.MQTTBroker
		if flags.Embedded != "" {
			if _, err := relay.Broker(ctx, flags.Embedded, options.Viper); err != nil {
				return err
			}
			if broker == "" {
				broker = "tcp://" + flags.Embedded
			}
		}

		observers := push.Observers{&printer{out: os.Stdout}}
		if broker != "" {
			p := relay.New(ctx, broker, cfg.MQTTTopic, c.Session().CustomerID())
			if err := p.Connect(ctx); err != nil {
				return err
			}
			defer p.Close()
			observers = append(observers, p)
		}

		ch := c.Push(observers)
		if err := ch.Connect(ctx); err != nil {
			return err
		}

		done := make(chan error, 1)
		go func() {
			done <- ch.Wait()
		}()

		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			log.Info("Stopping")
			if err := ch.Close(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}
	},
}

func init() {
	f := Cmd.Flags()
	f.String("mqtt-broker", "", "relay events to this MQTT broker `url`, e.g. tcp://localhost:1883")
	f.String("mqtt-topic", relay.DefaultPrefix, "MQTT topic prefix")
	f.String("metrics-listen", "", "serve Prometheus metrics on this `address`")
	f.Duration("ping-interval", push.DefaultPingInterval, "heartbeat period of the push channel")
	f.Bool("verify", true, "verify frame checksums and lengths")
	f.StringVar(&flags.Embedded, "mqtt-embedded", "", "run an MQTT broker on this `address` and relay to it")

	for name, key := range bound {
		if err := options.Viper.BindPFlag(key, f.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// printer writes one document per gateway notification.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) OnOpen() {
	fmt.Fprintln(os.Stderr, "Connected, waiting for events")
}

func (p *printer) OnMessage(m *frame.Message) {
	if m.Gateway == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = options.Fprint(p.out, map[string]any{
		"command": m.Gateway.Command(),
		"payload": hlog.Redact(m.Gateway.Inner()),
	})
}

func (p *printer) OnError(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
}

func (p *printer) OnClose() {
	fmt.Fprintln(os.Stderr, "Disconnected")
}
