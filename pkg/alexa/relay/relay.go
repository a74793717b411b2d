// Package relay republishes push-channel events of an account on an MQTT
// broker, so that home-automation controllers can react to them.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"

	"github.com/asnowfix/myecho/hlog"
	"github.com/asnowfix/myecho/pkg/alexa/frame"
)

const (
	DefaultPrefix = "myecho"

	StatusOnline  = "online"
	StatusOffline = "offline"

	qosAtLeastOnce = 1
	publishTimeout = 5 * time.Second
)

// Event is the JSON body published for every gateway notification.
type Event struct {
	Command     string `json:"command"`
	Payload     any    `json:"payload,omitempty"`
	Destination string `json:"destination,omitempty"`
	MessageID   uint32 `json:"message_id"`
	Received    string `json:"received"`
}

// Publisher is a push.Observer writing to MQTT:
//
//	<prefix>/<account>/status           online|offline, retained
//	<prefix>/<account>/events/<command> Event JSON
type Publisher struct {
	Id     string
	mqtt   mqtt.Client
	broker string
	prefix string
	log    logr.Logger
}

// New prepares a publisher for broker (e.g. tcp://localhost:1883). The
// broker marks the account offline if the publisher vanishes.
func New(ctx context.Context, broker, prefix, account string) *Publisher {
	log := logr.FromContextOrDiscard(ctx).WithName("relay")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	p := &Publisher{
		Id:     fmt.Sprintf("%v%v", path.Base(os.Args[0]), os.Getpid()),
		broker: broker,
		prefix: strings.TrimSuffix(prefix, "/") + "/" + segment(account),
		log:    log,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(p.Id)
	opts.SetAutoReconnect(true)
	opts.SetWill(p.StatusTopic(), StatusOffline, qosAtLeastOnce, true)
	p.mqtt = mqtt.NewClient(opts)

	log.Info("MQTT relay initialized", "client_id", p.Id, "broker", broker, "prefix", p.prefix)
	return p
}

// segment makes s usable as a single topic level.
func segment(s string) string {
	r := strings.NewReplacer("/", "_", "+", "_", "#", "_", " ", "_")
	if s = r.Replace(s); s == "" {
		return "default"
	}
	return s
}

func (p *Publisher) StatusTopic() string {
	return p.prefix + "/status"
}

func (p *Publisher) EventTopic(command string) string {
	if command == "" {
		command = "unknown"
	}
	return p.prefix + "/events/" + segment(command)
}

func (p *Publisher) Connect(ctx context.Context) error {
	if p.mqtt.IsConnected() {
		return nil
	}
	token := p.mqtt.Connect()
	for !token.WaitTimeout(3 * time.Second) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.Info("MQTT client trying to connect", "client_id", p.Id, "broker", p.broker)
	}
	if err := token.Error(); err != nil {
		p.log.Error(err, "MQTT client failed to connect", "client_id", p.Id)
		return err
	}
	p.log.Info("MQTT client connected", "client_id", p.Id)
	return nil
}

func (p *Publisher) publish(topic string, retain bool, msg []byte) error {
	p.log.V(1).Info("Publishing", "topic", topic, "size", len(msg))
	token := p.mqtt.Publish(topic, qosAtLeastOnce, retain, msg)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("relay: publish to %s timed out", topic)
	}
	return token.Error()
}

func (p *Publisher) OnOpen() {
	if err := p.publish(p.StatusTopic(), true, []byte(StatusOnline)); err != nil {
		p.log.Error(err, "Failed to publish status")
	}
}

func (p *Publisher) OnMessage(m *frame.Message) {
	if m.Gateway == nil {
		return
	}
	ev := Event{
		Command:     m.Gateway.Command(),
		Payload:     m.Gateway.Inner(),
		Destination: m.Gateway.DestURN,
		MessageID:   m.MessageID,
		Received:    time.Now().UTC().Format(time.RFC3339),
	}
	p.log.V(1).Info("Relaying event", "command", ev.Command, "payload", hlog.Redact(ev.Payload))
	out, err := json.Marshal(ev)
	if err != nil {
		p.log.Error(err, "Failed to encode event", "command", ev.Command)
		return
	}
	if err := p.publish(p.EventTopic(ev.Command), false, out); err != nil {
		p.log.Error(err, "Failed to publish event", "command", ev.Command)
	}
}

func (p *Publisher) OnError(err error) {
	p.log.Info("Push channel error", "error", err)
}

func (p *Publisher) OnClose() {
	if err := p.publish(p.StatusTopic(), true, []byte(StatusOffline)); err != nil {
		p.log.Error(err, "Failed to publish status")
	}
}

func (p *Publisher) Close() {
	if p.mqtt.IsConnected() {
		p.mqtt.Disconnect(250 /* milliseconds */)
	}
}
