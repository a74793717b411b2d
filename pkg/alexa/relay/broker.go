package relay

import (
	"context"
	"log/slog"

	"github.com/go-logr/logr"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/hooks/debug"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/spf13/viper"
)

const DefaultBrokerAddress = "127.0.0.1:1883"

// brokerOptions reads the optional mqtt.embedded section into the broker
// options.
func brokerOptions(log logr.Logger, v *viper.Viper) *mochi.Options {
	opts := &mochi.Options{
		Capabilities: mochi.NewDefaultServerCapabilities(),
	}
	if v != nil && v.IsSet("mqtt.embedded") {
		if err := v.UnmarshalKey("mqtt.embedded", opts); err != nil {
			log.Error(err, "Failed to unmarshal embedded broker config, using defaults")
			return opts
		}
		log.Info("Embedded broker configuration loaded")
	}
	return opts
}

// Broker starts an in-process MQTT broker on address and stops it when ctx
// is done. Subscribers in the same process can use the returned server's
// inline client.
func Broker(ctx context.Context, address string, v *viper.Viper) (*mochi.Server, error) {
	log := logr.FromContextOrDiscard(ctx).WithName("broker")
	if address == "" {
		address = DefaultBrokerAddress
	}

	opts := brokerOptions(log, v)
	opts.Logger = slog.New(logr.ToSlogHandler(log))
	opts.InlineClient = true
	server := mochi.New(opts)

	if log.V(2).Enabled() {
		err := server.AddHook(&debug.Hook{
			Log: slog.New(logr.ToSlogHandler(log)),
		}, &debug.Options{
			ShowPacketData: true,
		})
		if err != nil {
			log.Error(err, "error adding MQTT debug hook")
			return nil, err
		}
	}

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, err
	}

	tcp := listeners.NewTCP(listeners.Config{
		ID:      "tcp",
		Address: address,
	})
	if err := server.AddListener(tcp); err != nil {
		log.Error(err, "error adding TCP listener", "address", address)
		return nil, err
	}
	if err := server.Serve(); err != nil {
		log.Error(err, "error starting MQTT server")
		return nil, err
	}
	log.Info("Now listening for MQTT connections", "address", address)

	go func(log logr.Logger) {
		<-ctx.Done()
		log.Info("Shutting down MQTT broker")
		server.Close()
	}(log)

	return server, nil
}
