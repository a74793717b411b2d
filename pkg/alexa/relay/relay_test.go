package relay

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asnowfix/myecho/pkg/alexa/frame"
)

func freeAddress(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

type received struct {
	topic   string
	payload []byte
}

func TestPublisher(t *testing.T) {
	ctx, cancel := context.WithCancel(logr.NewContext(context.Background(), testr.New(t)))
	defer cancel()

	addr := freeAddress(t)
	server, err := Broker(ctx, addr, nil)
	require.NoError(t, err)

	got := make(chan received, 8)
	err = server.Subscribe("home/#", 1, func(cl *mochi.Client, sub packets.Subscription, pk packets.Packet) {
		got <- received{topic: pk.TopicName, payload: append([]byte(nil), pk.Payload...)}
	})
	require.NoError(t, err)

	p := New(ctx, "tcp://"+addr, "home/", "A1/B")
	require.NoError(t, p.Connect(ctx))
	defer p.Close()

	next := func() received {
		select {
		case r := <-got:
			return r
		case <-time.After(5 * time.Second):
			t.Fatal("no message")
		}
		return received{}
	}

	p.OnOpen()
	r := next()
	assert.Equal(t, "home/A1_B/status", r.topic)
	assert.Equal(t, StatusOnline, string(r.payload))

	// no gateway content: nothing published
	p.OnMessage(&frame.Message{Ping: &frame.Ping{Text: "Regular"}})

	p.OnMessage(&frame.Message{
		Header: frame.Header{Channel: frame.ChannelGateway, MessageID: 9},
		Gateway: &frame.Gateway{
			DestURN: "urn:tcomm-endpoint:device:customerId:A1",
			Payload: map[string]any{
				"command": "PUSH_VOLUME_CHANGE",
				"payload": map[string]any{"volumeSetting": float64(40)},
			},
		},
	})
	r = next()
	assert.Equal(t, "home/A1_B/events/PUSH_VOLUME_CHANGE", r.topic)
	var ev Event
	require.NoError(t, json.Unmarshal(r.payload, &ev))
	assert.Equal(t, "PUSH_VOLUME_CHANGE", ev.Command)
	assert.Equal(t, uint32(9), ev.MessageID)
	assert.Equal(t, map[string]any{"volumeSetting": float64(40)}, ev.Payload)
	assert.NotEmpty(t, ev.Received)

	p.OnClose()
	r = next()
	assert.Equal(t, "home/A1_B/status", r.topic)
	assert.Equal(t, StatusOffline, string(r.payload))
}

func TestTopics(t *testing.T) {
	p := New(context.Background(), "tcp://127.0.0.1:1", "", "")
	assert.Equal(t, "myecho/default/status", p.StatusTopic())
	assert.Equal(t, "myecho/default/events/unknown", p.EventTopic(""))
	assert.Equal(t, "myecho/default/events/a_b", p.EventTopic("a+b"))
}
