package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/asnowfix/myecho/pkg/alexa/frame"
	"github.com/asnowfix/myecho/pkg/alexa/types"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type source struct{}

func (source) Host() string { return "example.test" }

func (source) Cookies() map[string]string {
	return map[string]string{"session-id": "S1", "ubid-main": "U1"}
}

func (source) Header() http.Header {
	h := make(http.Header)
	h.Set("User-Agent", "myecho-test")
	return h
}

var verify = frame.DecodeOptions{Verify: true}

// gateway is a fake push endpoint. It reads the handshake, then lets the
// test script the rest through serve.
type gateway struct {
	t         *testing.T
	srv       *httptest.Server
	handshake chan [][]byte
	serve     func(conn *websocket.Conn)
}

func newGateway(t *testing.T, serve func(conn *websocket.Conn)) *gateway {
	g := &gateway{t: t, handshake: make(chan [][]byte, 1), serve: serve}
	upgrader := websocket.Upgrader{}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "session-id=S1; ubid-main=U1;", r.Header.Get("Cookie"))
		assert.Equal(t, "https://alexa.example.test", r.Header.Get("Origin"))
		assert.Equal(t, "myecho-test", r.Header.Get("User-Agent"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		var got [][]byte
		for i := 0; i < 5; i++ {
			kind, data, err := conn.ReadMessage()
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, websocket.BinaryMessage, kind)
			got = append(got, data)
		}
		g.handshake <- got
		g.serve(conn)
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *gateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func send(t *testing.T, conn *websocket.Conn, m *frame.Message) {
	b, err := frame.Encode(m)
	if !assert.NoError(t, err) {
		return
	}
	assert.NoError(t, conn.WriteMessage(websocket.BinaryMessage, b))
}

func ack() *frame.Message {
	return &frame.Message{
		Header: frame.Header{Channel: frame.ChannelHandshake, MessageID: 1, Seq: 1, ContentKind: frame.ContentAck},
		Handshake: &frame.Handshake{
			ProtocolVersion: "1.0",
			ConnectionID:    "3b1f4bde-26c5-4d32-9d7e-1e8e4c0c2f11",
			Established:     1,
			Initiated:       1700000000000,
			Acknowledged:    1700000000042,
		},
	}
}

func volumeChange() *frame.Message {
	return &frame.Message{
		Header: frame.Header{Channel: frame.ChannelGateway, MessageID: 2, Seq: 1},
		Gateway: &frame.Gateway{
			ContentChannel: frame.ContentChannelMessaging,
			DestURN:        "urn:tcomm-endpoint:device:customerId:A1",
			DeviceURN:      "urn:tcomm-endpoint:service:serviceName:AlexaEventProcessingService",
			Raw:            []byte(`{"command":"PUSH_VOLUME_CHANGE","payload":"{\"volumeSetting\":40}"}`),
		},
	}
}

func drain(t *testing.T, events *Events) []Event {
	var got []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-events.C:
			if !ok {
				return got
			}
			got = append(got, e)
		case <-timeout:
			t.Fatalf("events not closed, got %d so far", len(got))
		}
	}
}

func TestURL(t *testing.T) {
	now := time.Unix(1700000000, 0)

	u := URL("amazon.de", map[string]string{"ubid-acbde": "260-1", "ubid-main": "130-9"}, now)
	assert.Equal(t, "wss://dp-gw-na.amazon.de/?x-amz-device-type=ALEGCNGL9K0HM&x-amz-device-serial=260-1-1700000000000", u)

	u = URL("amazon.com", map[string]string{"ubid-main": "130-9"}, now)
	assert.Equal(t, "wss://dp-gw-na-js.amazon.com/?x-amz-device-type=ALEGCNGL9K0HM&x-amz-device-serial=130-9-1700000000000", u)

	u = URL("amazon.co.uk", nil, now)
	assert.Equal(t, "wss://dp-gw-na.amazon.co.uk/?x-amz-device-type=ALEGCNGL9K0HM&x-amz-device-serial=-1700000000000", u)
}

func TestSessionLifecycle(t *testing.T) {
	ctx := logr.NewContext(context.Background(), testr.New(t))
	ready := make(chan struct{})

	gw := newGateway(t, func(conn *websocket.Conn) {
		<-ready
		send(t, conn, ack())
		send(t, conn, volumeChange())
		assert.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame.EncodeTune(frame.Directive())))

		b, err := frame.Encode(volumeChange())
		if !assert.NoError(t, err) {
			return
		}
		b = []byte(strings.Replace(string(b), "volumeSetting", "volumeSettinh", 1))
		assert.NoError(t, conn.WriteMessage(websocket.BinaryMessage, b))

		assert.NoError(t, conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
		_, _, _ = conn.ReadMessage()
	})

	events := NewEvents(16)
	c := New(source{}, events, WithURL(gw.url()), WithPingInterval(0), withTiming(time.Millisecond, 5*time.Millisecond))
	require.NoError(t, c.Connect(ctx))
	assert.Equal(t, Live, c.State())
	close(ready)

	hs := <-gw.handshake
	assert.Equal(t, "0x99d4f71a 0x0000001d A:HTUNE", string(hs[0]))
	assert.True(t, strings.HasPrefix(string(hs[1]), "0xa6f6a951 "))
	assert.True(t, strings.HasSuffix(string(hs[1]), "TUNE"))

	m, err := frame.Decode(hs[2], verify)
	require.NoError(t, err)
	require.NotNil(t, m.Handshake)
	assert.Equal(t, frame.ContentInit, m.ContentKind)
	assert.Len(t, m.Handshake.ConnectionID, 36)

	m, err = frame.Decode(hs[3], verify)
	require.NoError(t, err)
	require.NotNil(t, m.Gateway)
	assert.Equal(t, "REGISTER_CONNECTION", m.Gateway.Command())

	m, err = frame.Decode(hs[4], verify)
	require.NoError(t, err)
	require.NotNil(t, m.Ping)
	assert.Equal(t, frame.PingText, m.Ping.Text)

	got := drain(t, events)
	require.Len(t, got, 5)
	assert.Equal(t, EventOpen, got[0].Kind)

	assert.Equal(t, EventMessage, got[1].Kind)
	require.NotNil(t, got[1].Message.Handshake)
	assert.Equal(t, uint32(1), got[1].Message.Handshake.Established)

	assert.Equal(t, EventMessage, got[2].Kind)
	assert.Equal(t, "PUSH_VOLUME_CHANGE", got[2].Message.Gateway.Command())
	assert.Equal(t, map[string]any{"volumeSetting": float64(40)}, got[2].Message.Gateway.Inner())

	assert.Equal(t, EventError, got[3].Kind)
	assert.ErrorIs(t, got[3].Err, types.ErrDecode)
	assert.ErrorIs(t, got[3].Err, frame.ErrChecksum)

	assert.Equal(t, EventClose, got[4].Kind)

	assert.NoError(t, c.Wait())
	assert.Equal(t, Disconnected, c.State())
}

func TestAbnormalCloseAndPing(t *testing.T) {
	ctx := logr.NewContext(context.Background(), testr.New(t))

	gw := newGateway(t, func(conn *websocket.Conn) {
		assert.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		if assert.NoError(t, err) {
			m, err := frame.Decode(data, verify)
			if assert.NoError(t, err) {
				assert.NotNil(t, m.Ping)
			}
		}
		// drop the TCP connection without a close frame
		conn.UnderlyingConn().Close()
	})

	events := NewEvents(16)
	c := New(source{}, events, WithURL(gw.url()), WithPingInterval(20*time.Millisecond), withTiming(time.Millisecond, time.Millisecond))
	require.NoError(t, c.Connect(ctx))
	<-gw.handshake

	got := drain(t, events)
	require.Len(t, got, 3)
	assert.Equal(t, EventOpen, got[0].Kind)
	assert.Equal(t, EventError, got[1].Kind)
	assert.ErrorIs(t, got[1].Err, types.ErrConnection)
	assert.Equal(t, EventClose, got[2].Kind)

	assert.ErrorIs(t, c.Wait(), types.ErrConnection)
	assert.Equal(t, Disconnected, c.State())
}

func TestClose(t *testing.T) {
	ctx := logr.NewContext(context.Background(), testr.New(t))

	gw := newGateway(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	events := NewEvents(16)
	c := New(source{}, events, WithURL(gw.url()), WithPingInterval(0), withTiming(time.Millisecond, time.Millisecond))
	require.NoError(t, c.Connect(ctx))
	assert.Error(t, c.Connect(ctx), "second connect")

	assert.NoError(t, c.Close())
	assert.Equal(t, Disconnected, c.State())
	assert.NoError(t, c.Close())

	got := drain(t, events)
	require.Len(t, got, 2)
	assert.Equal(t, EventOpen, got[0].Kind)
	assert.Equal(t, EventClose, got[1].Kind)
}

func TestDialFailure(t *testing.T) {
	ctx := logr.NewContext(context.Background(), testr.New(t))
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	c := New(source{}, NewEvents(1), WithURL(url))
	err := c.Connect(ctx)
	assert.ErrorIs(t, err, types.ErrConnection)
	assert.Equal(t, Disconnected, c.State())
}

func TestUnreadEventsDoNotBlockConnect(t *testing.T) {
	ctx := logr.NewContext(context.Background(), testr.New(t))
	ready := make(chan struct{})

	gw := newGateway(t, func(conn *websocket.Conn) {
		send(t, conn, ack())
		for i := 0; i < 3; i++ {
			send(t, conn, volumeChange())
		}
		<-ready
		assert.NoError(t, conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
		_, _, _ = conn.ReadMessage()
	})

	events := NewEvents(0)
	c := New(source{}, events, WithURL(gw.url()), WithPingInterval(0), withTiming(time.Millisecond, 20*time.Millisecond))
	connected := make(chan error, 1)
	go func() {
		connected <- c.Connect(ctx)
	}()
	select {
	case err := <-connected:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("connect blocked on unread events")
	}
	close(ready)

	got := drain(t, events)
	kinds := make(map[EventKind]int)
	for _, e := range got {
		kinds[e.Kind]++
	}
	assert.Equal(t, 1, kinds[EventOpen])
	assert.Equal(t, 4, kinds[EventMessage])
	assert.Equal(t, 1, kinds[EventClose])
	require.NotEmpty(t, got)
	assert.Equal(t, EventClose, got[len(got)-1].Kind)
	assert.NoError(t, c.Wait())
}

func TestEventsAfterCloseAreDropped(t *testing.T) {
	events := NewEvents(1)
	events.OnOpen()
	events.OnClose()
	events.OnMessage(volumeChange())
	events.OnClose()

	got := drain(t, events)
	require.Len(t, got, 2)
	assert.Equal(t, EventOpen, got[0].Kind)
	assert.Equal(t, EventClose, got[1].Kind)
}

func TestCloseAfterConnectionLost(t *testing.T) {
	ctx := logr.NewContext(context.Background(), testr.New(t))

	gw := newGateway(t, func(conn *websocket.Conn) {
		conn.UnderlyingConn().Close()
	})

	events := NewEvents(0)
	c := New(source{}, events, WithURL(gw.url()), WithPingInterval(0), withTiming(time.Millisecond, 20*time.Millisecond))
	// the drop may land before or after the handshake settles
	_ = c.Connect(ctx)
	assert.ErrorIs(t, c.Wait(), types.ErrConnection)
	assert.Equal(t, Disconnected, c.State())

	assert.NoError(t, c.Close())
	assert.Equal(t, Disconnected, c.State())

	got := drain(t, events)
	require.NotEmpty(t, got)
	assert.Equal(t, EventClose, got[len(got)-1].Kind)
}

func TestCloseLeavesTeardownAlone(t *testing.T) {
	c := New(source{}, NewEvents(1))
	for _, st := range []State{Disconnected, Connecting, Errored, Closing} {
		c.state.Store(int32(st))
		assert.NoError(t, c.Close())
		assert.Equal(t, st, c.State(), st.String())
	}
}
