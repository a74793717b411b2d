package watch

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/asnowfix/myecho/cmd/myecho/options"
	"github.com/asnowfix/myecho/pkg/alexa/frame"
)

func TestPrinter(t *testing.T) {
	defer func(o string) { options.Flags.Output = o }(options.Flags.Output)
	options.Flags.Output = "json"

	var b bytes.Buffer
	p := &printer{out: &b}
	p.OnMessage(&frame.Message{Ping: &frame.Ping{Text: "Regular"}})
	assert.Empty(t, b.String())

	p.OnMessage(&frame.Message{Gateway: &frame.Gateway{Payload: map[string]any{
		"command": "PUSH_DOPPLER_CONNECTION_CHANGE",
		"payload": map[string]any{"deviceSerialNumber": "G090LF1234567890", "connectionState": "ONLINE"},
	}}})
	assert.JSONEq(t, `{"command":"PUSH_DOPPLER_CONNECTION_CHANGE","payload":{"deviceSerialNumber":"************7890","connectionState":"ONLINE"}}`, b.String())
}
