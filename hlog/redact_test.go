package hlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHide(t *testing.T) {
	assert.Equal(t, "REDACTED 6 CHARS", HidePassword("secret"))
	assert.Equal(t, "j******@example.com", HideEmail("john.do@example.com"))
	assert.Equal(t, "********1234", HideSerial("G0911234ABCD1234"[4:]))
	assert.Equal(t, "***", HideSerial("abc"))
}

func TestRedactNested(t *testing.T) {
	in := map[string]any{
		"command": "PUSH_VOLUME_CHANGE",
		"payload": map[string]any{
			"dopplerId": map[string]any{
				"deviceSerialNumber": "G090LF1234567890",
				"deviceType":         "A4ZP7ZC4PI6TO",
			},
			"customerId": "A2ZB0Q4P5YYYYY",
		},
		"list": []any{map[string]any{"password": "hunter2"}},
	}
	out := Redact(in).(map[string]any)

	payload := out["payload"].(map[string]any)
	doppler := payload["dopplerId"].(map[string]any)
	assert.Equal(t, "************7890", doppler["deviceSerialNumber"])
	assert.Equal(t, "A4ZP7ZC4PI6TO", doppler["deviceType"])
	assert.Equal(t, "**********YYYY", payload["customerId"])
	assert.Equal(t, "REDACTED 7 CHARS", out["list"].([]any)[0].(map[string]any)["password"])

	// input untouched
	assert.Equal(t, "G090LF1234567890", in["payload"].(map[string]any)["dopplerId"].(map[string]any)["deviceSerialNumber"])
}
