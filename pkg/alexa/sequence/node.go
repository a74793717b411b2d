package sequence

import (
	"github.com/asnowfix/myecho/pkg/alexa/types"
)

const (
	typeSequence = "com.amazon.alexa.behaviors.model.Sequence"
	typeSerial   = "com.amazon.alexa.behaviors.model.SerialNode"
	typeParallel = "com.amazon.alexa.behaviors.model.ParallelNode"
	typeOpaque   = "com.amazon.alexa.behaviors.model.OpaquePayloadOperationNode"
)

// Operation is a device operation of the given type targeting the invoking
// device. payload entries override the default targeting fields.
func Operation(typ string, payload map[string]any) types.Node {
	p := map[string]any{
		"deviceType":         types.PlaceholderDeviceType,
		"deviceSerialNumber": types.PlaceholderSerial,
		"customerId":         types.PlaceholderCustomerID,
		"locale":             types.PlaceholderLocale,
	}
	for k, v := range payload {
		p[k] = v
	}
	return types.Node{"@type": typeOpaque, "type": typ, "operationPayload": p}
}

// Speak has the device say text.
func Speak(text string) types.Node {
	return Operation("Alexa.Speak", map[string]any{"textToSpeak": text})
}

// Announcement plays text as an announcement on the device.
func Announcement(text string) types.Node {
	return types.Node{
		"@type": typeOpaque,
		"type":  "AlexaAnnouncement",
		"operationPayload": map[string]any{
			"expireAfter": "PT5S",
			"customerId":  types.PlaceholderCustomerID,
			"content": []any{map[string]any{
				"locale":  types.PlaceholderLocale,
				"display": map[string]any{"title": "myecho", "body": text},
				"speak":   map[string]any{"type": "text", "value": text},
			}},
			"target": map[string]any{
				"customerId": types.PlaceholderCustomerID,
				"devices": []any{map[string]any{
					"deviceSerialNumber": types.PlaceholderSerial,
					"deviceTypeId":       types.PlaceholderDeviceType,
				}},
			},
		},
	}
}

// Volume sets the device volume, 0 to 100.
func Volume(level int) types.Node {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	return Operation("Alexa.DeviceControls.Volume", map[string]any{"value": level})
}

// Wait pauses the sequence. It targets no device.
func Wait(seconds int) types.Node {
	return types.Node{
		"@type":            typeOpaque,
		"type":             "Alexa.System.Wait",
		"operationPayload": map[string]any{"waitTimeInSeconds": seconds},
	}
}

// Tree wraps nodes into one instruction tree. Nodes run in order unless two
// adjacent device-targeting nodes address different devices, in which case
// they run in parallel.
func Tree(nodes []types.Node) types.Node {
	start := types.Node{"@type": typeSerial, "nodesToExecute": nodes}
	if Parallel(nodes) {
		start["@type"] = typeParallel
	}
	return types.Node{"@type": typeSequence, "startNode": start}
}

// Parallel reports whether the batch mixes devices. Nodes without a target
// device, such as Wait, do not break a same-device run.
func Parallel(nodes []types.Node) bool {
	if len(nodes) < 2 {
		return false
	}
	prev := ""
	for _, n := range nodes {
		s := n.Serial()
		if s == "" {
			continue
		}
		if prev != "" && s != prev {
			return true
		}
		prev = s
	}
	return false
}

// Resolve returns a deep copy of n with every placeholder value replaced by
// the identifiers of dev.
func Resolve(n types.Node, dev types.Device, customerID string) types.Node {
	if dev.OwnerCustomerID != "" {
		customerID = dev.OwnerCustomerID
	}
	locale := dev.Locale
	if locale == "" {
		locale = defaultLocale
	}
	r := placeholders{
		types.PlaceholderDeviceType: dev.DeviceType,
		types.PlaceholderSerial:     dev.SerialNumber,
		types.PlaceholderCustomerID: customerID,
		types.PlaceholderLocale:     locale,
	}
	return types.Node(r.object(n))
}

const defaultLocale = "en-US"

type placeholders map[string]string

func (r placeholders) object(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = r.value(v)
	}
	return out
}

func (r placeholders) value(v any) any {
	switch t := v.(type) {
	case string:
		if s, ok := r[t]; ok {
			return s
		}
		return t
	case types.Node:
		return types.Node(r.object(t))
	case map[string]any:
		return r.object(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = r.value(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = r.object(e)
		}
		return out
	case []types.Node:
		out := make([]types.Node, len(t))
		for i, e := range t {
			out[i] = types.Node(r.object(e))
		}
		return out
	default:
		return v
	}
}
