package types

// Node is one operation of an instruction tree: an opaque JSON object
// with at least "@type", "type" and "operationPayload".
type Node map[string]any

// Placeholders are replaced by the invoking device's identifiers at
// submission time.
const (
	PlaceholderDeviceType = "ALEXA_CURRENT_DEVICE_TYPE"
	PlaceholderSerial     = "ALEXA_CURRENT_DSN"
	PlaceholderCustomerID = "ALEXA_CUSTOMER_ID"
	PlaceholderLocale     = "ALEXA_CURRENT_LOCALE"
)

// Serial returns the device the node targets: operationPayload.deviceSerialNumber,
// or else the first of operationPayload.target.devices. Empty when the node
// targets no device.
func (n Node) Serial() string {
	payload := asMap(n["operationPayload"])
	if payload == nil {
		return ""
	}
	if s, ok := payload["deviceSerialNumber"].(string); ok {
		return s
	}
	target := asMap(payload["target"])
	if target == nil {
		return ""
	}
	switch devices := target["devices"].(type) {
	case []any:
		if len(devices) > 0 {
			s, _ := asMap(devices[0])["deviceSerialNumber"].(string)
			return s
		}
	case []map[string]any:
		if len(devices) > 0 {
			s, _ := devices[0]["deviceSerialNumber"].(string)
			return s
		}
	}
	return ""
}

func asMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case Node:
		return m
	}
	return nil
}
