package types

// Device is one Echo-family endpoint of the account, as returned by the
// device list.
type Device struct {
	SerialNumber    string   `json:"serialNumber" yaml:"serial_number"`
	DeviceType      string   `json:"deviceType" yaml:"device_type"`
	AccountName     string   `json:"accountName" yaml:"name"`
	OwnerCustomerID string   `json:"deviceOwnerCustomerId" yaml:"owner_customer_id"`
	Family          string   `json:"deviceFamily,omitempty" yaml:"family,omitempty"`
	Online          bool     `json:"online" yaml:"online"`
	Capabilities    []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Locale          string   `json:"locale,omitempty" yaml:"locale,omitempty"`
}

func (d Device) HasCapability(c string) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}
