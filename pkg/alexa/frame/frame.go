// Package frame implements the push-channel wire format: ASCII "MSG"
// envelopes terminated by the FABE tag, and plaintext tuning directives
// terminated by TUNE.
package frame

import (
	"errors"
	"strings"
)

const (
	TagEnvelope = "FABE"
	TagTune     = "TUNE"

	KindMessage = "MSG"
)

// Channels.
const (
	ChannelHeartbeat uint32 = 0x00000065
	ChannelHandshake uint32 = 0x00000361
	ChannelGateway   uint32 = 0x00000362

	// ContentChannelMessaging is the only gateway content channel with a schema.
	ContentChannelMessaging uint32 = 0x0000b479
)

// Content kinds.
const (
	ContentInit    = "INI"
	ContentAck     = "ACK"
	ContentGateway = "GWM"
	ContentPing    = "PIN"
)

const (
	// headerSize is the length of the ASCII header up to the content kind.
	headerSize = 61
	// checksumOffset is where the checksum field starts; the field and its
	// trailing separator are excluded from the sum.
	checksumOffset = 39
	checksumEnd    = 50
)

var (
	// ErrNotEnvelope is returned for datagrams that do not carry the FABE tag.
	ErrNotEnvelope = errors.New("frame: not an envelope")
	// ErrUnknownChannel is returned for channels or content kinds without a schema.
	ErrUnknownChannel = errors.New("frame: no schema for channel")
	// ErrMalformed is returned when a recognized schema cannot be parsed.
	ErrMalformed = errors.New("frame: malformed")
	ErrChecksum  = errors.New("frame: checksum mismatch")
	ErrLength    = errors.New("frame: content length mismatch")
)

// Header is the fixed envelope prefix shared by every MSG frame.
type Header struct {
	Kind        string
	Channel     uint32
	MessageID   uint32
	Continued   bool
	Seq         uint32
	Checksum    uint32
	Length      uint32
	ContentKind string
}

// Handshake is the content of the registration channel: INI when sent by
// the client, ACK when returned by the gateway.
type Handshake struct {
	ProtocolVersion string
	ConnectionID    string
	Established     uint32
	Initiated       uint64
	Acknowledged    uint64
}

// Gateway is a notification routed through the messaging content channel.
type Gateway struct {
	Subtype        string
	ContentChannel uint32
	DestURN        string
	DeviceURN      string
	// Raw is the JSON payload exactly as received.
	Raw []byte
	// Payload is Raw decoded, with its nested "payload" string decoded a
	// second time.
	Payload map[string]any
}

// Command returns the "command" of the notification, e.g. PUSH_VOLUME_CHANGE.
func (g *Gateway) Command() string {
	if g == nil || g.Payload == nil {
		return ""
	}
	s, _ := g.Payload["command"].(string)
	return s
}

// Inner returns the twice-decoded "payload" field.
func (g *Gateway) Inner() any {
	if g == nil || g.Payload == nil {
		return nil
	}
	return g.Payload["payload"]
}

// Ping is the binary heartbeat content.
type Ping struct {
	// Timestamp in Unix milliseconds.
	Timestamp uint64
	Text      string
}

// Message is one decoded envelope. Exactly one of Handshake, Gateway or
// Ping is set, according to Header.Channel.
type Message struct {
	Header
	Handshake *Handshake
	Gateway   *Gateway
	Ping      *Ping
}

// Tune is a plaintext tuning directive.
type Tune struct {
	Code    uint32
	Payload string
}

// Tune codes sent during the handshake.
const (
	CodeDirective   uint32 = 0x99d4f71a
	CodeNegotiation uint32 = 0xa6f6a951
)

const negotiation = `{"protocolName":"A:H","parameters":{"AlphaProtocolHandler.receiveWindowSize":"16","AlphaProtocolHandler.maxFragmentSize":"16000"}}`

// Directive is the first message of the handshake.
func Directive() Tune {
	return Tune{Code: CodeDirective, Payload: "A:H"}
}

// Negotiation declares the receive window and fragment size.
func Negotiation() Tune {
	return Tune{Code: CodeNegotiation, Payload: negotiation}
}

// IsEnvelope reports whether data ends with the FABE tag.
func IsEnvelope(data []byte) bool {
	return len(data) >= len(TagEnvelope) && strings.HasSuffix(string(data[len(data)-len(TagEnvelope):]), TagEnvelope)
}
