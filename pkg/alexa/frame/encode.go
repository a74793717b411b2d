package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
	"unicode/utf16"
)

// Register endpoints.
const (
	RegisterDestination = "urn:tcomm-endpoint:device:deviceType:0:deviceSerialNumber:0"
	RegisterSource      = "urn:tcomm-endpoint:service:serviceName:DeeWebsiteMessagingService"
	RegisterCommand     = `{"command":"REGISTER_CONNECTION"}`

	ProtocolVersion = "1.0"
	PingText        = "Regular"
)

func hex10(v uint32) string {
	return fmt.Sprintf("0x%08x", v)
}

func hex18(v uint64) string {
	return fmt.Sprintf("0x%016x", v)
}

func writeLenString(b *bytes.Buffer, s string) {
	b.WriteString(hex10(uint32(len(s))))
	b.WriteByte(' ')
	b.WriteString(s)
	b.WriteByte(' ')
}

// Encode serializes m, filling in its Length and Checksum. The content is
// taken from whichever of Handshake, Gateway or Ping is set.
func Encode(m *Message) ([]byte, error) {
	var content bytes.Buffer
	kind := m.ContentKind

	switch {
	case m.Handshake != nil:
		h := m.Handshake
		if kind == "" {
			kind = ContentInit
		}
		content.WriteString(kind + " ")
		writeLenString(&content, h.ProtocolVersion)
		writeLenString(&content, h.ConnectionID)
		if kind == ContentAck {
			content.WriteString(hex10(h.Established) + " ")
			content.WriteString(hex18(h.Initiated) + " ")
			content.WriteString(hex18(h.Acknowledged) + " ")
		} else {
			content.WriteString(hex18(h.Initiated) + " ")
		}
		content.WriteString("END ")
	case m.Gateway != nil:
		g := m.Gateway
		kind = ContentGateway
		subtype := g.Subtype
		if subtype == "" {
			subtype = KindMessage
		}
		content.WriteString(kind + " " + subtype + " ")
		content.WriteString(hex10(g.ContentChannel) + " ")
		writeLenString(&content, g.DestURN)
		writeLenString(&content, g.DeviceURN)
		content.Write(g.Raw)
	case m.Ping != nil:
		kind = ContentPing
		content.WriteString(kind)
		var bin [16]byte
		binary.BigEndian.PutUint64(bin[4:12], m.Ping.Timestamp)
		units := utf16.Encode([]rune(m.Ping.Text))
		binary.BigEndian.PutUint32(bin[12:16], uint32(len(units)))
		content.Write(bin[:])
		for _, u := range units {
			_ = binary.Write(&content, binary.BigEndian, u)
		}
	default:
		return nil, fmt.Errorf("%w: message has no content", ErrMalformed)
	}

	flag := "f"
	if m.Continued {
		flag = "t"
	}

	var b bytes.Buffer
	b.WriteString(fmt.Sprintf("%s %s %s %s %s ", KindMessage, hex10(m.Channel), hex10(m.MessageID), flag, hex10(m.Seq)))
	b.WriteString(hex10(0) + " ")
	length := uint32(headerSize + content.Len() + len(TagEnvelope))
	b.WriteString(hex10(length) + " ")
	b.Write(content.Bytes())
	b.WriteString(TagEnvelope)

	out := b.Bytes()
	sum := Checksum(out, checksumOffset, checksumEnd)
	copy(out[checksumOffset:], hex10(sum))

	m.Kind = KindMessage
	m.ContentKind = kind
	m.Length = length
	m.Checksum = sum
	return out, nil
}

// EncodeTune serializes a tuning directive, computing its length.
func EncodeTune(t Tune) []byte {
	length := uint32(22 + len(t.Payload) + len(TagTune))
	return []byte(hex10(t.Code) + " " + hex10(length) + " " + t.Payload + TagTune)
}

// NewGatewayHandshake declares the protocol version and connection id.
func NewGatewayHandshake(id uint32, connectionID string, now time.Time) *Message {
	return &Message{
		Header: Header{Channel: ChannelHandshake, MessageID: id, Seq: 1, ContentKind: ContentInit},
		Handshake: &Handshake{
			ProtocolVersion: ProtocolVersion,
			ConnectionID:    connectionID,
			Initiated:       uint64(now.UnixMilli()),
		},
	}
}

// NewRegister registers the connection with the messaging service.
func NewRegister(id uint32) *Message {
	return &Message{
		Header: Header{Channel: ChannelGateway, MessageID: id, Seq: 1, ContentKind: ContentGateway},
		Gateway: &Gateway{
			Subtype:        KindMessage,
			ContentChannel: ContentChannelMessaging,
			DestURN:        RegisterDestination,
			DeviceURN:      RegisterSource,
			Raw:            []byte(RegisterCommand),
		},
	}
}

// NewPing is the heartbeat sent after registration and periodically afterwards.
func NewPing(id uint32, now time.Time) *Message {
	return &Message{
		Header: Header{Channel: ChannelHeartbeat, MessageID: id, Seq: 1, ContentKind: ContentPing},
		Ping:   &Ping{Timestamp: uint64(now.UnixMilli()), Text: PingText},
	}
}
