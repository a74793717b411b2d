package frame

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
)

// DecodeOptions controls integrity checks.
type DecodeOptions struct {
	// Verify rejects frames whose checksum or content length does not
	// match the datagram.
	Verify bool
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) text(n int) (string, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return "", fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformed, n, r.pos, len(r.buf)-r.pos)
	}
	s := string(r.buf[r.pos : r.pos+n])
	r.pos += n
	return s, nil
}

// sep consumes the single separator following a field, if any.
func (r *reader) sep() {
	if r.pos < len(r.buf) {
		r.pos++
	}
}

// hex reads a "0x"-prefixed hexadecimal field of n characters and its separator.
func (r *reader) hex(n int) (uint64, error) {
	s, err := r.text(n)
	if err != nil {
		return 0, err
	}
	r.sep()
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad hex field %q at offset %d", ErrMalformed, s, r.pos-n-1)
	}
	return v, nil
}

func (r *reader) hex32() (uint32, error) {
	v, err := r.hex(10)
	return uint32(v), err
}

// lenString reads a 10-character hex length followed by that many characters.
func (r *reader) lenString() (string, error) {
	n, err := r.hex(10)
	if err != nil {
		return "", err
	}
	s, err := r.text(int(n))
	if err != nil {
		return "", err
	}
	r.sep()
	return s, nil
}

func (r *reader) rest() []byte {
	if r.pos >= len(r.buf) {
		return nil
	}
	return r.buf[r.pos:]
}

// Decode parses one datagram. Datagrams without the envelope tag return
// ErrNotEnvelope; channels without a schema return ErrUnknownChannel.
// Both are meant to be dropped by the caller.
func Decode(data []byte, opts DecodeOptions) (*Message, error) {
	if !IsEnvelope(data) {
		return nil, ErrNotEnvelope
	}

	r := &reader{buf: data[:len(data)-len(TagEnvelope)]}
	m := &Message{}
	if err := decodeHeader(r, &m.Header); err != nil {
		return nil, err
	}

	if opts.Verify {
		if int(m.Length) != len(data) {
			return nil, fmt.Errorf("%w: header says %d, datagram has %d", ErrLength, m.Length, len(data))
		}
		if sum := Checksum(data, checksumOffset, checksumEnd); sum != m.Checksum {
			return nil, fmt.Errorf("%w: header says 0x%08x, computed 0x%08x", ErrChecksum, m.Checksum, sum)
		}
	}

	var err error
	switch m.Channel {
	case ChannelHandshake:
		m.Handshake, err = decodeHandshake(r, m.ContentKind)
	case ChannelGateway:
		m.Gateway, err = decodeGateway(r, m.ContentKind)
	case ChannelHeartbeat:
		m.Ping, err = decodePing(r, m.ContentKind)
	default:
		return nil, fmt.Errorf("%w: 0x%08x", ErrUnknownChannel, m.Channel)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func decodeHeader(r *reader, h *Header) error {
	var err error
	if h.Kind, err = r.text(3); err != nil {
		return err
	}
	r.sep()
	if h.Kind != KindMessage {
		return fmt.Errorf("%w: message kind %q", ErrMalformed, h.Kind)
	}
	if h.Channel, err = r.hex32(); err != nil {
		return err
	}
	if h.MessageID, err = r.hex32(); err != nil {
		return err
	}
	flag, err := r.text(1)
	if err != nil {
		return err
	}
	r.sep()
	h.Continued = flag != "f"
	if h.Seq, err = r.hex32(); err != nil {
		return err
	}
	if h.Checksum, err = r.hex32(); err != nil {
		return err
	}
	if h.Length, err = r.hex32(); err != nil {
		return err
	}
	if h.ContentKind, err = r.text(3); err != nil {
		return err
	}
	// binary heartbeat content follows the kind without a separator
	if h.ContentKind != ContentPing {
		r.sep()
	}
	return nil
}

func decodeHandshake(r *reader, kind string) (*Handshake, error) {
	if kind != ContentAck && kind != ContentInit {
		return nil, fmt.Errorf("%w: handshake content %q", ErrUnknownChannel, kind)
	}
	h := &Handshake{}
	var err error
	if h.ProtocolVersion, err = r.lenString(); err != nil {
		return nil, err
	}
	if h.ConnectionID, err = r.lenString(); err != nil {
		return nil, err
	}
	if kind == ContentInit {
		if h.Initiated, err = r.hex(18); err != nil {
			return nil, err
		}
		return h, nil
	}
	if h.Established, err = r.hex32(); err != nil {
		return nil, err
	}
	if h.Initiated, err = r.hex(18); err != nil {
		return nil, err
	}
	if h.Acknowledged, err = r.hex(18); err != nil {
		return nil, err
	}
	return h, nil
}

func decodeGateway(r *reader, kind string) (*Gateway, error) {
	if kind != ContentGateway {
		return nil, fmt.Errorf("%w: gateway content %q", ErrUnknownChannel, kind)
	}
	g := &Gateway{}
	var err error
	if g.Subtype, err = r.text(3); err != nil {
		return nil, err
	}
	r.sep()
	if g.ContentChannel, err = r.hex32(); err != nil {
		return nil, err
	}
	if g.ContentChannel != ContentChannelMessaging {
		return nil, fmt.Errorf("%w: gateway content channel 0x%08x", ErrUnknownChannel, g.ContentChannel)
	}
	if g.DestURN, err = r.lenString(); err != nil {
		return nil, err
	}
	id, err := r.lenString()
	if err != nil {
		return nil, err
	}

	device, payload, found := strings.Cut(id, " ")
	g.DeviceURN = device
	if found {
		g.Raw = []byte(payload)
	} else {
		g.Raw = append([]byte(nil), r.rest()...)
	}

	if err := json.Unmarshal(g.Raw, &g.Payload); err != nil {
		return nil, fmt.Errorf("%w: gateway payload: %v", ErrMalformed, err)
	}
	if inner, ok := g.Payload["payload"].(string); ok {
		var v any
		if err := json.Unmarshal([]byte(inner), &v); err != nil {
			return nil, fmt.Errorf("%w: nested gateway payload: %v", ErrMalformed, err)
		}
		g.Payload["payload"] = v
	}
	return g, nil
}

func decodePing(r *reader, kind string) (*Ping, error) {
	if kind != ContentPing {
		return nil, fmt.Errorf("%w: heartbeat content %q", ErrUnknownChannel, kind)
	}
	b := r.rest()
	if len(b) < 16 {
		return nil, fmt.Errorf("%w: heartbeat content is %d bytes", ErrMalformed, len(b))
	}
	p := &Ping{Timestamp: binary.BigEndian.Uint64(b[4:12])}
	n := int(binary.BigEndian.Uint32(b[12:16]))
	b = b[16:]
	if 2*n > len(b) {
		return nil, fmt.Errorf("%w: heartbeat text wants %d chars, have %d bytes", ErrMalformed, n, len(b))
	}
	units := make([]uint16, n)
	for i := range units {
		units[i] = binary.BigEndian.Uint16(b[2*i:])
	}
	p.Text = string(utf16.Decode(units))
	return p, nil
}

// DecodeTune parses a plaintext tuning directive.
func DecodeTune(data []byte, opts DecodeOptions) (Tune, error) {
	s := string(data)
	if !strings.HasSuffix(s, TagTune) {
		return Tune{}, ErrNotEnvelope
	}
	r := &reader{buf: data[:len(data)-len(TagTune)]}
	code, err := r.hex32()
	if err != nil {
		return Tune{}, err
	}
	length, err := r.hex32()
	if err != nil {
		return Tune{}, err
	}
	if opts.Verify && int(length) != len(data) {
		return Tune{}, fmt.Errorf("%w: header says %d, datagram has %d", ErrLength, length, len(data))
	}
	return Tune{Code: code, Payload: string(r.rest())}, nil
}
