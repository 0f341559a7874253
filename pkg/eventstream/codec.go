// Package eventstream implements the binary event-stream message format used
// by the streaming transcription service in both directions.
//
// Every message is self-describing:
//
//	[ total length : u32 ][ headers length : u32 ][ prelude CRC32 : u32 ]
//	[ header block ][ body ][ message CRC32 : u32 ]
//
// All integers are big-endian. The prelude CRC covers the two length fields;
// the message CRC covers everything that precedes it. Each header entry is
// [ name length : u8 ][ name ][ value type : u8 ][ typed value ].
package eventstream

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/google/uuid"
)

const (
	preludeLen  = 12
	checksumLen = 4

	// MinFrameLen is the encoded size of a frame with no headers and no body.
	MinFrameLen = preludeLen + checksumLen

	// MaxFrameLen bounds the total length field accepted by Decode.
	MaxFrameLen = 16 * 1024 * 1024

	// MaxHeadersLen bounds the header block accepted by Encode and Decode.
	MaxHeadersLen = 128 * 1024

	maxNameLen  = 255
	maxValueLen = 1<<16 - 1
)

// Frame is one message on the wire.
type Frame struct {
	Headers Headers
	Body    []byte
}

// MessageType returns the :message-type header ("event" or "exception").
func (f Frame) MessageType() string { return f.Headers.GetString(HeaderMessageType) }

// EventType returns the :event-type header.
func (f Frame) EventType() string { return f.Headers.GetString(HeaderEventType) }

// CorruptFrameError reports a frame whose bytes cannot be trusted: a checksum
// mismatch or internally inconsistent lengths.
type CorruptFrameError struct {
	// Part is "prelude", "message" or "headers".
	Part string

	// Want and Got hold the checksums when Reason is empty.
	Want, Got uint32

	// Reason describes a structural problem that is not a checksum mismatch.
	Reason string
}

func (e *CorruptFrameError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("eventstream: corrupt %s: %s", e.Part, e.Reason)
	}
	return fmt.Sprintf("eventstream: %s checksum mismatch: want %08x, got %08x", e.Part, e.Want, e.Got)
}

// TruncatedFrameError reports fewer bytes than the prelude declares.
type TruncatedFrameError struct {
	Declared  int
	Available int
}

func (e *TruncatedFrameError) Error() string {
	return fmt.Sprintf("eventstream: truncated frame: declared %d bytes, have %d", e.Declared, e.Available)
}

// EncodedLen returns the number of bytes Encode produces for f. It depends
// only on the header names, header value sizes and body length.
func EncodedLen(f Frame) int {
	return MinFrameLen + headersLen(f.Headers) + len(f.Body)
}

// Encode serialises f. It fails only when a header name or value exceeds the
// limits of the wire format.
func Encode(f Frame) ([]byte, error) {
	hlen := headersLen(f.Headers)
	if hlen > MaxHeadersLen {
		return nil, fmt.Errorf("eventstream: header block of %d bytes exceeds %d", hlen, MaxHeadersLen)
	}
	total := MinFrameLen + hlen + len(f.Body)
	if total > MaxFrameLen {
		return nil, fmt.Errorf("eventstream: frame of %d bytes exceeds %d", total, MaxFrameLen)
	}

	buf := make([]byte, 0, total)
	buf = binary.BigEndian.AppendUint32(buf, uint32(total))
	buf = binary.BigEndian.AppendUint32(buf, uint32(hlen))
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))

	for _, h := range f.Headers {
		var err error
		if buf, err = appendHeader(buf, h); err != nil {
			return nil, err
		}
	}
	buf = append(buf, f.Body...)
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
	return buf, nil
}

// Decode parses exactly one frame from b. Both checksums are verified before
// any header is interpreted.
func Decode(b []byte) (Frame, error) {
	if len(b) < preludeLen {
		return Frame{}, &TruncatedFrameError{Declared: MinFrameLen, Available: len(b)}
	}
	total := binary.BigEndian.Uint32(b[0:4])
	hlen := binary.BigEndian.Uint32(b[4:8])
	wantPrelude := binary.BigEndian.Uint32(b[8:12])
	if got := crc32.ChecksumIEEE(b[:8]); got != wantPrelude {
		return Frame{}, &CorruptFrameError{Part: "prelude", Want: wantPrelude, Got: got}
	}

	if total < MinFrameLen || total > MaxFrameLen {
		return Frame{}, &CorruptFrameError{Part: "prelude", Reason: fmt.Sprintf("total length %d out of range", total)}
	}
	if hlen > MaxHeadersLen || hlen > total-MinFrameLen {
		return Frame{}, &CorruptFrameError{Part: "prelude", Reason: fmt.Sprintf("headers length %d exceeds frame", hlen)}
	}
	if len(b) < int(total) {
		return Frame{}, &TruncatedFrameError{Declared: int(total), Available: len(b)}
	}
	if len(b) > int(total) {
		return Frame{}, &CorruptFrameError{Part: "message", Reason: fmt.Sprintf("%d trailing bytes", len(b)-int(total))}
	}

	end := int(total) - checksumLen
	wantMsg := binary.BigEndian.Uint32(b[end:])
	if got := crc32.ChecksumIEEE(b[:end]); got != wantMsg {
		return Frame{}, &CorruptFrameError{Part: "message", Want: wantMsg, Got: got}
	}

	headers, err := decodeHeaders(b[preludeLen : preludeLen+int(hlen)])
	if err != nil {
		return Frame{}, err
	}

	var body []byte
	if bodyStart := preludeLen + int(hlen); bodyStart < end {
		body = make([]byte, end-bodyStart)
		copy(body, b[bodyStart:end])
	}
	return Frame{Headers: headers, Body: body}, nil
}

func headersLen(hs Headers) int {
	n := 0
	for _, h := range hs {
		n += 1 + len(h.Name) + 1 + valueLen(h.Value)
	}
	return n
}

func valueLen(v Value) int {
	switch v := v.(type) {
	case BoolValue:
		return 0
	case ByteValue:
		return 1
	case ShortValue:
		return 2
	case IntegerValue:
		return 4
	case LongValue, TimestampValue:
		return 8
	case BytesValue:
		return 2 + len(v)
	case StringValue:
		return 2 + len(v)
	case UUIDValue:
		return 16
	default:
		return 0
	}
}

func appendHeader(buf []byte, h Header) ([]byte, error) {
	if len(h.Name) == 0 || len(h.Name) > maxNameLen {
		return nil, fmt.Errorf("eventstream: header name %q must be 1..%d bytes", h.Name, maxNameLen)
	}
	if h.Value == nil {
		return nil, fmt.Errorf("eventstream: header %q has no value", h.Name)
	}
	buf = append(buf, byte(len(h.Name)))
	buf = append(buf, h.Name...)
	buf = append(buf, byte(h.Value.Type()))

	switch v := h.Value.(type) {
	case BoolValue:
	case ByteValue:
		buf = append(buf, byte(v))
	case ShortValue:
		buf = binary.BigEndian.AppendUint16(buf, uint16(v))
	case IntegerValue:
		buf = binary.BigEndian.AppendUint32(buf, uint32(v))
	case LongValue:
		buf = binary.BigEndian.AppendUint64(buf, uint64(v))
	case TimestampValue:
		buf = binary.BigEndian.AppendUint64(buf, uint64(time.Time(v).UnixMilli()))
	case BytesValue:
		if len(v) > maxValueLen {
			return nil, fmt.Errorf("eventstream: header %q value of %d bytes exceeds %d", h.Name, len(v), maxValueLen)
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(v)))
		buf = append(buf, v...)
	case StringValue:
		if len(v) > maxValueLen {
			return nil, fmt.Errorf("eventstream: header %q value of %d bytes exceeds %d", h.Name, len(v), maxValueLen)
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(v)))
		buf = append(buf, v...)
	case UUIDValue:
		buf = append(buf, v[:]...)
	default:
		return nil, fmt.Errorf("eventstream: header %q has unsupported value type %T", h.Name, h.Value)
	}
	return buf, nil
}

// headerReader walks the header block, recording the first structural error.
type headerReader struct {
	b   []byte
	off int
	err error
}

func (r *headerReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n > len(r.b)-r.off {
		r.err = &CorruptFrameError{Part: "headers", Reason: fmt.Sprintf("need %d bytes at offset %d, have %d", n, r.off, len(r.b)-r.off)}
		return nil
	}
	p := r.b[r.off : r.off+n]
	r.off += n
	return p
}

func decodeHeaders(b []byte) (Headers, error) {
	var hs Headers
	r := &headerReader{b: b}
	for r.off < len(b) {
		nameLen := r.take(1)
		if r.err != nil {
			return nil, r.err
		}
		if nameLen[0] == 0 {
			return nil, &CorruptFrameError{Part: "headers", Reason: fmt.Sprintf("empty header name at offset %d", r.off-1)}
		}
		name := string(r.take(int(nameLen[0])))
		typ := r.take(1)
		if r.err != nil {
			return nil, r.err
		}

		var v Value
		switch ValueType(typ[0]) {
		case TypeTrue:
			v = BoolValue(true)
		case TypeFalse:
			v = BoolValue(false)
		case TypeByte:
			if p := r.take(1); p != nil {
				v = ByteValue(int8(p[0]))
			}
		case TypeShort:
			if p := r.take(2); p != nil {
				v = ShortValue(int16(binary.BigEndian.Uint16(p)))
			}
		case TypeInteger:
			if p := r.take(4); p != nil {
				v = IntegerValue(int32(binary.BigEndian.Uint32(p)))
			}
		case TypeLong:
			if p := r.take(8); p != nil {
				v = LongValue(int64(binary.BigEndian.Uint64(p)))
			}
		case TypeTimestamp:
			if p := r.take(8); p != nil {
				v = TimestampValue(time.UnixMilli(int64(binary.BigEndian.Uint64(p))).UTC())
			}
		case TypeBytes, TypeString:
			if p := r.take(2); p != nil {
				raw := r.take(int(binary.BigEndian.Uint16(p)))
				if ValueType(typ[0]) == TypeString {
					v = StringValue(raw)
				} else {
					v = BytesValue(append([]byte{}, raw...))
				}
			}
		case TypeUUID:
			if p := r.take(16); p != nil {
				var id uuid.UUID
				copy(id[:], p)
				v = UUIDValue(id)
			}
		default:
			return nil, &CorruptFrameError{Part: "headers", Reason: fmt.Sprintf("header %q has unknown value type %d", name, typ[0])}
		}
		if r.err != nil {
			return nil, r.err
		}
		hs = append(hs, Header{Name: name, Value: v})
	}
	return hs, nil
}
