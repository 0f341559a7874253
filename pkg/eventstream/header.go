package eventstream

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Well-known header names and values shared by every message on the stream.
const (
	HeaderMessageType   = ":message-type"
	HeaderEventType     = ":event-type"
	HeaderExceptionType = ":exception-type"
	HeaderContentType   = ":content-type"

	MessageTypeEvent     = "event"
	MessageTypeException = "exception"
)

// ValueType is the one-byte type tag that precedes every header value.
type ValueType uint8

const (
	TypeTrue ValueType = iota
	TypeFalse
	TypeByte
	TypeShort
	TypeInteger
	TypeLong
	TypeBytes
	TypeString
	TypeTimestamp
	TypeUUID
)

// String returns the wire name of the type.
func (t ValueType) String() string {
	switch t {
	case TypeTrue, TypeFalse:
		return "boolean"
	case TypeByte:
		return "byte"
	case TypeShort:
		return "short"
	case TypeInteger:
		return "integer"
	case TypeLong:
		return "long"
	case TypeBytes:
		return "byte_array"
	case TypeString:
		return "string"
	case TypeTimestamp:
		return "timestamp"
	case TypeUUID:
		return "uuid"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// Value is a typed header value. The concrete types below are the only
// implementations.
type Value interface {
	// Type returns the wire type tag.
	Type() ValueType

	// String renders the value for logs.
	String() string
}

// Header value types. TimestampValue travels as Unix milliseconds, so finer
// precision is lost on the wire; build it with [NewTimestamp] to keep
// decode(encode(f)) == f.
type (
	BoolValue      bool
	ByteValue      int8
	ShortValue     int16
	IntegerValue   int32
	LongValue      int64
	BytesValue     []byte
	StringValue    string
	TimestampValue time.Time
	UUIDValue      uuid.UUID
)

// NewTimestamp returns t as a TimestampValue truncated to the millisecond
// precision of the wire format, in UTC.
func NewTimestamp(t time.Time) TimestampValue {
	return TimestampValue(t.UTC().Truncate(time.Millisecond))
}

func (v BoolValue) Type() ValueType {
	if v {
		return TypeTrue
	}
	return TypeFalse
}
func (ByteValue) Type() ValueType      { return TypeByte }
func (ShortValue) Type() ValueType     { return TypeShort }
func (IntegerValue) Type() ValueType   { return TypeInteger }
func (LongValue) Type() ValueType      { return TypeLong }
func (BytesValue) Type() ValueType     { return TypeBytes }
func (StringValue) Type() ValueType    { return TypeString }
func (TimestampValue) Type() ValueType { return TypeTimestamp }
func (UUIDValue) Type() ValueType      { return TypeUUID }

func (v BoolValue) String() string      { return strconv.FormatBool(bool(v)) }
func (v ByteValue) String() string      { return strconv.Itoa(int(v)) }
func (v ShortValue) String() string     { return strconv.Itoa(int(v)) }
func (v IntegerValue) String() string   { return strconv.Itoa(int(v)) }
func (v LongValue) String() string      { return strconv.FormatInt(int64(v), 10) }
func (v BytesValue) String() string     { return hex.EncodeToString(v) }
func (v StringValue) String() string    { return string(v) }
func (v TimestampValue) String() string { return time.Time(v).UTC().Format(time.RFC3339Nano) }
func (v UUIDValue) String() string      { return uuid.UUID(v).String() }

// Header is a single named header entry.
type Header struct {
	Name  string
	Value Value
}

// Headers is the ordered header block of a [Frame]. Order is preserved on the
// wire and through a decode/encode round trip.
type Headers []Header

// Get returns the value of the first header called name.
func (h Headers) Get(name string) (Value, bool) {
	for _, hdr := range h {
		if hdr.Name == name {
			return hdr.Value, true
		}
	}
	return nil, false
}

// GetString returns the named header when it is a string, or "".
func (h Headers) GetString(name string) string {
	v, ok := h.Get(name)
	if !ok {
		return ""
	}
	if s, ok := v.(StringValue); ok {
		return string(s)
	}
	return ""
}

// Set replaces the first header called name, or appends it.
func (h *Headers) Set(name string, v Value) {
	for i := range *h {
		if (*h)[i].Name == name {
			(*h)[i].Value = v
			return
		}
	}
	*h = append(*h, Header{Name: name, Value: v})
}

func (h Header) String() string {
	return fmt.Sprintf("%s=%s(%s)", h.Name, h.Value.Type(), h.Value)
}
