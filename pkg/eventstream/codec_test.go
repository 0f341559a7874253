package eventstream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func audioEvent(body []byte) Frame {
	return Frame{
		Headers: Headers{
			{Name: HeaderMessageType, Value: StringValue(MessageTypeEvent)},
			{Name: HeaderEventType, Value: StringValue("AudioEvent")},
		},
		Body: body,
	}
}

// assertFrameEqual compares frames treating nil and empty bodies as equal.
func assertFrameEqual(t *testing.T, want, got Frame) {
	t.Helper()
	if !bytes.Equal(want.Body, got.Body) {
		t.Errorf("body: got %x, want %x", got.Body, want.Body)
	}
	if len(want.Headers) != len(got.Headers) {
		t.Fatalf("header count: got %d, want %d (%v)", len(got.Headers), len(want.Headers), got.Headers)
	}
	for i := range want.Headers {
		w, g := want.Headers[i], got.Headers[i]
		if w.Name != g.Name {
			t.Errorf("header %d name: got %q, want %q", i, g.Name, w.Name)
		}
		if w.Value.Type() != g.Value.Type() || w.Value.String() != g.Value.String() {
			t.Errorf("header %q: got %s(%s), want %s(%s)", w.Name, g.Value.Type(), g.Value, w.Value.Type(), w.Value)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		frame Frame
	}{
		{"audio event", audioEvent([]byte{0x01, 0x02, 0x03, 0x04})},
		{"empty flush", audioEvent(nil)},
		{"no headers", Frame{Body: []byte("payload")}},
		{"empty frame", Frame{}},
		{"bytes header", Frame{
			Headers: Headers{{Name: "blob", Value: BytesValue{0xde, 0xad, 0xbe, 0xef}}},
			Body:    []byte(`{"Message":"x"}`),
		}},
		{"all types", Frame{
			Headers: Headers{
				{Name: "t", Value: BoolValue(true)},
				{Name: "f", Value: BoolValue(false)},
				{Name: "b", Value: ByteValue(-7)},
				{Name: "s", Value: ShortValue(-1234)},
				{Name: "i", Value: IntegerValue(123456789)},
				{Name: "l", Value: LongValue(-9876543210)},
				{Name: "ts", Value: NewTimestamp(time.Unix(1700000000, 123456789))},
				{Name: "id", Value: UUIDValue(uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"))},
				{Name: "str", Value: StringValue("héllo")},
			},
			Body: bytes.Repeat([]byte{0xAB}, 1024),
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			b, err := Encode(tc.frame)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if len(b) != EncodedLen(tc.frame) {
				t.Errorf("encoded %d bytes, EncodedLen says %d", len(b), EncodedLen(tc.frame))
			}
			got, err := Decode(b)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			assertFrameEqual(t, tc.frame, got)
		})
	}
}

func TestTimestamp_MillisecondPrecision(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.FixedZone("CEST", 2*3600))

	ts := NewTimestamp(at)
	if got := time.Time(ts); got.Nanosecond() != 123000000 || got.Location() != time.UTC {
		t.Fatalf("NewTimestamp = %v", got)
	}

	b, err := Encode(Frame{Headers: Headers{{Name: "raw", Value: TimestampValue(at)}, {Name: "ts", Value: ts}}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	f, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for _, name := range []string{"raw", "ts"} {
		v, ok := f.Headers.Get(name)
		if !ok {
			t.Fatalf("header %q missing", name)
		}
		if got := time.Time(v.(TimestampValue)); !got.Equal(time.Time(ts)) {
			t.Errorf("header %q = %v, want %v", name, got, time.Time(ts))
		}
	}
}

func TestEncode_Layout(t *testing.T) {
	t.Parallel()
	f := Frame{
		Headers: Headers{{Name: "a", Value: StringValue("b")}},
		Body:    []byte{0xFF},
	}
	b, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// header entry: 1 + 1 + 1 + 2 + 1 = 6 bytes
	if got := binary.BigEndian.Uint32(b[0:4]); got != 12+6+1+4 {
		t.Errorf("total length = %d, want 23", got)
	}
	if got := binary.BigEndian.Uint32(b[4:8]); got != 6 {
		t.Errorf("headers length = %d, want 6", got)
	}
	if got, want := binary.BigEndian.Uint32(b[8:12]), crc32.ChecksumIEEE(b[:8]); got != want {
		t.Errorf("prelude crc = %08x, want %08x", got, want)
	}
	wantHeader := []byte{1, 'a', byte(TypeString), 0, 1, 'b'}
	if !bytes.Equal(b[12:18], wantHeader) {
		t.Errorf("header block = %x, want %x", b[12:18], wantHeader)
	}
	if b[18] != 0xFF {
		t.Errorf("body byte = %x, want ff", b[18])
	}
}

func TestDecode_CorruptAnyBodyByte(t *testing.T) {
	t.Parallel()
	body := []byte("0123456789abcdef")
	b, err := Encode(audioEvent(body))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	bodyStart := len(b) - checksumLen - len(body)
	for i := bodyStart; i < len(b)-checksumLen; i++ {
		corrupted := append([]byte{}, b...)
		corrupted[i] ^= 0x01
		_, err := Decode(corrupted)
		var ce *CorruptFrameError
		if !errors.As(err, &ce) {
			t.Fatalf("byte %d: expected CorruptFrameError, got %v", i, err)
		}
		if ce.Part != "message" {
			t.Errorf("byte %d: corrupt part = %q, want message", i, ce.Part)
		}
	}
}

func TestDecode_CorruptAnyByte(t *testing.T) {
	t.Parallel()
	b, err := Encode(audioEvent([]byte{1, 2, 3, 4, 5, 6}))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for i := range b {
		corrupted := append([]byte{}, b...)
		corrupted[i] ^= 0x80
		_, err := Decode(corrupted)
		var ce *CorruptFrameError
		if !errors.As(err, &ce) {
			t.Fatalf("byte %d: expected CorruptFrameError, got %v", i, err)
		}
	}
}

func TestDecode_Truncated(t *testing.T) {
	t.Parallel()
	b, err := Encode(audioEvent([]byte("some audio")))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for _, n := range []int{0, 4, 11, 12, len(b) - 1} {
		_, err := Decode(b[:n])
		var te *TruncatedFrameError
		if !errors.As(err, &te) {
			t.Fatalf("len %d: expected TruncatedFrameError, got %v", n, err)
		}
		if n >= preludeLen && te.Declared != len(b) {
			t.Errorf("len %d: declared = %d, want %d", n, te.Declared, len(b))
		}
		if te.Available != n {
			t.Errorf("len %d: available = %d", n, te.Available)
		}
	}
}

func TestDecode_TrailingBytes(t *testing.T) {
	t.Parallel()
	b, err := Encode(audioEvent(nil))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, err = Decode(append(b, 0x00))
	var ce *CorruptFrameError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CorruptFrameError, got %v", err)
	}
	if !strings.Contains(ce.Error(), "trailing") {
		t.Errorf("error should mention trailing bytes, got: %v", ce)
	}
}

// frameWithRawHeaders builds a frame with valid checksums around an arbitrary
// header block.
func frameWithRawHeaders(hdr []byte) []byte {
	total := MinFrameLen + len(hdr)
	b := binary.BigEndian.AppendUint32(nil, uint32(total))
	b = binary.BigEndian.AppendUint32(b, uint32(len(hdr)))
	b = binary.BigEndian.AppendUint32(b, crc32.ChecksumIEEE(b))
	b = append(b, hdr...)
	return binary.BigEndian.AppendUint32(b, crc32.ChecksumIEEE(b))
}

func TestDecode_MalformedHeaders(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		hdr  []byte
	}{
		{"unknown type", []byte{1, 'x', 42}},
		{"string overflows block", []byte{1, 'x', byte(TypeString), 0, 9, 'a'}},
		{"name overflows block", []byte{5, 'a', 'b'}},
		{"empty name", []byte{0, byte(TypeTrue)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(frameWithRawHeaders(tc.hdr))
			var ce *CorruptFrameError
			if !errors.As(err, &ce) {
				t.Fatalf("expected CorruptFrameError, got %v", err)
			}
			if ce.Part != "headers" {
				t.Errorf("part = %q, want headers", ce.Part)
			}
		})
	}
}

func TestEncode_RejectsLongName(t *testing.T) {
	t.Parallel()
	f := Frame{Headers: Headers{{Name: strings.Repeat("n", 256), Value: StringValue("v")}}}
	if _, err := Encode(f); err == nil {
		t.Fatal("expected error for 256-byte header name")
	}
}

func TestHeaders_GetSet(t *testing.T) {
	t.Parallel()
	var h Headers
	h.Set(HeaderMessageType, StringValue("event"))
	h.Set(HeaderEventType, StringValue("AudioEvent"))
	h.Set(HeaderMessageType, StringValue("exception"))

	if len(h) != 2 {
		t.Fatalf("expected 2 headers, got %d", len(h))
	}
	if got := h.GetString(HeaderMessageType); got != "exception" {
		t.Errorf("message type = %q, want exception", got)
	}
	if _, ok := h.Get("missing"); ok {
		t.Error("expected missing header lookup to fail")
	}
	f := Frame{Headers: h}
	if f.EventType() != "AudioEvent" {
		t.Errorf("EventType = %q", f.EventType())
	}
}
