package http3

import (
	"bytes"
	"testing"
)

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	f, err := NewDataFrame([]byte("hello world"))
	if err != nil {
		t.Fatalf("NewDataFrame: %v", err)
	}
	wire, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, n, err := DecodeFrame(wire)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if n != len(wire) {
		t.Fatalf("expected to consume all %d bytes, consumed %d", len(wire), n)
	}
	if got.Type != FrameData || !bytes.Equal(got.Payload, []byte("hello world")) {
		t.Fatalf("got %+v", got)
	}
}

func TestFrameTooLargeRejected(t *testing.T) {
	if _, err := NewDataFrame(make([]byte, 0x10000)); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecodeFrameTooShort(t *testing.T) {
	if _, _, err := DecodeFrame([]byte{0x0A, 0x00}); err != ErrFrameTooShort {
		t.Fatalf("expected ErrFrameTooShort, got %v", err)
	}
}

func TestDecodeFrameLengthOverrun(t *testing.T) {
	buf := []byte{byte(FrameData), 0x00, 0x05, 'a', 'b'}
	if _, _, err := DecodeFrame(buf); err == nil {
		t.Fatalf("expected error for declared length exceeding available bytes")
	}
}

func TestCancelFrameRoundTrip(t *testing.T) {
	f := NewCancelFrame(7)
	wire, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, _, err := DecodeFrame(wire)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if got.String() != "CANCEL(7)" {
		t.Fatalf("got %q", got.String())
	}
}

func TestCloseFrameStringRepresentation(t *testing.T) {
	f, err := NewCloseFrame(42, "server shutting down")
	if err != nil {
		t.Fatalf("NewCloseFrame: %v", err)
	}
	want := "CLOSE(42,server shutting down)"
	if got := f.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCloseFrameRejectsInvalidUTF8(t *testing.T) {
	if _, err := NewCloseFrame(1, string([]byte{0xff, 0xfe})); err == nil {
		t.Fatalf("expected error for invalid UTF-8 reason")
	}
}

func TestControlFrameRoundTrip(t *testing.T) {
	f, err := NewControlFrame(3, "hello")
	if err != nil {
		t.Fatalf("NewControlFrame: %v", err)
	}
	wire, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, _, err := DecodeFrame(wire)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if got.String() != "CONTROL(3,hello)" {
		t.Fatalf("got %q", got.String())
	}
}

func TestGoawayFrameStringRepresentation(t *testing.T) {
	f, err := NewGoawayFrame(17, 0, "bye")
	if err != nil {
		t.Fatalf("NewGoawayFrame: %v", err)
	}
	if got := f.String(); got != "GOAWAY(17,0,bye)" {
		t.Fatalf("got %q", got)
	}
}

func TestResetFrameRoundTrip(t *testing.T) {
	f := NewResetFrame(9, 500)
	wire, _ := f.Encode()
	got, _, err := DecodeFrame(wire)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if got.String() != "RESET(9,500)" {
		t.Fatalf("got %q", got.String())
	}
}

func TestPriorityUpdateFrameRoundTrip(t *testing.T) {
	f := NewPriorityUpdateFrame(3, 200)
	wire, _ := f.Encode()
	got, _, err := DecodeFrame(wire)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if got.String() != "PRIORITY_UPDATE(3,200)" {
		t.Fatalf("got %q", got.String())
	}
}

func TestSettingsFrameRoundTrip(t *testing.T) {
	f := NewSettingsFrame(map[string]string{"max_streams": "10", "qpack_table": "4096"})
	wire, _ := f.Encode()
	got, _, err := DecodeFrame(wire)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	decoded, err := DecodeSettingsFrame(got.Payload)
	if err != nil {
		t.Fatalf("DecodeSettingsFrame: %v", err)
	}
	if decoded["max_streams"] != "10" || decoded["qpack_table"] != "4096" {
		t.Fatalf("got %+v", decoded)
	}
}

func TestPingFrameRoundTrip(t *testing.T) {
	f, err := NewPingFrame("keepalive")
	if err != nil {
		t.Fatalf("NewPingFrame: %v", err)
	}
	wire, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, _, err := DecodeFrame(wire)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if got.Type != FramePing || string(got.Payload) != "keepalive" {
		t.Fatalf("got %+v", got)
	}
}

func TestMultipleFramesSequentialDecode(t *testing.T) {
	a, _ := NewDataFrame([]byte("a"))
	b, _ := NewDataFrame([]byte("bb"))
	wireA, _ := a.Encode()
	wireB, _ := b.Encode()
	buf := append(append([]byte{}, wireA...), wireB...)

	f1, n1, err := DecodeFrame(buf)
	if err != nil {
		t.Fatalf("decode first: %v", err)
	}
	f2, n2, err := DecodeFrame(buf[n1:])
	if err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if string(f1.Payload) != "a" || string(f2.Payload) != "bb" {
		t.Fatalf("got %q, %q", f1.Payload, f2.Payload)
	}
	if n1+n2 != len(buf) {
		t.Fatalf("expected to consume entire buffer, got %d of %d", n1+n2, len(buf))
	}
}
