// Package http3 implements the request/response frame layer and
// connection on top of the quic package, using a type-tagged frame
// dispatch and this project's own fixed-width wire table rather than
// RFC 9114 varint framing.
package http3

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// FrameType identifies an HTTP/3-style frame.
type FrameType byte

const (
	FrameCancel         FrameType = 0x07
	FrameClose          FrameType = 0x08
	FrameControl        FrameType = 0x09
	FrameData           FrameType = 0x0A
	FrameError          FrameType = 0x0B
	FrameGoaway         FrameType = 0x0C
	FramePing           FrameType = 0x0D
	FramePriority       FrameType = 0x0E
	FramePriorityUpdate FrameType = 0x0F
	FrameReset          FrameType = 0x10
	FrameSettings       FrameType = 0x11
)

func (t FrameType) String() string {
	switch t {
	case FrameCancel:
		return "CANCEL"
	case FrameClose:
		return "CLOSE"
	case FrameControl:
		return "CONTROL"
	case FrameData:
		return "DATA"
	case FrameError:
		return "ERROR"
	case FrameGoaway:
		return "GOAWAY"
	case FramePing:
		return "PING"
	case FramePriority:
		return "PRIORITY"
	case FramePriorityUpdate:
		return "PRIORITY_UPDATE"
	case FrameReset:
		return "RESET"
	case FrameSettings:
		return "SETTINGS"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrFrameMalformed = errors.New("http3: frame malformed")
	ErrFrameTooLarge  = errors.New("http3: frame payload exceeds 65535 bytes")
	ErrFrameTooShort  = errors.New("http3: frame shorter than the 3-byte header")
)

const frameHeaderLen = 3 // 1 type byte + 2 length bytes (BE)

// Frame is one wire-format unit: type(1) || length(2, BE) || payload.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Encode serializes f to its wire representation.
func (f Frame) Encode() ([]byte, error) {
	if len(f.Payload) > 0xFFFF {
		return nil, ErrFrameTooLarge
	}
	out := make([]byte, frameHeaderLen, frameHeaderLen+len(f.Payload))
	out[0] = byte(f.Type)
	binary.BigEndian.PutUint16(out[1:3], uint16(len(f.Payload)))
	return append(out, f.Payload...), nil
}

// DecodeFrame parses exactly one frame from the front of buf and
// returns it alongside the number of bytes it consumed.
func DecodeFrame(buf []byte) (Frame, int, error) {
	if len(buf) < frameHeaderLen {
		return Frame{}, 0, ErrFrameTooShort
	}
	length := int(binary.BigEndian.Uint16(buf[1:3]))
	total := frameHeaderLen + length
	if len(buf) < total {
		return Frame{}, 0, fmt.Errorf("%w: declared length %d exceeds available %d bytes", ErrFrameMalformed, length, len(buf)-frameHeaderLen)
	}
	payload := append([]byte(nil), buf[frameHeaderLen:total]...)
	return Frame{Type: FrameType(buf[0]), Payload: payload}, total, nil
}

// String renders a canonical debug representation of common frame
// kinds, e.g. "CLOSE(code,reason)", decoding the frame's payload
// according to its type's fixed field layout.
func (f Frame) String() string {
	switch f.Type {
	case FrameCancel:
		id, err := decodeUint32Payload(f.Payload)
		if err != nil {
			return fmt.Sprintf("CANCEL(malformed: %v)", err)
		}
		return fmt.Sprintf("CANCEL(%d)", id)
	case FrameClose:
		code, reason, err := decodeCodeAndReason(f.Payload)
		if err != nil {
			return fmt.Sprintf("CLOSE(malformed: %v)", err)
		}
		return fmt.Sprintf("CLOSE(%d,%s)", code, reason)
	case FrameControl:
		code, data, err := decodeControlFrame(f.Payload)
		if err != nil {
			return fmt.Sprintf("CONTROL(malformed: %v)", err)
		}
		return fmt.Sprintf("CONTROL(%d,%s)", code, data)
	case FrameError:
		code, msg, err := decodeCodeAndReason(f.Payload)
		if err != nil {
			return fmt.Sprintf("ERROR(malformed: %v)", err)
		}
		return fmt.Sprintf("ERROR(%d,%s)", code, msg)
	case FrameGoaway:
		lastStreamID, code, reason, err := decodeGoawayFrame(f.Payload)
		if err != nil {
			return fmt.Sprintf("GOAWAY(malformed: %v)", err)
		}
		return fmt.Sprintf("GOAWAY(%d,%d,%s)", lastStreamID, code, reason)
	case FramePing:
		if !utf8.Valid(f.Payload) {
			return "PING(malformed: invalid UTF-8)"
		}
		return fmt.Sprintf("PING(%s)", f.Payload)
	case FramePriorityUpdate:
		streamID, weight, err := decodePriorityUpdateFrame(f.Payload)
		if err != nil {
			return fmt.Sprintf("PRIORITY_UPDATE(malformed: %v)", err)
		}
		return fmt.Sprintf("PRIORITY_UPDATE(%d,%d)", streamID, weight)
	case FrameReset:
		streamID, code, err := decodeResetFrame(f.Payload)
		if err != nil {
			return fmt.Sprintf("RESET(malformed: %v)", err)
		}
		return fmt.Sprintf("RESET(%d,%d)", streamID, code)
	case FrameSettings:
		if !utf8.Valid(f.Payload) {
			return "SETTINGS(malformed: invalid UTF-8)"
		}
		return fmt.Sprintf("SETTINGS(%s)", f.Payload)
	default:
		return fmt.Sprintf("%s(%d bytes)", f.Type, len(f.Payload))
	}
}

func decodeUint32Payload(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, ErrFrameMalformed
	}
	return binary.BigEndian.Uint32(payload), nil
}

func decodeCodeAndReason(payload []byte) (code uint32, reason string, err error) {
	if len(payload) < 4 {
		return 0, "", ErrFrameMalformed
	}
	code = binary.BigEndian.Uint32(payload[:4])
	reason = string(payload[4:])
	if !utf8.ValidString(reason) {
		return 0, "", fmt.Errorf("%w: reason is not valid UTF-8", ErrFrameMalformed)
	}
	return code, reason, nil
}

func decodeControlFrame(payload []byte) (code byte, data string, err error) {
	if len(payload) < 1 {
		return 0, "", ErrFrameMalformed
	}
	code = payload[0]
	data = string(payload[1:])
	if !utf8.ValidString(data) {
		return 0, "", fmt.Errorf("%w: control data is not valid UTF-8", ErrFrameMalformed)
	}
	return code, data, nil
}

func decodeGoawayFrame(payload []byte) (lastStreamID, code uint32, reason string, err error) {
	if len(payload) < 8 {
		return 0, 0, "", ErrFrameMalformed
	}
	lastStreamID = binary.BigEndian.Uint32(payload[:4])
	code = binary.BigEndian.Uint32(payload[4:8])
	reason = string(payload[8:])
	if !utf8.ValidString(reason) {
		return 0, 0, "", fmt.Errorf("%w: reason is not valid UTF-8", ErrFrameMalformed)
	}
	return lastStreamID, code, reason, nil
}

func decodePriorityUpdateFrame(payload []byte) (streamID uint32, weight byte, err error) {
	if len(payload) != 5 {
		return 0, 0, ErrFrameMalformed
	}
	return binary.BigEndian.Uint32(payload[:4]), payload[4], nil
}

func decodeResetFrame(payload []byte) (streamID, code uint32, err error) {
	if len(payload) != 8 {
		return 0, 0, ErrFrameMalformed
	}
	return binary.BigEndian.Uint32(payload[:4]), binary.BigEndian.Uint32(payload[4:]), nil
}

// NewCancelFrame builds a CANCEL frame carrying a stream ID.
func NewCancelFrame(streamID uint32) Frame {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, streamID)
	return Frame{Type: FrameCancel, Payload: payload}
}

// NewCloseFrame builds a CLOSE frame: error_code(4,BE) || reason(utf8).
func NewCloseFrame(code uint32, reason string) (Frame, error) {
	if !utf8.ValidString(reason) {
		return Frame{}, fmt.Errorf("%w: reason is not valid UTF-8", ErrFrameMalformed)
	}
	payload := make([]byte, 4, 4+len(reason))
	binary.BigEndian.PutUint32(payload, code)
	payload = append(payload, reason...)
	return Frame{Type: FrameClose, Payload: payload}, nil
}

// NewControlFrame builds a CONTROL frame: control_code(1) || data(utf8).
func NewControlFrame(code byte, data string) (Frame, error) {
	if !utf8.ValidString(data) {
		return Frame{}, fmt.Errorf("%w: control data is not valid UTF-8", ErrFrameMalformed)
	}
	payload := make([]byte, 1, 1+len(data))
	payload[0] = code
	payload = append(payload, data...)
	return Frame{Type: FrameControl, Payload: payload}, nil
}

// NewErrorFrame builds an ERROR frame: error_code(4,BE) || message(utf8).
func NewErrorFrame(code uint32, message string) (Frame, error) {
	if !utf8.ValidString(message) {
		return Frame{}, fmt.Errorf("%w: message is not valid UTF-8", ErrFrameMalformed)
	}
	payload := make([]byte, 4, 4+len(message))
	binary.BigEndian.PutUint32(payload, code)
	payload = append(payload, message...)
	return Frame{Type: FrameError, Payload: payload}, nil
}

// NewGoawayFrame builds a GOAWAY frame: last_stream_id(4) ||
// error_code(4) || reason(utf8).
func NewGoawayFrame(lastStreamID, code uint32, reason string) (Frame, error) {
	if !utf8.ValidString(reason) {
		return Frame{}, fmt.Errorf("%w: reason is not valid UTF-8", ErrFrameMalformed)
	}
	payload := make([]byte, 8, 8+len(reason))
	binary.BigEndian.PutUint32(payload[:4], lastStreamID)
	binary.BigEndian.PutUint32(payload[4:8], code)
	payload = append(payload, reason...)
	return Frame{Type: FrameGoaway, Payload: payload}, nil
}

// NewResetFrame builds a RESET frame: stream_id(4) || error_code(4).
func NewResetFrame(streamID, errorCode uint32) Frame {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[:4], streamID)
	binary.BigEndian.PutUint32(payload[4:], errorCode)
	return Frame{Type: FrameReset, Payload: payload}
}

// NewPriorityUpdateFrame builds a PRIORITY_UPDATE frame:
// stream_id(4) || weight(1).
func NewPriorityUpdateFrame(streamID uint32, weight byte) Frame {
	payload := make([]byte, 5)
	binary.BigEndian.PutUint32(payload[:4], streamID)
	payload[4] = weight
	return Frame{Type: FramePriorityUpdate, Payload: payload}
}

// NewSettingsFrame builds a SETTINGS frame: utf8 "k=v;k=v;...".
func NewSettingsFrame(settings map[string]string) Frame {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	strSort(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+settings[k])
	}
	return Frame{Type: FrameSettings, Payload: []byte(strings.Join(pairs, ";"))}
}

// DecodeSettingsFrame parses a SETTINGS frame's "k=v;k=v;..." payload.
func DecodeSettingsFrame(payload []byte) (map[string]string, error) {
	if !utf8.Valid(payload) {
		return nil, fmt.Errorf("%w: settings payload is not valid UTF-8", ErrFrameMalformed)
	}
	settings := make(map[string]string)
	if len(payload) == 0 {
		return settings, nil
	}
	for _, pair := range strings.Split(string(payload), ";") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("%w: malformed settings pair %q", ErrFrameMalformed, pair)
		}
		settings[kv[0]] = kv[1]
	}
	return settings, nil
}

// strSort is a tiny insertion sort kept local to avoid pulling in
// "sort" for a handful of settings keys; settings maps are small.
func strSort(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// NewDataFrame builds a DATA frame.
func NewDataFrame(body []byte) (Frame, error) {
	if len(body) > 0xFFFF {
		return Frame{}, ErrFrameTooLarge
	}
	return Frame{Type: FrameData, Payload: body}, nil
}

// NewPingFrame builds a PING frame with an optional utf8 payload.
func NewPingFrame(data string) (Frame, error) {
	if !utf8.ValidString(data) {
		return Frame{}, fmt.Errorf("%w: ping data is not valid UTF-8", ErrFrameMalformed)
	}
	return Frame{Type: FramePing, Payload: []byte(data)}, nil
}
