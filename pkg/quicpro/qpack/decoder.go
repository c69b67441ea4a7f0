package qpack

import (
	"errors"
	"fmt"

	"github.com/Intelligent-Intern/quicpro/pkg/quicpro/config"
)

var (
	ErrMalformedBlock = errors.New("qpack: malformed field block")
)

// Decoder mirrors Encoder's representation bytes, maintaining its own
// dynamic table in lockstep with a correctly-paired Encoder.
type Decoder struct {
	table *DynamicTable
}

// NewDecoder returns a Decoder configured per cfg.
func NewDecoder(cfg *config.QPACKConfig) *Decoder {
	return &Decoder{table: NewDynamicTable(cfg.MaxDynamicTableSize)}
}

// DynamicTable exposes the decoder's table, mainly for tests.
func (d *Decoder) DynamicTable() *DynamicTable { return d.table }

// DecodeFieldList parses a length(2,BE)-prefixed block produced by
// Encoder.EncodeFieldList back into Fields. The block must contain
// exactly one header block and nothing else.
func (d *Decoder) DecodeFieldList(block []byte) ([]Field, error) {
	fields, consumed, err := d.DecodeFieldListPrefix(block)
	if err != nil {
		return nil, err
	}
	if consumed != len(block) {
		return nil, fmt.Errorf("%w: %d trailing bytes after header block", ErrMalformedBlock, len(block)-consumed)
	}
	return fields, nil
}

// DecodeFieldListPrefix parses one length(2,BE)-prefixed header block
// from the front of data and returns how many bytes it consumed,
// allowing a caller to carry a body immediately after the block
// (e.g. http3.Connection's request/response payloads).
func (d *Decoder) DecodeFieldListPrefix(data []byte) ([]Field, int, error) {
	if len(data) < 2 {
		return nil, 0, fmt.Errorf("%w: block shorter than length prefix", ErrMalformedBlock)
	}
	length := int(data[0])<<8 | int(data[1])
	if 2+length > len(data) {
		return nil, 0, fmt.Errorf("%w: length prefix %d exceeds available %d bytes", ErrMalformedBlock, length, len(data)-2)
	}
	body := data[2 : 2+length]

	r := newByteReader(body)
	var fields []Field
	for r.Len() > 0 {
		f, err := d.decodeField(r)
		if err != nil {
			return nil, 0, err
		}
		fields = append(fields, f)
	}
	return fields, 2 + length, nil
}

func (d *Decoder) decodeField(r *byteReader) (Field, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return Field{}, err
	}

	switch tag {
	case repIndexedStatic:
		idx, _, err := DecodeVarint(r, 8)
		if err != nil {
			return Field{}, err
		}
		e, ok := GetStaticEntry(int(idx))
		if !ok {
			return Field{}, ErrIndexOutOfRange
		}
		return Field{Name: e.Name, Value: e.Value}, nil

	case repIndexedDynamic:
		idx, _, err := DecodeVarint(r, 8)
		if err != nil {
			return Field{}, err
		}
		e, err := d.table.Get(idx)
		if err != nil {
			return Field{}, err
		}
		return Field{Name: e.Name, Value: e.Value}, nil

	case repLiteralNameStatic, repLiteralNameDynamic, repLiteralNoNameRef:
		modeByte, err := r.ReadByte()
		if err != nil {
			return Field{}, err
		}
		mode := IndexingMode(modeByte)

		var name string
		switch tag {
		case repLiteralNameStatic:
			idx, _, err := DecodeVarint(r, 8)
			if err != nil {
				return Field{}, err
			}
			e, ok := GetStaticEntry(int(idx))
			if !ok {
				return Field{}, ErrIndexOutOfRange
			}
			name = e.Name
		case repLiteralNameDynamic:
			idx, _, err := DecodeVarint(r, 8)
			if err != nil {
				return Field{}, err
			}
			e, err := d.table.Get(idx)
			if err != nil {
				return Field{}, err
			}
			name = e.Name
		default:
			name, err = d.readString(r)
			if err != nil {
				return Field{}, err
			}
		}

		value, err := d.readString(r)
		if err != nil {
			return Field{}, err
		}

		if mode == IncrementalIndexing {
			if err := d.table.Insert(name, value); err != nil && !errors.Is(err, ErrEntryTooLarge) {
				return Field{}, err
			}
		}
		return Field{Name: name, Value: value, Indexing: mode}, nil

	default:
		return Field{}, fmt.Errorf("%w: unknown representation tag %#x", ErrMalformedBlock, tag)
	}
}

func (d *Decoder) readString(r *byteReader) (string, error) {
	length, flags, err := DecodeVarint(r, 7)
	if err != nil {
		return "", err
	}
	raw := make([]byte, length)
	if length > 0 {
		n, err := r.Read(raw)
		if err != nil || uint64(n) != length {
			return "", fmt.Errorf("%w: truncated string", ErrMalformedBlock)
		}
	}

	if flags&0x80 != 0 {
		decoded, err := HuffmanDecode(raw)
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	}
	return string(raw), nil
}

// SetDynamicTableCapacity resizes the decoder's dynamic table.
func (d *Decoder) SetDynamicTableCapacity(n uint64) {
	d.table.SetCapacity(n)
}
