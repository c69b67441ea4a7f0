// Package qpack implements a simplified QPACK-style header compressor:
// varint integers, RFC 7541 Huffman coding, a 99-entry static table,
// and a front-insert/tail-evict dynamic table, composed into an
// Encoder/Decoder pair. The wire representation uses its own tagged
// bytes rather than RFC 9204's encoded field section prefix and
// post-base indexing scheme.
package qpack

import (
	"errors"
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Intelligent-Intern/quicpro/pkg/quicpro/config"
)

// Representation tags. Each field line begins with exactly one of
// these.
const (
	repIndexedStatic       byte = 0x01
	repIndexedDynamic      byte = 0x02
	repLiteralNameStatic   byte = 0x03
	repLiteralNameDynamic  byte = 0x04
	repLiteralNoNameRef    byte = 0x05
)

// IndexingMode controls whether an encoded literal is remembered in
// the dynamic table for future reference.
type IndexingMode byte

const (
	IncrementalIndexing IndexingMode = 0x00
	WithoutIndexing     IndexingMode = 0x10
	NeverIndexed        IndexingMode = 0x20
)

// Field is one header name/value pair submitted for encoding.
type Field struct {
	Name     string
	Value    string
	Indexing IndexingMode
}

var (
	ErrAuditMismatch = errors.New("qpack: encoded block failed round-trip audit")
)

// sensitiveNames are forced to NeverIndexed regardless of the caller's
// requested indexing mode.
var sensitiveNames = map[string]bool{
	"authorization": true,
	"cookie":        true,
}

var headerCaser = cases.Lower(language.Und)

// Encoder turns Fields into a QPACK-style wire block, maintaining its
// own dynamic table across calls.
type Encoder struct {
	table   *DynamicTable
	cfg     *config.QPACKConfig
	huffman bool
}

// NewEncoder returns an Encoder configured per cfg, Huffman-coding
// string literals whenever doing so is smaller than the raw bytes.
func NewEncoder(cfg *config.QPACKConfig) *Encoder {
	return &Encoder{
		table:   NewDynamicTable(cfg.MaxDynamicTableSize),
		cfg:     cfg,
		huffman: true,
	}
}

// DynamicTable exposes the encoder's table, mainly for tests.
func (e *Encoder) DynamicTable() *DynamicTable { return e.table }

// EncodeFieldList encodes fields into a single length-prefixed block:
// length(2,BE) || field-line-bytes... If auditing is enabled, the
// block is decoded back and compared against fields before returning,
// surfacing ErrAuditMismatch on divergence.
func (e *Encoder) EncodeFieldList(fields []Field) ([]byte, error) {
	var auditTable *DynamicTable
	if e.cfg.Auditing {
		auditTable = e.cloneTableForAudit()
	}

	var body []byte
	for _, f := range fields {
		encoded, err := e.encodeField(f)
		if err != nil {
			return nil, err
		}
		body = append(body, encoded...)
	}

	if len(body) > 0xFFFF {
		return nil, fmt.Errorf("qpack: encoded block too large (%d bytes)", len(body))
	}
	out := make([]byte, 2, 2+len(body))
	out[0] = byte(len(body) >> 8)
	out[1] = byte(len(body))
	out = append(out, body...)

	if e.cfg.Auditing {
		dec := NewDecoder(config.NewQPACKConfig().WithMaxDynamicTableSize(e.cfg.MaxDynamicTableSize))
		// The decoder must observe the same dynamic table history as
		// this encoder for indexed references to resolve; the snapshot
		// taken before encoding gives the audit decode the table state
		// this block was encoded against, and the decode replays the
		// block's own insertions.
		dec.table = auditTable
		got, err := dec.DecodeFieldList(out)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuditMismatch, err)
		}
		if !fieldsEqual(got, fields) {
			return nil, ErrAuditMismatch
		}
	}

	return out, nil
}

func (e *Encoder) cloneTableForAudit() *DynamicTable {
	clone := NewDynamicTable(e.table.Capacity())
	entries := make([]StaticEntry, e.table.Len())
	e.table.mu.Lock()
	copy(entries, e.table.entries)
	e.table.mu.Unlock()
	for i := len(entries) - 1; i >= 0; i-- {
		clone.Insert(entries[i].Name, entries[i].Value)
	}
	return clone
}

func fieldsEqual(got []Field, want []Field) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i].Name != want[i].Name || got[i].Value != want[i].Value {
			return false
		}
	}
	return true
}

func (e *Encoder) encodeField(f Field) ([]byte, error) {
	name := headerCaser.String(f.Name)
	value := f.Value

	mode := f.Indexing
	if sensitiveNames[name] {
		mode = NeverIndexed
	}

	if mode == IncrementalIndexing {
		if idx, exact := FindStaticIndex(name, value); exact {
			return e.encodeIndexed(repIndexedStatic, uint64(idx))
		}
		if idx, exact := e.table.Find(name, value); exact {
			return e.encodeIndexed(repIndexedDynamic, idx)
		}
		return e.encodeLiteralIncremental(name, value)
	}

	return e.encodeLiteralNonIncremental(name, value, mode)
}

func (e *Encoder) encodeIndexed(tag byte, index uint64) ([]byte, error) {
	out := []byte{tag}
	return EncodeVarint(out, index, 8, 0)
}

func (e *Encoder) encodeLiteralIncremental(name, value string) ([]byte, error) {
	var out []byte
	var err error

	if idx, _ := FindStaticIndex(name, ""); idx != -1 && staticTable[idx].Name == name {
		out = []byte{repLiteralNameStatic, byte(IncrementalIndexing)}
		if out, err = EncodeVarint(out, uint64(idx), 8, 0); err != nil {
			return nil, err
		}
	} else if idx, exact := e.table.Find(name, ""); idx != 0 || exact {
		out = []byte{repLiteralNameDynamic, byte(IncrementalIndexing)}
		if out, err = EncodeVarint(out, idx, 8, 0); err != nil {
			return nil, err
		}
	} else {
		out = []byte{repLiteralNoNameRef, byte(IncrementalIndexing)}
		if out, err = e.appendString(out, name); err != nil {
			return nil, err
		}
	}

	if out, err = e.appendString(out, value); err != nil {
		return nil, err
	}

	if err := e.table.Insert(name, value); err != nil && !errors.Is(err, ErrEntryTooLarge) {
		return nil, err
	}
	return out, nil
}

func (e *Encoder) encodeLiteralNonIncremental(name, value string, mode IndexingMode) ([]byte, error) {
	out := []byte{repLiteralNoNameRef, byte(mode)}
	var err error
	if out, err = e.appendString(out, name); err != nil {
		return nil, err
	}
	if out, err = e.appendString(out, value); err != nil {
		return nil, err
	}
	return out, nil
}

// appendString appends a length-prefixed string, Huffman-coding it
// whenever that is strictly smaller than the raw bytes.
func (e *Encoder) appendString(dst []byte, s string) ([]byte, error) {
	raw := []byte(s)
	useHuffman := e.huffman && len(raw) > 0 && HuffmanEncodedLen(raw) < len(raw)

	var payload []byte
	var flag byte
	if useHuffman {
		payload = HuffmanEncode(raw)
		flag = 0x80
	} else {
		payload = raw
	}

	dst, err := EncodeVarint(dst, uint64(len(payload)), 7, flag)
	if err != nil {
		return nil, err
	}
	return append(dst, payload...), nil
}

// SetDynamicTableCapacity resizes the encoder's dynamic table.
func (e *Encoder) SetDynamicTableCapacity(n uint64) {
	e.table.SetCapacity(n)
}
