package qpack

import (
	"testing"

	"github.com/Intelligent-Intern/quicpro/pkg/quicpro/config"
)

func newPair() (*Encoder, *Decoder) {
	cfg := config.NewQPACKConfig()
	return NewEncoder(cfg), NewDecoder(config.NewQPACKConfig())
}

func TestEncodeDecodeStaticExactMatch(t *testing.T) {
	enc, dec := newPair()
	fields := []Field{{Name: ":method", Value: "GET"}}

	block, err := enc.EncodeFieldList(fields)
	if err != nil {
		t.Fatalf("EncodeFieldList: %v", err)
	}
	got, err := dec.DecodeFieldList(block)
	if err != nil {
		t.Fatalf("DecodeFieldList: %v", err)
	}
	if len(got) != 1 || got[0].Name != ":method" || got[0].Value != "GET" {
		t.Fatalf("got %+v", got)
	}
	// A static exact match is the smallest representation: tag + 1-byte index.
	if len(block) != 2+2 {
		t.Fatalf("expected a 2-byte body for an indexed-static field, got %d total bytes", len(block))
	}
}

func TestEncodeDecodeLiteralWithoutNameRef(t *testing.T) {
	enc, dec := newPair()
	fields := []Field{{Name: "x-custom-header", Value: "some-value"}}

	block, err := enc.EncodeFieldList(fields)
	if err != nil {
		t.Fatalf("EncodeFieldList: %v", err)
	}
	got, err := dec.DecodeFieldList(block)
	if err != nil {
		t.Fatalf("DecodeFieldList: %v", err)
	}
	if len(got) != 1 || got[0].Name != "x-custom-header" || got[0].Value != "some-value" {
		t.Fatalf("got %+v", got)
	}
	if enc.DynamicTable().Len() != 1 || dec.DynamicTable().Len() != 1 {
		t.Fatalf("expected both tables to have inserted the new entry in lockstep")
	}
}

func TestEncodeDecodeRepeatUsesDynamicTable(t *testing.T) {
	enc, dec := newPair()
	first, err := enc.EncodeFieldList([]Field{{Name: "x-trace-id", Value: "abc123"}})
	if err != nil {
		t.Fatalf("EncodeFieldList 1: %v", err)
	}
	if _, err := dec.DecodeFieldList(first); err != nil {
		t.Fatalf("DecodeFieldList 1: %v", err)
	}

	second, err := enc.EncodeFieldList([]Field{{Name: "x-trace-id", Value: "abc123"}})
	if err != nil {
		t.Fatalf("EncodeFieldList 2: %v", err)
	}
	got, err := dec.DecodeFieldList(second)
	if err != nil {
		t.Fatalf("DecodeFieldList 2: %v", err)
	}
	if got[0].Value != "abc123" {
		t.Fatalf("got %+v", got)
	}
	// Second encode should be an indexed-dynamic reference: tag + 1-byte index.
	if len(second) != 2+2 {
		t.Fatalf("expected a 2-byte body for a repeated header, got %d total bytes", len(second))
	}
}

func TestSensitiveHeadersAlwaysNeverIndexed(t *testing.T) {
	enc, dec := newPair()
	fields := []Field{
		{Name: "Authorization", Value: "Bearer secret", Indexing: IncrementalIndexing},
		{Name: "Cookie", Value: "session=xyz", Indexing: IncrementalIndexing},
	}
	block, err := enc.EncodeFieldList(fields)
	if err != nil {
		t.Fatalf("EncodeFieldList: %v", err)
	}
	if enc.DynamicTable().Len() != 0 {
		t.Fatalf("expected sensitive headers never to be inserted into the dynamic table, got %d entries", enc.DynamicTable().Len())
	}

	got, err := dec.DecodeFieldList(block)
	if err != nil {
		t.Fatalf("DecodeFieldList: %v", err)
	}
	if got[0].Name != "authorization" || got[0].Value != "Bearer secret" {
		t.Fatalf("got %+v", got[0])
	}
	if got[0].Indexing != NeverIndexed {
		t.Fatalf("expected decoded indexing mode NeverIndexed, got %v", got[0].Indexing)
	}
}

func TestHeaderNameLowercased(t *testing.T) {
	enc, dec := newPair()
	block, err := enc.EncodeFieldList([]Field{{Name: "X-Request-Id", Value: "42"}})
	if err != nil {
		t.Fatalf("EncodeFieldList: %v", err)
	}
	got, err := dec.DecodeFieldList(block)
	if err != nil {
		t.Fatalf("DecodeFieldList: %v", err)
	}
	if got[0].Name != "x-request-id" {
		t.Fatalf("expected lowercased name, got %q", got[0].Name)
	}
}

func TestAuditingDetectsConsistentRoundTrip(t *testing.T) {
	cfg := config.NewQPACKConfig().WithAuditing(true)
	enc := NewEncoder(cfg)
	if _, err := enc.EncodeFieldList([]Field{{Name: "x-a", Value: "1"}}); err != nil {
		t.Fatalf("EncodeFieldList with auditing: %v", err)
	}
}

func TestDynamicTableSingleEntryAfterOneInsert(t *testing.T) {
	enc, dec := newPair()
	block, err := enc.EncodeFieldList([]Field{{Name: "x-single", Value: "entry"}})
	if err != nil {
		t.Fatalf("EncodeFieldList: %v", err)
	}
	if _, err := dec.DecodeFieldList(block); err != nil {
		t.Fatalf("DecodeFieldList: %v", err)
	}
	if enc.DynamicTable().Len() != 1 {
		t.Fatalf("expected exactly one dynamic table entry, got %d", enc.DynamicTable().Len())
	}
	e, err := dec.DynamicTable().Get(1)
	if err != nil || e.Name != "x-single" || e.Value != "entry" {
		t.Fatalf("got %+v err=%v", e, err)
	}
}
