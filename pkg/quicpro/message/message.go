// Package message defines the application-level payload that enters the
// send pipeline and leaves the receive pipeline.
package message

import "fmt"

// ContentEncoding names the body codec applied to a Message's bytes
// before it is carried in an HTTP/3 DATA frame.
type ContentEncoding uint8

const (
	EncodingNone ContentEncoding = iota
	EncodingBrotli
	EncodingGzip
)

func (e ContentEncoding) String() string {
	switch e {
	case EncodingBrotli:
		return "br"
	case EncodingGzip:
		return "gzip"
	default:
		return "identity"
	}
}

// KeyValue is one entry of a Structured content body. Order is
// significant: Structured preserves insertion order rather than
// sorting, so callers control the debug-formatted representation.
type KeyValue struct {
	Key   string
	Value string
}

// Content is the closed sum type replacing the original's dynamically
// typed Message.content. Exactly one of the three constructors below
// produces a valid Content value; the zero value is Text("").
type Content struct {
	kind      contentKind
	text      string
	binary    []byte
	structued []KeyValue
}

type contentKind uint8

const (
	kindText contentKind = iota
	kindBinary
	kindStructured
)

// Text wraps a string payload.
func Text(s string) Content { return Content{kind: kindText, text: s} }

// Binary wraps an opaque byte payload.
func Binary(b []byte) Content { return Content{kind: kindBinary, binary: b} }

// Structured wraps an ordered set of key-value pairs.
func Structured(kv []KeyValue) Content { return Content{kind: kindStructured, structued: kv} }

// Format renders Content as its debug wire form: Frame(test) for
// text, and a Go-syntax-like rendering wrapped the same way for the
// other variants (Frame({...}) for Structured, and so on).
func (c Content) Format() string {
	return fmt.Sprintf("Frame(%s)", c.formatValue())
}

func (c Content) formatValue() string {
	switch c.kind {
	case kindText:
		return c.text
	case kindBinary:
		return fmt.Sprintf("%x", c.binary)
	case kindStructured:
		out := "{"
		for i, kv := range c.structued {
			if i > 0 {
				out += ", "
			}
			out += fmt.Sprintf("%s: %s", kv.Key, kv.Value)
		}
		return out + "}"
	default:
		return ""
	}
}

// Bytes returns the raw bytes to be carried as the HTTP/3 body, prior
// to any content-encoding.
func (c Content) Bytes() []byte {
	switch c.kind {
	case kindText:
		return []byte(c.text)
	case kindBinary:
		return c.binary
	case kindStructured:
		return []byte(c.formatValue())
	default:
		return nil
	}
}

// Message is produced once by an application, consumed once by the
// encoder, and never mutated afterward.
type Message struct {
	Content  Content
	Encoding ContentEncoding
}

// New builds a Message with no body encoding.
func New(c Content) Message {
	return Message{Content: c, Encoding: EncodingNone}
}

// WithEncoding returns a copy of the Message tagged with a body codec.
func (m Message) WithEncoding(e ContentEncoding) Message {
	m.Encoding = e
	return m
}
