// Package config collects the configuration option sets recognized by
// the record, QUIC manager, and QPACK layers. It follows the builder
// idiom used throughout this stack's TLS config (NewConfig / With*),
// not a flag- or env-based loader: loading configuration from the
// outside world is an external collaborator and out of scope for this
// module.
package config

import "time"

// RecordVersion selects the nominal TLS record version a Record layer
// reports itself as speaking. Only the AEAD record layer is modeled,
// so this is informational, not a real handshake version negotiation.
type RecordVersion string

const (
	TLSv13 RecordVersion = "TLSv1.3"
	TLSv12 RecordVersion = "TLSv1.2"
)

// RecordConfig configures an AEAD record-protection instance.
type RecordConfig struct {
	Version           RecordVersion
	Key               []byte // 32 bytes
	IV                []byte // 12 bytes
	RotationInterval  time.Duration
	HandshakeTimeout  time.Duration
	CAFile            string
	CertFile          string
	KeyFile           string
}

// NewRecordConfig returns a RecordConfig with sensible defaults:
// TLS 1.3, 1 hour key rotation, 5 second handshake timeout.
func NewRecordConfig(key, iv []byte) *RecordConfig {
	return &RecordConfig{
		Version:          TLSv13,
		Key:              key,
		IV:               iv,
		RotationInterval: time.Hour,
		HandshakeTimeout: 5 * time.Second,
	}
}

func (c *RecordConfig) WithRotationInterval(d time.Duration) *RecordConfig {
	c.RotationInterval = d
	return c
}

func (c *RecordConfig) WithHandshakeTimeout(d time.Duration) *RecordConfig {
	c.HandshakeTimeout = d
	return c
}

func (c *RecordConfig) WithCertificates(cafile, certfile, keyfile string) *RecordConfig {
	c.CAFile = cafile
	c.CertFile = certfile
	c.KeyFile = keyfile
	return c
}

// ManagerConfig configures a QUIC manager (the composition root).
type ManagerConfig struct {
	ConnectionID      []byte
	HeaderFields      []string // e.g. "stream_id"
	EventLoopWorkers  int
	HandshakeTimeout  time.Duration
	AdvancedFeatures  map[string]string
}

// NewManagerConfig returns a ManagerConfig with defaults: 4 event loop
// workers, 5 second handshake timeout, and a "stream_id" header field.
func NewManagerConfig(connectionID []byte) *ManagerConfig {
	return &ManagerConfig{
		ConnectionID:     connectionID,
		HeaderFields:     []string{"stream_id"},
		EventLoopWorkers: 4,
		HandshakeTimeout: 5 * time.Second,
	}
}

func (c *ManagerConfig) WithEventLoopWorkers(n int) *ManagerConfig {
	c.EventLoopWorkers = n
	return c
}

func (c *ManagerConfig) WithHandshakeTimeout(d time.Duration) *ManagerConfig {
	c.HandshakeTimeout = d
	return c
}

func (c *ManagerConfig) WithAdvancedFeature(key, value string) *ManagerConfig {
	if c.AdvancedFeatures == nil {
		c.AdvancedFeatures = make(map[string]string)
	}
	c.AdvancedFeatures[key] = value
	return c
}

// QPACKConfig configures a QPACK encoder.
type QPACKConfig struct {
	MaxDynamicTableSize uint64
	Auditing            bool
}

// NewQPACKConfig returns a QPACKConfig with a 4096-octet dynamic
// table and auditing disabled.
func NewQPACKConfig() *QPACKConfig {
	return &QPACKConfig{MaxDynamicTableSize: 4096}
}

func (c *QPACKConfig) WithMaxDynamicTableSize(n uint64) *QPACKConfig {
	c.MaxDynamicTableSize = n
	return c
}

func (c *QPACKConfig) WithAuditing(enabled bool) *QPACKConfig {
	c.Auditing = enabled
	return c
}
