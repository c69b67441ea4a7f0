// Package record implements the AEAD record-protection layer: one
// encrypted record per QUIC packet, keyed by a TLSConfig and a
// monotonic per-instance sequence number.
package record

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/Intelligent-Intern/quicpro/pkg/quicpro/config"
)

var (
	ErrRecordTooShort   = errors.New("record: record too short")
	ErrDecryptionFailed = errors.New("record: decryption failed")
	ErrInvalidKeyLength = errors.New("record: key must be 32 bytes")
	ErrInvalidIVLength  = errors.New("record: iv must be 12 bytes")
)

// Cipher names the AEAD cipher a Protector seals records with. A real
// TLS 1.3 handshake would derive keys for either AES-GCM or
// ChaCha20-Poly1305 depending on the negotiated cipher suite; this
// layer makes the same choice explicit since there is no real
// handshake here to negotiate it.
type Cipher uint8

// New requires a 32-byte key, so both AES values select AES-256-GCM;
// CipherAES128GCM does not give AES-128.
const (
	CipherAES128GCM Cipher = iota
	CipherAES256GCM
	CipherChaCha20Poly1305
)

// TLSConfig is the immutable symmetric key material a Protector is
// constructed from. Replaced atomically on rotation.
type TLSConfig struct {
	Key    []byte // 32 bytes
	IV     []byte // 12 bytes
	Cipher Cipher
}

// RotationObserver is notified after an atomic key swap.
type RotationObserver func(newConfig TLSConfig)

// Protector performs per-record AEAD encryption/decryption with a
// strictly increasing sequence number and scheduled key rotation.
//
// A Protector is stateful (the sequence counter) and must either be
// used from a single sender context or externally guarded — the
// internal mutex here makes it safe to share across goroutines at the
// cost of serializing every Encrypt/Decrypt call.
type Protector struct {
	mu       sync.Mutex
	cfg      TLSConfig
	aead     cipher.AEAD
	seq      uint64
	rotation time.Duration
	lastRot  time.Time
	observer RotationObserver
}

// New constructs a Protector from the given key material. The key must
// be 32 bytes and the IV 12 bytes.
func New(cfg TLSConfig, rotationInterval time.Duration) (*Protector, error) {
	if len(cfg.Key) != 32 {
		return nil, ErrInvalidKeyLength
	}
	if len(cfg.IV) != 12 {
		return nil, ErrInvalidIVLength
	}
	aead, err := newAEAD(cfg)
	if err != nil {
		return nil, err
	}
	return &Protector{
		cfg:      cfg,
		aead:     aead,
		rotation: rotationInterval,
		lastRot:  time.Now(),
	}, nil
}

// NewFromConfig builds a Protector from a config.RecordConfig,
// defaulting to AES-256-GCM since RecordConfig carries no cipher
// selector of its own.
func NewFromConfig(cfg *config.RecordConfig) (*Protector, error) {
	return New(TLSConfig{Key: cfg.Key, IV: cfg.IV, Cipher: CipherAES256GCM}, cfg.RotationInterval)
}

func newAEAD(cfg TLSConfig) (cipher.AEAD, error) {
	switch cfg.Cipher {
	case CipherChaCha20Poly1305:
		return chacha20poly1305.New(cfg.Key)
	default:
		block, err := aes.NewCipher(cfg.Key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	}
}

// OnRotate registers an observer invoked after each key rotation.
func (p *Protector) OnRotate(obs RotationObserver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = obs
}

// nonce derives the 12-byte AEAD nonce by XOR-ing the IV with the
// big-endian 12-byte representation of seq.
func nonce(iv []byte, seq uint64) []byte {
	n := make([]byte, 12)
	copy(n, iv)
	var seqBytes [12]byte
	binary.BigEndian.PutUint64(seqBytes[4:], seq)
	for i := range n {
		n[i] ^= seqBytes[i]
	}
	return n
}

// Encrypt seals payload under the current key and the current
// sequence number, then increments the sequence number regardless of
// outcome. Output: seq(8, BE) || ciphertext+tag.
func (p *Protector) Encrypt(payload []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.maybeRotateLocked()

	seq := p.seq
	p.seq++

	n := nonce(p.cfg.IV, seq)
	sealed := p.aead.Seal(nil, n, payload, nil)

	out := make([]byte, 8+len(sealed))
	binary.BigEndian.PutUint64(out[:8], seq)
	copy(out[8:], sealed)
	return out, nil
}

// Decrypt parses the sequence number prefix, derives the nonce
// identically, and opens the AEAD ciphertext. Any tag mismatch is
// non-retryable for that record.
func (p *Protector) Decrypt(record []byte) ([]byte, error) {
	if len(record) < 9 {
		return nil, ErrRecordTooShort
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	seq := binary.BigEndian.Uint64(record[:8])
	n := nonce(p.cfg.IV, seq)

	plaintext, err := p.aead.Open(nil, n, record[8:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// maybeRotateLocked checks the rotation policy and, if due, derives a
// fresh key via HKDF-Expand from the current one and resets the
// sequence counter to zero. Must be called with p.mu held.
func (p *Protector) maybeRotateLocked() {
	if p.rotation <= 0 {
		return
	}
	if time.Since(p.lastRot) < p.rotation {
		return
	}

	next := hkdf.Expand(sha256.New, p.cfg.Key, []byte("quicpro record rotation"))
	newKey := make([]byte, 32)
	next.Read(newKey)

	newCfg := TLSConfig{Key: newKey, IV: p.cfg.IV, Cipher: p.cfg.Cipher}
	aead, err := newAEAD(newCfg)
	if err != nil {
		// Non-retryable: keep the old key rather than expose a broken AEAD.
		return
	}

	p.cfg = newCfg
	p.aead = aead
	p.seq = 0
	p.lastRot = time.Now()

	if p.observer != nil {
		p.observer(newCfg)
	}
}

// Rotate forces an immediate key rotation, bypassing the wall-clock
// interval. Useful for tests and for explicit operator-triggered
// rotation.
func (p *Protector) Rotate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastRot = time.Time{}
	p.maybeRotateLocked()
}
