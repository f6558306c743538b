package anchor

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// Signer is the pluggable attestation backend for Anchors (spec.md §4.8,
// §9: "Signing is a stub; the interface must be pluggable from day one").
type Signer interface {
	// Sign returns an opaque signature over digest.
	Sign(digest []byte) ([]byte, error)
	// ID identifies the signer implementation/key, stored alongside the
	// Anchor so a verifier knows which backend to check against.
	ID() string
}

// HMACSigner is the default signer: local HMAC-SHA-256 with a process key.
// It satisfies spec.md's "default signer is a local HMAC/stub" requirement
// without claiming any real cryptographic attestation guarantee.
type HMACSigner struct {
	key    []byte
	signerID string
}

// NewHMACSigner builds a signer from a key. A nil/empty key generates a
// random ephemeral key (fine for single-process dev use; operators wanting
// stable verification across restarts must configure hmac_key_hex).
func NewHMACSigner(key []byte) (*HMACSigner, error) {
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate hmac key: %w", err)
		}
	}
	return &HMACSigner{key: key, signerID: "hmac-sha256-local"}, nil
}

func (s *HMACSigner) Sign(digest []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(digest)
	return mac.Sum(nil), nil
}

func (s *HMACSigner) ID() string { return s.signerID }
