package messaging

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

const (
	// JupyterSignatureScheme is the only signature scheme supported by the protocol.
	JupyterSignatureScheme = "hmac-sha256"
)

var (
	ErrNotSupportedSignatureScheme = fmt.Errorf("not supported signature scheme")

	// ErrInvalidHmac indicates that the signature frame was not valid hexadecimal.
	ErrInvalidHmac = fmt.Errorf("hmac signature is not valid hex")

	// ErrBadSignature indicates that the recomputed digest did not match the signature frame.
	ErrBadSignature = fmt.Errorf("hmac signature mismatch")
)

// Session is the process-wide signing context. It is constructed once at kernel
// startup from the connection file and shared, read-only, by every message
// constructor. An empty connection key disables signing and verification
// entirely; this is the protocol's explicit unauthenticated mode, not an error
// fallback.
type Session struct {
	// ID identifies the kernel side of the conversation; stamped into
	// the header of every outgoing message.
	ID string

	// Username stamped into outgoing headers.
	Username string

	key []byte
}

// NewSession creates the kernel's signing session from the connection file key.
func NewSession(key string) *Session {
	var hmacKey []byte
	if len(key) > 0 {
		hmacKey = []byte(key)
	}

	return &Session{
		ID:       uuid.New().String(),
		Username: DefaultUsername,
		key:      hmacKey,
	}
}

// HasKey returns true if the session was configured with an HMAC key.
func (s *Session) HasKey() bool {
	return s.key != nil
}

// Sign computes the lowercase-hex HMAC-SHA256 digest over the given frames,
// in order. The frames must be the four serialized payload frames (header,
// parent header, metadata, content); identities and the delimiter are never
// part of the digest. Returns the empty string when the session has no key.
func (s *Session) Sign(frames [][]byte) string {
	if s.key == nil {
		return ""
	}

	mac := hmac.New(sha256.New, s.key)
	for _, frame := range frames {
		mac.Write(frame)
	}

	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the digest over the given frames and compares it against
// the received signature using a constant-time comparison. Verification is
// skipped, and always succeeds, when the session holds no key.
func (s *Session) Verify(signature []byte, frames [][]byte) error {
	if s.key == nil {
		return nil
	}

	received := make([]byte, hex.DecodedLen(len(signature)))
	if _, err := hex.Decode(received, signature); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHmac, err)
	}

	mac := hmac.New(sha256.New, s.key)
	for _, frame := range frames {
		mac.Write(frame)
	}

	if !hmac.Equal(mac.Sum(nil), received) {
		return ErrBadSignature
	}

	return nil
}
