// Package secrets holds every hashing and token-generation primitive of the
// gateway: content-addressed credential hashes, bearer tokens, pairing
// codes and operator tokens. Raw secrets never reach the store; the
// persisted forms are HMAC, SHA-256 or argon2id digests.
package secrets

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Hasher derives deterministic, keyed credential hashes. Determinism is
// required: lookups address credentials purely by hash.
type Hasher struct {
	key []byte
}

func NewHasher(key string) *Hasher {
	return &Hasher{key: []byte(key)}
}

// Normalize lowercases the raw value and strips everything that is not a
// letter or digit, so "AB-12 cd" and "ab12cd" address the same credential.
func Normalize(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CredentialHash returns the hex HMAC-SHA256 of "type:normalized(value)".
func (h *Hasher) CredentialHash(credType, raw string) string {
	m := hmac.New(sha256.New, h.key)
	m.Write([]byte(credType + ":" + Normalize(raw)))
	return hex.EncodeToString(m.Sum(nil))
}

// Mask keeps the last four characters of a value, e.g. "****1222". Shorter
// values are masked entirely.
func Mask(raw string) string {
	if len(raw) <= 4 {
		return strings.Repeat("*", len(raw))
	}
	return "****" + raw[len(raw)-4:]
}

// NonceHash is the stored form of a client-supplied event nonce.
func NonceHash(nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	return hex.EncodeToString(sum[:])
}

// NewToken returns a random URL-safe token of nbytes entropy.
func NewToken(nbytes int) (string, error) {
	if nbytes < 16 {
		return "", errors.New("token size too small")
	}
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewPairingCode returns a short human-typable code (hex, uppercase),
// e.g. "7F3A-91C2-40BD".
func NewPairingCode() (string, error) {
	var raw [6]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	s := strings.ToUpper(hex.EncodeToString(raw[:]))
	return fmt.Sprintf("%s-%s-%s", s[0:4], s[4:8], s[8:12]), nil
}

// TokenHash is the stored form of a device bearer token. Plain SHA-256 is
// enough here: the token carries 256 bits of entropy, so there is nothing
// to brute-force, and verification happens on every device call.
func TokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// VerifyTokenHash compares a candidate token against a stored hash in
// constant time.
func VerifyTokenHash(storedHex, candidate string) bool {
	want, err := hex.DecodeString(storedHex)
	if err != nil {
		return false
	}
	got := sha256.Sum256([]byte(candidate))
	return subtle.ConstantTimeCompare(want, got[:]) == 1
}
