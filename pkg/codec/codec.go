// Package codec implements the reversible transform applied to message bodies
// on the wire. Encoded values carry a tag so legacy plaintext can be passed
// through untouched.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// Tag prefixes every encoded body.
const Tag = "enc:v1:"

var ErrMalformed = errors.New("codec: malformed payload")

// Codec encrypts bodies with AES-256-GCM under a shared key.
type Codec struct {
	aead cipher.AEAD
}

// New builds a Codec from a 32-byte key encoded as hex.
func New(hexKey string) (*Codec, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("decoding codec key: %w", err)
	}
	if len(key) != 32 {
		return nil, errors.New("codec key must be 32 bytes (AES-256)")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encode returns the tagged wire form of plaintext.
func (c *Codec) Encode(plaintext string) string {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(fmt.Sprintf("codec: reading nonce: %v", err))
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return Tag + base64.RawURLEncoding.EncodeToString(sealed)
}

// Decode recovers plaintext from a tagged value. It never fails: untagged
// input and input that cannot be opened are returned unchanged.
func (c *Codec) Decode(wire string) string {
	if !IsEncoded(wire) {
		return wire
	}
	plain, err := c.open(wire)
	if err != nil {
		log.Warn().Err(err).Int("len", len(wire)).Msg("codec: returning undecodable body as-is")
		return wire
	}
	return plain
}

func (c *Codec) open(wire string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(wire, Tag))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", ErrMalformed
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt content: %w", err)
	}
	return string(plain), nil
}

// IsEncoded reports whether wire carries the encoded tag.
func IsEncoded(wire string) bool {
	return strings.HasPrefix(wire, Tag)
}
