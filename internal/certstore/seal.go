package certstore

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// Seal encrypts plaintext with the store master key. Output is
// base64(nonce || ciphertext).
func Seal(key [32]byte, plaintext []byte) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal
func Open(key [32]byte, sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("sealed value is not valid base64: %w", err)
	}
	if len(raw) < 24 {
		return nil, errors.New("sealed value too short")
	}

	var nonce [24]byte
	copy(nonce[:], raw[:24])

	plaintext, ok := secretbox.Open(nil, raw[24:], &nonce, &key)
	if !ok {
		return nil, errors.New("failed to open sealed value (wrong key or corrupted data)")
	}
	return plaintext, nil
}
