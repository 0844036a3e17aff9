// Package anon implements keyed, deterministic anonymization of IP
// addresses and short strings (spec.md §5), grounded on the original
// joy project's anon.c: a process-wide AES-128 key, generated once and
// stored on disk wrapped under a key compiled into the binary.
package anon

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"os"
)

const keySize = 16

// wrappingKey is the key anon.c calls "the decryption key ... stored
// inside the executable" (x[16] in key_init). Anyone who can read both
// the keyfile and this binary can recover the anonymization key; the
// security property this buys is that the keyfile alone, on disk, does
// not reveal it.
var wrappingKey = [keySize]byte{
	0xa9, 0xd1, 0x62, 0x94,
	0x4b, 0x7c, 0x20, 0x18,
	0xac, 0x6d, 0x1a, 0x6b,
	0x42, 0x8a, 0x0b, 0x2e,
}

// Key is the process-wide anonymization key, loaded once via LoadOrCreate.
type Key struct {
	enc cipher.Block
}

// LoadOrCreate reads the 16-byte wrapped key from path, decrypting it
// with the embedded wrapping key; if path does not exist, it generates
// a fresh random key, wraps and persists it (mode 0600, matching
// anon.c's S_IRUSR|S_IWUSR), then returns it.
func LoadOrCreate(path string) (*Key, error) {
	wrapBlock, err := aes.NewCipher(wrappingKey[:])
	if err != nil {
		return nil, fmt.Errorf("anon: init wrapping cipher: %w", err)
	}

	raw, err := os.ReadFile(path)
	var plain [keySize]byte
	switch {
	case err == nil:
		if len(raw) != keySize {
			return nil, fmt.Errorf("anon: keyfile %s has length %d, want %d", path, len(raw), keySize)
		}
		wrapBlock.Decrypt(plain[:], raw)
	case os.IsNotExist(err):
		if _, err := rand.Read(plain[:]); err != nil {
			return nil, fmt.Errorf("anon: generate key: %w", err)
		}
		var wrapped [keySize]byte
		wrapBlock.Encrypt(wrapped[:], plain[:])
		if err := os.WriteFile(path, wrapped[:], 0o600); err != nil {
			return nil, fmt.Errorf("anon: write keyfile %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("anon: read keyfile %s: %w", path, err)
	}

	block, err := aes.NewCipher(plain[:])
	if err != nil {
		return nil, fmt.Errorf("anon: init anonymization cipher: %w", err)
	}
	return &Key{enc: block}, nil
}

// encryptBlock runs one AES-128 block encryption (ECB, single block)
// over pt and returns the 16-byte ciphertext, matching anon.c's direct
// AES_encrypt(pt, c, &key.enc_key) call.
func (k *Key) encryptBlock(pt [keySize]byte) [keySize]byte {
	var c [keySize]byte
	k.enc.Encrypt(c[:], pt[:])
	return c
}
