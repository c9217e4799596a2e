// Package filecrypto implements the blind-backup encryption primitives:
// deterministic filename encryption and randomized, streaming file-body
// encryption, decryption, and re-encryption.
package filecrypto

import (
	"crypto/aes"
	"crypto/sha256"
	"errors"
)

// KeySize is the AES-256 key size in bytes.
const KeySize = 32

// BlockSize is the AES block size in bytes.
const BlockSize = aes.BlockSize

// Key is a provider's symmetric key, derived from a human passphrase.
// It is used directly as an AES-256 key, never salted or stretched, so
// that the same passphrase always yields the same key across processes.
type Key [KeySize]byte

// ErrCorruptFile is returned by DecryptFile when the declared plaintext
// size in the body header exceeds the amount of data actually decrypted.
var ErrCorruptFile = errors.New("filecrypto: corrupt or truncated file")

// DeriveKey derives a provider's symmetric key from a passphrase by
// SHA-256. The result is used directly as an AES-256 key; there is no
// additional stretching, matching the deterministic derivation every
// provider instance must reproduce independently from the same
// passphrase.
func DeriveKey(passphrase string) Key {
	return Key(sha256.Sum256([]byte(passphrase)))
}
