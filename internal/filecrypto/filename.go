package filecrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"

	"github.com/rescale/blindbackup/internal/constants"
)

// filenameEncoding is the base64 alphabet used for encrypted filenames:
// the standard alphabet with '/' replaced by '-', matching the wire
// format's "alphabet using + and -".
var filenameEncoding = base64.NewEncoding(
	"ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+-",
).WithPadding(base64.StdPadding)

// zeroIV is the fixed IV used for filename encryption. Filenames must
// encrypt deterministically so that repeated listings of the same path
// return identical ciphertext; the zero IV is what makes that possible.
var zeroIV = make([]byte, BlockSize)

// EncryptFilename encrypts name deterministically: pad to a
// constants.FilenameBlockSize boundary with PKCS7, encrypt with AES-256-CBC
// under a zero IV, and encode with the filename alphabet. Encrypting the
// same name with the same key always yields the same ciphertext.
func EncryptFilename(key Key, name string) (string, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", err
	}

	padded := pkcs7Pad([]byte(name), constants.FilenameBlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, zeroIV).CryptBlocks(ct, padded)

	return filenameEncoding.EncodeToString(ct), nil
}

// DecryptFilename reverses EncryptFilename.
func DecryptFilename(key Key, enc string) (string, error) {
	ct, err := filenameEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("filecrypto: decode filename: %w", err)
	}
	if len(ct) == 0 || len(ct)%BlockSize != 0 {
		return "", fmt.Errorf("filecrypto: encrypted filename is not block-aligned")
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", err
	}

	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, zeroIV).CryptBlocks(pt, ct)

	unpadded, err := pkcs7Unpad(pt, constants.FilenameBlockSize)
	if err != nil {
		return "", fmt.Errorf("filecrypto: unpad filename: %w", err)
	}
	return string(unpadded), nil
}

// pkcs7Pad pads b to a multiple of blockSize using PKCS#7.
func pkcs7Pad(b []byte, blockSize int) []byte {
	padLen := blockSize - (len(b) % blockSize)
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, b...), padding...)
}

// pkcs7Unpad removes PKCS#7 padding from b, which must be a multiple of
// blockSize.
func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(b))
	}
	padLen := int(b[len(b)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(b) {
		return nil, fmt.Errorf("invalid padding byte %d", padLen)
	}
	for _, p := range b[len(b)-padLen:] {
		if int(p) != padLen {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return b[:len(b)-padLen], nil
}
