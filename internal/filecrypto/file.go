package filecrypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rescale/blindbackup/internal/constants"
	"github.com/rescale/blindbackup/internal/util/buffers"
)

// headerSize is the on-disk body header: 8-byte LE original size plus a
// 16-byte IV.
const headerSize = 8 + BlockSize

// EncryptFile streams plaintext from src into dst as: an 8-byte
// little-endian original size, a fresh random 16-byte IV, then
// AES-256-CBC ciphertext. size must equal the number of bytes src will
// yield; it is written into the header so DecryptFile can later
// truncate away the random padding in the final block. The last partial
// block, if any, is padded with random bytes rather than PKCS7, since
// the plaintext size already travels in the header.
func EncryptFile(ctx context.Context, key Key, size int64, src io.Reader, dst io.Writer) error {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return err
	}

	iv := make([]byte, BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return fmt.Errorf("filecrypto: generate iv: %w", err)
	}

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(header[:8], uint64(size))
	copy(header[8:], iv)
	if _, err := dst.Write(header); err != nil {
		return err
	}

	enc := cipher.NewCBCEncrypter(block, iv)

	buf := buffers.GetSmallBuffer()
	defer buffers.PutSmallBuffer(buf)

	var leftover []byte
	var processed int64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := src.Read(*buf)
		if n > 0 {
			processed += int64(n)
			data := append(leftover, (*buf)[:n]...)

			nBlocks := (len(data) / BlockSize) * BlockSize
			if nBlocks > 0 {
				ct := make([]byte, nBlocks)
				enc.CryptBlocks(ct, data[:nBlocks])
				if _, err := dst.Write(ct); err != nil {
					return err
				}
			}
			leftover = append(leftover[:0], data[nBlocks:]...)
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	if len(leftover) > 0 {
		padding := make([]byte, BlockSize-len(leftover))
		if _, err := rand.Read(padding); err != nil {
			return fmt.Errorf("filecrypto: generate final-block padding: %w", err)
		}
		final := append(leftover, padding...)
		ct := make([]byte, BlockSize)
		enc.CryptBlocks(ct, final)
		if _, err := dst.Write(ct); err != nil {
			return err
		}
	}

	if processed != size {
		return fmt.Errorf("filecrypto: encrypted %d bytes, expected %d: %w", processed, size, ErrCorruptFile)
	}
	return nil
}

// DecryptFile reverses EncryptFile: it reads the header, CBC-decrypts
// the remaining stream, and writes exactly the declared original size
// to dst, discarding the random padding in the final block. It returns
// ErrCorruptFile if src yields fewer plaintext bytes than declared, or
// a ciphertext that is not block-aligned.
func DecryptFile(ctx context.Context, key Key, src io.Reader, dst io.Writer) error {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(src, header); err != nil {
		return fmt.Errorf("filecrypto: read header: %w", err)
	}
	size := int64(binary.LittleEndian.Uint64(header[:8]))
	iv := header[8:]

	return streamDecryptBody(ctx, key, iv, size, src, dst)
}

// streamDecryptBody CBC-decrypts src (positioned right after the header)
// into dst, writing exactly size plaintext bytes. Shared by DecryptFile
// and Recrypt, which reads the header itself to preserve it verbatim.
func streamDecryptBody(ctx context.Context, key Key, iv []byte, size int64, src io.Reader, dst io.Writer) error {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return err
	}
	dec := cipher.NewCBCDecrypter(block, iv)

	buf := buffers.GetSmallBuffer()
	defer buffers.PutSmallBuffer(buf)

	var leftover []byte
	var written, remaining int64 = 0, size

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := src.Read(*buf)
		if n > 0 {
			data := append(leftover, (*buf)[:n]...)

			nBlocks := (len(data) / BlockSize) * BlockSize
			if nBlocks > 0 {
				pt := make([]byte, nBlocks)
				dec.CryptBlocks(pt, data[:nBlocks])

				toWrite := pt
				if int64(len(toWrite)) > remaining {
					toWrite = toWrite[:remaining]
				}
				if len(toWrite) > 0 {
					if _, err := dst.Write(toWrite); err != nil {
						return err
					}
					written += int64(len(toWrite))
					remaining -= int64(len(toWrite))
				}
			}
			leftover = append(leftover[:0], data[nBlocks:]...)
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	if len(leftover) != 0 {
		return fmt.Errorf("filecrypto: ciphertext not block-aligned: %w", ErrCorruptFile)
	}
	if written < size {
		return fmt.Errorf("filecrypto: decrypted %d of %d declared bytes: %w", written, size, ErrCorruptFile)
	}
	return nil
}

// EncryptionChunkSize exposes the streaming chunk size used for body
// encryption and decryption, for callers that size their own I/O around it.
const EncryptionChunkSize = constants.EncryptionChunkSize
