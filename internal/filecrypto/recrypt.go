package filecrypto

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
)

// Recrypt streams src (a file encrypted under srcKey) into dst
// re-encrypted under dstKey, without buffering the whole plaintext. The
// original-size field is copied verbatim from the source header rather
// than recomputed, so Recrypt is idempotent over the header even though
// the IV and padding bytes change on every call.
func Recrypt(ctx context.Context, srcKey, dstKey Key, src io.Reader, dst io.Writer) error {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(src, header); err != nil {
		return fmt.Errorf("filecrypto: read header: %w", err)
	}
	size := int64(binary.LittleEndian.Uint64(header[:8]))
	srcIV := header[8:]

	pr, pw := io.Pipe()

	decryptErrCh := make(chan error, 1)
	go func() {
		err := streamDecryptBody(ctx, srcKey, srcIV, size, src, pw)
		decryptErrCh <- err
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()

	if err := EncryptFile(ctx, dstKey, size, pr, dst); err != nil {
		pr.CloseWithError(err)
		<-decryptErrCh
		return err
	}

	if err := <-decryptErrCh; err != nil {
		return err
	}
	return nil
}
