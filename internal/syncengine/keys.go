package syncengine

import (
	"fmt"

	"github.com/rescale/blindbackup/internal/filecrypto"
	"github.com/rescale/blindbackup/internal/pathutil"
)

// EncryptPath encrypts each of rel's components under key, or returns
// rel unchanged if key is nil. Exported so continuous sync can re-encrypt
// an event's path into a provider's ciphertext namespace before drilling
// a clone into it.
func EncryptPath(key *filecrypto.Key, rel pathutil.RelPath) (pathutil.RelPath, error) {
	return encryptPath(key, rel)
}

// encryptPath encrypts each of rel's components under key, or returns
// rel unchanged if key is nil. Compare works in the plaintext namespace
// throughout; this converts a plaintext path to the ciphertext form a
// provider's ListDir/GetInfo must be called with.
func encryptPath(key *filecrypto.Key, rel pathutil.RelPath) (pathutil.RelPath, error) {
	if key == nil || rel.IsRoot() {
		return rel, nil
	}
	out := make(pathutil.RelPath, len(rel))
	for i, c := range rel {
		enc, err := filecrypto.EncryptFilename(*key, c)
		if err != nil {
			return nil, fmt.Errorf("syncengine: encrypt path component %q: %w", c, err)
		}
		out[i] = enc
	}
	return out, nil
}

// decryptNames decrypts each name under key, or returns names unchanged
// if key is nil.
func decryptNames(key *filecrypto.Key, names []string) ([]string, error) {
	if key == nil {
		return names, nil
	}
	out := make([]string, len(names))
	for i, n := range names {
		dec, err := filecrypto.DecryptFilename(*key, n)
		if err != nil {
			return nil, fmt.Errorf("syncengine: decrypt name %q: %w", n, err)
		}
		out[i] = dec
	}
	return out, nil
}

// encryptAll encrypts a batch of plaintext relative paths under key, for
// handing scheduled work back to a provider's SendChanges.
func encryptAll(key *filecrypto.Key, paths []pathutil.RelPath) ([]pathutil.RelPath, error) {
	if key == nil {
		return paths, nil
	}
	out := make([]pathutil.RelPath, len(paths))
	for i, p := range paths {
		enc, err := encryptPath(key, p)
		if err != nil {
			return nil, err
		}
		out[i] = enc
	}
	return out, nil
}
