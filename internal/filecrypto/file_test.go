package filecrypto

import (
	"bytes"
	"context"
	"testing"
)

func TestEncryptDecryptFileRoundTrip(t *testing.T) {
	key := DeriveKey("body-test-passphrase")
	plaintext := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 5000)

	var ciphertext bytes.Buffer
	if err := EncryptFile(context.Background(), key, int64(len(plaintext)), bytes.NewReader(plaintext), &ciphertext); err != nil {
		t.Fatalf("EncryptFile: %v", err)
	}

	var decoded bytes.Buffer
	if err := DecryptFile(context.Background(), key, bytes.NewReader(ciphertext.Bytes()), &decoded); err != nil {
		t.Fatalf("DecryptFile: %v", err)
	}

	if !bytes.Equal(decoded.Bytes(), plaintext) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", decoded.Len(), len(plaintext))
	}
}

func TestEncryptFileEmptyInput(t *testing.T) {
	key := DeriveKey("passphrase")
	var ciphertext, decoded bytes.Buffer
	if err := EncryptFile(context.Background(), key, 0, bytes.NewReader(nil), &ciphertext); err != nil {
		t.Fatalf("EncryptFile: %v", err)
	}
	if ciphertext.Len() != headerSize {
		t.Fatalf("expected header-only ciphertext for empty input, got %d bytes", ciphertext.Len())
	}
	if err := DecryptFile(context.Background(), key, bytes.NewReader(ciphertext.Bytes()), &decoded); err != nil {
		t.Fatalf("DecryptFile: %v", err)
	}
	if decoded.Len() != 0 {
		t.Fatalf("expected empty plaintext, got %d bytes", decoded.Len())
	}
}

func TestEncryptFileIsRandomizedAcrossCalls(t *testing.T) {
	key := DeriveKey("passphrase")
	plaintext := []byte("identical content, encrypted twice")

	var a, b bytes.Buffer
	if err := EncryptFile(context.Background(), key, int64(len(plaintext)), bytes.NewReader(plaintext), &a); err != nil {
		t.Fatal(err)
	}
	if err := EncryptFile(context.Background(), key, int64(len(plaintext)), bytes.NewReader(plaintext), &b); err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatal("encrypting the same plaintext twice produced identical ciphertext")
	}
}

func TestDecryptFileRejectsTruncatedCiphertext(t *testing.T) {
	key := DeriveKey("passphrase")
	plaintext := bytes.Repeat([]byte("x"), 100)

	var ciphertext bytes.Buffer
	if err := EncryptFile(context.Background(), key, int64(len(plaintext)), bytes.NewReader(plaintext), &ciphertext); err != nil {
		t.Fatal(err)
	}

	truncated := ciphertext.Bytes()[:ciphertext.Len()-BlockSize]
	var decoded bytes.Buffer
	err := DecryptFile(context.Background(), key, bytes.NewReader(truncated), &decoded)
	if err == nil {
		t.Fatal("expected error decrypting truncated ciphertext")
	}
}

func TestDecryptFileRejectsNonBlockAlignedCiphertext(t *testing.T) {
	key := DeriveKey("passphrase")
	plaintext := bytes.Repeat([]byte("x"), 100)

	var ciphertext bytes.Buffer
	if err := EncryptFile(context.Background(), key, int64(len(plaintext)), bytes.NewReader(plaintext), &ciphertext); err != nil {
		t.Fatal(err)
	}

	misaligned := append(ciphertext.Bytes(), 0x01, 0x02, 0x03)
	var decoded bytes.Buffer
	err := DecryptFile(context.Background(), key, bytes.NewReader(misaligned), &decoded)
	if err == nil {
		t.Fatal("expected error decrypting non-block-aligned ciphertext")
	}
}

func TestEncryptFileRespectsContextCancellation(t *testing.T) {
	key := DeriveKey("passphrase")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	plaintext := bytes.Repeat([]byte("y"), 1<<20)
	var ciphertext bytes.Buffer
	err := EncryptFile(ctx, key, int64(len(plaintext)), bytes.NewReader(plaintext), &ciphertext)
	if err == nil {
		t.Fatal("expected error from a pre-cancelled context")
	}
}
