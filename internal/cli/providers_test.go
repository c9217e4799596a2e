package cli

import (
	"context"
	"sort"
	"testing"

	"github.com/rescale/blindbackup/internal/config"
)

func TestNewRemoteSideRegistryRegistersAllKinds(t *testing.T) {
	cfg := config.New()
	reg := newRemoteSideRegistry(context.Background(), cfg, t.TempDir())

	names := reg.Names()
	sort.Strings(names)

	want := []string{"azure", "remote", "s3"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], name)
		}
	}
}

func TestNewRemoteSideProviderDefaultsToRemoteKind(t *testing.T) {
	cfg := config.New()
	cfg.ProviderKind = ""
	// No ServerURL/APIKey set: constructing the "remote" provider must
	// fail with a config error, not a nil-kind lookup error, proving
	// ProviderKind defaulted to "remote" rather than an empty string.
	_, err := newRemoteSideProvider(context.Background(), cfg, t.TempDir())
	if err != config.ErrMissingServerURL {
		t.Errorf("expected ErrMissingServerURL, got %v", err)
	}
}

func TestKeyFromPassphraseNilWhenEmpty(t *testing.T) {
	cfg := config.New()
	if key := keyFromPassphrase(cfg); key != nil {
		t.Errorf("expected nil key for empty passphrase, got %v", key)
	}
}

func TestKeyFromPassphraseDerivesWhenSet(t *testing.T) {
	cfg := config.New()
	cfg.Passphrase = "correct-horse-battery-staple"
	key := keyFromPassphrase(cfg)
	if key == nil {
		t.Fatal("expected non-nil key")
	}
}
