package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()
	if cfg.Sync.Mode != "ad" {
		t.Errorf("expected default sync mode %q, got %q", "ad", cfg.Sync.Mode)
	}
	if cfg.Sync.PollTTLSeconds != 30 {
		t.Errorf("expected default poll ttl 30, got %d", cfg.Sync.PollTTLSeconds)
	}
	if cfg.ProxyMode != "no-proxy" {
		t.Errorf("expected default proxy mode no-proxy, got %q", cfg.ProxyMode)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("Load() on missing file returned error: %v", err)
	}
	if cfg.Sync.Mode != "ad" {
		t.Errorf("expected defaults, got sync mode %q", cfg.Sync.Mode)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")

	cfg := New()
	cfg.ServerURL = "https://backup.example.com"
	cfg.Login = "alice"
	cfg.APIKey = "secret-token"
	cfg.ProviderRoot = "/home/alice/Documents"
	cfg.Passphrase = "correct-horse-battery-staple"
	cfg.Sync.Mode = "asbd"
	cfg.Sync.SyncDeletes = false
	cfg.ProxyMode = "basic"
	cfg.ProxyHost = "proxy.internal"
	cfg.ProxyPort = 3128

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() returned error: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("expected temp file to be renamed away, got err=%v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if loaded.ServerURL != cfg.ServerURL {
		t.Errorf("ServerURL = %q, want %q", loaded.ServerURL, cfg.ServerURL)
	}
	if loaded.Login != cfg.Login {
		t.Errorf("Login = %q, want %q", loaded.Login, cfg.Login)
	}
	if loaded.APIKey != cfg.APIKey {
		t.Errorf("APIKey = %q, want %q", loaded.APIKey, cfg.APIKey)
	}
	if loaded.ProviderRoot != cfg.ProviderRoot {
		t.Errorf("ProviderRoot = %q, want %q", loaded.ProviderRoot, cfg.ProviderRoot)
	}
	if loaded.Passphrase != cfg.Passphrase {
		t.Errorf("Passphrase = %q, want %q", loaded.Passphrase, cfg.Passphrase)
	}
	if loaded.Sync.Mode != cfg.Sync.Mode {
		t.Errorf("Sync.Mode = %q, want %q", loaded.Sync.Mode, cfg.Sync.Mode)
	}
	if loaded.Sync.SyncDeletes != cfg.Sync.SyncDeletes {
		t.Errorf("Sync.SyncDeletes = %v, want %v", loaded.Sync.SyncDeletes, cfg.Sync.SyncDeletes)
	}
	if loaded.ProxyHost != cfg.ProxyHost {
		t.Errorf("ProxyHost = %q, want %q", loaded.ProxyHost, cfg.ProxyHost)
	}
	if loaded.ProxyPort != cfg.ProxyPort {
		t.Errorf("ProxyPort = %d, want %d", loaded.ProxyPort, cfg.ProxyPort)
	}
}

func TestValidateRequiresAllFields(t *testing.T) {
	cfg := New()
	if err := cfg.Validate(); err != ErrMissingServerURL {
		t.Errorf("expected ErrMissingServerURL, got %v", err)
	}

	cfg.ServerURL = "https://backup.example.com"
	if err := cfg.Validate(); err != ErrMissingAPIKey {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}

	cfg.APIKey = "token"
	if err := cfg.Validate(); err != ErrMissingProviderRoot {
		t.Errorf("expected ErrMissingProviderRoot, got %v", err)
	}

	cfg.ProviderRoot = "/srv/backup"
	if err := cfg.Validate(); err != ErrMissingPassphrase {
		t.Errorf("expected ErrMissingPassphrase, got %v", err)
	}

	cfg.Passphrase = "hunter2hunter2"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected nil error for fully populated config, got %v", err)
	}
}

func TestValidateS3KindRequiresBucketNotServerURL(t *testing.T) {
	cfg := New()
	cfg.ProviderKind = "s3"
	cfg.ProviderRoot = "/srv/backup"
	cfg.Passphrase = "hunter2hunter2"

	if err := cfg.Validate(); err != ErrMissingObjectStoreBucket {
		t.Errorf("expected ErrMissingObjectStoreBucket, got %v", err)
	}

	cfg.ObjectStore.Bucket = "my-backups"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected nil error once bucket is set, got %v", err)
	}
}
