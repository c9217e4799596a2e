// Package config loads and saves the blind-backup agent's configuration.
//
// Config file location:
//   - Windows: %USERPROFILE%\.config\blindbackup\config
//   - Unix: ~/.config/blindbackup/config
//
// INI format:
//
//	[server]
//	url = https://backup.example.com
//	api_key = <token>
//
//	[provider]
//	root = /home/alice/Documents
//	passphrase = correct-horse-battery-staple
//
//	[sync]
//	mode = ad
//	poll_ttl_seconds = 30
//	sync_deletes = true
//	mtime_mode = true
//	size_mode = true
//
//	[objectstore]
//	bucket = my-backups
//	region = us-east-1
//	access_key_id = <key>
//	secret_access_key = <secret>
//
//	[proxy]
//	mode = no-proxy
//	host =
//	port = 0
//	user =
//	password =
//	no_proxy =
//	warmup = false
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/ini.v1"
)

// Config is the root configuration object for the blind-backup CLI and
// daemon. It is the sole source of provider, server, sync, and proxy
// settings.
type Config struct {
	// Server connection settings. Login and APIKey are sent as the wire
	// protocol's login/pwd fields (see internal/server).
	ServerURL string `ini:"url"`
	Login     string `ini:"login"`
	APIKey    string `ini:"api_key"`

	// ProviderKind selects which backing store the non-local side of the
	// sync uses: "remote" (ServerURL/APIKey), "s3", or "azure"
	// (ObjectStore). Defaults to "remote".
	ProviderKind string `ini:"kind"`

	// ProviderRoot is the local directory tree being synced.
	ProviderRoot string `ini:"root"`

	// Passphrase is stretched into the provider's encryption key via
	// filecrypto.DeriveKey. Never logged.
	Passphrase string `ini:"passphrase"`

	Sync SyncConfig

	// ObjectStore settings, used only when ProviderKind is "s3" or "azure".
	ObjectStore ObjectStoreConfig

	// Proxy settings, consumed by internal/http.ConfigureHTTPClient.
	ProxyMode     string `ini:"mode"`
	ProxyHost     string `ini:"host"`
	ProxyPort     int    `ini:"port"`
	ProxyUser     string `ini:"user"`
	ProxyPassword string `ini:"password"`
	NoProxy       string `ini:"no_proxy"`
	ProxyWarmup   bool   `ini:"warmup"`

	// APIBaseURL mirrors ServerURL for internal/http's proxy warmup, which
	// probes the configured base URL rather than the Rescale platform.
	APIBaseURL string `ini:"-"`
}

// SyncConfig holds continuous-sync tuning.
type SyncConfig struct {
	// Mode is a subset of "a s b d" (see internal/continuous.ParseMode).
	// Defaults to "ad" when empty.
	Mode string `ini:"mode"`

	// PollTTLSeconds sets the continuous-sync debounce window: the sync
	// command uses one tenth of it as the reducer TTL. It is not sent to
	// the remote provider.
	PollTTLSeconds int `ini:"poll_ttl_seconds"`

	// SyncDeletes, MtimeMode, and SizeMode feed syncengine.Options.
	SyncDeletes bool `ini:"sync_deletes"`
	MtimeMode   bool `ini:"mtime_mode"`
	SizeMode    bool `ini:"size_mode"`
}

// ObjectStoreConfig holds the static credentials and container
// identification needed to back a provider against S3 or Azure Blob
// Storage directly, without a credential-refresh service in front of
// it: the blind-backup agent owns these keys for as long as the
// passphrase, not a short-lived STS token.
type ObjectStoreConfig struct {
	// Bucket (S3) or Container (Azure) name.
	Bucket string `ini:"bucket"`

	// S3 fields.
	Region          string `ini:"region"`
	Endpoint        string `ini:"endpoint"`
	AccessKeyID     string `ini:"access_key_id"`
	SecretAccessKey string `ini:"secret_access_key"`

	// Azure fields.
	AccountName string `ini:"account_name"`
	AccountKey  string `ini:"account_key"`
}

// Validation errors.
var (
	ErrMissingServerURL         = errors.New("server url is required")
	ErrMissingAPIKey            = errors.New("api_key is required")
	ErrMissingProviderRoot      = errors.New("provider root is required")
	ErrMissingPassphrase        = errors.New("provider passphrase is required")
	ErrMissingObjectStoreBucket = errors.New("objectstore bucket is required")
)

// DefaultConfigPath returns the default path for the config file.
//   - Windows: %USERPROFILE%\.config\blindbackup\config
//   - Unix: ~/.config/blindbackup/config
func DefaultConfigPath() (string, error) {
	var configDir string

	if runtime.GOOS == "windows" {
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return "", errors.New("USERPROFILE environment variable not set")
		}
		configDir = filepath.Join(userProfile, ".config", "blindbackup")
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config", "blindbackup")
	}

	return filepath.Join(configDir, "config"), nil
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		ProviderKind: "remote",
		Sync: SyncConfig{
			Mode:           "ad",
			PollTTLSeconds: 30,
			SyncDeletes:    true,
			MtimeMode:      true,
			SizeMode:       true,
		},
		ProxyMode: "no-proxy",
	}
}

// Load reads configuration from an INI file. If path is empty,
// DefaultConfigPath is used. A missing file yields defaults and no error.
func Load(path string) (*Config, error) {
	cfg := New()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	server := iniFile.Section("server")
	cfg.ServerURL = server.Key("url").String()
	cfg.Login = server.Key("login").String()
	cfg.APIKey = server.Key("api_key").String()

	provider := iniFile.Section("provider")
	cfg.ProviderKind = provider.Key("kind").MustString("remote")
	cfg.ProviderRoot = provider.Key("root").String()
	cfg.Passphrase = provider.Key("passphrase").String()

	sync := iniFile.Section("sync")
	cfg.Sync.Mode = sync.Key("mode").MustString("ad")
	cfg.Sync.PollTTLSeconds = sync.Key("poll_ttl_seconds").MustInt(30)
	cfg.Sync.SyncDeletes = sync.Key("sync_deletes").MustBool(true)
	cfg.Sync.MtimeMode = sync.Key("mtime_mode").MustBool(true)
	cfg.Sync.SizeMode = sync.Key("size_mode").MustBool(true)

	objectStore := iniFile.Section("objectstore")
	cfg.ObjectStore.Bucket = objectStore.Key("bucket").String()
	cfg.ObjectStore.Region = objectStore.Key("region").String()
	cfg.ObjectStore.Endpoint = objectStore.Key("endpoint").String()
	cfg.ObjectStore.AccessKeyID = objectStore.Key("access_key_id").String()
	cfg.ObjectStore.SecretAccessKey = objectStore.Key("secret_access_key").String()
	cfg.ObjectStore.AccountName = objectStore.Key("account_name").String()
	cfg.ObjectStore.AccountKey = objectStore.Key("account_key").String()

	proxy := iniFile.Section("proxy")
	cfg.ProxyMode = proxy.Key("mode").MustString("no-proxy")
	cfg.ProxyHost = proxy.Key("host").String()
	cfg.ProxyPort = proxy.Key("port").MustInt(0)
	cfg.ProxyUser = proxy.Key("user").String()
	cfg.ProxyPassword = proxy.Key("password").String()
	cfg.NoProxy = proxy.Key("no_proxy").String()
	cfg.ProxyWarmup = proxy.Key("warmup").MustBool(false)

	cfg.APIBaseURL = cfg.ServerURL

	return cfg, nil
}

// Save writes configuration to an INI file, creating parent directories as
// needed and using an atomic temp-file-then-rename write.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	server, err := iniFile.NewSection("server")
	if err != nil {
		return fmt.Errorf("failed to create server section: %w", err)
	}
	server.Key("url").SetValue(cfg.ServerURL)
	server.Key("login").SetValue(cfg.Login)
	server.Key("api_key").SetValue(cfg.APIKey)

	provider, err := iniFile.NewSection("provider")
	if err != nil {
		return fmt.Errorf("failed to create provider section: %w", err)
	}
	provider.Key("kind").SetValue(cfg.ProviderKind)
	provider.Key("root").SetValue(cfg.ProviderRoot)
	provider.Key("passphrase").SetValue(cfg.Passphrase)

	sync, err := iniFile.NewSection("sync")
	if err != nil {
		return fmt.Errorf("failed to create sync section: %w", err)
	}
	sync.Key("mode").SetValue(cfg.Sync.Mode)
	sync.Key("poll_ttl_seconds").SetValue(fmt.Sprintf("%d", cfg.Sync.PollTTLSeconds))
	sync.Key("sync_deletes").SetValue(fmt.Sprintf("%t", cfg.Sync.SyncDeletes))
	sync.Key("mtime_mode").SetValue(fmt.Sprintf("%t", cfg.Sync.MtimeMode))
	sync.Key("size_mode").SetValue(fmt.Sprintf("%t", cfg.Sync.SizeMode))

	objectStore, err := iniFile.NewSection("objectstore")
	if err != nil {
		return fmt.Errorf("failed to create objectstore section: %w", err)
	}
	objectStore.Key("bucket").SetValue(cfg.ObjectStore.Bucket)
	objectStore.Key("region").SetValue(cfg.ObjectStore.Region)
	objectStore.Key("endpoint").SetValue(cfg.ObjectStore.Endpoint)
	objectStore.Key("access_key_id").SetValue(cfg.ObjectStore.AccessKeyID)
	objectStore.Key("secret_access_key").SetValue(cfg.ObjectStore.SecretAccessKey)
	objectStore.Key("account_name").SetValue(cfg.ObjectStore.AccountName)
	objectStore.Key("account_key").SetValue(cfg.ObjectStore.AccountKey)

	proxy, err := iniFile.NewSection("proxy")
	if err != nil {
		return fmt.Errorf("failed to create proxy section: %w", err)
	}
	proxy.Key("mode").SetValue(cfg.ProxyMode)
	proxy.Key("host").SetValue(cfg.ProxyHost)
	proxy.Key("port").SetValue(fmt.Sprintf("%d", cfg.ProxyPort))
	proxy.Key("user").SetValue(cfg.ProxyUser)
	proxy.Key("password").SetValue(cfg.ProxyPassword)
	proxy.Key("no_proxy").SetValue(cfg.NoProxy)
	proxy.Key("warmup").SetValue(fmt.Sprintf("%t", cfg.ProxyWarmup))

	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks that the settings required to run a sync are present.
func (cfg *Config) Validate() error {
	switch cfg.ProviderKind {
	case "", "remote":
		if strings.TrimSpace(cfg.ServerURL) == "" {
			return ErrMissingServerURL
		}
		if strings.TrimSpace(cfg.APIKey) == "" {
			return ErrMissingAPIKey
		}
	case "s3":
		if strings.TrimSpace(cfg.ObjectStore.Bucket) == "" {
			return ErrMissingObjectStoreBucket
		}
	case "azure":
		if strings.TrimSpace(cfg.ObjectStore.Bucket) == "" {
			return ErrMissingObjectStoreBucket
		}
	default:
		return fmt.Errorf("unknown provider kind %q", cfg.ProviderKind)
	}
	if strings.TrimSpace(cfg.ProviderRoot) == "" {
		return ErrMissingProviderRoot
	}
	if strings.TrimSpace(cfg.Passphrase) == "" {
		return ErrMissingPassphrase
	}
	return nil
}
