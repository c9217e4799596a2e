package cli

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rescale/blindbackup/internal/config"
	"github.com/rescale/blindbackup/internal/filecrypto"
	bbhttp "github.com/rescale/blindbackup/internal/http"
	"github.com/rescale/blindbackup/internal/provider"
	"github.com/rescale/blindbackup/internal/provider/localfs"
	"github.com/rescale/blindbackup/internal/provider/objectstore"
	"github.com/rescale/blindbackup/internal/provider/remote"
)

// newProvidersCmd lists the non-local backend kinds this build supports,
// per the currently loaded configuration.
func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List supported non-local provider backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			reg := newRemoteSideRegistry(GetContext(), cfg, os.TempDir())
			names := reg.Names()
			sort.Strings(names)
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}

// newLocalProvider opens the local side of a sync: the plaintext
// directory tree named by cfg.ProviderRoot.
func newLocalProvider(cfg *config.Config) (provider.Provider, error) {
	if cfg.ProviderRoot == "" {
		return nil, config.ErrMissingProviderRoot
	}
	if err := os.MkdirAll(cfg.ProviderRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create provider root: %w", err)
	}
	return localfs.New(uuid.NewString(), cfg.ProviderRoot)
}

// newRemoteSideRegistry builds a provider.Registry with one constructor
// per backend this build of blindbackup supports, closed over cfg and
// tmpDir. KeyPolicy is unused here: the registry's Constructor signature
// targets receive_changes-time key policy, not provider construction,
// so every constructor ignores it and falls back to cfg.Passphrase via
// keyFromPassphrase at the syncengine/continuous layer instead.
func newRemoteSideRegistry(ctx context.Context, cfg *config.Config, tmpDir string) *provider.Registry {
	reg := provider.NewRegistry()

	reg.Register("remote", func(root string, _ provider.KeyPolicy) (provider.Provider, error) {
		if cfg.ServerURL == "" {
			return nil, config.ErrMissingServerURL
		}
		if cfg.APIKey == "" {
			return nil, config.ErrMissingAPIKey
		}
		httpClient, err := bbhttp.ConfigureHTTPClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("configure http client: %w", err)
		}
		client := remote.NewClient(httpClient, cfg.ServerURL, cfg.Login, cfg.APIKey)
		return remote.New(uuid.NewString(), client, tmpDir)
	})

	reg.Register("s3", func(root string, _ provider.KeyPolicy) (provider.Provider, error) {
		return objectstore.NewProviderFromS3(ctx, uuid.NewString(),
			cfg.ObjectStore.Bucket, cfg.ObjectStore.Region, cfg.ObjectStore.Endpoint,
			cfg.ObjectStore.AccessKeyID, cfg.ObjectStore.SecretAccessKey, tmpDir)
	})

	reg.Register("azure", func(root string, _ provider.KeyPolicy) (provider.Provider, error) {
		return objectstore.NewProviderFromAzure(ctx, uuid.NewString(),
			cfg.ObjectStore.AccountName, cfg.ObjectStore.AccountKey, cfg.ObjectStore.Bucket, tmpDir)
	})

	return reg
}

// newRemoteSideProvider opens the non-local side of a sync, selected by
// cfg.ProviderKind: the blind-backup server over HTTP, or an object
// store bucket/container accessed directly.
func newRemoteSideProvider(ctx context.Context, cfg *config.Config, tmpDir string) (provider.Provider, error) {
	kind := cfg.ProviderKind
	if kind == "" {
		kind = "remote"
	}
	reg := newRemoteSideRegistry(ctx, cfg, tmpDir)
	return reg.New(kind, cfg.ProviderRoot, provider.KeyPolicy{})
}

// keyFromPassphrase derives a filecrypto.Key from cfg.Passphrase, or
// returns nil if no passphrase is configured (plaintext names/bodies).
func keyFromPassphrase(cfg *config.Config) *filecrypto.Key {
	if cfg.Passphrase == "" {
		return nil
	}
	key := filecrypto.DeriveKey(cfg.Passphrase)
	return &key
}
