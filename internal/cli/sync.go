package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/blindbackup/internal/continuous"
	"github.com/rescale/blindbackup/internal/syncengine"
)

// newSyncCmd creates the 'sync' command.
func newSyncCmd() *cobra.Command {
	var (
		once             bool
		fullSyncInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the local directory against the configured remote",
		Long: `Compare the local directory tree against the configured remote
(server, S3 bucket, or Azure container) and copy whatever the sync
mode requires. The mode is read from "mode" in the [sync] section of
the configuration file.

By default this runs one full pass and then keeps running until
interrupted: a mode with a "b" (background) component watches both
sides for changes, and --full-sync-interval adds periodic full passes.
Pass --once to run a single full pass and exit.

Examples:
  # One full pass, then exit
  blindbackup sync --once

  # Keep syncing (e.g. with mode = sbd under [sync] in the config file)
  blindbackup sync`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			mode, err := continuous.ParseMode(cfg.Sync.Mode)
			if err != nil {
				return fmt.Errorf("invalid sync mode: %w", err)
			}

			ctx := GetContext()

			tmpDir, err := os.MkdirTemp("", "blindbackup-sync-")
			if err != nil {
				return fmt.Errorf("create temp dir: %w", err)
			}
			defer os.RemoveAll(tmpDir)

			local, err := newLocalProvider(cfg)
			if err != nil {
				return fmt.Errorf("open local provider: %w", err)
			}
			remoteSide, err := newRemoteSideProvider(ctx, cfg, tmpDir)
			if err != nil {
				return fmt.Errorf("open remote provider: %w", err)
			}

			localKey := keyFromPassphrase(cfg)

			opts := syncengine.Options{
				SyncDeletes: cfg.Sync.SyncDeletes,
			}
			if !cfg.Sync.MtimeMode {
				opts.MtimeMode = syncengine.CompareIgnore
			}
			if !cfg.Sync.SizeMode {
				opts.SizeMode = syncengine.CompareIgnore
			}

			ctrlCfg := continuous.Config{
				Mode:             mode,
				Options:          opts,
				ReducerTTL:       time.Duration(cfg.Sync.PollTTLSeconds) * time.Second / 10,
				FullSyncInterval: fullSyncInterval,
			}

			// Remote side stores ciphertext; local side stores plaintext.
			ctrl := continuous.New(local, remoteSide, nil, localKey, ctrlCfg, logger)

			logger.Info().Str("mode", mode.String()).Str("root", cfg.ProviderRoot).Msg("starting sync")

			if once {
				return ctrl.TriggerFullSync(ctx)
			}

			if err := ctrl.TriggerFullSync(ctx); err != nil {
				return fmt.Errorf("initial full sync: %w", err)
			}

			if err := ctrl.Start(ctx); err != nil {
				return fmt.Errorf("start continuous sync: %w", err)
			}
			defer ctrl.Stop()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single full sync pass and exit")
	cmd.Flags().DurationVar(&fullSyncInterval, "full-sync-interval", 0, "Periodic full-sync interval (0 disables it)")

	return cmd
}
