package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/blindbackup/internal/server"
	"github.com/rescale/blindbackup/internal/userstore"
)

// newServeCmd creates the 'serve' command.
func newServeCmd() *cobra.Command {
	var (
		addr        string
		backupRoot  string
		usersFile   string
		tlsCertFile string
		tlsKeyFile  string
		pollTTL     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the remote-provider protocol server",
		Long: `Serve the blind-backup wire protocol that internal/provider/remote's
Client talks to: multipart-POST actions against a backup root directory,
authenticated against a user database file.

Examples:
  # Plain HTTP, for use behind a TLS-terminating proxy
  blindbackup serve --addr :8080 --backup-root /srv/backups --users /etc/blindbackup/users

  # Direct TLS
  blindbackup serve --addr :8443 --backup-root /srv/backups --users /etc/blindbackup/users \
    --tls-cert server.crt --tls-key server.key`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := GetLogger()

			if backupRoot == "" {
				return fmt.Errorf("--backup-root is required")
			}
			if usersFile == "" {
				return fmt.Errorf("--users is required")
			}

			users := userstore.New(usersFile)

			srv := server.New(server.Config{
				BackupRoot: backupRoot,
				PollTTL:    pollTTL,
			}, users, logger)

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv,
				ReadHeaderTimeout: 30 * time.Second,
			}

			ctx, cancel := context.WithCancel(GetContext())
			defer cancel()

			go func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				httpServer.Shutdown(shutdownCtx)
			}()

			logger.Info().Str("addr", addr).Str("backup_root", backupRoot).Msg("starting blindbackup server")

			var err error
			if tlsCertFile != "" || tlsKeyFile != "" {
				err = httpServer.ListenAndServeTLS(tlsCertFile, tlsKeyFile)
			} else {
				err = httpServer.ListenAndServe()
			}
			if err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Address to listen on")
	cmd.Flags().StringVar(&backupRoot, "backup-root", "", "Root directory backups are confined beneath")
	cmd.Flags().StringVar(&usersFile, "users", "", "Path to the user database file")
	cmd.Flags().StringVar(&tlsCertFile, "tls-cert", "", "TLS certificate file (enables HTTPS)")
	cmd.Flags().StringVar(&tlsKeyFile, "tls-key", "", "TLS key file (enables HTTPS)")
	cmd.Flags().DurationVar(&pollTTL, "poll-ttl", 0, "Long-poll observer TTL (0 selects the server default)")

	return cmd
}
