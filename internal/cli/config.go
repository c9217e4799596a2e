package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rescale/blindbackup/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage blindbackup configuration",
		Long: `Configuration management commands for blindbackup.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for blindbackup.

Use --force to overwrite an existing configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				var err error
				path, err = config.DefaultConfigPath()
				if err != nil {
					return err
				}
			}

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Printf("Configuration already exists at: %s\n", path)
					fmt.Println("Use --force to overwrite or run 'config show' to view it.")
					return nil
				}
			}

			fmt.Println("blindbackup configuration setup")
			fmt.Println("================================")
			fmt.Println()

			reader := bufio.NewReader(os.Stdin)
			cfg := config.New()

			cfg.ServerURL = prompt(reader, "Server URL", "")
			cfg.Login = prompt(reader, "Login", "")
			cfg.APIKey = prompt(reader, "Password", "")
			cfg.ProviderRoot = prompt(reader, "Local directory to sync", ".")
			cfg.Passphrase = prompt(reader, "Encryption passphrase", "")
			cfg.Sync.Mode = prompt(reader, "Sync mode (a/s, optionally +b +d)", cfg.Sync.Mode)

			if err := config.Save(cfg, path); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Printf("\nConfiguration saved to: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			fmt.Println("Server:")
			fmt.Printf("  url:   %s\n", cfg.ServerURL)
			fmt.Printf("  login: %s\n", cfg.Login)
			fmt.Println("Provider:")
			fmt.Printf("  kind: %s\n", cfg.ProviderKind)
			fmt.Printf("  root: %s\n", cfg.ProviderRoot)
			fmt.Println("Sync:")
			fmt.Printf("  mode:          %s\n", cfg.Sync.Mode)
			fmt.Printf("  poll_ttl_secs: %d\n", cfg.Sync.PollTTLSeconds)
			fmt.Printf("  sync_deletes:  %t\n", cfg.Sync.SyncDeletes)
			fmt.Println("Proxy:")
			fmt.Printf("  mode: %s\n", cfg.ProxyMode)
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				var err error
				path, err = config.DefaultConfigPath()
				if err != nil {
					return err
				}
			}
			fmt.Println(path)
			return nil
		},
	}
}

// prompt reads a line from reader, returning def if the user enters
// nothing.
func prompt(reader *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}
