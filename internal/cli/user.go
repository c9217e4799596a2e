package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rescale/blindbackup/internal/userstore"
)

// newUserCmd creates the 'user' command group, managing the server's
// user database file directly (the server itself reloads it on change).
func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage the server's user database",
		Long: `Add, list, and remove users from a blindbackup server's user
database file. Edits take effect the next time the running server
reloads the file (within userstore.DefaultTTL).`,
	}

	cmd.AddCommand(newUserAddCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserDeleteCmd())

	return cmd
}

func newUserAddCmd() *cobra.Command {
	var (
		usersFile string
		prefix    string
		perms     string
		password  string
	)

	cmd := &cobra.Command{
		Use:   "add <login>",
		Short: "Add or update a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if usersFile == "" {
				return fmt.Errorf("--users is required")
			}
			login := args[0]
			if prefix == "" {
				prefix = login
			}

			store := userstore.New(usersFile)
			if err := store.Save(userstore.User{
				Login:    login,
				Prefix:   prefix,
				Perms:    perms,
				Password: password,
			}); err != nil {
				return fmt.Errorf("save user: %w", err)
			}

			fmt.Printf("Saved user %q (prefix=%s, perms=%s)\n", login, prefix, perms)
			return nil
		},
	}

	cmd.Flags().StringVar(&usersFile, "users", "", "Path to the user database file")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Home directory prefix under the backup root (defaults to login)")
	cmd.Flags().StringVar(&perms, "perms", "WDRSTAN", "Permission codes (subset of "+userstore.ValidPermCodes+")")
	cmd.Flags().StringVar(&password, "password", "", "Password")

	return cmd
}

func newUserListCmd() *cobra.Command {
	var usersFile string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			if usersFile == "" {
				return fmt.Errorf("--users is required")
			}

			store := userstore.New(usersFile)
			users, err := store.Users()
			if err != nil {
				return fmt.Errorf("load users: %w", err)
			}

			if len(users) == 0 {
				fmt.Println("No users.")
				return nil
			}

			logins := make([]string, 0, len(users))
			for login := range users {
				logins = append(logins, login)
			}
			sort.Strings(logins)

			for _, login := range logins {
				u := users[login]
				fmt.Printf("%-16s prefix=%-20s perms=%s\n", u.Login, u.Prefix, u.Perms)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&usersFile, "users", "", "Path to the user database file")
	return cmd
}

func newUserDeleteCmd() *cobra.Command {
	var usersFile string

	cmd := &cobra.Command{
		Use:   "delete <login>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if usersFile == "" {
				return fmt.Errorf("--users is required")
			}

			store := userstore.New(usersFile)
			if err := store.Delete(args[0]); err != nil {
				return fmt.Errorf("delete user: %w", err)
			}

			fmt.Printf("Deleted user %q\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&usersFile, "users", "", "Path to the user database file")
	return cmd
}
