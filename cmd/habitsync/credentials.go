package main

import (
	"fmt"
	"strings"
	"syscall"

	"habitsync/internal/credentials"
	"habitsync/internal/remote"
	"habitsync/internal/utils"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage remote credentials",
		Long: `Securely manage remote credentials using the system keyring.

Credentials are looked up in priority order:
  1. System keyring (most secure) - recommended
  2. Environment variables HABITSYNC_<REMOTE>_USERNAME / _PASSWORD
  3. Credentials embedded in the remote URL (least secure)

Examples:
  habitsync credentials set --prompt
  habitsync credentials get
  habitsync credentials delete`,
	}

	cmd.AddCommand(newCredentialsSetCmd())
	cmd.AddCommand(newCredentialsGetCmd())
	cmd.AddCommand(newCredentialsDeleteCmd())

	return cmd
}

// configuredRemote returns the remote section and the username to use,
// preferring an explicit argument
func configuredRemote(args []string) (*remote.Config, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	if cfg.Remote == nil {
		return nil, "", utils.ErrInvalidConfig("remote", "no remote is configured")
	}

	username := cfg.Remote.Username
	if len(args) >= 1 {
		username = args[0]
	}
	return cfg.Remote, username, nil
}

func newCredentialsSetCmd() *cobra.Command {
	var promptPassword bool

	cmd := &cobra.Command{
		Use:   "set [username] [password]",
		Short: "Store the remote password in the system keyring",
		Long: `Store the configured remote's password in the system keyring.

If username is not provided, it is read from the remote configuration.
With --prompt the password is read without echo (recommended).`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, username, err := configuredRemote(args)
			if err != nil {
				return err
			}
			if username == "" {
				return fmt.Errorf("username is required (not found in config for remote %q)", rc.DisplayName())
			}
			name := rc.DisplayName()

			var password string
			if promptPassword {
				fmt.Printf("Enter password for %s@%s: ", username, name)
				passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
				fmt.Println()
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = string(passwordBytes)
			} else if len(args) >= 2 {
				password = args[1]
			} else {
				return fmt.Errorf("password is required (use --prompt for interactive input)")
			}

			if err := credentials.Set(name, username, password); err != nil {
				if !credentials.IsAvailable() {
					env := credentials.EnvPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
					return fmt.Errorf("system keyring is not available. Try using environment variables instead:\n  export %s_USERNAME=%s\n  export %s_PASSWORD=<password>", env, username, env)
				}
				return err
			}

			fmt.Printf("✓ Credentials stored for %s@%s\n", username, name)
			if rc.Username == "" {
				fmt.Printf("  Add 'username: %s' to the remote section of your config\n", username)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&promptPassword, "prompt", false, "Prompt for password interactively (recommended)")
	return cmd
}

func newCredentialsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [username]",
		Short: "Show where the remote's credentials come from",
		Long: `Show which credential source would be used for the configured remote.
The password itself is never printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, username, err := configuredRemote(args)
			if err != nil {
				return err
			}
			name := rc.DisplayName()

			creds, err := credentials.NewResolver().Resolve(name, username, rc.URL)
			if err != nil {
				fmt.Printf("✗ No credentials found for remote %q\n", name)
				fmt.Println("\nAvailable options:")
				fmt.Printf("  1. habitsync credentials set %s --prompt\n", username)
				fmt.Printf("  2. export %s%s_PASSWORD=<password>\n", credentials.EnvPrefix, strings.ToUpper(strings.ReplaceAll(name, "-", "_")))
				return err
			}

			fmt.Printf("✓ Credentials found for remote %q\n", name)
			fmt.Printf("  Username: %s\n", creds.Username)
			fmt.Printf("  Source: %s\n", creds.Source)
			switch creds.Source {
			case credentials.SourceEnv:
				fmt.Println("\n⚠ Using environment variables. Consider the keyring instead.")
			case credentials.SourceURL:
				fmt.Println("\n⚠ Using credentials from the config URL (not recommended)")
			}
			return nil
		},
	}
}

func newCredentialsDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete [username]",
		Short: "Remove the remote password from the system keyring",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, username, err := configuredRemote(args)
			if err != nil {
				return err
			}
			if username == "" {
				return fmt.Errorf("username is required (not found in config for remote %q)", rc.DisplayName())
			}
			name := rc.DisplayName()

			if !force && !utils.PromptYesNo(fmt.Sprintf("Delete credentials for %s@%s from keyring?", username, name)) {
				fmt.Println("Cancelled")
				return nil
			}

			if err := credentials.Delete(name, username); err != nil {
				return err
			}
			fmt.Printf("✓ Credentials removed for %s@%s\n", username, name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")
	return cmd
}

