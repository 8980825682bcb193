package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"attachdl/pkg/auth"
	"attachdl/pkg/config"
	"attachdl/pkg/salesforce"
	"attachdl/pkg/ui"
)

var (
	loginURL   string
	skipVerify bool
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Salesforce logins",
	Long: `Manage stored Salesforce logins.

Logins are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables ATTACHDL_USERNAME, ATTACHDL_PASSWORD, ATTACHDL_SECURITY_TOKEN

Never share your credentials or config files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Store a Salesforce login securely",
	Long: `Store a Salesforce username, password and security token.

The login is verified against the SOAP login endpoint before it is stored,
unless --no-verify is given.`,
	Example: `  # Interactive login
  attachdl auth login

  # Sandbox login
  attachdl auth login me@example.com.sandbox --login-url https://test.salesforce.com`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout [username]",
	Short: "Remove stored logins",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogout,
}

// listCmd represents the auth list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored logins",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

// guideCmd represents the auth guide command
var guideCmd = &cobra.Command{
	Use:   "guide",
	Short: "Explain where the login values come from",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		auth.ShowSecurityTokenGuide()
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
	authCmd.AddCommand(guideCmd)

	loginCmd.Flags().StringVar(&loginURL, "login-url", "", "login host (default https://login.salesforce.com)")
	loginCmd.Flags().BoolVar(&skipVerify, "no-verify", false, "store the login without trying it")
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)

	var username string
	if len(args) > 0 {
		username = strings.TrimSpace(args[0])
	}
	if username == "" {
		auth.ShowQuickLoginGuide()
		fmt.Println()
		for username == "" {
			fmt.Print("👤 Salesforce username: ")
			input, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read username: %w", err)
			}
			username = strings.TrimSpace(input)
			if username == "help" {
				auth.ShowSecurityTokenGuide()
				username = ""
			}
		}
	}

	key := auth.AccountKey(username, loginURL)
	if existing, _ := manager.Retrieve(key); existing != nil {
		fmt.Printf("\n⚠️  Login '%s' already exists. Update it? (y/N): ", key)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Println("\n🔐 Values are hidden as you type")
	fmt.Print("Password: ")
	password, err := readSecret(reader)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if password == "" {
		return fmt.Errorf("password is required")
	}

	fmt.Print("Security token (Enter if your IP is trusted): ")
	token, err := readSecret(reader)
	if err != nil {
		return fmt.Errorf("failed to read security token: %w", err)
	}

	account := &auth.Account{
		Username:      username,
		Password:      password,
		SecurityToken: token,
		LoginURL:      loginURL,
		LastModified:  time.Now(),
	}
	if err := account.Validate(); err != nil {
		return err
	}

	if !skipVerify {
		fmt.Println("\n🔎 Checking the login...")
		instance, err := verifyLogin(cmd.Context(), account)
		if err != nil {
			ui.PrintError("Login failed", err)
			fmt.Println("\nRun 'attachdl auth guide' for help, or --no-verify to store it anyway.")
			return err
		}
		ui.PrintInfo("Instance", instance)
	}

	if err := manager.Store(account); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	ui.PrintSuccess(fmt.Sprintf("Login saved: %s", account.Key()))

	fmt.Println("\n🔒 Stored in:")
	if auth.IsKeyringAvailable() {
		fmt.Println("   • System keychain (primary)")
	}
	fmt.Println("   • Encrypted file (backup)")

	fmt.Println("\n📖 Next:")
	fmt.Println("   $ attachdl download --output ./attachments")
	fmt.Printf("   $ attachdl download --account %s --tui\n", username)
	return nil
}

// verifyLogin performs one SOAP login and returns the instance it resolved to.
func verifyLogin(ctx context.Context, account *auth.Account) (string, error) {
	defaults := config.DefaultConfig()
	url := account.LoginURL
	if url == "" {
		url = defaults.Salesforce.LoginURL
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	login := &salesforce.SOAPLogin{
		LoginURL:      url,
		APIVersion:    defaults.Salesforce.APIVersion,
		Username:      account.Username,
		Password:      account.Password,
		SecurityToken: account.SecurityToken,
	}
	session, err := login.Authenticate(ctx)
	if err != nil {
		return "", err
	}
	return session.InstanceURL, nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	if len(args) == 1 {
		if err := manager.Delete(args[0]); err != nil {
			return fmt.Errorf("failed to remove login: %w", err)
		}
		ui.PrintSuccess("Login removed: " + args[0])
		return nil
	}

	accounts, err := manager.List()
	if err != nil || len(accounts) == 0 {
		ui.PrintWarning("No stored logins found")
		return nil
	}

	fmt.Println("Select login to remove:")
	for i, account := range accounts {
		fmt.Printf("  %d. %s\n", i+1, account.Key())
	}
	fmt.Printf("  %d. Remove all logins\n", len(accounts)+1)
	fmt.Printf("  0. Cancel\n\n")

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Choice: ")
	input, _ := reader.ReadString('\n')

	var choice int
	fmt.Sscanf(strings.TrimSpace(input), "%d", &choice)

	switch {
	case choice == 0:
		return nil
	case choice == len(accounts)+1:
		fmt.Print("Remove ALL logins? This cannot be undone! (yes/N): ")
		confirm, _ := reader.ReadString('\n')
		if strings.TrimSpace(confirm) != "yes" {
			return nil
		}
		if err := manager.DeleteAll(); err != nil {
			return fmt.Errorf("failed to remove all logins: %w", err)
		}
		ui.PrintSuccess("All logins removed")
	case choice > 0 && choice <= len(accounts):
		account := accounts[choice-1]
		if err := manager.Delete(account.Key()); err != nil {
			return fmt.Errorf("failed to remove login: %w", err)
		}
		ui.PrintSuccess("Login removed: " + account.Key())
	default:
		return fmt.Errorf("invalid choice %q", strings.TrimSpace(input))
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	accounts, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list logins: %w", err)
	}
	if len(accounts) == 0 {
		ui.PrintInfo("No stored logins", "Use 'attachdl auth login' to add one")
		return nil
	}

	ui.PrintHighlight("Stored Logins")
	fmt.Println()
	for i, account := range accounts {
		sanitized := auth.SanitizeAccount(account)
		fmt.Printf("%d. Username: %s\n", i+1, sanitized.Username)
		fmt.Printf("   Login host: %s\n", sanitized.Host())
		fmt.Printf("   Password: %s\n", sanitized.Password)
		if sanitized.SecurityToken != "" {
			fmt.Printf("   Security token: %s\n", sanitized.SecurityToken)
		}
		fmt.Printf("   Last Modified: %s\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
		fmt.Println()
	}
	return nil
}

// readSecret reads a line without echo when stdin is a terminal.
func readSecret(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
