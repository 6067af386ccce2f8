package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"eventscout/pkg/auth"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Instagram session credentials",
	Long: `Manage stored Instagram session credentials.

Sessions are stored using the first available backend:
  - System keychain
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (read only)

Never share your session cookies or config files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Store an Instagram session securely",
	Long: `Store an Instagram session securely.

You will be prompted for the session cookies. Accepted formats:
  - A cookie string ("sessionid=...; csrftoken=...")
  - A JSON object of cookie names to values
  - A bare sessionid value

To get these values:
1. Log into Instagram in your browser
2. Open Developer Tools (F12)
3. Go to Application/Storage > Cookies
4. Copy the sessionid and csrftoken values`,
	Example: `  # Interactive login
  eventscout auth login

  # Login with a username label
  eventscout auth login myusername`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout <username>",
	Short: "Remove a stored session",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogout,
}

// listSessionsCmd represents the auth list command
var listSessionsCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	Long:  `List all stored Instagram sessions with masked credentials.`,
	RunE:  runListSessions,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listSessionsCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize session manager: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)

	var username string
	if len(args) > 0 {
		username = args[0]
	} else {
		fmt.Print("Instagram username: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		username = strings.TrimSpace(line)
	}
	if username == "" {
		return fmt.Errorf("username is required")
	}

	fmt.Print("Session cookies (input hidden): ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read cookies: %w", err)
	}

	cookies := auth.ParseCookieInput(string(raw))
	session, err := auth.NewSessionFromCookies(username, cookies)
	if err != nil {
		return err
	}

	if err := manager.Store(session); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	fmt.Printf("Stored session for %s (sessionid %s)\n", username, session.Masked().SessionID)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize session manager: %w", err)
	}
	if err := manager.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed session for %s\n", args[0])
	return nil
}

func runListSessions(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize session manager: %w", err)
	}

	sessions, err := manager.List()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No stored sessions")
		return nil
	}

	for _, session := range sessions {
		masked := session.Masked()
		fmt.Printf("%-24s sessionid=%s csrftoken=%s\n", masked.Username, masked.SessionID, masked.CSRFToken)
	}
	return nil
}
