// ABOUTME: Account registry CLI commands
// ABOUTME: Adds, lists, and removes CRM accounts and runs the Google OAuth flow for source accounts
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/rollupsync/crm"
	"github.com/harperreed/rollupsync/models"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/term"
)

type accountAddOptions struct {
	name         string
	provider     string
	baseURL      string
	token        string
	rollupTarget bool
}

func newAccountsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage the CRM accounts a rollup can use",
	}
	cmd.AddCommand(newAccountsAddCommand(app))
	cmd.AddCommand(newAccountsListCommand(app))
	cmd.AddCommand(newAccountsRemoveCommand(app))
	cmd.AddCommand(newAccountsAuthCommand(app))
	return cmd
}

func newAccountsAddCommand(app *App) *cobra.Command {
	opts := &accountAddOptions{}
	cmd := &cobra.Command{
		Use:   "add <key>",
		Short: "Register a CRM account",
		Long: `Register a CRM account under a unique key.

REST accounts need --base-url and an API token (prompted for when --token
is omitted). Google accounts are read only sources; authorize them with
'rollupsync accounts auth <key>' after adding.

Example:
  rollupsync accounts add hq --provider rest --base-url https://crm.example.com/v1 --rollup-target
  rollupsync accounts add east --provider rest --base-url https://east.example.com/v1
  rollupsync accounts add personal --provider google`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountsAdd(cmd.Context(), app, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.name, "name", "", "display name (default: key)")
	cmd.Flags().StringVar(&opts.provider, "provider", models.ProviderREST, "provider: rest or google")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "REST API base URL")
	cmd.Flags().StringVar(&opts.token, "token", "", "REST API token (prompted when omitted)")
	cmd.Flags().BoolVar(&opts.rollupTarget, "rollup-target", false, "account may be used as a rollup target")
	return cmd
}

func runAccountsAdd(ctx context.Context, app *App, key string, opts *accountAddOptions) error {
	acct := &models.Account{
		Key:          key,
		Name:         opts.name,
		Provider:     strings.ToLower(strings.TrimSpace(opts.provider)),
		RollupTarget: opts.rollupTarget,
		BaseURL:      strings.TrimSpace(opts.baseURL),
	}

	switch acct.Provider {
	case models.ProviderREST:
		if acct.BaseURL == "" {
			return fmt.Errorf("--base-url is required for rest accounts")
		}
		token := opts.token
		if token == "" {
			var err error
			if token, err = promptSecret("API token: "); err != nil {
				return err
			}
		}
		if strings.TrimSpace(token) == "" {
			return fmt.Errorf("an API token is required for rest accounts")
		}
		creds, err := json.Marshal(map[string]string{"token": strings.TrimSpace(token)})
		if err != nil {
			return err
		}
		acct.Credentials = string(creds)
	case models.ProviderGoogle:
		if acct.RollupTarget {
			return fmt.Errorf("google accounts are read only and cannot be rollup targets")
		}
	default:
		return fmt.Errorf("unknown provider %q (expected rest or google)", opts.provider)
	}

	store, err := app.Store()
	if err != nil {
		return err
	}
	if err := store.CreateAccount(ctx, acct); err != nil {
		return err
	}

	fmt.Fprintf(app.out, "✓ Added %s account %s\n", acct.Provider, acct.Key)
	if acct.Provider == models.ProviderGoogle {
		fmt.Fprintf(app.out, "→ Run 'rollupsync accounts auth %s' to authorize it\n", acct.Key)
	}
	return nil
}

func newAccountsListCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Store()
			if err != nil {
				return err
			}
			accounts, err := store.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			return NewPrinter(app.out, app.opts.JSON).Accounts(accounts)
		},
	}
}

func newAccountsRemoveCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <key>",
		Short: "Remove an account; configs drop it on their next read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.Store()
			if err != nil {
				return err
			}
			if err := store.DeleteAccount(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(app.out, "✓ Removed account %s\n", args[0])
			return nil
		},
	}
}

func newAccountsAuthCommand(app *App) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "auth <key>",
		Short: "Authorize a Google account with OAuth",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountsAuth(cmd.Context(), app, args[0], listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "localhost:8080", "address for the OAuth callback server")
	return cmd
}

func runAccountsAuth(ctx context.Context, app *App, key, listen string) error {
	if !app.cfg.GoogleConfigured() {
		return fmt.Errorf("google client_id and client_secret must be set in the config file or ROLLUPSYNC_GOOGLE_CLIENT_* variables")
	}
	store, err := app.Store()
	if err != nil {
		return err
	}
	acct, err := store.GetAccount(ctx, key)
	if err != nil {
		return err
	}
	if acct == nil {
		return fmt.Errorf("account not found: %s", key)
	}
	if acct.Provider != models.ProviderGoogle {
		return fmt.Errorf("account %s is not a google account", key)
	}

	oauthConfig := crm.NewOAuthConfig(app.cfg.Google.ClientID, app.cfg.Google.ClientSecret)
	oauthConfig.RedirectURL = "http://" + listen + "/oauth/callback"

	token, err := runOAuthFlow(ctx, oauthConfig, listen, app)
	if err != nil {
		return err
	}
	creds, err := crm.EncodeGoogleToken(token)
	if err != nil {
		return err
	}
	if err := store.UpdateAccountCredentials(ctx, key, creds); err != nil {
		return err
	}

	fmt.Fprintf(app.out, "\n✓ Authenticated %s\n", key)
	fmt.Fprintf(app.out, "✓ Token saved to the account registry\n")
	return nil
}

// runOAuthFlow serves the OAuth callback on listen and waits for the code.
func runOAuthFlow(ctx context.Context, config *oauth2.Config, listen string, app *App) (*oauth2.Token, error) {
	state := newOAuthState()
	tokens := make(chan *oauth2.Token, 1)
	errs := make(chan error, 1)
	fail := func(err error) {
		select {
		case errs <- err:
		default:
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			fail(fmt.Errorf("OAuth state mismatch"))
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			fail(fmt.Errorf("no authorization code received"))
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		token, err := config.Exchange(ctx, code)
		if err != nil {
			fail(fmt.Errorf("failed to exchange code: %w", err))
			http.Error(w, "exchange failed", http.StatusInternalServerError)
			return
		}
		select {
		case tokens <- token:
		default:
		}
		_, _ = fmt.Fprintf(w, "Authorization successful! You can close this window.")
	})

	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", listen, err)
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fail(err)
		}
	}()
	defer func() { _ = server.Shutdown(context.Background()) }()

	authURL := config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintln(app.out, "Opening browser for Google OAuth...")
	fmt.Fprintf(app.out, "\nIf browser doesn't open, visit this URL:\n%s\n\n", authURL)
	_ = openBrowser(authURL)

	select {
	case token := <-tokens:
		return token, nil
	case err := <-errs:
		return nil, fmt.Errorf("OAuth flow failed: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// newOAuthState returns an unguessable value for the OAuth state parameter.
func newOAuthState() string {
	return uuid.NewString()
}

// openBrowser attempts to open URL in default browser
func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", url}
	default:
		cmd = "xdg-open"
		args = []string{url}
	}

	return exec.Command(cmd, args...).Start()
}

// promptSecret reads a secret without echo on a terminal, or a line from stdin otherwise.
func promptSecret(prompt string) (string, error) {
	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return string(secret), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}
