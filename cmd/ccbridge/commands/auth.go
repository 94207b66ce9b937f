package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/ccbridge/ccbridge/internal/tokensource"
)

// authCommand returns the 'auth' subcommand for managing upstream credentials.
func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage upstream credentials",
		Commands: []*cli.Command{
			authSetKeyCommand(),
			authClearKeyCommand(),
			authEntraCommand(),
		},
	}
}

// authSetKeyCommand returns the 'auth set-key' subcommand.
func authSetKeyCommand() *cli.Command {
	return &cli.Command{
		Name:   "set-key",
		Usage:  "Save the Azure API key to the configured storage",
		Action: authSetKeyAction,
	}
}

// authClearKeyCommand returns the 'auth clear-key' subcommand.
func authClearKeyCommand() *cli.Command {
	return &cli.Command{
		Name:   "clear-key",
		Usage:  "Remove the Azure API key from the configured storage",
		Action: authClearKeyAction,
	}
}

// authEntraCommand returns the 'auth entra' subcommand.
func authEntraCommand() *cli.Command {
	return &cli.Command{
		Name:   "entra",
		Usage:  "Fetch an Entra ID token to verify the configured client credentials",
		Action: authEntraAction,
	}
}

func writableKeyStore(cmd *cli.Command) (tokensource.KeyStore, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if tokensource.StorageType(cfg.Upstream.KeyStorage) == tokensource.StorageEnv {
		return nil, fmt.Errorf("cannot change the API key with env storage (read-only). Configure file or keyring storage")
	}

	store, err := tokensource.NewKeyStore(tokensource.StorageType(cfg.Upstream.KeyStorage), cfg.Upstream.KeyLocation)
	if err != nil {
		return nil, fmt.Errorf("failed to create key store: %w", err)
	}
	return store, nil
}

func authSetKeyAction(ctx context.Context, cmd *cli.Command) error {
	store, err := writableKeyStore(cmd)
	if err != nil {
		return err
	}

	key, err := readSecureInput(ctx, "Enter Azure API key: ")
	if err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	if err := store.Write(ctx, key); err != nil {
		return fmt.Errorf("failed to write API key: %w", err)
	}

	fmt.Println()
	fmt.Println("=== Key Saved ===")
	fmt.Println("API key saved to configured storage")

	return nil
}

func authClearKeyAction(ctx context.Context, cmd *cli.Command) error {
	store, err := writableKeyStore(cmd)
	if err != nil {
		return err
	}

	// Clear key via empty string write to maintain storage abstraction
	if err := store.Write(ctx, ""); err != nil {
		return fmt.Errorf("failed to clear API key: %w", err)
	}

	fmt.Println()
	fmt.Println("=== Key Cleared ===")
	fmt.Println("API key removed from configured storage")

	return nil
}

func authEntraAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	entra := cfg.Upstream.Entra
	if !entra.Enabled() {
		return fmt.Errorf("entra credentials not configured. Set upstream.entra.tenant_id, client_id and client_secret")
	}

	authorizer := entra.Authorizer()
	token, err := authorizer.TokenSource(ctx).Token()
	if err != nil {
		return fmt.Errorf("failed to fetch entra token: %w", err)
	}

	fmt.Println("=== Entra Token Acquired ===")
	fmt.Printf("Tenant:     %s\n", entra.TenantID)
	fmt.Printf("Expires in: %s\n", time.Until(token.Expiry).Round(time.Second))

	return nil
}

// readSecureInput reads user input with hidden display and context cancellation support.
// Goroutine+select pattern required because term.ReadPassword has no native context support.
func readSecureInput(ctx context.Context, prompt string) (string, error) {
	fmt.Print(prompt)
	defer fmt.Println()

	type result struct {
		value string
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		inputBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		resultCh <- result{value: string(inputBytes), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return "", fmt.Errorf("failed to read input: %w", res.err)
		}
		return res.value, nil
	}
}
