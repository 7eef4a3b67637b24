package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Travis-Britz/cfddns"
	"github.com/Travis-Britz/cfddns/internal/config"
)

// apiToken returns the token given in the configuration,
// falling back to the key file and, on a terminal, to interactive setup of the key file.
func apiToken(ctx context.Context, cfg *config.Config, httpClient *http.Client) (string, error) {
	if cfg.Token != "" {
		return cfg.Token, nil
	}

	_, err := os.Stat(cfg.KeyFile)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("key file does not exist", zap.String("path", cfg.KeyFile))
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return "", fmt.Errorf("no API token: set CLOUDFLARE_API_TOKEN, pass -token, or create \"%s\"", cfg.KeyFile)
		}
		if err := runSetup(ctx, cfg.KeyFile, httpClient); err != nil {
			return "", fmt.Errorf("setup: %w", err)
		}
	}
	if err := verifyPermissions(cfg.KeyFile); err != nil {
		return "", err
	}
	key, err := readKey(cfg.KeyFile)
	if err != nil {
		return "", err
	}
	logger.Debug("successfully read key from key file")
	return key, nil
}

func runSetup(ctx context.Context, keyFile string, httpClient *http.Client) error {
	logger.Debug("running setup")
	_ = logger.Sync()
	fmt.Fprintf(os.Stderr, "Enter Cloudflare API Token: \n")
	bytekey, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("runSetup: error reading from stdin: %w", err)
	}
	key := strings.TrimSpace(string(bytekey))

	api, err := cfddns.NewCloudflare(key,
		cfddns.CloudflareHTTPClient(httpClient),
		cfddns.CloudflareLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("error creating api client: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	logger.Info("verifying token...")
	if err := api.VerifyToken(ctx); err != nil {
		return err
	}
	logger.Info("token verified successfully")

	f, err := os.OpenFile(keyFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("unable to create \"%s\": %w", keyFile, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, key); err != nil {
		return fmt.Errorf("unable to write \"%s\": %w", keyFile, err)
	}
	logger.Info("token written to key file", zap.String("path", keyFile))
	return nil
}

func readKey(path string) (key string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error reading key: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	keyb, _, err := r.ReadLine()
	if err != nil {
		return "", fmt.Errorf("error reading line: %w", err)
	}
	key = strings.TrimSpace(string(keyb))
	if key == "" {
		return "", fmt.Errorf("key file \"%s\" is empty", path)
	}
	return key, nil
}

func verifyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("error checking keyfile permissions: %w", err)
	}

	perms := info.Mode().Perm()
	// Error messages will state that we want 0600,
	// but we'll also accept 0400 which is even more restricted.
	// The file might be provided by some secrets managing software as readonly.
	if perms != 0600 && perms != 0400 {
		return fmt.Errorf("invalid permissions for \"%s\": expected file permissions \"-rw-------\"; found \"%s\"", path, fs.FileMode(perms))
	}
	return nil
}
