// Package main provides the entry point for the Fitbit client CLI.
// It drives the OAuth2 PKCE authorization flow (login), reports
// authentication status, and forces token refreshes from the command line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	auth "github.com/fitbit-tools/fitbit-go/internal/auth/fitbit"
	"github.com/fitbit-tools/fitbit-go/internal/config"
	"github.com/fitbit-tools/fitbit-go/internal/logging"
	sdk "github.com/fitbit-tools/fitbit-go/sdk/fitbit"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
}

// main parses command-line flags, loads configuration, and runs the
// requested operation: login, status, or refresh.
func main() {
	var login bool
	var forceNew bool
	var status bool
	var refresh bool
	var noBrowserServer bool
	var debug bool
	var configPath string

	flag.BoolVar(&login, "login", false, "Run the OAuth authorization flow")
	flag.BoolVar(&forceNew, "force", false, "Force a new authorization even if a valid token is cached")
	flag.BoolVar(&status, "status", false, "Report whether a valid credential is cached")
	flag.BoolVar(&refresh, "refresh", false, "Force a refresh of the cached credential")
	flag.BoolVar(&noBrowserServer, "no-callback-server", false, "Paste the redirect URL manually instead of running the local HTTPS listener")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.StringVar(&configPath, "config", "config.yaml", "Configuration file path")
	flag.Parse()

	if wd, err := os.Getwd(); err == nil {
		if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
			if !errors.Is(errLoad, os.ErrNotExist) {
				log.WithError(errLoad).Warn("failed to load .env file")
			}
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if debug {
		cfg.Logging.Debug = true
	}
	if noBrowserServer {
		cfg.UseCallbackServer = false
	}
	if err = logging.Configure(&cfg.Logging); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	if err = cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.Infof("fitbit-cli Version: %s, Commit: %s, BuiltAt: %s", Version, Commit, BuildDate)

	client, err := sdk.NewClient(cfg)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	switch {
	case login:
		runLogin(ctx, client, forceNew)
	case refresh:
		runRefresh(ctx, client)
	case status:
		runStatus(ctx, client)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func runLogin(ctx context.Context, client *sdk.Client, forceNew bool) {
	if err := client.Authenticate(ctx, forceNew); err != nil {
		if apiErr, ok := auth.AsAPIError(err); ok {
			log.Fatalf("Authentication failed (%s): %s", apiErr.ErrorType, apiErr.Message)
		}
		log.Fatalf("Authentication failed: %v", err)
	}
	fmt.Println("Authentication successful.")
}

func runRefresh(ctx context.Context, client *sdk.Client) {
	credential, err := client.Token(ctx)
	if err != nil {
		log.Fatalf("No usable credential: %v", err)
	}
	if credential.RefreshToken == "" {
		log.Fatal("Cached credential has no refresh token; run -login")
	}
	if _, err = client.Auth().Refresh(ctx, credential.RefreshToken); err != nil {
		log.Fatalf("Refresh failed: %v", err)
	}
	fmt.Println("Credential refreshed.")
}

func runStatus(ctx context.Context, client *sdk.Client) {
	credential, err := client.Token(ctx)
	if err != nil {
		fmt.Println("Not authenticated.")
		os.Exit(1)
	}
	expiresIn := time.Until(time.Unix(credential.ExpiresAt, 0)).Round(time.Second)
	fmt.Printf("Authenticated (user %s), token expires in %s.\n", credential.UserID, expiresIn)
}
