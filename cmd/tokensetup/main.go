package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/benmeehan/tesla-exporter/internal/auth"
	"github.com/benmeehan/tesla-exporter/internal/fleet"
	"github.com/benmeehan/tesla-exporter/internal/utils"
	"github.com/benmeehan/tesla-exporter/pkg/file"
	"github.com/rs/zerolog"
)

// tokensetup performs the one-shot interactive OAuth2 authorization-code
// flow. Run it once to obtain the credential file before starting the
// exporter.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	// Component logs go to stderr so the interactive prompts stay readable.
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.WarnLevel)

	fileClient := file.NewFileService()

	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	tokenStore := auth.NewTokenStore(config.Exporter.CredentialFile, fileClient, logger)
	credManager := auth.NewCredentialManager(auth.Config{
		ClientID:     config.Tesla.ClientID,
		ClientSecret: config.Tesla.ClientSecret,
		RedirectURI:  config.Tesla.RedirectURI,
		APIBase:      config.Tesla.APIBase,
		AuthBase:     config.Tesla.AuthBase,
		TokenBase:    config.Tesla.TokenBase,
		Scopes:       config.Tesla.Scopes,
	}, tokenStore, logger)

	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("  Tesla OAuth2 Setup")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println()

	authURL, state := credManager.AuthorizationURL()

	fmt.Println("Step 1: Open the following URL in your browser:")
	fmt.Println()
	fmt.Printf("  %s\n", authURL)
	fmt.Println()
	fmt.Println("Step 2: Log in to your Tesla account and authorize the app.")
	fmt.Println()
	fmt.Println("Step 3: After authorizing, your browser will redirect to a URL")
	fmt.Printf("  starting with: %s\n", config.Tesla.RedirectURI)
	fmt.Println()
	fmt.Println("  The page will likely show an error (that's normal).")
	fmt.Println("  Copy the FULL URL from the browser's address bar.")
	fmt.Println()
	fmt.Print("Paste the redirect URL here: ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		fmt.Println("No URL provided. Aborting.")
		os.Exit(1)
	}
	redirectURL := strings.TrimSpace(scanner.Text())
	if redirectURL == "" {
		fmt.Println("No URL provided. Aborting.")
		os.Exit(1)
	}

	parsed, err := url.Parse(redirectURL)
	if err != nil {
		fmt.Printf("Could not parse the URL: %v\n", err)
		os.Exit(1)
	}

	params := parsed.Query()
	code := params.Get("code")
	if code == "" {
		fmt.Println("Error: No 'code' parameter found in the URL.")
		os.Exit(1)
	}

	if params.Get("state") != state {
		fmt.Println("Warning: State parameter mismatch. Proceeding anyway.")
	}

	fmt.Println()
	fmt.Println("Exchanging authorization code for tokens...")

	ctx := context.Background()
	if _, err := credManager.ExchangeCode(ctx, code); err != nil {
		fmt.Printf("Error exchanging code: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Tokens saved to: %s\n", config.Exporter.CredentialFile)
	fmt.Println()

	// Verify by listing vehicles
	fmt.Println("Verifying access by listing your vehicles...")
	fmt.Println()

	fleetClient := fleet.NewClient(config.Tesla.APIBase, credManager, logger)
	vehicles := fleetClient.ListVehicles(ctx)
	if len(vehicles) == 0 {
		fmt.Println("No vehicles found. Make sure your app has the correct scopes")
		fmt.Println("and the virtual key is installed on your vehicle.")
	} else {
		fmt.Printf("Found %d vehicle(s):\n", len(vehicles))
		for i, v := range vehicles {
			fmt.Printf("  [%d] %s (VIN: %s, State: %s)\n", i, v.DisplayName, v.VIN, v.State)
		}
	}

	fmt.Println()
	fmt.Println("Setup complete! You can now start the exporter.")
}
