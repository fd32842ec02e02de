package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/benmeehan/tesla-exporter/internal/auth"
	"github.com/benmeehan/tesla-exporter/internal/utils"
	"github.com/benmeehan/tesla-exporter/pkg/file"
	"github.com/rs/zerolog"
)

// registerpartner registers the application in a Tesla Fleet API region using
// the client_credentials grant. Tesla requires this once per region before
// vehicle data is accessible.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

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
	fmt.Println("  Tesla Partner Registration")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println()
	fmt.Printf("Region: %s\n", config.Tesla.APIBase)
	fmt.Println()

	ctx := context.Background()

	fmt.Println("Step 1: Obtaining partner token...")
	partnerToken, err := credManager.PartnerToken(ctx)
	if err != nil {
		fmt.Printf("Error getting partner token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("  Partner token obtained.")

	redirect, err := url.Parse(config.Tesla.RedirectURI)
	if err != nil || redirect.Host == "" {
		fmt.Printf("Could not derive domain from redirect URI %q\n", config.Tesla.RedirectURI)
		os.Exit(1)
	}
	domain := redirect.Host

	fmt.Println()
	fmt.Println("Step 2: Registering partner account...")

	body, _ := json.Marshal(map[string]string{"domain": domain})
	registerURL := config.Tesla.APIBase + "/api/1/partner_accounts"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registerURL, bytes.NewReader(body))
	if err != nil {
		fmt.Printf("Error building request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Authorization", "Bearer "+partnerToken)
	req.Header.Set("Content-Type", "application/json")

	httpClient := &http.Client{Timeout: 30 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		fmt.Printf("Error registering: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("  Response: %d\n", resp.StatusCode)
	fmt.Printf("  %s\n", string(respBody))

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		fmt.Println()
		fmt.Println("Partner account registered successfully!")
		fmt.Println("You can now run tokensetup or start the exporter.")
		return
	}

	fmt.Println()
	fmt.Println("Registration may have failed. Check the response above.")
	fmt.Println()
	fmt.Println("Note: You may need to host a public key at:")
	fmt.Printf("  https://%s/.well-known/appspecific/com.tesla.3p.public-key.pem\n", domain)
}
