package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrNoCredential indicates no usable credential is loaded. The current
	// call must be halted; the process itself keeps running.
	ErrNoCredential = errors.New("no credential available")

	// ErrRefreshExhausted indicates every refresh attempt failed and the
	// held credential was discarded. Re-authorization is required.
	ErrRefreshExhausted = errors.New("token refresh exhausted all attempts")

	// ErrPersistence indicates a freshly issued credential could not be
	// written to disk. The refresh is failed rather than continuing with an
	// unpersisted single-use refresh token.
	ErrPersistence = errors.New("credential persistence failed")
)

// Config holds the OAuth2 and API endpoint values the manager needs.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	APIBase      string
	AuthBase     string
	TokenBase    string
	Scopes       string
}

// CredentialManagerInterface defines the credential lifecycle operations.
type CredentialManagerInterface interface {
	Load() error
	SetCredential(cred *Credential)
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
	AuthorizationURL() (string, string)
	ExchangeCode(ctx context.Context, code string) (*Credential, error)
	PartnerToken(ctx context.Context) (string, error)
}

// CredentialManager owns the in-memory credential, checks validity and
// refreshes proactively. Every successful refresh is persisted through the
// TokenStore before the old refresh token is discarded.
type CredentialManager struct {
	config     Config
	store      TokenStoreInterface
	httpClient *http.Client
	logger     zerolog.Logger

	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
	refreshMargin time.Duration
	now           func() time.Time

	mu   sync.Mutex
	cred *Credential
}

// NewCredentialManager initializes a new CredentialManager instance.
func NewCredentialManager(config Config, store TokenStoreInterface, logger zerolog.Logger) *CredentialManager {
	return &CredentialManager{
		config:        config,
		store:         store,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		logger:        logger,
		maxRetries:    5,
		baseDelay:     1 * time.Second,
		maxDelay:      60 * time.Second,
		refreshMargin: 300 * time.Second,
		now:           time.Now,
	}
}

// tokenResponse is the token endpoint's success body.
type tokenResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresIn    float64 `json:"expires_in"`
	TokenType    string  `json:"token_type"`
}

// Load bootstraps the manager from the TokenStore. A missing credential file
// is surfaced unchanged so the caller can decide how fatal it is.
func (cm *CredentialManager) Load() error {
	cred, err := cm.store.Load()
	if err != nil {
		return err
	}

	cm.mu.Lock()
	cm.cred = cred
	cm.mu.Unlock()
	return nil
}

// SetCredential replaces the held credential, e.g. after an interactive
// authorization-code exchange.
func (cm *CredentialManager) SetCredential(cred *Credential) {
	cm.mu.Lock()
	cm.cred = cred
	cm.mu.Unlock()
}

// AccessToken returns a usable access token, refreshing first when the held
// credential expires within the proactive-refresh margin. The margin keeps
// token expiry from racing in-flight requests.
func (cm *CredentialManager) AccessToken(ctx context.Context) (string, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.cred == nil {
		return "", ErrNoCredential
	}

	deadline := cm.cred.ExpiresAt - cm.refreshMargin.Seconds()
	if float64(cm.now().Unix()) >= deadline {
		if err := cm.refreshLocked(ctx); err != nil {
			return "", err
		}
	}

	return cm.cred.AccessToken, nil
}

// Refresh performs the refresh-token grant with exponential backoff.
func (cm *CredentialManager) Refresh(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.refreshLocked(ctx)
}

// refreshLocked runs the refresh attempts. Callers must hold cm.mu.
func (cm *CredentialManager) refreshLocked(ctx context.Context) error {
	if cm.cred == nil || cm.cred.RefreshToken == "" {
		return ErrNoCredential
	}

	payload := map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     cm.config.ClientID,
		"client_secret": cm.config.ClientSecret,
		"refresh_token": cm.cred.RefreshToken,
	}

	backoff := cm.baseDelay
	for attempt := 1; attempt <= cm.maxRetries; attempt++ {
		token, err := cm.postToken(ctx, payload)
		if err == nil {
			if token.AccessToken == "" || token.RefreshToken == "" {
				// An incomplete grant must never overwrite the persisted
				// credential.
				cm.logger.Warn().
					Int("attempt", attempt).
					Int("max_retries", cm.maxRetries).
					Msg("Token response missing access or refresh token")
			} else {
				cred := cm.credentialFromResponse(token)
				if err := cm.store.Save(cred); err != nil {
					cm.logger.Error().Err(err).Msg("Failed to persist refreshed credential; re-run token setup if this persists")
					return fmt.Errorf("%w: %w", ErrPersistence, err)
				}
				cm.cred = cred
				cm.logger.Info().Msg("Token refreshed successfully")
				return nil
			}
		} else {
			cm.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_retries", cm.maxRetries).
				Msg("Token refresh attempt failed")
		}

		if attempt < cm.maxRetries {
			delay := backoff
			if delay > cm.maxDelay {
				delay = cm.maxDelay
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}

	// The previous refresh token may stay valid for an external grace window,
	// but we do not rely on that: discard and require re-authorization.
	cm.cred = nil
	cm.logger.Error().
		Int("max_retries", cm.maxRetries).
		Msg("Token refresh exhausted all attempts; re-authorization required")
	return ErrRefreshExhausted
}

// postToken posts a grant payload to the token endpoint and decodes the
// response. Non-200 statuses are returned as errors.
func (cm *CredentialManager) postToken(ctx context.Context, payload map[string]string) (*tokenResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := cm.config.TokenBase + "/oauth2/v3/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := cm.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	return &token, nil
}

// credentialFromResponse builds the persisted record from a token response.
func (cm *CredentialManager) credentialFromResponse(token *tokenResponse) *Credential {
	expiresIn := token.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 3600
	}
	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	nowSec := float64(cm.now().Unix())
	return &Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    nowSec + expiresIn,
		TokenType:    tokenType,
		CreatedAt:    nowSec,
	}
}

// AuthorizationURL builds the user-facing authorization URL together with the
// random state parameter embedded in it.
func (cm *CredentialManager) AuthorizationURL() (string, string) {
	state := uuid.New().String()
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {cm.config.ClientID},
		"redirect_uri":  {cm.config.RedirectURI},
		"scope":         {cm.config.Scopes},
		"state":         {state},
	}
	return cm.config.AuthBase + "/oauth2/v3/authorize?" + params.Encode(), state
}

// ExchangeCode trades an authorization code for a credential and persists it.
func (cm *CredentialManager) ExchangeCode(ctx context.Context, code string) (*Credential, error) {
	payload := map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     cm.config.ClientID,
		"client_secret": cm.config.ClientSecret,
		"code":          code,
		"audience":      cm.config.APIBase,
		"redirect_uri":  cm.config.RedirectURI,
	}

	token, err := cm.postToken(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("authorization code exchange failed: %w", err)
	}
	if token.AccessToken == "" || token.RefreshToken == "" {
		return nil, errors.New("authorization code exchange returned incomplete token")
	}

	cred := cm.credentialFromResponse(token)
	if err := cm.store.Save(cred); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	cm.SetCredential(cred)
	return cred, nil
}

// PartnerToken obtains a client-credentials token for partner registration.
func (cm *CredentialManager) PartnerToken(ctx context.Context) (string, error) {
	payload := map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     cm.config.ClientID,
		"client_secret": cm.config.ClientSecret,
		"scope":         "openid vehicle_device_data vehicle_cmds",
		"audience":      cm.config.APIBase,
	}

	token, err := cm.postToken(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("client credentials grant failed: %w", err)
	}
	if token.AccessToken == "" {
		return "", errors.New("client credentials grant returned no access token")
	}

	return token.AccessToken, nil
}
