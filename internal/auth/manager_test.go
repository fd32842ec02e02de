package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/benmeehan/tesla-exporter/pkg/file"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockTokenStore is a mock implementation of the TokenStoreInterface.
type MockTokenStore struct {
	mock.Mock
}

func (m *MockTokenStore) Load() (*Credential, error) {
	args := m.Called()
	if cred, ok := args.Get(0).(*Credential); ok {
		return cred, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTokenStore) Save(cred *Credential) error {
	args := m.Called(cred)
	return args.Error(0)
}

// newTestManager builds a manager against a real on-disk store with the
// backoff knobs shrunk for testing.
func newTestManager(t *testing.T, tokenBase string) (*CredentialManager, *TokenStore) {
	t.Helper()
	store := NewTokenStore(filepath.Join(t.TempDir(), "token.json"), file.NewFileService(), zerolog.Nop())
	cm := NewCredentialManager(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenBase:    tokenBase,
		APIBase:      "https://api.example.com",
		AuthBase:     "https://auth.example.com",
		RedirectURI:  "https://localhost/callback",
		Scopes:       "openid offline_access",
	}, store, zerolog.Nop())
	cm.baseDelay = time.Millisecond
	cm.maxDelay = 5 * time.Millisecond
	return cm, store
}

func validCredential(expiresIn time.Duration) *Credential {
	now := float64(time.Now().Unix())
	return &Credential{
		AccessToken:  "current-access",
		RefreshToken: "current-refresh",
		ExpiresAt:    now + expiresIn.Seconds(),
		TokenType:    "Bearer",
		CreatedAt:    now,
	}
}

func tokenEndpoint(t *testing.T, hits *int, response map[string]any, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		assert.Equal(t, "/oauth2/v3/token", r.URL.Path)
		w.WriteHeader(status)
		if response != nil {
			_ = json.NewEncoder(w).Encode(response)
		}
	}))
}

func TestAccessToken_NoCredential(t *testing.T) {
	cm, _ := newTestManager(t, "http://unused")

	token, err := cm.AccessToken(context.Background())
	assert.Empty(t, token)
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestAccessToken_ValidCredentialSkipsRefresh(t *testing.T) {
	hits := 0
	server := tokenEndpoint(t, &hits, nil, http.StatusOK)
	defer server.Close()

	cm, _ := newTestManager(t, server.URL)
	cm.SetCredential(validCredential(time.Hour))

	token, err := cm.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "current-access", token)
	assert.Equal(t, 0, hits, "no refresh call expected for a credential valid beyond the margin")
}

func TestAccessToken_NearExpiryTriggersOneRefresh(t *testing.T) {
	hits := 0
	server := tokenEndpoint(t, &hits, map[string]any{
		"access_token":  "new-access",
		"refresh_token": "new-refresh",
		"expires_in":    3600,
		"token_type":    "Bearer",
	}, http.StatusOK)
	defer server.Close()

	cm, store := newTestManager(t, server.URL)
	cm.SetCredential(validCredential(100 * time.Second)) // inside the 300s margin

	token, err := cm.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", token)
	assert.Equal(t, 1, hits, "exactly one refresh attempt expected")

	persisted, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "new-access", persisted.AccessToken)
	assert.Equal(t, "new-refresh", persisted.RefreshToken)
}

func TestRefresh_ExpiredCredentialRefreshes(t *testing.T) {
	hits := 0
	server := tokenEndpoint(t, &hits, map[string]any{
		"access_token":  "new-access",
		"refresh_token": "new-refresh",
	}, http.StatusOK)
	defer server.Close()

	cm, _ := newTestManager(t, server.URL)
	cm.SetCredential(validCredential(-time.Hour))

	token, err := cm.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", token)
	assert.Equal(t, 1, hits)
}

func TestRefresh_SucceedsAfterServerErrors(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
		})
	}))
	defer server.Close()

	cm, _ := newTestManager(t, server.URL)
	cm.SetCredential(validCredential(time.Hour))

	require.NoError(t, cm.Refresh(context.Background()))
	assert.Equal(t, 3, hits)
}

func TestRefresh_ExhaustedDiscardsCredential(t *testing.T) {
	hits := 0
	server := tokenEndpoint(t, &hits, nil, http.StatusBadRequest)
	defer server.Close()

	cm, _ := newTestManager(t, server.URL)
	cm.SetCredential(validCredential(time.Hour))

	err := cm.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrRefreshExhausted)
	assert.Equal(t, cm.maxRetries, hits)

	// Until a new credential is loaded, every access is unavailable.
	_, err = cm.AccessToken(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestRefresh_IncompleteResponseDoesNotOverwritePersisted(t *testing.T) {
	hits := 0
	server := tokenEndpoint(t, &hits, map[string]any{
		"access_token": "new-access",
		// refresh_token missing
	}, http.StatusOK)
	defer server.Close()

	cm, store := newTestManager(t, server.URL)
	original := validCredential(time.Hour)
	require.NoError(t, store.Save(original))
	require.NoError(t, cm.Load())

	err := cm.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrRefreshExhausted)

	persisted, loadErr := store.Load()
	require.NoError(t, loadErr)
	assert.Equal(t, original.RefreshToken, persisted.RefreshToken,
		"incomplete grant must not overwrite the persisted credential")
}

func TestRefresh_PersistenceFailureFailsTheRefresh(t *testing.T) {
	hits := 0
	server := tokenEndpoint(t, &hits, map[string]any{
		"access_token":  "new-access",
		"refresh_token": "new-refresh",
	}, http.StatusOK)
	defer server.Close()

	mockStore := new(MockTokenStore)
	mockStore.On("Save", mock.Anything).Return(errors.New("disk full"))

	cm := NewCredentialManager(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenBase:    server.URL,
	}, mockStore, zerolog.Nop())
	cm.baseDelay = time.Millisecond
	cm.SetCredential(validCredential(time.Hour))

	err := cm.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 1, hits, "persistence failure must abort the refresh, not retry it")

	// The unpersisted token must not become authoritative.
	token, err := cm.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "current-access", token)
	mockStore.AssertExpectations(t)
}

func TestRefresh_WithoutRefreshToken(t *testing.T) {
	cm, _ := newTestManager(t, "http://unused")
	cm.SetCredential(&Credential{AccessToken: "only-access"})

	err := cm.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestExchangeCode_PersistsCredential(t *testing.T) {
	var gotGrant string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		gotGrant = payload["grant_type"]
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "exchanged-access",
			"refresh_token": "exchanged-refresh",
			"expires_in":    3600,
		})
	}))
	defer server.Close()

	cm, store := newTestManager(t, server.URL)

	cred, err := cm.ExchangeCode(context.Background(), "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "authorization_code", gotGrant)
	assert.Equal(t, "exchanged-access", cred.AccessToken)

	persisted, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "exchanged-refresh", persisted.RefreshToken)

	token, err := cm.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "exchanged-access", token)
}

func TestPartnerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "client_credentials", payload["grant_type"])
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "partner-access"})
	}))
	defer server.Close()

	cm, _ := newTestManager(t, server.URL)

	token, err := cm.PartnerToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "partner-access", token)
}

func TestAuthorizationURL(t *testing.T) {
	cm, _ := newTestManager(t, "http://unused")

	authURL, state := cm.AuthorizationURL()
	assert.NotEmpty(t, state)
	assert.Contains(t, authURL, "https://auth.example.com/oauth2/v3/authorize?")
	assert.Contains(t, authURL, "client_id=client-id")
	assert.Contains(t, authURL, "state="+state)
	assert.Contains(t, authURL, "response_type=code")
}
