package auth

import (
	"errors"
	"fmt"
	"os"

	"github.com/benmeehan/tesla-exporter/pkg/file"
	"github.com/rs/zerolog"
)

var (
	// ErrCredentialNotFound indicates no credential file exists yet. This is
	// a distinct, non-fatal outcome: the operator has not run the token setup.
	ErrCredentialNotFound = errors.New("credential file not found")

	// ErrCredentialCorrupt indicates the credential file exists but could not
	// be parsed.
	ErrCredentialCorrupt = errors.New("credential file is corrupt")
)

// Credential is the persisted OAuth2 token record. Timestamps are epoch
// seconds as floats so the file stays interchangeable with earlier tooling
// and remains human-inspectable.
type Credential struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresAt    float64 `json:"expires_at"`
	TokenType    string  `json:"token_type"`
	CreatedAt    float64 `json:"created_at"`
}

// TokenStoreInterface defines methods for persisting the credential record.
type TokenStoreInterface interface {
	Load() (*Credential, error)
	Save(cred *Credential) error
}

// TokenStore persists the credential record as JSON on disk using atomic
// replacement, so a freshly rotated refresh token is never lost to a partial
// write.
type TokenStore struct {
	path    string
	fileOps file.FileOperations
	logger  zerolog.Logger
}

// NewTokenStore initializes a new TokenStore for the given file path.
func NewTokenStore(path string, fileOps file.FileOperations, logger zerolog.Logger) *TokenStore {
	return &TokenStore{
		path:    path,
		fileOps: fileOps,
		logger:  logger,
	}
}

// Load reads the persisted credential. A missing file returns
// ErrCredentialNotFound; a malformed file returns an error wrapping
// ErrCredentialCorrupt.
func (ts *TokenStore) Load() (*Credential, error) {
	var cred Credential
	if err := ts.fileOps.ReadJsonFile(ts.path, &cred); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrCredentialCorrupt, err)
	}

	ts.logger.Info().Str("path", ts.path).Msg("Loaded credential from disk")
	return &cred, nil
}

// Save atomically replaces the persisted credential. The caller must treat a
// failure as fatal for the current refresh attempt: the previous record on
// disk is still intact, but the new refresh token has not been persisted.
func (ts *TokenStore) Save(cred *Credential) error {
	if err := ts.fileOps.WriteJsonFileAtomic(ts.path, cred); err != nil {
		return fmt.Errorf("failed to save credential to %s: %w", ts.path, err)
	}

	ts.logger.Info().Str("path", ts.path).Msg("Credential saved")
	return nil
}
