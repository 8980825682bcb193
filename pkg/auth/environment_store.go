package auth

import (
	"fmt"
	"os"
	"time"
)

// Environment variables read by EnvironmentStore
const (
	EnvUsername      = "ATTACHDL_USERNAME"
	EnvPassword      = "ATTACHDL_PASSWORD"
	EnvSecurityToken = "ATTACHDL_SECURITY_TOKEN"
	EnvLoginURL      = "ATTACHDL_LOGIN_URL"
)

// EnvironmentStore implements CredentialStore using environment variables.
// It is read-only and is what unattended runs normally use.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment login when name is empty or selects it.
func (e *EnvironmentStore) Retrieve(name string) (*Account, error) {
	account := &Account{
		Username:      os.Getenv(EnvUsername),
		Password:      os.Getenv(EnvPassword),
		SecurityToken: os.Getenv(EnvSecurityToken),
		LoginURL:      os.Getenv(EnvLoginURL),
		LastModified:  time.Now(),
	}
	if account.Username == "" || account.Password == "" {
		return nil, ErrCredentialsNotFound
	}
	if name != "" && !account.Matches(name) {
		return nil, ErrCredentialsNotFound
	}
	if err := account.Validate(); err != nil {
		return nil, fmt.Errorf("%s/%s: %w", EnvUsername, EnvPassword, err)
	}
	return account, nil
}

// List returns a single account if environment variables are set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(username string) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Exists(name string) bool {
	_, err := e.Retrieve(name)
	return err == nil
}
