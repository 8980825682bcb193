package auth

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

// DefaultLoginHost is where production orgs log in; sandboxes use test.salesforce.com.
const DefaultLoginHost = "login.salesforce.com"

// Account holds the login of one Salesforce integration user
type Account struct {
	Username string `json:"username"`
	Password string `json:"password"`
	// SecurityToken is appended to the password on login from untrusted networks
	SecurityToken string    `json:"security_token,omitempty"`
	LoginURL      string    `json:"login_url,omitempty"`
	LastModified  time.Time `json:"last_modified"`
}

// Validate checks the fields a SOAP login needs. Salesforce usernames have the shape of
// an email address but need not be a deliverable one.
func (a *Account) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: no account", ErrInvalidCredentials)
	}
	user := strings.TrimSpace(a.Username)
	if user == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidCredentials)
	}
	if at := strings.LastIndex(user, "@"); at < 1 || at == len(user)-1 || strings.ContainsAny(user, " \t/") {
		return fmt.Errorf("%w: username %q is not of the form name@domain", ErrInvalidCredentials, a.Username)
	}
	if a.Password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidCredentials)
	}
	if strings.ContainsAny(a.SecurityToken, " \t\r\n") {
		return fmt.Errorf("%w: security token contains whitespace", ErrInvalidCredentials)
	}
	if a.LoginURL != "" {
		u, err := url.Parse(a.LoginURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return fmt.Errorf("%w: login URL %q must be an http(s) URL", ErrInvalidCredentials, a.LoginURL)
		}
	}
	return nil
}

// Host is the login host the account authenticates against.
func (a *Account) Host() string {
	return LoginHost(a.LoginURL)
}

// Key identifies the account in a store: the same username can exist in production and
// in a sandbox, which log in through different hosts.
func (a *Account) Key() string {
	return AccountKey(a.Username, a.LoginURL)
}

// LoginHost returns the lower-cased host of loginURL, or DefaultLoginHost when it is empty.
func LoginHost(loginURL string) string {
	loginURL = strings.TrimSpace(loginURL)
	if loginURL == "" {
		return DefaultLoginHost
	}
	if !strings.Contains(loginURL, "://") {
		loginURL = "https://" + loginURL
	}
	u, err := url.Parse(loginURL)
	if err != nil || u.Host == "" {
		return strings.ToLower(loginURL)
	}
	return strings.ToLower(u.Host)
}

// AccountKey is "<login host>/<username>". Usernames are case-insensitive in Salesforce.
func AccountKey(username, loginURL string) string {
	return LoginHost(loginURL) + "/" + strings.ToLower(strings.TrimSpace(username))
}

// Matches reports whether name selects the account, either by key or by bare username.
func (a *Account) Matches(name string) bool {
	name = strings.TrimSpace(name)
	if strings.Contains(name, "/") {
		return strings.EqualFold(name, a.Key())
	}
	return strings.EqualFold(name, strings.TrimSpace(a.Username))
}

// resolve picks the one account name selects. A bare username stored for two login hosts
// is ambiguous and has to be given as a key.
func resolve(accounts []Account, name string) (*Account, error) {
	var found []Account
	for _, a := range accounts {
		if a.Matches(name) {
			found = append(found, a)
		}
	}
	switch len(found) {
	case 0:
		return nil, ErrCredentialsNotFound
	case 1:
		return &found[0], nil
	default:
		keys := make([]string, len(found))
		for i := range found {
			keys[i] = found[i].Key()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("%w: %s is stored for %s", ErrAmbiguousAccount, name, strings.Join(keys, ", "))
	}
}

// CredentialStore keeps Salesforce logins. name is either a bare username or an
// account key as returned by Account.Key.
type CredentialStore interface {
	Store(account *Account) error
	Retrieve(name string) (*Account, error)
	List() ([]*Account, error)
	Delete(name string) error
	Exists(name string) bool
}

// Manager looks logins up across stores in priority order
type Manager struct {
	stores []CredentialStore
}

// NewManager uses the system keychain when there is one, then the encrypted file, then
// the environment.
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// Store saves the login in the first store that accepts it
func (m *Manager) Store(account *Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	account.Username = strings.TrimSpace(account.Username)
	account.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(account)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve returns the login from the first store that has it. An ambiguous name is
// reported as such rather than falling through to the next store.
func (m *Manager) Retrieve(name string) (*Account, error) {
	for _, store := range m.stores {
		account, err := store.Retrieve(name)
		if err == nil && account != nil {
			return account, nil
		}
		if errors.Is(err, ErrAmbiguousAccount) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, name)
}

// RetrieveDefault prefers the environment login, then the first stored one by key.
func (m *Manager) RetrieveDefault() (*Account, error) {
	for _, store := range m.stores {
		if env, ok := store.(*EnvironmentStore); ok {
			if account, err := env.Retrieve(""); err == nil {
				return account, nil
			}
		}
	}

	accounts, err := m.List()
	if err == nil && len(accounts) > 0 {
		return accounts[0], nil
	}
	return nil, ErrCredentialsNotFound
}

// List merges every store, keeping the most recently modified copy of each key.
func (m *Manager) List() ([]*Account, error) {
	byKey := make(map[string]*Account)
	for _, store := range m.stores {
		accounts, err := store.List()
		if err != nil {
			continue
		}
		for _, account := range accounts {
			key := account.Key()
			if existing, ok := byKey[key]; !ok || account.LastModified.After(existing.LastModified) {
				byKey[key] = account
			}
		}
	}

	result := make([]*Account, 0, len(byKey))
	for _, account := range byKey {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key() < result[j].Key() })
	return result, nil
}

// Delete removes the login from every store holding it
func (m *Manager) Delete(name string) error {
	var (
		deleted bool
		lastErr error
	)
	for _, store := range m.stores {
		err := store.Delete(name)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrAmbiguousAccount):
			return err
		case !errors.Is(err, ErrCredentialsNotFound) && !errors.Is(err, ErrStoreUnavailable):
			lastErr = err
		}
	}

	if deleted {
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	return fmt.Errorf("%w: %s", ErrCredentialsNotFound, name)
}

// DeleteAll removes every stored login by key
func (m *Manager) DeleteAll() error {
	accounts, err := m.List()
	if err != nil {
		return err
	}
	for _, account := range accounts {
		_ = m.Delete(account.Key())
	}
	return nil
}

func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "attachdl")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "attachdl")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "attachdl")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "attachdl")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// SanitizeAccount creates a copy of the account with the password and token masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}

	sanitized := *account
	sanitized.Password = maskString(account.Password)
	if account.SecurityToken != "" {
		sanitized.SecurityToken = maskString(account.SecurityToken)
	}
	return &sanitized
}

func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
	ErrAmbiguousAccount    = errors.New("username is stored for more than one login host")
)
