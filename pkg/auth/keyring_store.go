package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "attachdl"
	// the keychain cannot enumerate entries, so the keys of stored logins are kept under
	// one extra entry
	keyringIndex = "index"
)

// KeyringStore keeps each login as one system keychain entry named by its account key.
type KeyringStore struct {
	mu sync.Mutex
}

// NewKeyringStore fails when no keychain can be reached, so the manager can skip it.
func NewKeyringStore() (*KeyringStore, error) {
	if _, err := keyring.Get(keyringService, keyringIndex); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &KeyringStore{}, nil
}

func (k *KeyringStore) Store(account *Account) error {
	if err := account.Validate(); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal login: %w", err)
	}
	key := account.Key()
	if err := keyring.Set(keyringService, key, string(data)); err != nil {
		return fmt.Errorf("failed to store %s in keychain: %w", key, err)
	}

	keys, err := k.index()
	if err != nil {
		return err
	}
	for _, existing := range keys {
		if existing == key {
			return nil
		}
	}
	return k.saveIndex(append(keys, key))
}

func (k *KeyringStore) Retrieve(name string) (*Account, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	accounts, err := k.load()
	if err != nil {
		return nil, err
	}
	return resolve(accounts, name)
}

// List returns the indexed logins ordered by key. Entries removed outside attachdl are skipped.
func (k *KeyringStore) List() ([]*Account, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	accounts, err := k.load()
	if err != nil {
		return nil, err
	}
	out := make([]*Account, len(accounts))
	for i := range accounts {
		out[i] = &accounts[i]
	}
	return out, nil
}

func (k *KeyringStore) Delete(name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	accounts, err := k.load()
	if err != nil {
		return err
	}
	target, err := resolve(accounts, name)
	if err != nil {
		return err
	}

	key := target.Key()
	if err := keyring.Delete(keyringService, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete %s from keychain: %w", key, err)
	}

	keys, err := k.index()
	if err != nil {
		return err
	}
	kept := keys[:0]
	for _, existing := range keys {
		if existing != key {
			kept = append(kept, existing)
		}
	}
	return k.saveIndex(kept)
}

func (k *KeyringStore) Exists(name string) bool {
	_, err := k.Retrieve(name)
	return err == nil
}

func (k *KeyringStore) load() ([]Account, error) {
	keys, err := k.index()
	if err != nil {
		return nil, err
	}

	accounts := make([]Account, 0, len(keys))
	for _, key := range keys {
		data, err := keyring.Get(keyringService, key)
		if errors.Is(err, keyring.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s from keychain: %w", key, err)
		}
		var account Account
		if err := json.Unmarshal([]byte(data), &account); err != nil {
			return nil, fmt.Errorf("failed to parse keychain entry %s: %w", key, err)
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (k *KeyringStore) index() ([]string, error) {
	data, err := keyring.Get(keyringService, keyringIndex)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keychain index: %w", err)
	}
	var keys []string
	if err := json.Unmarshal([]byte(data), &keys); err != nil {
		return nil, fmt.Errorf("failed to parse keychain index: %w", err)
	}
	return keys, nil
}

func (k *KeyringStore) saveIndex(keys []string) error {
	if len(keys) == 0 {
		if err := keyring.Delete(keyringService, keyringIndex); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("failed to clear keychain index: %w", err)
		}
		return nil
	}
	sort.Strings(keys)
	data, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	if err := keyring.Set(keyringService, keyringIndex, string(data)); err != nil {
		return fmt.Errorf("failed to write keychain index: %w", err)
	}
	return nil
}

// IsKeyringAvailable reports whether a system keychain is likely reachable.
func IsKeyringAvailable() bool {
	switch runtime.GOOS {
	case "darwin", "windows":
		return true
	case "linux":
		// the secret service is reached over the session bus
		return os.Getenv("DBUS_SESSION_BUS_ADDRESS") != ""
	default:
		return false
	}
}
