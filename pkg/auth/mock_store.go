package auth

import (
	"sort"
	"sync"
)

// MockStore is an in-memory CredentialStore for tests.
type MockStore struct {
	mu       sync.RWMutex
	accounts map[string]Account

	// Error injection
	StoreError error
	ListError  error
}

func NewMockStore() *MockStore {
	return &MockStore{accounts: make(map[string]Account)}
}

func (m *MockStore) Store(account *Account) error {
	if m.StoreError != nil {
		return m.StoreError
	}
	if err := account.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.Key()] = *account
	return nil
}

func (m *MockStore) Retrieve(name string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return resolve(m.snapshot(), name)
}

func (m *MockStore) snapshot() []Account {
	accounts := make([]Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		accounts = append(accounts, a)
	}
	return accounts
}

// List returns copies ordered by key.
func (m *MockStore) List() ([]*Account, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	accounts := make([]*Account, 0, len(m.accounts))
	for _, account := range m.accounts {
		a := account
		accounts = append(accounts, &a)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Key() < accounts[j].Key() })
	return accounts, nil
}

func (m *MockStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, err := resolve(m.snapshot(), name)
	if err != nil {
		return err
	}
	delete(m.accounts, target.Key())
	return nil
}

func (m *MockStore) Exists(name string) bool {
	_, err := m.Retrieve(name)
	return err == nil
}

// Count returns the number of stored accounts.
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}

// NewMockManager creates a Manager backed only by a MockStore.
func NewMockManager() (*Manager, *MockStore) {
	store := NewMockStore()
	return &Manager{stores: []CredentialStore{store}}, store
}

// NewMockManagerWithStores creates a Manager over the given stores, in lookup order.
func NewMockManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}
