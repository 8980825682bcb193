package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// EnvPassphrase overrides the generated passphrase of the encrypted store. Unattended
// hosts that share a credentials file set it so every process derives the same key.
const EnvPassphrase = "ATTACHDL_PASSPHRASE"

const (
	saltSize       = 32
	keySize        = 32
	iterations     = 100000
	passphraseFile = ".passphrase"
	vaultVersion   = 2
)

// vaultFile is the on-disk envelope. Logins are sealed as one JSON array.
type vaultFile struct {
	Version  int       `json:"version"`
	Salt     string    `json:"salt"`
	Sealed   string    `json:"sealed"`
	Modified time.Time `json:"modified"`
}

// EncryptedFileStore keeps logins in an AES-GCM sealed file keyed by login host and username.
type EncryptedFileStore struct {
	path       string
	passphrase string
	mu         sync.Mutex
}

// NewEncryptedFileStore opens the store at path. The passphrase comes from
// ATTACHDL_PASSPHRASE, or a generated one kept next to the configuration.
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	passphrase, err := loadPassphrase()
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase (set %s to provide one): %w", EnvPassphrase, err)
	}
	return &EncryptedFileStore{path: path, passphrase: passphrase}, nil
}

func (e *EncryptedFileStore) Store(account *Account) error {
	if err := account.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	accounts, salt, err := e.open()
	if err != nil {
		return err
	}
	key := account.Key()
	replaced := false
	for i := range accounts {
		if accounts[i].Key() == key {
			accounts[i] = *account
			replaced = true
		}
	}
	if !replaced {
		accounts = append(accounts, *account)
	}
	return e.seal(accounts, salt)
}

func (e *EncryptedFileStore) Retrieve(name string) (*Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	accounts, _, err := e.open()
	if err != nil {
		return nil, err
	}
	return resolve(accounts, name)
}

// List returns the stored logins ordered by key.
func (e *EncryptedFileStore) List() ([]*Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	accounts, _, err := e.open()
	if err != nil {
		return nil, err
	}
	out := make([]*Account, len(accounts))
	for i := range accounts {
		out[i] = &accounts[i]
	}
	return out, nil
}

// Delete removes the login name selects; the file goes away with the last one.
func (e *EncryptedFileStore) Delete(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	accounts, salt, err := e.open()
	if err != nil {
		return err
	}
	target, err := resolve(accounts, name)
	if err != nil {
		return err
	}

	key := target.Key()
	kept := accounts[:0]
	for _, a := range accounts {
		if a.Key() != key {
			kept = append(kept, a)
		}
	}
	if len(kept) == 0 {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", e.path, err)
		}
		return nil
	}
	return e.seal(kept, salt)
}

func (e *EncryptedFileStore) Exists(name string) bool {
	_, err := e.Retrieve(name)
	return err == nil
}

// open decrypts the file. A missing file is an empty store.
func (e *EncryptedFileStore) open() ([]Account, []byte, error) {
	content, err := os.ReadFile(e.path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", e.path, err)
	}

	var vf vaultFile
	if err := json.Unmarshal(content, &vf); err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", e.path, err)
	}
	if vf.Version != vaultVersion {
		return nil, nil, fmt.Errorf("%s has unsupported version %d; remove it and run 'attachdl auth login' again", e.path, vf.Version)
	}
	salt, err := base64.StdEncoding.DecodeString(vf.Salt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode salt in %s: %w", e.path, err)
	}
	sealed, err := base64.StdEncoding.DecodeString(vf.Sealed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode %s: %w", e.path, err)
	}

	plain, err := decrypt(sealed, deriveKey(e.passphrase, salt))
	if err != nil {
		return nil, nil, fmt.Errorf("cannot decrypt %s; %s must match the passphrase the logins were saved with: %w",
			e.path, EnvPassphrase, err)
	}

	var accounts []Account
	if err := json.Unmarshal(plain, &accounts); err != nil {
		return nil, nil, fmt.Errorf("failed to parse logins in %s: %w", e.path, err)
	}
	return accounts, salt, nil
}

// seal encrypts accounts and replaces the file atomically, reusing salt when given.
func (e *EncryptedFileStore) seal(accounts []Account, salt []byte) error {
	if salt == nil {
		salt = make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Key() < accounts[j].Key() })

	plain, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("failed to marshal logins: %w", err)
	}
	sealed, err := encrypt(plain, deriveKey(e.passphrase, salt))
	if err != nil {
		return fmt.Errorf("failed to encrypt logins: %w", err)
	}

	content, err := json.MarshalIndent(vaultFile{
		Version:  vaultVersion,
		Salt:     base64.StdEncoding.EncodeToString(salt),
		Sealed:   base64.StdEncoding.EncodeToString(sealed),
		Modified: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}

	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	return os.Rename(tmp, e.path)
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, keySize, sha256.New)
}

// loadPassphrase prefers ATTACHDL_PASSPHRASE, then the generated passphrase file,
// creating it on first use.
func loadPassphrase() (string, error) {
	if pass := os.Getenv(EnvPassphrase); pass != "" {
		return pass, nil
	}

	configDir, err := getConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(configDir, passphraseFile)
	if content, err := os.ReadFile(path); err == nil && len(content) > 0 {
		return string(content), nil
	}

	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	passphrase := base64.URLEncoding.EncodeToString(b)
	if err := os.WriteFile(path, []byte(passphrase), 0600); err != nil {
		return "", fmt.Errorf("failed to save passphrase to %s: %w", path, err)
	}
	return passphrase, nil
}

func encrypt(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(sealed, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
