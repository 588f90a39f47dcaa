// Package vault encrypts refresh tokens at rest. The AES-256-GCM key lives
// in the operating system's secret service (Keychain, Secret Service,
// Windows Credential Manager); only ciphertext ever reaches the state store.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zalando/go-keyring"
)

// ErrEncryptionUnavailable means the OS secret service could not be used.
// Features that persist refresh tokens cannot work without it.
var ErrEncryptionUnavailable = errors.New("vault: encryption unavailable")

// Default keyring coordinates.
const (
	DefaultService = "tasksync"
	DefaultAccount = "refresh-token-key"
	keyBytes       = 32
)

// Cipher is the encrypt/decrypt contract the sync engine depends on.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Vault is a Cipher backed by a key held in the OS keyring. The key is
// created on first use and cached for the life of the process.
type Vault struct {
	service string
	account string
	logger  *slog.Logger

	mu  sync.Mutex
	key []byte
}

// New returns a Vault using the given keyring service and account names.
func New(service, account string, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}

	return &Vault{service: service, account: account, logger: logger}
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	aead, err := v.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generating nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	aead, err := v.aead()
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("vault: decoding ciphertext: %w", err)
	}

	if len(raw) < aead.NonceSize() {
		return "", errors.New("vault: ciphertext too short")
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]

	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("vault: decrypting: %w", err)
	}

	return string(plain), nil
}

func (v *Vault) aead() (cipher.AEAD, error) {
	key, err := v.loadKey()
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: creating GCM: %w", err)
	}

	return aead, nil
}

// loadKey fetches the key from the keyring, creating it if absent.
func (v *Vault) loadKey() ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key != nil {
		return v.key, nil
	}

	encoded, err := keyring.Get(v.service, v.account)

	switch {
	case err == nil:
		key, decErr := base64.StdEncoding.DecodeString(encoded)
		if decErr != nil || len(key) != keyBytes {
			return nil, fmt.Errorf("%w: stored key is malformed", ErrEncryptionUnavailable)
		}

		v.key = key
	case errors.Is(err, keyring.ErrNotFound):
		key := make([]byte, keyBytes)
		if _, randErr := rand.Read(key); randErr != nil {
			return nil, fmt.Errorf("vault: generating key: %w", randErr)
		}

		if setErr := keyring.Set(v.service, v.account, base64.StdEncoding.EncodeToString(key)); setErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncryptionUnavailable, setErr)
		}

		v.logger.Info("created token encryption key in OS keyring",
			slog.String("service", v.service),
		)

		v.key = key
	default:
		return nil, fmt.Errorf("%w: %w", ErrEncryptionUnavailable, err)
	}

	return v.key, nil
}
