package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"

	"github.com/angelmondragon/notekeep-notifications/pkg/config"
)

// ErrNoToken is returned when neither the keyring nor the fallback holds a credential.
var ErrNoToken = errors.New("no bearer token stored")

// TokenSource yields the bearer credential used for REST calls and the push channel.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Open returns a configured keyring instance.
func Open(cfg config.CredentialsConfig) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: cfg.KeyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  cfg.KeyringFileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.KeyringService + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Store reads and writes the namespace's bearer token under its storage key.
type Store struct {
	ring     keyring.Keyring
	key      string
	fallback string
}

// NewStore binds a keyring to a storage key. ring may be nil, in which case
// only the fallback value is served.
func NewStore(ring keyring.Keyring, key, fallback string) *Store {
	return &Store{ring: ring, key: key, fallback: strings.TrimSpace(fallback)}
}

// Key returns the storage key the token lives under.
func (s *Store) Key() string {
	return s.key
}

// Token returns the stored credential, preferring the keyring over the fallback.
func (s *Store) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.ring != nil {
		item, err := s.ring.Get(s.key)
		switch {
		case err == nil:
			if token := strings.TrimSpace(string(item.Data)); token != "" {
				return token, nil
			}
		case errors.Is(err, keyring.ErrKeyNotFound):
		default:
			if s.fallback == "" {
				return "", fmt.Errorf("getting credential %q: %w", s.key, err)
			}
		}
	}
	if s.fallback != "" {
		return s.fallback, nil
	}
	return "", ErrNoToken
}

// Save stores a credential value in the keyring.
func (s *Store) Save(token string) error {
	if s.ring == nil {
		return errors.New("keyring unavailable")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is empty")
	}
	if err := s.ring.Set(keyring.Item{Key: s.key, Data: []byte(token)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", s.key, err)
	}
	return nil
}

// Delete removes the credential from the keyring.
func (s *Store) Delete() error {
	if s.ring == nil {
		return errors.New("keyring unavailable")
	}
	if err := s.ring.Remove(s.key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", s.key, err)
	}
	return nil
}
