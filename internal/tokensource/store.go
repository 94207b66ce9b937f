package tokensource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

// StorageType selects where the upstream API key is kept.
type StorageType string

const (
	StorageEnv     StorageType = "env"
	StorageFile    StorageType = "file"
	StorageKeyring StorageType = "keyring"
)

// Keyring coordinates of the stored API key.
const (
	KeyringService = "ccbridge"
	KeyringUser    = "upstream-api-key"
)

// DefaultKeyEnv is the environment variable read by the env store.
const DefaultKeyEnv = "AZURE_API_KEY"

// ErrReadOnly is returned when writing to a store that cannot be written.
var ErrReadOnly = errors.New("key store is read-only")

// KeyStore reads and writes the upstream API key.
// Read returns "" without error when no key is stored. Writing "" clears the key.
type KeyStore interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, key string) error
}

// NewKeyStore creates a store. location is the variable name for env and the
// path for file; it is ignored for keyring.
func NewKeyStore(storage StorageType, location string) (KeyStore, error) {
	switch storage {
	case StorageEnv, "":
		if location == "" {
			location = DefaultKeyEnv
		}
		return &EnvStore{Name: location}, nil
	case StorageFile:
		if location == "" {
			return nil, errors.New("file storage requires a path")
		}
		return &FileStore{Path: location}, nil
	case StorageKeyring:
		return &KeyringStore{Service: KeyringService, User: KeyringUser}, nil
	default:
		return nil, fmt.Errorf("unknown key storage %q", storage)
	}
}

// EnvStore reads the key from an environment variable.
type EnvStore struct {
	Name string
}

func (s *EnvStore) Read(ctx context.Context) (string, error) {
	return strings.TrimSpace(os.Getenv(s.Name)), nil
}

func (s *EnvStore) Write(ctx context.Context, key string) error {
	return ErrReadOnly
}

// FileStore keeps the key in a file readable only by its owner.
type FileStore struct {
	Path string
}

func (s *FileStore) Read(ctx context.Context) (string, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read key file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FileStore) Write(ctx context.Context, key string) error {
	if key == "" {
		if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove key file: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(s.Path, []byte(key+"\n"), 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

// KeyringStore keeps the key in the OS keyring.
type KeyringStore struct {
	Service string
	User    string
}

func (s *KeyringStore) Read(ctx context.Context) (string, error) {
	key, err := keyring.Get(s.Service, s.User)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read keyring: %w", err)
	}
	return key, nil
}

func (s *KeyringStore) Write(ctx context.Context, key string) error {
	if key == "" {
		if err := keyring.Delete(s.Service, s.User); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("delete keyring entry: %w", err)
		}
		return nil
	}
	if err := keyring.Set(s.Service, s.User, key); err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	return nil
}
