package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Keyring remembers admin secrets per session on this device.
type Keyring interface {
	Load(sessionID string) (string, bool, error)
	Save(sessionID, secret string) error
	Delete(sessionID string) error
}

// MemoryKeyring keeps secrets for the life of the process.
type MemoryKeyring struct {
	mu      sync.Mutex
	secrets map[string]string
}

func NewMemoryKeyring() *MemoryKeyring {
	return &MemoryKeyring{secrets: make(map[string]string)}
}

func (k *MemoryKeyring) Load(sessionID string) (string, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	secret, ok := k.secrets[sessionID]
	return secret, ok, nil
}

func (k *MemoryKeyring) Save(sessionID, secret string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.secrets[sessionID] = secret
	return nil
}

func (k *MemoryKeyring) Delete(sessionID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.secrets, sessionID)
	return nil
}

// FileKeyring persists secrets as a JSON object in a file readable only by
// the current user.
type FileKeyring struct {
	mu   sync.Mutex
	path string
}

func NewFileKeyring(path string) (*FileKeyring, error) {
	if path == "" {
		return nil, errors.New("client: keyring path is required")
	}
	return &FileKeyring{path: path}, nil
}

func (k *FileKeyring) Load(sessionID string) (string, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	secrets, err := k.read()
	if err != nil {
		return "", false, err
	}
	secret, ok := secrets[sessionID]
	return secret, ok, nil
}

func (k *FileKeyring) Save(sessionID, secret string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	secrets, err := k.read()
	if err != nil {
		return err
	}
	secrets[sessionID] = secret
	return k.write(secrets)
}

func (k *FileKeyring) Delete(sessionID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	secrets, err := k.read()
	if err != nil {
		return err
	}
	if _, ok := secrets[sessionID]; !ok {
		return nil
	}
	delete(secrets, sessionID)
	return k.write(secrets)
}

func (k *FileKeyring) read() (map[string]string, error) {
	data, err := os.ReadFile(k.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("client: read keyring: %w", err)
	}
	secrets := make(map[string]string)
	if len(data) == 0 {
		return secrets, nil
	}
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("client: decode keyring: %w", err)
	}
	return secrets, nil
}

func (k *FileKeyring) write(secrets map[string]string) error {
	data, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return fmt.Errorf("client: create keyring dir: %w", err)
	}
	temp, err := os.CreateTemp(filepath.Dir(k.path), ".keyring-*")
	if err != nil {
		return fmt.Errorf("client: write keyring: %w", err)
	}
	tempPath := temp.Name()
	if _, err := temp.Write(data); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("client: write keyring: %w", err)
	}
	if err := temp.Chmod(0o600); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("client: write keyring: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("client: write keyring: %w", err)
	}
	if err := os.Rename(tempPath, k.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("client: write keyring: %w", err)
	}
	return nil
}
