package secrets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"filippo.io/age"
)

const (
	prefixEnv   = "env:"
	prefixFile  = "file:"
	prefixAge   = "age:"
	prefixPlain = "plain:"
)

// ErrNoIdentity is returned for age references when no identity file is configured
var ErrNoIdentity = errors.New("age identity file is not configured")

// Lookup resolves a secret reference into its value
type Lookup interface {
	Lookup(ref string) (string, error)
}

// KeyRepository resolves secret references of the form
//
//	env:NAME         process environment variable
//	file:/path       file contents, trailing newline trimmed
//	age:/path        age encrypted file, decrypted with the identity file
//	plain:value      literal value
//
// A reference without a known prefix is used as a literal.
type KeyRepository struct {
	identityFile string

	mu         sync.Mutex
	identities []age.Identity
}

// NewKeyRepository creates a repository. identityFile may be empty when
// no age references are used.
func NewKeyRepository(identityFile string) *KeyRepository {
	return &KeyRepository{identityFile: identityFile}
}

// Lookup resolves ref. An empty reference resolves to an empty value.
func (k *KeyRepository) Lookup(ref string) (string, error) {
	switch {
	case ref == "":
		return "", nil
	case strings.HasPrefix(ref, prefixEnv):
		name := strings.TrimPrefix(ref, prefixEnv)
		value, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("environment variable %s is not set", name)
		}
		return value, nil
	case strings.HasPrefix(ref, prefixFile):
		data, err := os.ReadFile(strings.TrimPrefix(ref, prefixFile))
		if err != nil {
			return "", fmt.Errorf("failed to read secret file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	case strings.HasPrefix(ref, prefixAge):
		return k.decrypt(strings.TrimPrefix(ref, prefixAge))
	case strings.HasPrefix(ref, prefixPlain):
		return strings.TrimPrefix(ref, prefixPlain), nil
	default:
		return ref, nil
	}
}

func (k *KeyRepository) decrypt(path string) (string, error) {
	identities, err := k.loadIdentities()
	if err != nil {
		return "", err
	}

	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read encrypted secret: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identities...)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret %s: %w", path, err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read decrypted secret %s: %w", path, err)
	}
	return strings.TrimRight(string(plaintext), "\r\n"), nil
}

func (k *KeyRepository) loadIdentities() ([]age.Identity, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.identities != nil {
		return k.identities, nil
	}
	if k.identityFile == "" {
		return nil, ErrNoIdentity
	}

	f, err := os.Open(k.identityFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity file: %w", err)
	}
	defer f.Close()

	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse identity file: %w", err)
	}
	k.identities = identities
	return identities, nil
}
