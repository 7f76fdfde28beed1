package cachestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gitlab.com/arvasys/api/eam-gateway-service/internal/domain"
	"gitlab.com/arvasys/api/eam-gateway-service/pkg/cachekeys"
	"gitlab.com/arvasys/api/eam-gateway-service/pkg/crypto"
)

// credentialEnvelope is the on-disk credential format. Either Sealed carries
// the AES-GCM encrypted credential, or Plain carries it unencrypted (no
// at-rest key configured).
type credentialEnvelope struct {
	Sealed string             `json:"sealed,omitempty"`
	Plain  *domain.Credential `json:"plain,omitempty"`
}

// CredentialFileStore implements domain.CredentialPersister with one file per
// identity, AES-GCM encrypted at rest when a key is configured.
type CredentialFileStore struct {
	dir       string
	aesKeyHex string
	logger    domain.Logger
}

func NewCredentialFileStore(dir, aesKeyHex string, logger domain.Logger) (*CredentialFileStore, error) {
	if logger == nil {
		panic("logger cannot be nil in NewCredentialFileStore")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: cannot create credential dir %s: %v", domain.ErrDiskUnavailable, dir, err)
	}
	return &CredentialFileStore{dir: dir, aesKeyHex: aesKeyHex, logger: logger}, nil
}

func (s *CredentialFileStore) path(identity string) string {
	return filepath.Join(s.dir, cachekeys.CredentialFileName(identity))
}

func (s *CredentialFileStore) Save(cred domain.Credential) error {
	var envelope credentialEnvelope
	if s.aesKeyHex != "" {
		plaintext, err := json.Marshal(cred)
		if err != nil {
			return fmt.Errorf("failed to marshal credential: %w", err)
		}
		sealed, err := crypto.EncryptAESGCM(s.aesKeyHex, plaintext)
		if err != nil {
			return fmt.Errorf("failed to encrypt credential: %w", err)
		}
		envelope.Sealed = sealed
	} else {
		envelope.Plain = &cred
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal credential envelope: %w", err)
	}
	if err := os.WriteFile(s.path(cred.OwnerIdentity), data, 0o600); err != nil {
		return fmt.Errorf("%w: write credential: %v", domain.ErrDiskUnavailable, err)
	}
	return nil
}

func (s *CredentialFileStore) Load(identity string) (*domain.Credential, error) {
	data, err := os.ReadFile(s.path(identity))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrCacheMiss
		}
		return nil, fmt.Errorf("%w: read credential: %v", domain.ErrDiskUnavailable, err)
	}

	var envelope credentialEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: credential envelope: %v", domain.ErrMalformedResponse, err)
	}

	if envelope.Sealed != "" {
		if s.aesKeyHex == "" {
			return nil, errors.New("persisted credential is encrypted but no at-rest key is configured")
		}
		plaintext, err := crypto.DecryptAESGCM(s.aesKeyHex, envelope.Sealed)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt persisted credential: %w", err)
		}
		var cred domain.Credential
		if err := json.Unmarshal(plaintext, &cred); err != nil {
			return nil, fmt.Errorf("%w: decrypted credential: %v", domain.ErrMalformedResponse, err)
		}
		return &cred, nil
	}
	if envelope.Plain == nil {
		return nil, fmt.Errorf("%w: credential envelope is empty", domain.ErrMalformedResponse)
	}
	return envelope.Plain, nil
}

func (s *CredentialFileStore) Delete(identity string) error {
	if err := os.Remove(s.path(identity)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove credential: %v", domain.ErrDiskUnavailable, err)
	}
	return nil
}
