// Package credential keeps the account password for unattended operation.
//
// The password is sealed with nacl/secretbox under a key derived (HKDF-SHA256)
// from a random master key and the username. Master key and sealed password
// both live in the settings table, so the protection is against casual
// disclosure of the database file contents, not against a local attacker
// holding the whole file.
package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// Settings keys
const (
	KeyMaster   = "credential.master"
	KeyUsername = "credential.username"
	KeyPassword = "credential.password"
)

const (
	masterSize = 32
	nonceSize  = 24
	hkdfInfo   = "tunet password"
)

var (
	// ErrNotFound is returned when no credentials have been stored
	ErrNotFound = errors.New("no stored credentials")
	// ErrCorrupt is returned when stored credentials cannot be opened
	ErrCorrupt = errors.New("stored credentials are corrupt")
)

// Settings is the key/value store credentials are kept in
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error
}

// Credentials is a username and clear-text password
type Credentials struct {
	Username string
	Password string
}

// Store seals and opens credentials
type Store struct {
	settings Settings
	random   io.Reader
}

// NewStore creates a credential store over settings
func NewStore(settings Settings) *Store {
	return &Store{settings: settings, random: rand.Reader}
}

// Save replaces the stored credentials
func (s *Store) Save(ctx context.Context, c Credentials) error {
	if c.Username == "" {
		return errors.New("username is required")
	}

	master, err := s.masterKey(ctx)
	if err != nil {
		return err
	}
	key, err := deriveKey(master, c.Username)
	if err != nil {
		return err
	}
	sealed, err := s.seal(key, []byte(c.Password))
	if err != nil {
		return err
	}

	if err := s.settings.SetSetting(ctx, KeyUsername, c.Username); err != nil {
		return fmt.Errorf("save username: %w", err)
	}
	if err := s.settings.SetSetting(ctx, KeyPassword, sealed); err != nil {
		return fmt.Errorf("save password: %w", err)
	}
	return nil
}

// Load returns the stored credentials, or ErrNotFound
func (s *Store) Load(ctx context.Context) (Credentials, error) {
	username, ok, err := s.settings.GetSetting(ctx, KeyUsername)
	if err != nil {
		return Credentials{}, fmt.Errorf("load username: %w", err)
	}
	if !ok {
		return Credentials{}, ErrNotFound
	}
	sealed, ok, err := s.settings.GetSetting(ctx, KeyPassword)
	if err != nil {
		return Credentials{}, fmt.Errorf("load password: %w", err)
	}
	if !ok {
		return Credentials{}, ErrNotFound
	}
	encoded, ok, err := s.settings.GetSetting(ctx, KeyMaster)
	if err != nil {
		return Credentials{}, fmt.Errorf("load master key: %w", err)
	}
	if !ok {
		return Credentials{}, fmt.Errorf("%w: master key missing", ErrCorrupt)
	}
	master, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(master) != masterSize {
		return Credentials{}, fmt.Errorf("%w: bad master key", ErrCorrupt)
	}

	key, err := deriveKey(master, username)
	if err != nil {
		return Credentials{}, err
	}
	password, err := open(key, sealed)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Username: username, Password: string(password)}, nil
}

// Clear removes stored credentials. The master key is kept.
func (s *Store) Clear(ctx context.Context) error {
	for _, key := range []string{KeyPassword, KeyUsername} {
		if err := s.settings.DeleteSetting(ctx, key); err != nil {
			return fmt.Errorf("clear %s: %w", key, err)
		}
	}
	return nil
}

// masterKey returns the stored master key, generating one on first use
func (s *Store) masterKey(ctx context.Context) ([]byte, error) {
	encoded, ok, err := s.settings.GetSetting(ctx, KeyMaster)
	if err != nil {
		return nil, fmt.Errorf("load master key: %w", err)
	}
	if ok {
		master, err := base64.StdEncoding.DecodeString(encoded)
		if err == nil && len(master) == masterSize {
			return master, nil
		}
	}

	master := make([]byte, masterSize)
	if _, err := io.ReadFull(s.random, master); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	if err := s.settings.SetSetting(ctx, KeyMaster, base64.StdEncoding.EncodeToString(master)); err != nil {
		return nil, fmt.Errorf("save master key: %w", err)
	}
	return master, nil
}

// deriveKey binds the box key to the username
func deriveKey(master []byte, username string) (*[32]byte, error) {
	h := hkdf.New(sha256.New, master, []byte(username), []byte(hkdfInfo))
	var key [32]byte
	if _, err := io.ReadFull(h, key[:]); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return &key, nil
}

func (s *Store) seal(key *[32]byte, plaintext []byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(s.random, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], plaintext, &nonce, key)
	return base64.StdEncoding.EncodeToString(box), nil
}

func open(key *[32]byte, sealed string) ([]byte, error) {
	box, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(box) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: bad password box", ErrCorrupt)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plaintext, ok := secretbox.Open(nil, box[nonceSize:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("%w: password box does not open", ErrCorrupt)
	}
	return plaintext, nil
}
