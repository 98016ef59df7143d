// Package cache persists the last known session state so a cold start can
// show balance, traffic and devices before the first refresh completes.
//
// The document never carries credentials.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"tunet/internal/domain"
)

// FileName is the cache document's name inside the cache directory
const FileName = "session-cache.json"

// ErrNotFound is returned by Load when nothing has been saved yet
var ErrNotFound = errors.New("cache not found")

// Document is the cached session snapshot
type Document struct {
	Balance    decimal.Decimal `json:"balance"`
	UpdateTime time.Time       `json:"update_time"`
	WebTraffic domain.ByteSize `json:"web_traffic"`
	Devices    []DeviceRecord  `json:"devices"`
}

// DeviceRecord is the cached part of one device
type DeviceRecord struct {
	IP         domain.Ipv4Address `json:"ip"`
	MAC        domain.MacAddress  `json:"mac"`
	WebTraffic domain.ByteSize    `json:"web_traffic"`
	LogOnTime  time.Time          `json:"logon_time"`
}

// Store loads and saves the cache document
type Store interface {
	Load(ctx context.Context) (*Document, error)
	Save(ctx context.Context, doc *Document) error
}

// FileStore keeps the document in a single JSON file
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath returns the cache file under the user's cache directory
func DefaultPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locate cache dir: %w", err)
	}
	return filepath.Join(dir, "tunet", FileName), nil
}

// Path returns the file backing the store
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and decodes the document
func (s *FileStore) Load(ctx context.Context) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read cache: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode cache: %w", err)
	}
	return &doc, nil
}

// Save writes the document atomically through a temp file and rename
func (s *FileStore) Save(ctx context.Context, doc *Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".cache-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close cache: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace cache: %w", err)
	}
	return nil
}
