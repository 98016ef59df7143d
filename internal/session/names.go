package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tunet/internal/domain"
)

// NameStore persists the device rename map
type NameStore interface {
	LoadDeviceNames(ctx context.Context) (map[domain.MacAddress]string, error)
	SaveDeviceName(ctx context.Context, mac domain.MacAddress, name string) error
	DeleteDeviceName(ctx context.Context, mac domain.MacAddress) error
}

// NameBook is the user's rename map, keyed by MAC. It is shared by every
// device and outlives refresh cycles.
type NameBook struct {
	store NameStore

	mu    sync.RWMutex
	names map[domain.MacAddress]string
}

// NewNameBook creates an empty book. A nil store keeps names in memory only.
func NewNameBook(store NameStore) *NameBook {
	return &NameBook{
		store: store,
		names: make(map[domain.MacAddress]string),
	}
}

// Load replaces the in-memory map with the stored one
func (b *NameBook) Load(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	names, err := b.store.LoadDeviceNames(ctx)
	if err != nil {
		return fmt.Errorf("load device names: %w", err)
	}

	b.mu.Lock()
	b.names = make(map[domain.MacAddress]string, len(names))
	for mac, name := range names {
		b.names[mac] = name
	}
	b.mu.Unlock()
	return nil
}

// Lookup returns the user assigned name for mac
func (b *NameBook) Lookup(mac domain.MacAddress) (string, bool) {
	if b == nil {
		return "", false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	name, ok := b.names[mac]
	return name, ok
}

// Set assigns a name to mac; an empty name removes the entry
func (b *NameBook) Set(ctx context.Context, mac domain.MacAddress, name string) error {
	if mac.IsUnknown() {
		return ErrCannotRename
	}
	name = strings.TrimSpace(name)

	if b.store != nil {
		var err error
		if name == "" {
			err = b.store.DeleteDeviceName(ctx, mac)
		} else {
			err = b.store.SaveDeviceName(ctx, mac, name)
		}
		if err != nil {
			return fmt.Errorf("save device name: %w", err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if name == "" {
		delete(b.names, mac)
	} else {
		b.names[mac] = name
	}
	return nil
}
