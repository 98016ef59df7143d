package session

import (
	"context"
	"fmt"
	"log"

	"tunet/internal/domain"
)

// CurrentMacKey is the settings key holding this client's MAC address
const CurrentMacKey = "mac"

// Settings is a string key/value store for local settings
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// LoadCurrentMac returns the MAC this client reports to the gateway. It is
// read from settings, or generated and persisted when missing or unreadable.
func LoadCurrentMac(ctx context.Context, settings Settings) (domain.MacAddress, error) {
	value, ok, err := settings.GetSetting(ctx, CurrentMacKey)
	if err != nil {
		return domain.UnknownMac, fmt.Errorf("read current mac: %w", err)
	}
	if ok {
		mac, err := domain.ParseMac(value)
		if err == nil && !mac.IsUnknown() {
			return mac, nil
		}
		log.Printf("Discarding stored mac %q: %v", value, err)
	}

	mac, err := domain.RandomMac()
	if err != nil {
		return domain.UnknownMac, err
	}
	if err := settings.SetSetting(ctx, CurrentMacKey, mac.String()); err != nil {
		return domain.UnknownMac, fmt.Errorf("persist current mac: %w", err)
	}
	return mac, nil
}
