package repository

import (
	"context"

	"tunet/internal/domain"
)

// Repository defines local persistence for the client
type Repository interface {
	// Settings
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error

	// Device rename map, keyed by MAC
	LoadDeviceNames(ctx context.Context) (map[domain.MacAddress]string, error)
	SaveDeviceName(ctx context.Context, mac domain.MacAddress, name string) error
	DeleteDeviceName(ctx context.Context, mac domain.MacAddress) error

	// Close releases resources
	Close() error
}
