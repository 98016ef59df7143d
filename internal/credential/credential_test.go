package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemSettings() *memSettings {
	return &memSettings{values: make(map[string]string)}
}

func (m *memSettings) GetSetting(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memSettings) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memSettings) DeleteSetting(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	settings := newMemSettings()
	store := NewStore(settings)

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, Credentials{Username: "alice", Password: "hunter2"}))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Credentials{Username: "alice", Password: "hunter2"}, got)

	assert.NotContains(t, settings.values[KeyPassword], "hunter2")
	assert.Equal(t, "alice", settings.values[KeyUsername])
}

func TestSaveReusesMasterKey(t *testing.T) {
	ctx := context.Background()
	settings := newMemSettings()
	store := NewStore(settings)

	require.NoError(t, store.Save(ctx, Credentials{Username: "alice", Password: "one"}))
	master := settings.values[KeyMaster]
	require.NotEmpty(t, master)

	require.NoError(t, store.Save(ctx, Credentials{Username: "alice", Password: "two"}))
	assert.Equal(t, master, settings.values[KeyMaster])

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", got.Password)
}

func TestSaveRequiresUsername(t *testing.T) {
	store := NewStore(newMemSettings())
	assert.Error(t, store.Save(context.Background(), Credentials{Password: "x"}))
}

func TestSwappedUsernameDoesNotOpen(t *testing.T) {
	ctx := context.Background()
	settings := newMemSettings()
	store := NewStore(settings)

	require.NoError(t, store.Save(ctx, Credentials{Username: "alice", Password: "hunter2"}))
	settings.values[KeyUsername] = "mallory"

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestCorruptBox(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m map[string]string)
	}{
		{"not base64", func(m map[string]string) { m[KeyPassword] = "%%%" }},
		{"too short", func(m map[string]string) { m[KeyPassword] = "AAAA" }},
		{"flipped byte", func(m map[string]string) {
			b := []byte(m[KeyPassword])
			if b[len(b)-3] == 'A' {
				b[len(b)-3] = 'B'
			} else {
				b[len(b)-3] = 'A'
			}
			m[KeyPassword] = string(b)
		}},
		{"missing master", func(m map[string]string) { delete(m, KeyMaster) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			settings := newMemSettings()
			store := NewStore(settings)
			require.NoError(t, store.Save(ctx, Credentials{Username: "alice", Password: "hunter2"}))

			tt.mutate(settings.values)

			_, err := store.Load(ctx)
			assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
		})
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	settings := newMemSettings()
	store := NewStore(settings)

	require.NoError(t, store.Save(ctx, Credentials{Username: "alice", Password: "hunter2"}))
	require.NoError(t, store.Clear(ctx))

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotEmpty(t, settings.values[KeyMaster])
}

func TestRandomFailure(t *testing.T) {
	store := NewStore(newMemSettings())
	store.random = strings.NewReader("short")

	err := store.Save(context.Background(), Credentials{Username: "alice", Password: "x"})
	assert.ErrorContains(t, err, "generate master key")
}
