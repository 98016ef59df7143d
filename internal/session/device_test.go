package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunet/internal/domain"
)

func refreshedSession(t *testing.T, rows ...row) (*fakePortal, *Session) {
	t.Helper()
	portal, srv := newFakePortal(t)
	portal.set(func(p *fakePortal) { p.devices = devicesHTML(rows...) })
	s := newTestSession(t, srv.URL)
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)
	return portal, s
}

func TestDeviceDrop(t *testing.T) {
	portal, s := refreshedSession(t, rowA)
	d, ok := s.Device(keyA)
	require.True(t, ok)

	dropped, err := d.Drop(context.Background())
	require.NoError(t, err)
	assert.True(t, dropped)

	portal.mu.Lock()
	assert.Equal(t, "11", portal.droppedToken)
	portal.mu.Unlock()
}

func TestDeviceDropRejected(t *testing.T) {
	portal, s := refreshedSession(t, rowA)
	portal.set(func(p *fakePortal) { p.dropReply = "操作失败" })
	d, _ := s.Device(keyA)

	dropped, err := d.Drop(context.Background())
	require.NoError(t, err)
	assert.False(t, dropped)
}

func TestDeviceDropWithoutHandle(t *testing.T) {
	portal, s := refreshedSession(t, rowA)
	d, _ := s.Device(keyA)

	require.NoError(t, s.Close())

	dropped, err := d.Drop(context.Background())
	require.NoError(t, err)
	assert.False(t, dropped)
	assert.Equal(t, 0, portal.count("drops"))
}

func TestDeviceDropCancelled(t *testing.T) {
	portal, s := refreshedSession(t, rowA)
	portal.set(func(p *fakePortal) { p.blockPath = "drops" })
	d, _ := s.Device(keyA)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-portal.started
		cancel()
	}()

	dropped, err := d.Drop(ctx)
	assert.False(t, dropped)
	assert.True(t, errors.Is(err, context.Canceled), "expected context.Canceled, got %v", err)
}

func TestDeviceNames(t *testing.T) {
	unknown := row{"10.0.0.9", "2024-06-01 08:00:00", "1K", "", "91"}
	current := row{"10.0.0.8", "2024-06-01 08:00:00", "1K", testMac.String(), "81"}
	_, s := refreshedSession(t, rowA, unknown, current)

	devA, _ := s.Device(keyA)
	devUnknown, _ := s.Device(key("10.0.0.9", ""))
	devCurrent, _ := s.Device(domain.DeviceKey{IP: domain.Ipv4Address{10, 0, 0, 8}, MAC: testMac})
	require.NotNil(t, devA)
	require.NotNil(t, devUnknown)
	require.NotNil(t, devCurrent)

	assert.Equal(t, "aa:aa:aa:aa:aa:01", devA.Name())
	assert.Equal(t, "Unknown device", devUnknown.Name())
	assert.Equal(t, "Current device", devCurrent.Name())

	var events []Event
	s.Notifier().Subscribe(func(e Event) { events = append(events, e) })

	ctx := context.Background()
	require.NoError(t, devA.SetName(ctx, "laptop"))
	assert.Equal(t, "laptop", devA.Name())
	require.NoError(t, devCurrent.SetName(ctx, "this pc"))
	assert.Equal(t, "this pc", devCurrent.Name())

	require.NoError(t, devA.SetName(ctx, "  "))
	assert.Equal(t, "aa:aa:aa:aa:aa:01", devA.Name(), "an empty name restores the default")

	assert.False(t, devUnknown.CanRename())
	assert.ErrorIs(t, devUnknown.SetName(ctx, "ghost"), ErrCannotRename)

	require.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, FieldDevices, e.Field)
		assert.Equal(t, DeviceRenamed, e.Change)
	}
}

type memNameStore struct {
	names map[domain.MacAddress]string
	fail  error
}

func (m *memNameStore) LoadDeviceNames(ctx context.Context) (map[domain.MacAddress]string, error) {
	return m.names, m.fail
}

func (m *memNameStore) SaveDeviceName(ctx context.Context, mac domain.MacAddress, name string) error {
	if m.fail != nil {
		return m.fail
	}
	m.names[mac] = name
	return nil
}

func (m *memNameStore) DeleteDeviceName(ctx context.Context, mac domain.MacAddress) error {
	if m.fail != nil {
		return m.fail
	}
	delete(m.names, mac)
	return nil
}

func TestNameBookPersists(t *testing.T) {
	ctx := context.Background()
	mac := domain.MacAddress{1, 2, 3, 4, 5, 6}
	store := &memNameStore{names: map[domain.MacAddress]string{mac: "printer"}}

	book := NewNameBook(store)
	require.NoError(t, book.Load(ctx))

	name, ok := book.Lookup(mac)
	assert.True(t, ok)
	assert.Equal(t, "printer", name)

	require.NoError(t, book.Set(ctx, mac, "tv"))
	assert.Equal(t, "tv", store.names[mac])

	require.NoError(t, book.Set(ctx, mac, ""))
	_, ok = store.names[mac]
	assert.False(t, ok)

	store.fail = errors.New("disk full")
	assert.Error(t, book.Set(ctx, mac, "radio"))
	_, ok = book.Lookup(mac)
	assert.False(t, ok, "a failed save leaves the book unchanged")
}
