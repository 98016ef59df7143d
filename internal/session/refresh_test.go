package session

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunet/internal/domain"
)

var (
	rowA  = row{"10.0.0.1", "2024-06-01 08:00:00", "1M", "aa:aa:aa:aa:aa:01", "11"}
	rowA2 = row{"10.0.0.1", "2024-06-01 08:00:00", "3M", "aa:aa:aa:aa:aa:01", "12"}
	rowB  = row{"10.0.0.2", "2024-06-01 07:00:00", "2M", "aa:aa:aa:aa:aa:02", "21"}
	rowC  = row{"10.0.0.3", "2024-06-01 08:30:00", "500K", "aa:aa:aa:aa:aa:03", "31"}

	keyA = key("10.0.0.1", "aa:aa:aa:aa:aa:01")
	keyB = key("10.0.0.2", "aa:aa:aa:aa:aa:02")
	keyC = key("10.0.0.3", "aa:aa:aa:aa:aa:03")
)

func TestRefreshAppliesReports(t *testing.T) {
	portal, srv := newFakePortal(t)
	portal.set(func(p *fakePortal) {
		p.profile = profileHTML("123456789", "42.17")
		p.devices = devicesHTML(rowA, rowB)
	})
	s := newTestSession(t, srv.URL)

	result, err := s.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.DeviceKey{keyA, keyB}, result.Added)
	assert.Empty(t, result.Updated)
	assert.Empty(t, result.Retired)

	assert.True(t, s.Balance().Equal(decimal.RequireFromString("42.17")))
	assert.Equal(t, domain.ByteSize(123456789), s.WebTraffic())
	assert.Equal(t, testClock, s.UpdateTime())
	assert.Equal(t, domain.ByteSize(123456789+1_000_000+2_000_000), s.ExactTraffic())

	devices := s.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, keyA, devices[0].Key())
	assert.Equal(t, domain.ByteSize(1_000_000), devices[0].Traffic())
	assert.Equal(t, domain.DeviceFamilyLinux, devices[0].Family())
	assert.True(t, devices[0].CanDrop())
}

func TestRefreshReconciles(t *testing.T) {
	portal, srv := newFakePortal(t)
	portal.set(func(p *fakePortal) { p.devices = devicesHTML(rowA, rowB) })
	s := newTestSession(t, srv.URL)

	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	devA, _ := s.Device(keyA)
	devB, _ := s.Device(keyB)
	require.NotNil(t, devA)
	require.NotNil(t, devB)
	firstHandle := s.handle

	portal.set(func(p *fakePortal) { p.devices = devicesHTML(rowA2, rowC) })
	result, err := s.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.DeviceKey{keyC}, result.Added)
	assert.Equal(t, []domain.DeviceKey{keyA}, result.Updated)
	assert.Equal(t, []domain.DeviceKey{keyB}, result.Retired)

	updated, ok := s.Device(keyA)
	require.True(t, ok)
	assert.Same(t, devA, updated, "a surviving device is updated in place")
	assert.Equal(t, domain.ByteSize(3_000_000), updated.Traffic())

	_, ok = s.Device(keyB)
	assert.False(t, ok, "B is retired")
	assert.False(t, devB.CanDrop(), "a retired device no longer holds the handle")

	assert.True(t, firstHandle.Released(), "the previous cycle's handle is released")
	require.NotNil(t, s.handle)
	assert.False(t, s.handle.Released())
	for _, d := range s.Devices() {
		assert.Same(t, s.handle, d.handle, "one handle backs every device")
	}
}

func TestRefreshSameIPDifferentMac(t *testing.T) {
	portal, srv := newFakePortal(t)
	other := rowA
	other.mac = "bb:bb:bb:bb:bb:01"
	portal.set(func(p *fakePortal) { p.devices = devicesHTML(rowA) })
	s := newTestSession(t, srv.URL)

	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	portal.set(func(p *fakePortal) { p.devices = devicesHTML(other) })
	result, err := s.Refresh(context.Background())
	require.NoError(t, err)

	assert.Len(t, result.Added, 1)
	assert.Equal(t, []domain.DeviceKey{keyA}, result.Retired)
}

func TestRefreshEmptyListReleasesHandle(t *testing.T) {
	portal, srv := newFakePortal(t)
	portal.set(func(p *fakePortal) { p.devices = devicesHTML(rowA) })
	s := newTestSession(t, srv.URL)

	_, err := s.Refresh(context.Background())
	require.NoError(t, err)
	handle := s.handle
	require.NotNil(t, handle)

	portal.set(func(p *fakePortal) { p.devices = devicesHTML() })
	result, err := s.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.DeviceKey{keyA}, result.Retired)
	assert.Empty(t, s.Devices())
	assert.Nil(t, s.handle)
	assert.True(t, handle.Released())
}

func TestRefreshDataFormatError(t *testing.T) {
	portal, srv := newFakePortal(t)
	portal.set(func(p *fakePortal) { p.profile = "<html>session expired</html>" })
	s := newTestSession(t, srv.URL)

	_, err := s.Refresh(context.Background())

	assert.True(t, errors.Is(err, ErrDataFormat), "expected ErrDataFormat, got %v", err)
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "<html>session expired</html>", se.Body)
	assert.True(t, s.UpdateTime().IsZero(), "a failed refresh does not advance UpdateTime")
	assert.Nil(t, s.handle)
}

func TestRefreshPartialFailureKeepsState(t *testing.T) {
	portal, srv := newFakePortal(t)
	portal.set(func(p *fakePortal) {
		p.profile = profileHTML("100", "1.00")
		p.devices = devicesHTML(rowA)
	})
	s := newTestSession(t, srv.URL)

	_, err := s.Refresh(context.Background())
	require.NoError(t, err)
	before := s.Status()

	portal.set(func(p *fakePortal) {
		p.profile = profileHTML("200", "2.00")
		p.devices = `<tr align="center"><td class="maintd">not an ip</td></tr>`
	})
	_, err = s.Refresh(context.Background())
	require.True(t, errors.Is(err, ErrDataFormat), "expected ErrDataFormat, got %v", err)

	if diff := cmp.Diff(before, s.Status()); diff != "" {
		t.Errorf("state changed after failed refresh (-before +after):\n%s", diff)
	}
}

func TestRefreshCancelledKeepsState(t *testing.T) {
	portal, srv := newFakePortal(t)
	portal.set(func(p *fakePortal) {
		p.profile = profileHTML("100", "1.00")
		p.devices = devicesHTML(rowA, rowB)
	})
	s := newTestSession(t, srv.URL)

	_, err := s.Refresh(context.Background())
	require.NoError(t, err)
	before := s.Status()

	portal.set(func(p *fakePortal) {
		p.profile = profileHTML("999", "9.99")
		p.devices = devicesHTML(rowC)
		p.blockPath = "devices"
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-portal.started
		cancel()
	}()

	_, err = s.Refresh(ctx)

	assert.True(t, errors.Is(err, context.Canceled), "expected context.Canceled, got %v", err)
	assert.Equal(t, KindNone, KindOf(err), "cancellation is not a session error")
	if diff := cmp.Diff(before, s.Status()); diff != "" {
		t.Errorf("state changed after cancelled refresh (-before +after):\n%s", diff)
	}
}

func TestRefreshConnectError(t *testing.T) {
	srv := httptest.NewServer(nil)
	base := srv.URL
	srv.Close()

	s := newTestSession(t, base)
	_, err := s.Refresh(context.Background())

	assert.True(t, errors.Is(err, ErrConnect), "expected ErrConnect, got %v", err)
}

func TestSignInRetry(t *testing.T) {
	tests := []struct {
		name      string
		replies   []string
		wantErr   error
		wantBody  string
		wantCalls int
	}{
		{"first ok", []string{"ok"}, nil, "", 1},
		{"retry then ok", []string{"busy", "ok"}, nil, "", 2},
		{"second failure surfaces", []string{"busy", "still busy"}, ErrUnknown, "still busy", 2},
		{"retry then wrong password", []string{"busy", "密码错误"}, ErrPassword, "", 2},
		{"unknown user no retry", []string{"用户不存在"}, ErrUserName, "", 1},
		{"wrong password no retry", []string{"密码错误"}, ErrPassword, "", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			portal, srv := newFakePortal(t)
			portal.set(func(p *fakePortal) { p.signIn = tt.replies })
			s := newTestSession(t, srv.URL)

			_, err := s.Refresh(context.Background())

			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.True(t, errors.Is(err, tt.wantErr), "expected %v, got %v", tt.wantErr, err)
				var se *Error
				require.True(t, errors.As(err, &se))
				assert.Equal(t, tt.wantBody, se.Body)
				assert.True(t, s.UpdateTime().IsZero())
			}
			assert.Equal(t, tt.wantCalls, portal.count("signin"))
		})
	}
}

func TestRefreshPublishesEvents(t *testing.T) {
	portal, srv := newFakePortal(t)
	portal.set(func(p *fakePortal) { p.devices = devicesHTML(rowA) })
	s := newTestSession(t, srv.URL)

	var events []Event
	s.Notifier().Subscribe(func(e Event) { events = append(events, e) })

	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	var fields []Field
	for _, e := range events {
		fields = append(fields, e.Field)
	}
	assert.Equal(t, []Field{
		FieldBalance,
		FieldWebTraffic,
		FieldDevices,
		FieldUpdateTime,
		FieldExactTraffic,
	}, fields)
	assert.Equal(t, DeviceAdded, events[2].Change)
	assert.Equal(t, keyA, *events[2].Device)
}

func TestConcurrentRefreshesRunInTurn(t *testing.T) {
	portal, srv := newFakePortal(t)
	portal.set(func(p *fakePortal) { p.blockPath = "devices" })
	s := newTestSession(t, srv.URL)

	first, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := s.Refresh(first)
		firstDone <- err
	}()
	<-portal.started

	waiting, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.Refresh(waiting)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "expected the second refresh to wait, got %v", err)
	assert.Equal(t, 1, portal.count("signin"), "second refresh must not reach the portal while the first runs")

	cancelFirst()
	require.ErrorIs(t, <-firstDone, context.Canceled)

	portal.set(func(p *fakePortal) {
		p.blockPath = ""
		p.devices = devicesHTML(rowA, rowB)
	})
	result, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Added, 2)
}
