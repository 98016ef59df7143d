package session

import (
	"context"
	"errors"
	"net/http/httptest"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogOnAlreadyOnline(t *testing.T) {
	portal, srv := newFakePortal(t)
	portal.set(func(p *fakePortal) { p.checkReply = "online" })
	s := newTestSession(t, srv.URL)

	require.NoError(t, s.LogOn(context.Background(), LogOnOptions{}))

	assert.True(t, s.IsOnline())
	assert.Equal(t, 1, portal.count("check_online"))
	assert.Equal(t, 0, portal.count("login"), "credentials must not be posted when already online")
}

func TestLogOnPostsCredentials(t *testing.T) {
	portal, srv := newFakePortal(t)
	s := newTestSession(t, srv.URL)

	require.NoError(t, s.LogOn(context.Background(), LogOnOptions{}))
	assert.True(t, s.IsOnline())

	portal.mu.Lock()
	form := portal.lastLogin
	portal.mu.Unlock()

	require.NotNil(t, form)
	assert.Equal(t, "login", form.Get("action"))
	assert.Equal(t, "alice", form.Get("username"))
	// md5("secret")
	assert.Equal(t, "{MD5_HEX}5ebe2294ecd0e0f08eab7690d2a6ee69", form.Get("password"))
	assert.Equal(t, "1", form.Get("type"))
	assert.Equal(t, "1", form.Get("ac_id"))
	assert.Equal(t, testMac.String(), form.Get("mac"))
}

func TestLogOnCheckLink(t *testing.T) {
	portal, srv := newFakePortal(t)
	s := newTestSession(t, srv.URL)

	require.NoError(t, s.LogOn(context.Background(), LogOnOptions{CheckLink: true}))

	assert.True(t, s.IsOnline())
	assert.Equal(t, 1, portal.count("probe"))
	assert.Equal(t, 0, portal.count("check_online"))
	assert.Equal(t, 0, portal.count("login"))
}

func TestLogOnCheckLinkCaptured(t *testing.T) {
	portal, srv := newFakePortal(t)
	portal.set(func(p *fakePortal) { p.probeReply = "<html>please log in</html>" })
	s := newTestSession(t, srv.URL)

	require.NoError(t, s.LogOn(context.Background(), LogOnOptions{CheckLink: true}))

	assert.Equal(t, 1, portal.count("probe"))
	assert.Equal(t, 1, portal.count("login"))
}

func TestLogOnFailures(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		wantKind Kind
		wantIs   error
		wantCode string
	}{
		{"password error", "password_error@123", KindPassword, ErrPassword, "123"},
		{"e-code", "E2616: Arrearage users.", KindCoded, ErrCoded, "E2616"},
		{"e-code password", "E2553: Password is error.", KindPassword, ErrPassword, "E2553"},
		{"symbolic", "ip_exist_error", KindCoded, ErrCoded, "ip_exist_error"},
		{"symbolic username", "username_error", KindUserName, ErrUserName, "username_error"},
		{"unlisted e-code", "E9999", KindCoded, ErrCoded, "E9999"},
		{"garbage", "<html>maintenance</html>", KindUnknown, ErrUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			portal, srv := newFakePortal(t)
			portal.set(func(p *fakePortal) { p.loginReply = tt.reply })
			s := newTestSession(t, srv.URL)
			s.isOnline = true

			err := s.LogOn(context.Background(), LogOnOptions{})
			require.Error(t, err)

			assert.Equal(t, tt.wantKind, KindOf(err))
			assert.True(t, errors.Is(err, tt.wantIs), "expected %v, got %v", tt.wantIs, err)
			var se *Error
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.wantCode, se.Code)
			assert.False(t, s.IsOnline(), "a failed logon clears IsOnline")
		})
	}
}

func TestLogOnUnknownCarriesBody(t *testing.T) {
	portal, srv := newFakePortal(t)
	portal.set(func(p *fakePortal) { p.loginReply = "something new" })
	s := newTestSession(t, srv.URL)

	err := s.LogOn(context.Background(), LogOnOptions{})

	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "something new", se.Body)
}

func TestLogOnConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(nil)
	base := srv.URL
	srv.Close()

	s := newTestSession(t, base)
	s.isOnline = true

	err := s.LogOn(context.Background(), LogOnOptions{})
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrConnect), "expected ErrConnect, got %v", err)
	assert.True(t, errors.Is(err, syscall.ECONNREFUSED), "expected the refusal to be wrapped, got %v", err)
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.NotNil(t, se.Err)
	assert.False(t, s.IsOnline())
	assert.True(t, IsRetryable(err))
}

func TestLogOnCancelledKeepsState(t *testing.T) {
	for _, initial := range []bool{true, false} {
		portal, srv := newFakePortal(t)
		portal.set(func(p *fakePortal) { p.blockPath = "login" })
		s := newTestSession(t, srv.URL)
		s.isOnline = initial

		var events []Event
		s.Notifier().Subscribe(func(e Event) { events = append(events, e) })

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-portal.started
			cancel()
		}()

		err := s.LogOn(ctx, LogOnOptions{})

		assert.True(t, errors.Is(err, context.Canceled), "expected context.Canceled, got %v", err)
		assert.False(t, errors.Is(err, ErrConnect), "cancellation must not be a connect error")
		assert.Equal(t, initial, s.IsOnline(), "cancelled logon must not touch IsOnline")
		assert.Empty(t, events)
	}
}

func TestConcurrentLogOnsRunInTurn(t *testing.T) {
	portal, srv := newFakePortal(t)
	portal.set(func(p *fakePortal) { p.blockPath = "check_online" })
	s := newTestSession(t, srv.URL)

	first, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() { firstDone <- s.LogOn(first, LogOnOptions{}) }()
	<-portal.started

	waiting, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.LogOn(waiting, LogOnOptions{})
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "expected the second logon to wait, got %v", err)
	assert.Zero(t, portal.count("login"))

	cancelFirst()
	require.ErrorIs(t, <-firstDone, context.Canceled)

	portal.set(func(p *fakePortal) { p.blockPath = "" })
	require.NoError(t, s.LogOn(context.Background(), LogOnOptions{}))
	assert.True(t, s.IsOnline())
	assert.Equal(t, 1, portal.count("login"))
}

func TestLogOnPublishesOnlineChange(t *testing.T) {
	_, srv := newFakePortal(t)
	s := newTestSession(t, srv.URL)

	var events []Event
	s.Notifier().Subscribe(func(e Event) { events = append(events, e) })

	require.NoError(t, s.LogOn(context.Background(), LogOnOptions{}))
	require.NoError(t, s.LogOn(context.Background(), LogOnOptions{}))

	require.Len(t, events, 1, "only the change from offline to online is published")
	assert.Equal(t, FieldIsOnline, events[0].Field)
	assert.Equal(t, true, events[0].Value)
}
