package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyLogOnSuccess(t *testing.T) {
	replies := []string{"online", "Login is successful.", "login_ok", "  OK\n", "12345,678,900,0"}

	for _, reply := range replies {
		if err := classifyLogOn(reply); err != nil {
			t.Errorf("classifyLogOn(%q) = %v, expected success", reply, err)
		}
	}
}

func TestIsOnlineReply(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{"online", true},
		{"ONLINE\n", true},
		{"12345,678,900", true},
		{"not_online", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := isOnlineReply(tt.body); got != tt.want {
			t.Errorf("isOnlineReply(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}
}

func TestClassifySignIn(t *testing.T) {
	tests := []struct {
		body string
		want Kind
	}{
		{"ok", KindNone},
		{"用户不存在", KindUserName},
		{"密码错误", KindPassword},
		{"ok ", KindUnknown},
		{"<html>", KindUnknown},
	}

	for _, tt := range tests {
		if got := KindOf(classifySignIn(tt.body)); got != tt.want {
			t.Errorf("classifySignIn(%q) kind = %v, want %v", tt.body, got, tt.want)
		}
	}
}

func TestErrorMatching(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("logon: %w", &Error{Kind: KindConnect, Err: cause})

	if !errors.Is(err, ErrConnect) {
		t.Error("expected errors.Is(err, ErrConnect)")
	}
	if errors.Is(err, ErrPassword) {
		t.Error("a connect error must not match ErrPassword")
	}
	if !errors.Is(err, cause) {
		t.Error("expected the cause to be reachable")
	}
	if KindOf(err) != KindConnect {
		t.Errorf("expected KindConnect, got %v", KindOf(err))
	}
	if !IsRetryable(err) || NeedsCredentials(err) {
		t.Error("connect errors are retryable and do not need credentials")
	}

	pw := &Error{Kind: KindPassword, Code: "123"}
	if IsRetryable(pw) || !NeedsCredentials(pw) {
		t.Error("password errors need credentials")
	}
	if got := pw.Error(); got != "wrong password (123)" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestFailure(t *testing.T) {
	ctx := context.Background()
	classified := &Error{Kind: KindPassword}

	if got := failure(ctx, classified); got != classified {
		t.Errorf("classified errors pass through, got %v", got)
	}
	if got := failure(ctx, context.Canceled); got != context.Canceled {
		t.Errorf("cancellation passes through, got %v", got)
	}
	if got := failure(ctx, errors.New("boom")); KindOf(got) != KindConnect {
		t.Errorf("expected connect error, got %v", got)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if got := failure(cancelled, errors.New("read: connection reset")); got != context.Canceled {
		t.Errorf("a done context wins, got %v", got)
	}
}
