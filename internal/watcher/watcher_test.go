package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tunet/internal/config"
)

func TestReloadOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("posture: balanced\n"), 0644); err != nil {
		t.Fatal(err)
	}

	reloads := make(chan *config.Config, 4)
	r := New(path, func(cfg *config.Config) { reloads <- cfg }).WithDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()

	select {
	case <-r.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not start")
	}

	// An invalid edit is ignored
	if err := os.WriteFile(path, []byte("posture: reckless\n"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-reloads:
		t.Fatalf("invalid config should not be delivered, got %+v", cfg)
	case <-time.After(200 * time.Millisecond):
	}

	if err := os.WriteFile(path, []byte("posture: eager\naccount:\n  username: carol\n"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-reloads:
		if cfg.Posture != config.PostureEager {
			t.Errorf("Posture = %s, want eager", cfg.Posture)
		}
		if cfg.Account.Username != "carol" {
			t.Errorf("Username = %s, want carol", cfg.Account.Username)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload after valid edit")
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Watch returned %v, want context.Canceled", err)
	}
}

func TestIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("version: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	reloads := make(chan *config.Config, 1)
	r := New(path, func(cfg *config.Config) { reloads <- cfg }).WithDebounce(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Watch(ctx)
	<-r.ready

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("version: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-reloads:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "missing", "config.yaml"), func(*config.Config) {})
	if err := r.Watch(context.Background()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
