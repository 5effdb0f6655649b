package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return NewManager(path)
}

func TestLoadFullConfig(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, `
logging:
  level: debug
  console: true
storage:
  path: /var/lib/automail/automail.db
  busy_timeout: 5s
scheduler:
  workers: 4
  queue_size: 128
  run_timeout: 1m
mailer:
  driver: smtp
  from: noreply@example.com
  host: smtp.example.com
  port: 587
  rate_per_sec: 10
templates:
  dir: /etc/automail/templates
bootstrap_timeout: 45s
`)
	cfg, err := m.Load()
	require.NoError(t, err)

	sc, err := cfg.StorageConfig()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, sc.BusyTimeout)

	sched, err := cfg.SchedulerConfig()
	require.NoError(t, err)
	assert.Equal(t, 4, sched.Workers)
	assert.Equal(t, time.Minute, sched.RunTimeout)

	bt, err := cfg.BootstrapTimeoutOrDefault()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, bt)

	mc := cfg.MailerConfig()
	assert.Equal(t, "smtp", mc.Driver)
	assert.Equal(t, 10, mc.RatePerSec)

	assert.Same(t, cfg, m.Get(), "Load commits the parsed config")
}

func TestParseRejectsUnknownTopLevelKey(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, `
storage:
  path: /tmp/a.db
schedular:
  workers: 2
`)
	_, err := m.Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedular")
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{
			name:    "missing storage path",
			mutate:  func(c *Config) { c.Storage.Path = " " },
			wantErr: "storage.path",
		},
		{
			name:    "bad duration",
			mutate:  func(c *Config) { c.Scheduler.RunTimeout = "soon" },
			wantErr: "scheduler.run_timeout",
		},
		{
			name:    "smtp without host",
			mutate:  func(c *Config) { c.Mailer.Driver = "smtp"; c.Mailer.From = "a@b.c" },
			wantErr: "mailer.host",
		},
		{
			name:    "smtp without from",
			mutate:  func(c *Config) { c.Mailer.Driver = "smtp"; c.Mailer.Host = "smtp.example.com" },
			wantErr: "mailer.from",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Mailer.Driver = "carrier-pigeon" },
			wantErr: "mailer.driver",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{}
			cfg.Storage.Path = "/tmp/a.db"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBootstrapTimeoutDefault(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	bt, err := cfg.BootstrapTimeoutOrDefault()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, bt)
}

func TestSubscribePublishAndUnsubscribe(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)

	first := &Config{}
	m.publish(first)
	assert.Same(t, first, <-ch)

	// A full buffer keeps the latest config, dropping the oldest.
	stale, fresh := &Config{}, &Config{}
	m.publish(stale)
	m.publish(fresh)
	assert.Same(t, fresh, <-ch)

	m.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	m.publish(&Config{})
}

func TestWatchReloadsOnChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	base := "storage:\n  path: /tmp/a.db\nlogging:\n  level: info\n"
	require.NoError(t, os.WriteFile(path, []byte(base), 0o644))

	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(200 * time.Millisecond)
	updated := "storage:\n  path: /tmp/a.db\nlogging:\n  level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case cfg := <-ch:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchRejectsInvalidEdit(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  path: /tmp/a.db\n"), 0o644))

	m := NewManager(path)
	good, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  path: \"\"\n"), 0o644))

	select {
	case cfg := <-ch:
		t.Fatalf("invalid config was published: %+v", cfg)
	case <-time.After(1 * time.Second):
	}
	assert.Same(t, good, m.Get(), "the last valid config stays committed")
}
