package mailer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automail/pkg/logx"
)

func TestNewDriverSelection(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "default is dry-run", cfg: Config{}},
		{name: "log", cfg: Config{Driver: "log"}},
		{name: "none", cfg: Config{Driver: "none"}},
		{name: "smtp", cfg: Config{Driver: "smtp", Host: "smtp.example.com", From: "noreply@example.com"}},
		{name: "smtp case insensitive", cfg: Config{Driver: " SMTP ", Host: "smtp.example.com", From: "noreply@example.com"}},
		{name: "smtp missing host", cfg: Config{Driver: "smtp", From: "noreply@example.com"}, wantErr: true},
		{name: "smtp missing from", cfg: Config{Driver: "smtp", Host: "smtp.example.com"}, wantErr: true},
		{name: "unknown", cfg: Config{Driver: "carrier-pigeon"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, err := New(tt.cfg, logx.Nop())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, m)
		})
	}
}

func TestLogAndNoneDriversNeverFail(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"log", "none"} {
		m, err := New(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.NoError(t, m.Send(context.Background(), "a@x.com", "hi", "<p>hi</p>"))
	}
}

func TestBuildMessage(t *testing.T) {
	t.Parallel()
	msg := string(buildMessage("noreply@example.com", "ops@example.com", "Shipment delivered", "<p>done</p>"))

	assert.Contains(t, msg, "From: noreply@example.com\r\n")
	assert.Contains(t, msg, "To: ops@example.com\r\n")
	assert.Contains(t, msg, "Subject: Shipment delivered\r\n")
	assert.Contains(t, msg, "Content-Type: text/html; charset=\"utf-8\"\r\n")
	assert.Contains(t, msg, "\r\n\r\n<p>done</p>")
}

func TestSanitizeHeaderStripsInjection(t *testing.T) {
	t.Parallel()
	got := sanitizeHeader("Invoice\r\nBcc: attacker@evil.com")
	assert.Equal(t, "Invoice  Bcc: attacker@evil.com", got)
	assert.NotContains(t, got, "\r")
	assert.NotContains(t, got, "\n")
}

func TestSMTPSendHonorsCancelledContext(t *testing.T) {
	t.Parallel()
	m, err := New(Config{Driver: "smtp", Host: "smtp.example.com", From: "noreply@example.com", RatePerSec: 1}, logx.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, m.Send(ctx, "a@x.com", "s", "b"), "cancelled context must short-circuit before dialing")
}
