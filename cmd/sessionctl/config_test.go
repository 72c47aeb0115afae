package main

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/mtsession/internal/protocol/codec"
	"github.com/danmuck/mtsession/internal/storage"
	"github.com/danmuck/mtsession/internal/testutil/testlog"
	"github.com/danmuck/mtsession/internal/transport"
)

func TestLoadAppConfigExample(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadAppConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DCID != 2 || !cfg.TestMode {
		t.Fatalf("unexpected dc=%d test=%t", cfg.DCID, cfg.TestMode)
	}
	if cfg.Transport.Kind != transport.KindTCP {
		t.Fatalf("unexpected transport %q", cfg.Transport.Kind)
	}
	if cfg.Transport.Address != "149.154.167.40:443" {
		t.Fatalf("unexpected address %q", cfg.Transport.Address)
	}
	if cfg.APIID != 12345 {
		t.Fatalf("unexpected api_id %d", cfg.APIID)
	}
	if cfg.AdminAddr != "127.0.0.1:7080" {
		t.Fatalf("unexpected admin addr %q", cfg.AdminAddr)
	}
	if cfg.MaxUpdateHandlers != 32 {
		t.Fatalf("unexpected max_update_handlers %d", cfg.MaxUpdateHandlers)
	}
	if cfg.Session.PingInterval != 5*time.Second || cfg.Session.WaitTimeout != 15*time.Second {
		t.Fatalf("unexpected session timings %+v", cfg.Session)
	}
	if cfg.Session.MaxRetries != 10 || cfg.Session.AcksThreshold != 10 {
		t.Fatalf("unexpected session thresholds %+v", cfg.Session)
	}
	if cfg.Transport.TLS.Enabled {
		t.Fatalf("expected tls disabled")
	}
	if _, _, err := cfg.identity(); !errors.Is(err, errAuthKeyRequired) {
		t.Fatalf("expected errAuthKeyRequired, got %v", err)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessionctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppConfigOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
dc_id = 4
address = "10.0.0.1:8443"
transport = "WebSocket"

[session]
start_timeout = "750ms"
start_attempts = 3
`)
	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Transport.Address != "10.0.0.1:8443" || cfg.Transport.Kind != transport.KindWebSocket {
		t.Fatalf("unexpected transport %+v", cfg.Transport)
	}
	if cfg.Session.StartTimeout != 750*time.Millisecond || cfg.Session.StartAttempts != 3 {
		t.Fatalf("unexpected session %+v", cfg.Session)
	}
	if cfg.Session.WaitTimeout != 15*time.Second {
		t.Fatalf("undefined keys must keep defaults, got wait=%v", cfg.Session.WaitTimeout)
	}
}

func TestLoadAppConfigRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	if _, err := loadAppConfig(writeConfig(t, "[session]\nping_interval = \"soon\"\n")); err == nil {
		t.Fatalf("expected duration parse error")
	}
	if _, err := loadAppConfig(writeConfig(t, "dc_id = 9\n")); !errors.Is(err, transport.ErrUnknownDC) {
		t.Fatalf("expected ErrUnknownDC, got %v", err)
	}
}

func TestIdentityPrefersInlineKey(t *testing.T) {
	testlog.Start(t)
	stored, err := codec.GenerateAuthKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	inline, err := codec.GenerateAuthKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	m := storage.NewMemory(99, true)
	m.SetAuthKey(stored)
	storePath := filepath.Join(t.TempDir(), "store.toml")
	if err := storage.Save(storePath, m); err != nil {
		t.Fatalf("save: %v", err)
	}

	cfg := defaultAppConfig()
	cfg.StoragePath = storePath
	_, key, err := cfg.identity()
	if err != nil || key.ID != stored.ID {
		t.Fatalf("stored key not used: id=%x err=%v", key.ID, err)
	}

	cfg.AuthKeyHex = hex.EncodeToString(inline.Key)
	store, key, err := cfg.identity()
	if err != nil || key.ID != inline.ID {
		t.Fatalf("inline key not used: id=%x err=%v", key.ID, err)
	}
	if store.APIID() != 99 || !store.IsBot() {
		t.Fatalf("storage identity lost: api_id=%d bot=%t", store.APIID(), store.IsBot())
	}
}
