package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/mtsession/internal/protocol/codec"
	"github.com/danmuck/mtsession/internal/protocol/session"
	"github.com/danmuck/mtsession/internal/storage"
	"github.com/danmuck/mtsession/internal/transport"
)

var errAuthKeyRequired = errors.New("sessionctl: auth_key or storage_path with a stored key required")

type appConfig struct {
	DCID        int
	TestMode    bool
	IsMedia     bool
	Transport   transport.Config
	APIID       int32
	IsBot       bool
	AuthKeyHex  string
	StoragePath string
	Client      session.ClientInfo
	Session     session.Config

	AdminAddr         string
	AdminToken        string
	CORSOrigins       []string
	MaxUpdateHandlers int64
}

func defaultAppConfig() appConfig {
	return appConfig{
		DCID:      2,
		Transport: transport.DefaultConfig(),
		Client: session.ClientInfo{
			AppVersion:    "mtsession 0.1.0",
			DeviceModel:   "sessionctl",
			SystemVersion: "linux",
			LangCode:      "en",
		},
		Session:           session.DefaultConfig(),
		AdminAddr:         "127.0.0.1:7080",
		MaxUpdateHandlers: 64,
	}
}

type sessionBlock struct {
	StartTimeout       string `toml:"start_timeout"`
	WaitTimeout        string `toml:"wait_timeout"`
	SleepThreshold     string `toml:"sleep_threshold"`
	MaxRetries         int    `toml:"max_retries"`
	AcksThreshold      int    `toml:"acks_threshold"`
	PingInterval       string `toml:"ping_interval"`
	ReconnectThreshold string `toml:"reconnect_threshold"`
	StartAttempts      int    `toml:"start_attempts"`
}

type fileConfig struct {
	DCID              int                 `toml:"dc_id"`
	Address           string              `toml:"address"`
	Transport         string              `toml:"transport"`
	TestMode          bool                `toml:"test_mode"`
	IsMedia           bool                `toml:"is_media"`
	APIID             int32               `toml:"api_id"`
	IsBot             bool                `toml:"is_bot"`
	AuthKey           string              `toml:"auth_key"`
	StoragePath       string              `toml:"storage_path"`
	AppVersion        string              `toml:"app_version"`
	DeviceModel       string              `toml:"device_model"`
	SystemVersion     string              `toml:"system_version"`
	LangCode          string              `toml:"lang_code"`
	AdminAddr         string              `toml:"admin_addr"`
	AdminToken        string              `toml:"admin_token"`
	CORSOrigins       []string            `toml:"cors_origins"`
	MaxUpdateHandlers int64               `toml:"max_update_handlers"`
	SecurityMode      string              `toml:"security_mode"`
	TLS               transport.TLSConfig `toml:"tls"`
	Session           sessionBlock        `toml:"session"`
}

func loadAppConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load sessionctl config: %w", err)
	}

	if meta.IsDefined("dc_id") {
		cfg.DCID = raw.DCID
	}
	if meta.IsDefined("test_mode") {
		cfg.TestMode = raw.TestMode
	}
	if meta.IsDefined("is_media") {
		cfg.IsMedia = raw.IsMedia
	}
	if meta.IsDefined("transport") {
		cfg.Transport.Kind = transport.Kind(strings.ToLower(strings.TrimSpace(raw.Transport)))
	}
	if meta.IsDefined("address") {
		cfg.Transport.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("security_mode") {
		cfg.Transport.SecurityMode = transport.SecurityMode(raw.SecurityMode)
	}
	if meta.IsDefined("tls") {
		cfg.Transport.TLS = raw.TLS
	}
	if meta.IsDefined("api_id") {
		cfg.APIID = raw.APIID
	}
	if meta.IsDefined("is_bot") {
		cfg.IsBot = raw.IsBot
	}
	if meta.IsDefined("auth_key") {
		cfg.AuthKeyHex = strings.TrimSpace(raw.AuthKey)
	}
	if meta.IsDefined("storage_path") {
		cfg.StoragePath = strings.TrimSpace(raw.StoragePath)
	}
	if meta.IsDefined("app_version") {
		cfg.Client.AppVersion = raw.AppVersion
	}
	if meta.IsDefined("device_model") {
		cfg.Client.DeviceModel = raw.DeviceModel
	}
	if meta.IsDefined("system_version") {
		cfg.Client.SystemVersion = raw.SystemVersion
	}
	if meta.IsDefined("lang_code") {
		cfg.Client.LangCode = raw.LangCode
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CORSOrigins
	}
	if meta.IsDefined("max_update_handlers") {
		cfg.MaxUpdateHandlers = raw.MaxUpdateHandlers
	}

	if err := applySessionBlock(&cfg.Session, meta, raw.Session); err != nil {
		return appConfig{}, err
	}

	if cfg.Transport.Address == "" {
		addr, err := transport.Address(cfg.DCID, cfg.TestMode)
		if err != nil {
			return appConfig{}, err
		}
		cfg.Transport.Address = addr
	}
	return cfg, nil
}

func applySessionBlock(cfg *session.Config, meta toml.MetaData, raw sessionBlock) error {
	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"start_timeout", raw.StartTimeout, &cfg.StartTimeout},
		{"wait_timeout", raw.WaitTimeout, &cfg.WaitTimeout},
		{"sleep_threshold", raw.SleepThreshold, &cfg.SleepThreshold},
		{"ping_interval", raw.PingInterval, &cfg.PingInterval},
		{"reconnect_threshold", raw.ReconnectThreshold, &cfg.ReconnectThreshold},
	}
	for _, d := range durations {
		if !meta.IsDefined("session", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.val))
		if err != nil {
			return fmt.Errorf("parse session.%s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("session", "max_retries") {
		cfg.MaxRetries = raw.MaxRetries
	}
	if meta.IsDefined("session", "acks_threshold") {
		cfg.AcksThreshold = raw.AcksThreshold
	}
	if meta.IsDefined("session", "start_attempts") {
		cfg.StartAttempts = raw.StartAttempts
	}
	return nil
}

// identity resolves the storage collaborator and auth key. An inline auth_key wins over
// the one in storage_path.
func (c appConfig) identity() (*storage.Memory, codec.AuthKey, error) {
	var store *storage.Memory
	if c.StoragePath != "" {
		s, err := storage.Load(c.StoragePath)
		if err != nil {
			return nil, codec.AuthKey{}, err
		}
		store = s
	} else {
		s, err := storage.FromSnapshot(storage.Snapshot{APIID: c.APIID, IsBot: c.IsBot, DCID: c.DCID, TestMode: c.TestMode})
		if err != nil {
			return nil, codec.AuthKey{}, err
		}
		store = s
	}

	if c.AuthKeyHex != "" {
		b, err := hex.DecodeString(c.AuthKeyHex)
		if err != nil {
			return nil, codec.AuthKey{}, fmt.Errorf("decode auth_key: %w", err)
		}
		key, err := codec.NewAuthKey(b)
		if err != nil {
			return nil, codec.AuthKey{}, err
		}
		store.SetAuthKey(key)
		return store, key, nil
	}
	key, err := store.AuthKey()
	if errors.Is(err, storage.ErrNoAuthKey) {
		return nil, codec.AuthKey{}, errAuthKeyRequired
	}
	return store, key, err
}
