// Package storage holds the identity a session announces on start: api id, bot flag,
// home data center and auth key.
package storage

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/mtsession/internal/protocol/codec"
)

var (
	ErrAPIIDRequired = errors.New("storage: api_id required")
	ErrNoAuthKey     = errors.New("storage: no auth key stored")
)

// Snapshot is the persisted form of a Memory store.
type Snapshot struct {
	APIID    int32  `toml:"api_id"`
	IsBot    bool   `toml:"is_bot"`
	DCID     int    `toml:"dc_id"`
	TestMode bool   `toml:"test_mode"`
	AuthKey  string `toml:"auth_key"`
}

// Memory is a concurrency-safe in-memory store.
type Memory struct {
	mu       sync.RWMutex
	apiID    int32
	isBot    bool
	dcID     int
	testMode bool
	authKey  []byte
}

func NewMemory(apiID int32, isBot bool) *Memory {
	return &Memory{apiID: apiID, isBot: isBot}
}

func (m *Memory) APIID() int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.apiID
}

func (m *Memory) IsBot() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isBot
}

func (m *Memory) DCID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dcID
}

func (m *Memory) TestMode() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.testMode
}

func (m *Memory) SetDC(dcID int, testMode bool) {
	m.mu.Lock()
	m.dcID, m.testMode = dcID, testMode
	m.mu.Unlock()
}

// AuthKey returns the stored key.
func (m *Memory) AuthKey() (codec.AuthKey, error) {
	m.mu.RLock()
	raw := append([]byte(nil), m.authKey...)
	m.mu.RUnlock()
	if len(raw) == 0 {
		return codec.AuthKey{}, ErrNoAuthKey
	}
	return codec.NewAuthKey(raw)
}

func (m *Memory) SetAuthKey(key codec.AuthKey) {
	m.mu.Lock()
	m.authKey = append([]byte(nil), key.Key...)
	m.mu.Unlock()
}

func (m *Memory) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		APIID:    m.apiID,
		IsBot:    m.isBot,
		DCID:     m.dcID,
		TestMode: m.testMode,
		AuthKey:  hex.EncodeToString(m.authKey),
	}
}

// FromSnapshot validates s and builds a store from it.
func FromSnapshot(s Snapshot) (*Memory, error) {
	if s.APIID == 0 {
		return nil, ErrAPIIDRequired
	}
	m := NewMemory(s.APIID, s.IsBot)
	m.SetDC(s.DCID, s.TestMode)
	if raw := strings.TrimSpace(s.AuthKey); raw != "" {
		b, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("storage: decode auth_key: %w", err)
		}
		key, err := codec.NewAuthKey(b)
		if err != nil {
			return nil, err
		}
		m.SetAuthKey(key)
	}
	return m, nil
}

// Load reads a snapshot file written by Save.
func Load(path string) (*Memory, error) {
	var s Snapshot
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return nil, fmt.Errorf("storage: load %s: %w", path, err)
	}
	return FromSnapshot(s)
}

// Save writes the store atomically.
func Save(path string, m *Memory) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".storage-*.toml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := toml.NewEncoder(tmp).Encode(m.Snapshot()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("storage: encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
