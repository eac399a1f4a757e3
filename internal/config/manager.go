package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"sync"
	"time"

	logx "newsbot/pkg/logx"
)

var ErrTrailingData = errors.New("trailing data after config document")

// Validator vets a parsed config before a reload commits it.
type Validator func(ctx context.Context, cfg *Config) error

// Manager holds the current config and republishes it when the file changes.
type Manager struct {
	path     string
	getenv   func(string) string
	debounce time.Duration

	mu     sync.RWMutex
	cfg    *Config
	digest [sha256.Size]byte

	subsMu sync.Mutex // also held while sending, so Unsubscribe never closes mid-send
	subs   []chan *Config

	log       logx.Logger
	validator Validator
}

func NewManager(path string) *Manager {
	return &Manager{
		path:     path,
		getenv:   os.Getenv,
		debounce: 250 * time.Millisecond,
		log:      logx.Nop(),
	}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log.With(logx.String("path", m.path))
}

// SetValidator installs a check that runs on reload, after Validate.
func (m *Manager) SetValidator(fn Validator) { m.validator = fn }

// Parse reads the file, overlays the environment and validates the result.
func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := Decode(m.path, b)
	if err != nil {
		return nil, err
	}
	return m.finish(cfg)
}

// parseOrEnv is Parse, except that a missing file counts as an empty one so
// the bot can run from the environment alone.
func (m *Manager) parseOrEnv() (*Config, error) {
	cfg, err := m.Parse()
	if errors.Is(err, fs.ErrNotExist) {
		return m.finish(new(Config))
	}
	return cfg, err
}

func (m *Manager) finish(cfg *Config) (*Config, error) {
	if err := applyEnv(cfg, m.getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode strictly decodes one config document. YAML and TOML are picked
// by file extension; anything else is JSON.
func Decode(path string, data []byte) (*Config, error) {
	jb, format, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()

	cfg := new(Config)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%s config: %w", format, err)
	}
	switch err := dec.Decode(&struct{}{}); {
	case err == io.EOF:
		return cfg, nil
	case err == nil:
		return nil, ErrTrailingData
	default:
		return nil, fmt.Errorf("%s config: %w", format, err)
	}
}

// Load parses and commits the file. A missing file yields the defaults
// plus the environment. Parse errors leave the manager empty.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.parseOrEnv()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *Manager) Commit(cfg *Config) {
	d := digest(cfg)
	m.mu.Lock()
	m.cfg, m.digest = cfg, d
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// digest fingerprints the effective config, env overlay included.
func digest(cfg *Config) [sha256.Size]byte {
	b, _ := json.Marshal(struct {
		*Config
		Staff []int64
	}{cfg, cfg.StaffIDs})
	return sha256.Sum256(b)
}

// Subscribe returns a channel that receives each committed reload. A slow
// reader loses older configs, never the newest.
func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if i := slices.Index(m.subs, ch); i >= 0 {
		m.subs = slices.Delete(m.subs, i, i+1)
		close(ch)
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		// Full: drop the oldest. Nobody else sends while subsMu is held.
		select {
		case <-ch:
		default:
		}
		ch <- cfg
	}
}

// reload commits and publishes the file when it parses, validates and
// differs from the committed config. A file that vanished keeps the
// committed config.
func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed", logx.Err(err))
		return
	}
	d := digest(cfg)
	m.mu.RLock()
	same := m.cfg != nil && d == m.digest
	m.mu.RUnlock()
	if same {
		m.log.Debug("config unchanged")
		return
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected", logx.Err(err))
			return
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	m.log.Info("config reloaded", logx.String("digest", fmt.Sprintf("%x", d[:6])))
}
