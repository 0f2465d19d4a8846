package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"sync"
	"time"

	logx "likebot/pkg/logx"
)

// Manager owns the live config: it loads the file, re-reads it on change
// and hands validated versions to subscribers.
type Manager struct {
	path string
	log  logx.Logger
	check func(ctx context.Context, cfg *Config) error

	mu          sync.RWMutex
	cfg         *Config
	fingerprint uint64

	subsMu sync.Mutex // held while sending so Unsubscribe never closes mid-send
	subs   []chan *Config
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop()}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetCheck installs an extra rule run on reloads after Validate.
func (m *Manager) SetCheck(fn func(ctx context.Context, c *Config) error) { m.check = fn }

// Parse reads and strictly decodes the file without validating it.
func (m *Manager) Parse() (*Config, error) {
	body, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Decode(m.path, body)
}

// Decode strictly decodes body. YAML or JSON is picked from name's
// extension; unknown keys and trailing documents are errors.
func Decode(name string, body []byte) (*Config, error) {
	raw, err := toJSON(name, body)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	switch err := dec.Decode(&struct{}{}); {
	case err == nil:
		return nil, errors.New("config: trailing data after the document")
	case !errors.Is(err, io.EOF):
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Load parses, validates and commits the file. Used once at boot.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *Manager) Commit(cfg *Config) {
	fp := fingerprint(cfg)
	m.mu.Lock()
	m.cfg, m.fingerprint = cfg, fp
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// fingerprint hashes the canonical JSON form; 0 means unknown.
func fingerprint(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Subscribe returns a channel that receives each committed reload.
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
	for i, sub := range m.subs {
		if sub == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// publish never blocks: a full subscriber loses its oldest pending config,
// since only the newest one matters.
func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if !offerLatest(ch, cfg) {
			m.log.Debug("config update not delivered", logx.Int("buffer", cap(ch)))
		}
	}
}

func offerLatest(ch chan *Config, cfg *Config) bool {
	for range 2 {
		select {
		case ch <- cfg:
			return true
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
	return false
}

// reload re-reads the file and publishes it if it changed and passes
// Validate and the check hook. A bad edit keeps the running config.
func (m *Manager) reload(ctx context.Context) {
	log := m.log.With(logx.String("path", m.path))
	cfg, err := m.Parse()
	if err != nil {
		log.Warn("config reload skipped", logx.Err(err))
		return
	}

	fp := fingerprint(cfg)
	m.mu.RLock()
	same := fp != 0 && fp == m.fingerprint
	m.mu.RUnlock()
	if same {
		log.Debug("config file touched, content unchanged")
		return
	}

	if err := Validate(cfg); err != nil {
		log.Warn("config reload rejected", logx.Err(err))
		return
	}
	if m.check != nil {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.check(cctx, cfg)
		cancel()
		if err != nil {
			log.Warn("config reload rejected", logx.Err(err))
			return
		}
	}

	m.Commit(cfg)
	m.publish(cfg)
	log.Info("config reloaded", logx.String("fingerprint", fmt.Sprintf("%016x", fp)))
}
