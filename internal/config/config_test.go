package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  poll_timeout: 10s
logging:
  level: debug
  console: true
storage:
  driver: file
  path: ./data
remote:
  base_url: http://127.0.0.1:8000
  max_rps: 2
orchestrator:
  rate_limit_backoff: 90s
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", validYAML)
	m := NewManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("owner = %v", cfg.Telegram.OwnerUserIDs)
	}
	s := cfg.Orchestrator.Settings()
	if s.RateLimitBackoff != 90*time.Second {
		t.Fatalf("backoff = %v", s.RateLimitBackoff)
	}
	if s.FlowTimeout != DefaultFlowTimeout || s.MaxLinks != DefaultMaxLinks {
		t.Fatalf("defaults not applied: %+v", s)
	}
	if m.Get() != cfg {
		t.Fatalf("Get did not return committed config")
	}
}

func TestYAMLAnchorsMerge(t *testing.T) {
	body := `
defaults: &d
  max_rps: 2
  base_url: http://a
telegram:
  token: "1:x"
  owner_user_ids: [7]
remote:
  <<: *d
  base_url: http://b
`
	j, err := toJSON("c.yml", []byte(body))
	if err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	got := string(j)
	if !strings.Contains(got, `"remote":{"base_url":"http://b","max_rps":2}`) {
		t.Fatalf("merged = %s", got)
	}
	if empty, err := toJSON("c.yaml", nil); err != nil || string(empty) != "{}" {
		t.Fatalf("empty = %q, %v", empty, err)
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	body := `{"telegram":{"token":"x","owner_user_ids":[1]},"remote":{"base_url":"http://x"},"plugins":{}}`
	if _, err := Decode("config.json", []byte(body)); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	body := `{"telegram":{"token":"x","owner_user_ids":[1]}}{}`
	if _, err := Decode("config.json", []byte(body)); err == nil {
		t.Fatalf("expected trailing data error")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "t", OwnerUserIDs: []int64{1}},
			Remote:   RemoteConfig{BaseURL: "http://127.0.0.1:8000"},
		}
	}
	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(c *Config) {}},
		{name: "no token", mutate: func(c *Config) { c.Telegram.Token = "" }, wantErr: "telegram.token"},
		{name: "no owners", mutate: func(c *Config) { c.Telegram.OwnerUserIDs = nil }, wantErr: "telegram.owner_user_ids"},
		{name: "bad duration", mutate: func(c *Config) { c.Orchestrator.FlowTimeout = "soon" }, wantErr: "orchestrator.flow_timeout"},
		{name: "bad driver", mutate: func(c *Config) { c.Storage.Driver = "mysql" }, wantErr: "storage.driver"},
		{name: "redis needs addr", mutate: func(c *Config) { c.Storage.Driver = "redis" }, wantErr: "storage.redis_addr"},
		{name: "bad url", mutate: func(c *Config) { c.Remote.BaseURL = "nope" }, wantErr: "remote.base_url"},
		{
			name: "public diagnostics without token",
			mutate: func(c *Config) {
				c.Diagnostics = DiagnosticsConfig{Enabled: true, Addr: "0.0.0.0:9090"}
			},
			wantErr: "diagnostics.addr",
		},
		{
			name: "loopback diagnostics",
			mutate: func(c *Config) {
				c.Diagnostics = DiagnosticsConfig{Enabled: true, Addr: "127.0.0.1:9090"}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(c)
			err := Validate(c)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestSummarizeChangeHidesSecrets(t *testing.T) {
	a := &Config{Diagnostics: DiagnosticsConfig{Token: "old"}}
	b := &Config{Diagnostics: DiagnosticsConfig{Token: "new"}}
	changed, _ := SummarizeChange(a, b)
	if len(changed) != 1 || changed[0] != "diagnostics" {
		t.Fatalf("changed = %v", changed)
	}
}

func TestWatchPublishesValidChange(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", validYAML)
	m := NewManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	time.Sleep(100 * time.Millisecond)

	writeFile(t, dir, "config.yaml", strings.Replace(validYAML, "90s", "3m", 1))

	select {
	case cfg := <-ch:
		if got := cfg.Orchestrator.Settings().RateLimitBackoff; got != 3*time.Minute {
			t.Fatalf("backoff = %v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload published")
	}
	cancel()
	<-done
}
