// ABOUTME: Tests for layered configuration loading
// ABOUTME: Tests precedence of defaults, YAML, environment and flags
package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zync.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRelayDefaults(t *testing.T) {
	cfg, err := LoadRelay(nil, envMap(nil))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != 8927 || !cfg.MDNS || cfg.DefaultLeadMs != 2000 || cfg.RequireHost {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.DefaultLead() != 2*time.Second {
		t.Errorf("expected 2s lead, got %v", cfg.DefaultLead())
	}
	if !strings.HasSuffix(cfg.Name, "-zync-relay") {
		t.Errorf("expected hostname-based name, got %q", cfg.Name)
	}
}

func TestRelayPrecedence(t *testing.T) {
	path := writeYAML(t, `
port: 9000
name: from-yaml
default_lead_ms: 1500
require_host: true
allowed_origins: [http://a.example, http://b.example]
`)

	tests := []struct {
		name     string
		args     []string
		env      map[string]string
		wantPort int
		wantName string
		wantLead int64
		wantReq  bool
	}{
		{
			name:     "yaml over defaults",
			args:     []string{"-config", path},
			wantPort: 9000, wantName: "from-yaml", wantLead: 1500, wantReq: true,
		},
		{
			name:     "env over yaml",
			args:     []string{"-config", path},
			env:      map[string]string{"ZYNC_PORT": "9100", "ZYNC_REQUIRE_HOST": "false"},
			wantPort: 9100, wantName: "from-yaml", wantLead: 1500, wantReq: false,
		},
		{
			name:     "flags over env",
			args:     []string{"-config", path, "-port", "9200", "-lead-ms", "500"},
			env:      map[string]string{"ZYNC_PORT": "9100", "ZYNC_NAME": "from-env"},
			wantPort: 9200, wantName: "from-env", wantLead: 500, wantReq: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadRelay(tt.args, envMap(tt.env))
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Port != tt.wantPort || cfg.Name != tt.wantName || cfg.DefaultLeadMs != tt.wantLead || cfg.RequireHost != tt.wantReq {
				t.Errorf("got port=%d name=%q lead=%d require=%v", cfg.Port, cfg.Name, cfg.DefaultLeadMs, cfg.RequireHost)
			}
			want := []string{"http://a.example", "http://b.example"}
			if !reflect.DeepEqual(cfg.AllowedOrigins, want) {
				t.Errorf("expected origins %v, got %v", want, cfg.AllowedOrigins)
			}
		})
	}
}

func TestRelayNegatedFlags(t *testing.T) {
	cfg, err := LoadRelay([]string{"-no-mdns", "-no-watch", "-allowed-origins", "http://x, http://y"}, envMap(nil))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MDNS || cfg.WatchAudio {
		t.Errorf("expected mdns and watch disabled, got %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{"http://x", "http://y"}) {
		t.Errorf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestRelayBadEnv(t *testing.T) {
	_, err := LoadRelay(nil, envMap(map[string]string{"ZYNC_PORT": "eighty"}))
	if err == nil || !strings.Contains(err.Error(), "ZYNC_PORT") {
		t.Errorf("expected ZYNC_PORT error, got %v", err)
	}
}

func TestRelayMissingConfigFile(t *testing.T) {
	_, err := LoadRelay([]string{"-config", filepath.Join(t.TempDir(), "nope.yaml")}, envMap(nil))
	if err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestPlayerLayers(t *testing.T) {
	path := writeYAML(t, `
server: 10.0.0.5:8927
sync_interval: 45s
probe_count: 10
`)

	cfg, err := LoadPlayer(
		[]string{"-config", path, "-no-tui", "-no-audio", "-probe-interval-ms", "5"},
		envMap(map[string]string{"ZYNC_HOST": "true", "ZYNC_PROBE_COUNT": "12"}),
	)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server != "10.0.0.5:8927" {
		t.Errorf("unexpected server %q", cfg.Server)
	}
	if cfg.SyncInterval != 45*time.Second {
		t.Errorf("expected 45s interval, got %v", cfg.SyncInterval)
	}
	if cfg.ProbeCount != 12 {
		t.Errorf("expected env probe count 12, got %d", cfg.ProbeCount)
	}
	if cfg.ProbeInterval() != 5*time.Millisecond {
		t.Errorf("expected 5ms probe interval, got %v", cfg.ProbeInterval())
	}
	if cfg.TUI || cfg.Audio || !cfg.Host {
		t.Errorf("expected tui and audio off, host on, got tui=%v audio=%v host=%v", cfg.TUI, cfg.Audio, cfg.Host)
	}
}
