package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
venues:
  - name: binancef
    restBaseURL: https://fapi.binance.com
    wsBaseURL: wss://fstream.binance.com/ws
    credentials:
      apiKey: key
      apiSecret: secret
    conn:
      heartbeatInterval: 2s
    reconcile:
      defenseWindow: 5s
      staleCeiling: 30s
    symbols: [BTC-USDT]
journal:
  enabled: false
telemetry:
  enabled: false
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	venue, ok := cfg.Venue("binancef")
	if !ok {
		t.Fatalf("expected binancef venue")
	}
	if venue.Conn.HeartbeatInterval != 2*time.Second {
		t.Fatalf("heartbeatInterval = %v, want 2s", venue.Conn.HeartbeatInterval)
	}
	if venue.Conn.BackoffBase != time.Second {
		t.Fatalf("backoffBase default not applied: %v", venue.Conn.BackoffBase)
	}
	if venue.Conn.StaleThreshold() != 6*time.Second {
		t.Fatalf("stale threshold = %v, want 6s", venue.Conn.StaleThreshold())
	}
	if venue.Order.MinNotional != MinNotionalReject {
		t.Fatalf("minNotional default = %q, want reject", venue.Order.MinNotional)
	}
	if venue.Reconcile.KlineWindow != 500 {
		t.Fatalf("klineWindow default = %d, want 500", venue.Reconcile.KlineWindow)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing rest url", `
venues:
  - name: binancef
    wsBaseURL: wss://x
`},
		{"duplicate venue", `
venues:
  - name: a
    restBaseURL: https://x
    wsBaseURL: wss://x
  - name: a
    restBaseURL: https://y
    wsBaseURL: wss://y
`},
		{"defense window above ceiling", `
venues:
  - name: binancef
    restBaseURL: https://x
    wsBaseURL: wss://x
    reconcile:
      defenseWindow: 90s
      staleCeiling: 60s
`},
		{"journal without dsn", `
journal:
  enabled: true
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeTemp(t, tc.yaml)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
