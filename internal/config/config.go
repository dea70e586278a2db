// Package config manages gateway configuration loading and validation.
// Configuration is explicit: it is loaded once at process startup and passed
// into gateway constructors; gateway logic performs no ambient environment
// lookups.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Credentials captures API credentials used for signed requests.
type Credentials struct {
	APIKey    string `yaml:"apiKey"`
	APISecret string `yaml:"apiSecret"`
}

// ConnConfig tunes the connection manager.
type ConnConfig struct {
	HandshakeTimeout  time.Duration `yaml:"handshakeTimeout"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	// StaleMultiplier times HeartbeatInterval yields the inbound-silence
	// threshold after which the socket is forcibly terminated.
	StaleMultiplier int           `yaml:"staleMultiplier"`
	BackoffBase     time.Duration `yaml:"backoffBase"`
	BackoffCeiling  time.Duration `yaml:"backoffCeiling"`
}

// StaleThreshold returns the inbound-silence age that forces a reconnect.
func (c ConnConfig) StaleThreshold() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.StaleMultiplier)
}

// ReconcileConfig tunes the state reconciler.
type ReconcileConfig struct {
	// DefenseWindow bounds how recently push must have confirmed non-zero
	// state for an empty REST payload to be treated as a transient anomaly.
	DefenseWindow time.Duration `yaml:"defenseWindow"`
	// StaleCeiling is the hard age after which unconfirmed state is pruned.
	StaleCeiling time.Duration `yaml:"staleCeiling"`
	// PositionEpsilon treats positions at or below this magnitude as flat.
	PositionEpsilon string `yaml:"positionEpsilon"`
	// MaxStreamAge maps stream kinds (depth, ticker, orders, account) to
	// the freshness threshold that triggers staleness escalation.
	MaxStreamAge map[string]time.Duration `yaml:"maxStreamAge"`
	// KlineWindow caps the retained candle history per symbol+interval.
	KlineWindow int `yaml:"klineWindow"`
	// PollInterval drives REST snapshot polling.
	PollInterval time.Duration `yaml:"pollInterval"`
}

// MinNotionalPolicy selects how quantization treats orders below the venue's
// minimum size.
type MinNotionalPolicy string

const (
	// MinNotionalReject fails the order locally.
	MinNotionalReject MinNotionalPolicy = "reject"
	// MinNotionalRaise bumps quantity up to the minimum.
	MinNotionalRaise MinNotionalPolicy = "raise"
)

// OrderConfig tunes order validation and submission.
type OrderConfig struct {
	MinNotional       MinNotionalPolicy `yaml:"minNotionalPolicy"`
	NonceRefreshMin   time.Duration     `yaml:"nonceRefreshMin"`
	InitErrorDebounce time.Duration     `yaml:"initErrorDebounce"`
}

// VenueConfig aggregates per-venue transport and credential settings.
type VenueConfig struct {
	Name        string          `yaml:"name"`
	RESTBaseURL string          `yaml:"restBaseURL"`
	WSBaseURL   string          `yaml:"wsBaseURL"`
	Credentials Credentials     `yaml:"credentials"`
	Conn        ConnConfig      `yaml:"conn"`
	Reconcile   ReconcileConfig `yaml:"reconcile"`
	Order       OrderConfig     `yaml:"order"`
	Symbols     []string        `yaml:"symbols"`
}

// JournalConfig configures the optional order journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// TelemetryConfig configures the OTLP metrics exporter.
type TelemetryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	OTLPEndpoint   string        `yaml:"otlpEndpoint"`
	OTLPInsecure   bool          `yaml:"otlpInsecure"`
	MetricInterval time.Duration `yaml:"metricInterval"`
	Environment    string        `yaml:"environment"`
}

// Config is the root configuration tree.
type Config struct {
	Venues    []VenueConfig   `yaml:"venues"`
	Journal   JournalConfig   `yaml:"journal"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DefaultConn returns connection manager defaults.
func DefaultConn() ConnConfig {
	return ConnConfig{
		HandshakeTimeout:  10 * time.Second,
		RequestTimeout:    5 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		StaleMultiplier:   3,
		BackoffBase:       time.Second,
		BackoffCeiling:    60 * time.Second,
	}
}

// DefaultReconcile returns reconciler defaults.
func DefaultReconcile() ReconcileConfig {
	return ReconcileConfig{
		DefenseWindow:   15 * time.Second,
		StaleCeiling:    60 * time.Second,
		PositionEpsilon: "0.0000001",
		MaxStreamAge: map[string]time.Duration{
			"depth":   10 * time.Second,
			"ticker":  10 * time.Second,
			"orders":  30 * time.Second,
			"account": 30 * time.Second,
		},
		KlineWindow:  500,
		PollInterval: 10 * time.Second,
	}
}

// DefaultOrder returns order handling defaults.
func DefaultOrder() OrderConfig {
	return OrderConfig{
		MinNotional:       MinNotionalReject,
		NonceRefreshMin:   2 * time.Second,
		InitErrorDebounce: 5 * time.Second,
	}
}

// Default returns the default configuration tree.
func Default() Config {
	return Config{
		Telemetry: TelemetryConfig{
			Enabled:        false,
			OTLPEndpoint:   "localhost:4318",
			MetricInterval: 30 * time.Second,
			Environment:    "development",
		},
	}
}

// Load reads and validates configuration from path. Unset venue sections
// inherit defaults before validation.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	for i := range cfg.Venues {
		cfg.Venues[i].applyDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (v *VenueConfig) applyDefaults() {
	defConn := DefaultConn()
	if v.Conn.HandshakeTimeout <= 0 {
		v.Conn.HandshakeTimeout = defConn.HandshakeTimeout
	}
	if v.Conn.RequestTimeout <= 0 {
		v.Conn.RequestTimeout = defConn.RequestTimeout
	}
	if v.Conn.HeartbeatInterval <= 0 {
		v.Conn.HeartbeatInterval = defConn.HeartbeatInterval
	}
	if v.Conn.StaleMultiplier <= 0 {
		v.Conn.StaleMultiplier = defConn.StaleMultiplier
	}
	if v.Conn.BackoffBase <= 0 {
		v.Conn.BackoffBase = defConn.BackoffBase
	}
	if v.Conn.BackoffCeiling <= 0 {
		v.Conn.BackoffCeiling = defConn.BackoffCeiling
	}

	defRec := DefaultReconcile()
	if v.Reconcile.DefenseWindow <= 0 {
		v.Reconcile.DefenseWindow = defRec.DefenseWindow
	}
	if v.Reconcile.StaleCeiling <= 0 {
		v.Reconcile.StaleCeiling = defRec.StaleCeiling
	}
	if strings.TrimSpace(v.Reconcile.PositionEpsilon) == "" {
		v.Reconcile.PositionEpsilon = defRec.PositionEpsilon
	}
	if len(v.Reconcile.MaxStreamAge) == 0 {
		v.Reconcile.MaxStreamAge = defRec.MaxStreamAge
	}
	if v.Reconcile.KlineWindow <= 0 {
		v.Reconcile.KlineWindow = defRec.KlineWindow
	}
	if v.Reconcile.PollInterval <= 0 {
		v.Reconcile.PollInterval = defRec.PollInterval
	}

	defOrder := DefaultOrder()
	if v.Order.MinNotional == "" {
		v.Order.MinNotional = defOrder.MinNotional
	}
	if v.Order.NonceRefreshMin <= 0 {
		v.Order.NonceRefreshMin = defOrder.NonceRefreshMin
	}
	if v.Order.InitErrorDebounce <= 0 {
		v.Order.InitErrorDebounce = defOrder.InitErrorDebounce
	}
}

// Validate checks structural invariants of the configuration tree.
func (c Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Venues))
	for _, v := range c.Venues {
		name := strings.TrimSpace(v.Name)
		if name == "" {
			return fmt.Errorf("config: venue name required")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("config: duplicate venue %q", name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(v.RESTBaseURL) == "" {
			return fmt.Errorf("config: venue %q: restBaseURL required", name)
		}
		if strings.TrimSpace(v.WSBaseURL) == "" {
			return fmt.Errorf("config: venue %q: wsBaseURL required", name)
		}
		switch v.Order.MinNotional {
		case MinNotionalReject, MinNotionalRaise:
		default:
			return fmt.Errorf("config: venue %q: unknown minNotionalPolicy %q", name, v.Order.MinNotional)
		}
		if v.Reconcile.DefenseWindow >= v.Reconcile.StaleCeiling {
			return fmt.Errorf("config: venue %q: defenseWindow must be below staleCeiling", name)
		}
	}
	if c.Journal.Enabled && strings.TrimSpace(c.Journal.DSN) == "" {
		return fmt.Errorf("config: journal enabled without dsn")
	}
	return nil
}

// Venue returns the configuration block for the named venue.
func (c Config) Venue(name string) (VenueConfig, bool) {
	for _, v := range c.Venues {
		if v.Name == name {
			return v, true
		}
	}
	return VenueConfig{}, false
}
