// Package config loads the process configuration from a JSON file,
// grounded on the teacher's LoadConfig/Validate pattern (plain
// os.ReadFile + json.Unmarshal, no viper/env layering) and its
// NATSConfig.ParseConnectionString helper for the NATS leg.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ExchangeKind distinguishes the two reconciliation styles.
type ExchangeKind string

const (
	KindCoinbaseLike ExchangeKind = "coinbase-like"
	KindBinanceLike  ExchangeKind = "binance-like"
)

// ExchangeConfig is one entry of the top-level "exchanges" list.
type ExchangeConfig struct {
	ID       string       `json:"id"`
	Kind     ExchangeKind `json:"kind"`
	Endpoint string       `json:"endpoint"`
	Pairs    []string     `json:"pairs"`
}

// MongoConfig is the durable sink's connection.
type MongoConfig struct {
	URI            string `json:"uri"`
	CollectionName string `json:"collection_name"`
}

// NATSConfig is the supplementary fan-out sink's connection.
type NATSConfig struct {
	URIs    string `json:"uris"`
	Stream  string `json:"stream"`
	Subject string `json:"subject"`
}

// GetNATSURIs splits the comma-separated URIs field.
func (n NATSConfig) GetNATSURIs() []string {
	var out []string
	for _, u := range strings.Split(n.URIs, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func (n NATSConfig) validate() error {
	if n.URIs == "" {
		return fmt.Errorf("uris cannot be empty")
	}
	if n.Stream == "" {
		return fmt.Errorf("stream cannot be empty")
	}
	if n.Subject == "" {
		return fmt.Errorf("subject cannot be empty")
	}
	for i, uri := range n.GetNATSURIs() {
		parsed, err := url.Parse(uri)
		if err != nil {
			return fmt.Errorf("invalid uri at index %d: %w", i, err)
		}
		if parsed.Scheme != "nats" {
			return fmt.Errorf("invalid uri scheme at index %d: expected nats, got %q", i, parsed.Scheme)
		}
	}
	return nil
}

// PostgresConfig is the audit trail's connection.
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
	TimeZone string `json:"time_zone"`
}

// SinkConfig is the target descriptor: a Mongo leg (required) plus an
// optional NATS leg.
type SinkConfig struct {
	Mongo MongoConfig `json:"mongo"`
	NATS  *NATSConfig `json:"nats,omitempty"`
}

// HTTPConfig is the ambient ops surface's listen address.
type HTTPConfig struct {
	ListenAddr string `json:"listen_addr"`
}

// Config is the whole-process configuration document.
type Config struct {
	Exchanges            []ExchangeConfig `json:"exchanges"`
	EmitIntervalMS       int              `json:"emit_interval_ms"`
	StalenessThresholdMS int              `json:"staleness_threshold_ms"`
	DepthBands           []string         `json:"depth_bands"`
	Sink                 SinkConfig       `json:"sink"`
	Postgres             *PostgresConfig  `json:"postgres,omitempty"`
	HTTP                 HTTPConfig       `json:"http"`
	Development          bool             `json:"development"`
}

const (
	defaultEmitIntervalMS       = 1000
	defaultStalenessThresholdMS = 10000
)

// DefaultDepthBands is the default 11-point ascending band list, 0..0.20.
var DefaultDepthBands = []string{"0", "0.02", "0.04", "0.06", "0.08", "0.10", "0.12", "0.14", "0.16", "0.18", "0.20"}

// Load reads and validates a configuration file.
func Load(filePath string) (*Config, error) {
	if filePath == "" {
		return nil, fmt.Errorf("config: file path cannot be empty")
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filePath, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filePath, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %w", filePath, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.EmitIntervalMS <= 0 {
		c.EmitIntervalMS = defaultEmitIntervalMS
	}
	if c.StalenessThresholdMS <= 0 {
		c.StalenessThresholdMS = defaultStalenessThresholdMS
	}
	if len(c.DepthBands) == 0 {
		c.DepthBands = DefaultDepthBands
	}
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = ":8080"
	}
}

// Validate checks required fields and the shape of the decimal band list.
func (c *Config) Validate() error {
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("exchanges cannot be empty")
	}
	for i, ex := range c.Exchanges {
		if ex.ID == "" {
			return fmt.Errorf("exchanges[%d].id cannot be empty", i)
		}
		if ex.Kind != KindCoinbaseLike && ex.Kind != KindBinanceLike {
			return fmt.Errorf("exchanges[%d].kind must be %q or %q, got %q", i, KindCoinbaseLike, KindBinanceLike, ex.Kind)
		}
		if ex.Endpoint == "" {
			return fmt.Errorf("exchanges[%d].endpoint cannot be empty", i)
		}
		if len(ex.Pairs) == 0 {
			return fmt.Errorf("exchanges[%d].pairs cannot be empty", i)
		}
	}
	if len(c.DepthBands) != 11 {
		return fmt.Errorf("depth_bands must have exactly 11 entries, got %d", len(c.DepthBands))
	}
	if c.Sink.Mongo.URI == "" {
		return fmt.Errorf("sink.mongo.uri cannot be empty")
	}
	if c.Sink.NATS != nil {
		if err := c.Sink.NATS.validate(); err != nil {
			return fmt.Errorf("sink.nats: %w", err)
		}
	}
	return nil
}

// DepthBandEdges parses DepthBands into decimal.Decimal, in the exact
// order the depth package expects.
func (c *Config) DepthBandEdges() ([]decimal.Decimal, error) {
	edges := make([]decimal.Decimal, len(c.DepthBands))
	for i, s := range c.DepthBands {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("depth_bands[%d]=%q: %w", i, s, err)
		}
		edges[i] = d
	}
	return edges, nil
}

// ConnectionConfig is a parsed nats:// connection string.
type ConnectionConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Params   map[string]string
}

// ParseConnectionString parses one nats://[user:pass@]host[:port]?k=v
// string, mirroring the teacher's helper of the same name. Used when a
// single URI's parts need breaking out rather than handing the whole
// string to nats.Connect.
func ParseConnectionString(connStr string) (*ConnectionConfig, error) {
	if connStr == "" {
		return nil, fmt.Errorf("connection string cannot be empty")
	}
	connStr = strings.TrimPrefix(connStr, "@")

	u, err := url.Parse(connStr)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string format: %w", err)
	}
	if u.Scheme != "nats" {
		return nil, fmt.Errorf("unsupported connection scheme: %s, only nats:// is supported", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("host cannot be empty")
	}

	port := 4222
	if u.Port() != "" {
		port, err = strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid port number: %w", err)
		}
	}

	username := u.User.Username()
	password, _ := u.User.Password()

	params := make(map[string]string)
	for key, values := range u.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	return &ConnectionConfig{Host: host, Port: port, Username: username, Password: password, Params: params}, nil
}

// GetParam returns a query parameter value, with a default.
func (c *ConnectionConfig) GetParam(key, defaultValue string) string {
	if v, ok := c.Params[key]; ok {
		return v
	}
	return defaultValue
}
