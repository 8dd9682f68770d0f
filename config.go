package comysql

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything Connect needs to dial and authenticate
// (spec.md §6's connect(host, port, user, password, schema?, charset?,
// use_unicode?), reconstructed in the teacher's own dsn.go-shaped style
// since that file was not part of the retrieved fragment).
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`

	// Collation name, e.g. "utf8_general_ci". Empty selects the server
	// default.
	Collation string `yaml:"collation"`

	// UseUnicode controls whether STRING/VAR_STRING/VARCHAR/ENUM/SET
	// values are charset-decoded or returned as raw bytes (spec.md §4.7).
	UseUnicode bool `yaml:"use_unicode"`

	// MaxPacketSize caps oversize-packet reassembly (spec.md §6,
	// MAX_PACKET_SIZE). Zero selects defaultMaxPacketSize.
	MaxPacketSize int `yaml:"max_packet_size"`

	// BufferSize sets the reader/writer buffer size of the
	// bufferedStream (spec.md §4.2). Zero selects defaultStreamBufSize.
	BufferSize int `yaml:"buffer_size"`

	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Option configures a Config; used by Connect for the common case of a
// handful of overrides instead of a full struct literal.
type Option func(*Config)

func WithDBName(name string) Option      { return func(c *Config) { c.DBName = name } }
func WithCollation(name string) Option   { return func(c *Config) { c.Collation = name } }
func WithUseUnicode(v bool) Option       { return func(c *Config) { c.UseUnicode = v } }
func WithMaxPacketSize(n int) Option     { return func(c *Config) { c.MaxPacketSize = n } }
func WithBufferSize(n int) Option        { return func(c *Config) { c.BufferSize = n } }
func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) { c.DialTimeout = d }
}

func newConfig(host string, port int, user, password string, opts ...Option) *Config {
	cfg := &Config{
		Host:        host,
		Port:        port,
		User:        user,
		Password:    password,
		UseUnicode:  true,
		DialTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (c *Config) effectiveMaxPacketSize() int {
	if c.MaxPacketSize > 0 {
		return c.MaxPacketSize
	}
	return defaultMaxPacketSize
}

func (c *Config) effectiveBufferSize() int {
	if c.BufferSize > 0 {
		return c.BufferSize
	}
	return defaultStreamBufSize
}

func (c *Config) effectiveCharsetID() byte {
	if id, ok := collationIDs[c.Collation]; ok {
		return id
	}
	return collationIDs[defaultCollation]
}

const defaultCollation = "utf8_general_ci"

// collationIDs maps a handful of collation names to their wire id. Not
// exhaustive — MySQL ships hundreds — but enough to exercise every
// charset family named in spec.md §4.7's decode table.
var collationIDs = map[string]byte{
	"latin1_swedish_ci": 8,
	"utf8_general_ci":   33,
	"ascii_general_ci":  11,
	"cp1250_general_ci": 26,
	"binary":            63,
}

// LoadConfigFile reads a YAML connection-pool config file, the static
// alternative to passing a DSN string that JeelKantaria-db-bouncer's
// internal/config/config.go favors for operator-managed deployments.
func LoadConfigFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{UseUnicode: true, DialTimeout: 10 * time.Second}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
