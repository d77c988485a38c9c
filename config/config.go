package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Downstream DownstreamConfig `mapstructure:"downstream"`
	Router     RouterConfig     `mapstructure:"router"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	IMAP       IMAPConfig       `mapstructure:"imap"`
	FTP        FTPConfig        `mapstructure:"ftp"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	Mode         string   `mapstructure:"mode"` // debug, release, test
	TLSCert      string   `mapstructure:"tls_cert"`
	TLSKey       string   `mapstructure:"tls_key"`
	CORSOrigins  []string `mapstructure:"cors_origins"`
	MaxBodyBytes int64    `mapstructure:"max_body_bytes"`
}

// TLSEnabled reports whether the REST listener serves HTTPS.
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSCert != "" && s.TLSKey != ""
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, memory
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	SegmentTTL time.Duration `mapstructure:"segment_ttl"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// DownstreamConfig describes the two gRPC services payloads are routed to.
type DownstreamConfig struct {
	// Mode "production" dials the TLS ports; anything else dials plaintext.
	Mode      string       `mapstructure:"mode"`
	Publisher GRPCEndpoint `mapstructure:"publisher"`
	Bridge    GRPCEndpoint `mapstructure:"bridge"`
}

type GRPCEndpoint struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	SSLPort int    `mapstructure:"ssl_port"`
	CAFile  string `mapstructure:"ca_file"`
	Method  string `mapstructure:"method"`
}

// Secure reports whether the endpoint should be dialed with TLS.
func (d DownstreamConfig) Secure() bool {
	return strings.EqualFold(d.Mode, "production")
}

// Target returns host:port for the given transport security.
func (g GRPCEndpoint) Target(secure bool) string {
	port := g.Port
	if secure && g.SSLPort > 0 {
		port = g.SSLPort
	}
	return fmt.Sprintf("%s:%d", g.Host, port)
}

type RouterConfig struct {
	DisableBridgeOverHTTP bool          `mapstructure:"disable_bridge_over_http"`
	AttemptDeadline       time.Duration `mapstructure:"attempt_deadline"`
	ImageText             bool          `mapstructure:"image_text"`
}

type LedgerConfig struct {
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	PendingTimeout time.Duration `mapstructure:"pending_timeout"`
}

type IMAPConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Server         string        `mapstructure:"server"`
	Port           int           `mapstructure:"port"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Folder         string        `mapstructure:"folder"`
	Subject        string        `mapstructure:"subject"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	AllowedSenders []string      `mapstructure:"allowed_senders"`
}

// Addr returns the IMAP server address string.
func (i IMAPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", i.Server, i.Port)
}

type FTPConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	Username            string `mapstructure:"username"`
	Password            string `mapstructure:"password"`
	PasswordHash        string `mapstructure:"password_hash"` // argon2id, preferred over password
	Directory           string `mapstructure:"directory"`
	MaxConnections      int    `mapstructure:"max_connections"`
	MaxConnectionsPerIP int    `mapstructure:"max_connections_per_ip"`
	PassivePorts        string `mapstructure:"passive_ports"` // "start-end"
	ReadLimit           int    `mapstructure:"read_limit"`    // bytes per second, 0 = unlimited
	WriteLimit          int    `mapstructure:"write_limit"`   // bytes per second, 0 = unlimited
	TLSCert             string `mapstructure:"tls_cert"`
	TLSKey              string `mapstructure:"tls_key"`
}

// Addr returns the FTP listen address string.
func (f FTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", f.Host, f.Port)
}

// PassiveRange parses PassivePorts.
func (f FTPConfig) PassiveRange() (start, end int, err error) {
	parts := strings.Split(f.PassivePorts, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("passive_ports must be start-end, got %q", f.PassivePorts)
	}
	if start, err = strconv.Atoi(strings.TrimSpace(parts[0])); err != nil {
		return 0, 0, fmt.Errorf("passive_ports start: %w", err)
	}
	if end, err = strconv.Atoi(strings.TrimSpace(parts[1])); err != nil {
		return 0, 0, fmt.Errorf("passive_ports end: %w", err)
	}
	if start <= 0 || end < start || end > 65535 {
		return 0, 0, fmt.Errorf("passive_ports range %d-%d is invalid", start, end)
	}
	return start, end, nil
}

type RateLimitConfig struct {
	PublishLimit  int64         `mapstructure:"publish_limit"`
	PublishWindow time.Duration `mapstructure:"publish_window"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// legacyEnv maps config keys to the environment names used by existing deployments.
var legacyEnv = map[string]string{
	"router.disable_bridge_over_http": "DISABLE_BRIDGE_PAYLOADS_OVER_HTTP",
	"downstream.mode":                 "MODE",
	"downstream.publisher.host":       "PUBLISHER_GRPC_HOST",
	"downstream.publisher.port":       "PUBLISHER_GRPC_PORT",
	"downstream.publisher.ssl_port":   "PUBLISHER_GRPC_SSL_PORT",
	"downstream.bridge.host":          "BRIDGE_GRPC_HOST",
	"downstream.bridge.port":          "BRIDGE_GRPC_PORT",
	"downstream.bridge.ssl_port":      "BRIDGE_GRPC_SSL_PORT",
	"imap.server":                     "IMAP_SERVER",
	"imap.port":                       "IMAP_PORT",
	"imap.username":                   "IMAP_USERNAME",
	"imap.password":                   "IMAP_PASSWORD",
	"imap.folder":                     "MAIL_FOLDER",
	"ftp.username":                    "FTP_USERNAME",
	"ftp.password":                    "FTP_PASSWORD",
	"ftp.host":                        "FTP_IP_ADDRESS",
	"ftp.port":                        "FTP_PORT",
	"ftp.max_connections":             "FTP_MAX_CON",
	"ftp.max_connections_per_ip":      "FTP_MAX_CON_PER_IP",
	"ftp.passive_ports":               "FTP_PASSIVE_PORTS",
	"ftp.read_limit":                  "FTP_READ_LIMIT",
	"ftp.write_limit":                 "FTP_WRITE_LIMIT",
	"ftp.directory":                   "FTP_DIRECTORY",
	"ftp.tls_cert":                    "SSL_CERTIFICATE",
	"ftp.tls_key":                     "SSL_KEY",
	"log.level":                       "LOG_LEVEL",
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: GATEWAY_.
// Nested keys use underscore: GATEWAY_DATABASE_HOST, GATEWAY_FTP_PORT, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.tls_cert", "")
	v.SetDefault("server.tls_key", "")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "relay_gateway")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.segment_ttl", "1h")
	v.SetDefault("downstream.mode", "development")
	v.SetDefault("downstream.publisher.host", "localhost")
	v.SetDefault("downstream.publisher.port", 6000)
	v.SetDefault("downstream.publisher.ssl_port", 6001)
	v.SetDefault("downstream.publisher.method", "/publisher.v1.Publisher/PublishContent")
	v.SetDefault("downstream.bridge.host", "localhost")
	v.SetDefault("downstream.bridge.port", 10000)
	v.SetDefault("downstream.bridge.ssl_port", 10001)
	v.SetDefault("downstream.bridge.method", "/vault.v1.EntityService/PublishContent")
	v.SetDefault("router.disable_bridge_over_http", false)
	v.SetDefault("router.attempt_deadline", "30s")
	v.SetDefault("router.image_text", true)
	v.SetDefault("ledger.sweep_interval", "1m")
	v.SetDefault("ledger.pending_timeout", "15m")
	v.SetDefault("imap.enabled", false)
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.folder", "INBOX")
	v.SetDefault("imap.subject", "GATEWAY")
	v.SetDefault("imap.poll_interval", "20s")
	v.SetDefault("imap.allowed_senders", []string{})
	v.SetDefault("ftp.enabled", false)
	v.SetDefault("ftp.host", "0.0.0.0")
	v.SetDefault("ftp.port", 9909)
	v.SetDefault("ftp.directory", "./ftp_file_store")
	v.SetDefault("ftp.max_connections", 256)
	v.SetDefault("ftp.max_connections_per_ip", 5)
	v.SetDefault("ftp.passive_ports", "60000-65535")
	v.SetDefault("ftp.read_limit", 51200)
	v.SetDefault("ftp.write_limit", 51200)
	v.SetDefault("ratelimit.publish_limit", 60)
	v.SetDefault("ratelimit.publish_window", "1m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: GATEWAY_DATABASE_HOST -> database.host
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range legacyEnv {
		prefixed := "GATEWAY_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("binding env %s: %w", env, err)
		}
	}

	// Read config file (not required: env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field rules that defaults cannot express.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("database.driver must be postgres or memory, got %q", c.Database.Driver)
	}
	if c.Router.AttemptDeadline <= 0 {
		return fmt.Errorf("router.attempt_deadline must be positive")
	}
	// Attempts still inside their deadline must not be swept.
	if c.Ledger.PendingTimeout <= c.Router.AttemptDeadline {
		return fmt.Errorf("ledger.pending_timeout (%s) must exceed router.attempt_deadline (%s)",
			c.Ledger.PendingTimeout, c.Router.AttemptDeadline)
	}
	if c.Ledger.SweepInterval <= 0 {
		return fmt.Errorf("ledger.sweep_interval must be positive")
	}
	if c.FTP.Enabled {
		if _, _, err := c.FTP.PassiveRange(); err != nil {
			return err
		}
		if c.FTP.Username == "" || (c.FTP.Password == "" && c.FTP.PasswordHash == "") {
			return fmt.Errorf("ftp credentials are required when ftp is enabled")
		}
	}
	if c.IMAP.Enabled && (c.IMAP.Server == "" || c.IMAP.Username == "") {
		return fmt.Errorf("imap server and username are required when imap is enabled")
	}
	return nil
}
