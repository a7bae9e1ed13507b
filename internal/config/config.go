// Package config loads astmd configuration from a file, ASTM_* environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/arloliu/go-astm/e1381"
)

// EnvPrefix prefixes every environment override, with dots replaced by
// underscores: ASTM_SESSION_READTIMEOUT=5s.
const EnvPrefix = "ASTM"

// SessionConfig maps onto e1381 session options.
type SessionConfig struct {
	ReadTimeout      time.Duration `mapstructure:"readTimeout"`
	WriteTimeout     time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout      time.Duration `mapstructure:"idleTimeout"`
	RetryLimit       int           `mapstructure:"retryLimit"`
	MaxScanLength    int           `mapstructure:"maxScanLength"`
	FrameNumberStart int           `mapstructure:"frameNumberStart"`
	FixedFrameNumber bool          `mapstructure:"fixedFrameNumber"`
	MaxFramePayload  int           `mapstructure:"maxFramePayload"`
	FramePerRecord   bool          `mapstructure:"framePerRecord"`
	StrictSequence   bool          `mapstructure:"strictSequence"`
	AcceptBareSTX    bool          `mapstructure:"acceptBareSTX"`
}

// ServerConfig configures the listening gateway.
type ServerConfig struct {
	Addr        string  `mapstructure:"addr"`
	MaxConns    int     `mapstructure:"maxConns"`
	AcceptRate  float64 `mapstructure:"acceptRate"`
	AcceptBurst int     `mapstructure:"acceptBurst"`
	ReplyFile   string  `mapstructure:"replyFile"`
}

// ClientConfig configures outbound connections.
type ClientConfig struct {
	Addr             string        `mapstructure:"addr"`
	DialTimeout      time.Duration `mapstructure:"dialTimeout"`
	ReconnectInitial time.Duration `mapstructure:"reconnectInitial"`
	ReconnectMax     time.Duration `mapstructure:"reconnectMax"`
}

// RotateConfig configures a lumberjack rotated file.
type RotateConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// CaptureConfig selects the capture sinks. Every configured sink is used.
type CaptureConfig struct {
	File        string       `mapstructure:"file"`
	Rotate      RotateConfig `mapstructure:"rotate"`
	RedisURL    string       `mapstructure:"redisURL"`
	RedisStream string       `mapstructure:"redisStream"`
	RedisMaxLen int64        `mapstructure:"redisMaxLen"`
	NATSURL     string       `mapstructure:"natsURL"`
	NATSSubject string       `mapstructure:"natsSubject"`

	// AsyncBuffer > 0 writes to Redis and NATS in the background with a
	// buffer of that many captures.
	AsyncBuffer int `mapstructure:"asyncBuffer"`
}

// LoggingConfig configures the daemon logger.
type LoggingConfig struct {
	Level   string       `mapstructure:"level"`
	Backend string       `mapstructure:"backend"` // slog or zap
	File    RotateConfig `mapstructure:"file"`
}

// AdminConfig configures the admin HTTP endpoint.
type AdminConfig struct {
	Addr      string `mapstructure:"addr"`
	Namespace string `mapstructure:"namespace"`
}

// Config is the top-level configuration.
type Config struct {
	Session SessionConfig `mapstructure:"session"`
	Server  ServerConfig  `mapstructure:"server"`
	Client  ClientConfig  `mapstructure:"client"`
	Capture CaptureConfig `mapstructure:"capture"`
	Logging LoggingConfig `mapstructure:"logging"`
	Admin   AdminConfig   `mapstructure:"admin"`
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"listen":           "server.addr",
	"max-conns":        "server.maxConns",
	"reply":            "server.replyFile",
	"addr":             "client.addr",
	"capture":          "capture.file",
	"capture-rotate":   "capture.rotate.filename",
	"redis":            "capture.redisURL",
	"redis-stream":     "capture.redisStream",
	"nats":             "capture.natsURL",
	"nats-subject":     "capture.natsSubject",
	"capture-buffer":   "capture.asyncBuffer",
	"log":              "logging.file.filename",
	"log-level":        "logging.level",
	"log-backend":      "logging.backend",
	"admin":            "admin.addr",
	"read-timeout":     "session.readTimeout",
	"idle-timeout":     "session.idleTimeout",
	"retry-limit":      "session.retryLimit",
	"frame-start":      "session.frameNumberStart",
	"frame-per-record": "session.framePerRecord",
	"strict-sequence":  "session.strictSequence",
}

// Load reads configuration from path (optional), the environment and the
// flags of fs that are present in FlagKeys.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if fs != nil {
		for name, key := range FlagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("session.readTimeout", e1381.DefaultReadTimeout)
	v.SetDefault("session.writeTimeout", e1381.DefaultWriteTimeout)
	v.SetDefault("session.idleTimeout", e1381.DefaultIdleTimeout)
	v.SetDefault("session.retryLimit", e1381.DefaultRetryLimit)
	v.SetDefault("session.maxScanLength", e1381.DefaultMaxScanLength)
	v.SetDefault("session.frameNumberStart", e1381.DefaultFrameNumberStart)
	v.SetDefault("session.acceptBareSTX", true)

	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.acceptBurst", 10)

	v.SetDefault("client.dialTimeout", 10*time.Second)
	v.SetDefault("client.reconnectInitial", 5*time.Second)
	v.SetDefault("client.reconnectMax", 60*time.Second)

	v.SetDefault("capture.redisStream", "astm:captures")
	v.SetDefault("capture.natsSubject", "astm.capture")
	v.SetDefault("capture.rotate.maxSize", 100)
	v.SetDefault("capture.rotate.maxBackups", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.backend", "slog")
	v.SetDefault("logging.file.maxSize", 50)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)

	v.SetDefault("admin.namespace", "astm")
}

// Validate checks values that the session options do not cover.
func (c *Config) Validate() error {
	if c.Logging.Backend != "slog" && c.Logging.Backend != "zap" {
		return fmt.Errorf("config: logging.backend %q must be slog or zap", c.Logging.Backend)
	}

	if c.Server.AcceptRate < 0 || c.Server.MaxConns < 0 {
		return errors.New("config: server limits must not be negative")
	}

	if c.Capture.AsyncBuffer < 0 {
		return errors.New("config: capture.asyncBuffer must not be negative")
	}

	if c.Capture.File != "" && c.Capture.Rotate.Filename != "" {
		return errors.New("config: capture.file and capture.rotate.filename are exclusive")
	}

	_, err := e1381.NewSessionConfig(c.Session.Options()...)

	return err
}

// Options converts the session section into e1381 options.
func (s SessionConfig) Options() []e1381.SessionOption {
	return []e1381.SessionOption{
		e1381.WithReadTimeout(s.ReadTimeout),
		e1381.WithWriteTimeout(s.WriteTimeout),
		e1381.WithIdleTimeout(s.IdleTimeout),
		e1381.WithRetryLimit(s.RetryLimit),
		e1381.WithMaxScanLength(s.MaxScanLength),
		e1381.WithFrameNumberStart(s.FrameNumberStart),
		e1381.WithFixedFrameNumber(s.FixedFrameNumber),
		e1381.WithMaxFramePayload(s.MaxFramePayload),
		e1381.WithFramePerRecord(s.FramePerRecord),
		e1381.WithStrictSequence(s.StrictSequence),
		e1381.WithAcceptBareSTX(s.AcceptBareSTX),
	}
}
