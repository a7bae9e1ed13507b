package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-astm/e1381"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "astmd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	cfg, err := Load("", nil)
	require.NoError(err)

	assert.Equal(e1381.DefaultReadTimeout, cfg.Session.ReadTimeout)
	assert.Equal(e1381.DefaultIdleTimeout, cfg.Session.IdleTimeout)
	assert.Equal(e1381.DefaultRetryLimit, cfg.Session.RetryLimit)
	assert.Equal(e1381.DefaultFrameNumberStart, cfg.Session.FrameNumberStart)
	assert.True(cfg.Session.AcceptBareSTX)
	assert.False(cfg.Session.StrictSequence)
	assert.Equal(":5000", cfg.Server.Addr)
	assert.Equal(10*time.Second, cfg.Client.DialTimeout)
	assert.Equal("info", cfg.Logging.Level)
	assert.Equal("slog", cfg.Logging.Backend)
	assert.Equal("astm", cfg.Admin.Namespace)
	assert.Equal("astm:captures", cfg.Capture.RedisStream)
}

func TestLoad_File(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	path := writeConfig(t, `
session:
  readTimeout: 3s
  retryLimit: 2
  frameNumberStart: 0
  framePerRecord: true
  strictSequence: true
server:
  addr: 127.0.0.1:15000
  maxConns: 8
capture:
  file: /var/lib/astm/capture.astm
  natsURL: nats://127.0.0.1:4222
logging:
  level: debug
  backend: zap
`)

	cfg, err := Load(path, nil)
	require.NoError(err)

	assert.Equal(3*time.Second, cfg.Session.ReadTimeout)
	assert.Equal(2, cfg.Session.RetryLimit)
	assert.Equal(0, cfg.Session.FrameNumberStart)
	assert.True(cfg.Session.FramePerRecord)
	assert.True(cfg.Session.StrictSequence)
	assert.Equal("127.0.0.1:15000", cfg.Server.Addr)
	assert.Equal(8, cfg.Server.MaxConns)
	assert.Equal("/var/lib/astm/capture.astm", cfg.Capture.File)
	assert.Equal("nats://127.0.0.1:4222", cfg.Capture.NATSURL)
	assert.Equal("debug", cfg.Logging.Level)
	assert.Equal("zap", cfg.Logging.Backend)
	// untouched keys keep defaults
	assert.Equal(e1381.DefaultIdleTimeout, cfg.Session.IdleTimeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("ASTM_SESSION_RETRYLIMIT", "4")
	t.Setenv("ASTM_SERVER_ADDR", ":6000")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Session.RetryLimit)
	assert.Equal(t, ":6000", cfg.Server.Addr)
}

func TestLoad_FlagsOverrideFileAndEnv(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	t.Setenv("ASTM_SERVER_ADDR", ":6000")
	path := writeConfig(t, "session:\n  retryLimit: 3\n")

	fs := pflag.NewFlagSet("listen", pflag.ContinueOnError)
	fs.String("listen", ":5000", "")
	fs.Int("retry-limit", e1381.DefaultRetryLimit, "")
	fs.Bool("strict-sequence", false, "")
	require.NoError(fs.Parse([]string{"--listen", ":7000", "--strict-sequence"}))

	cfg, err := Load(path, fs)
	require.NoError(err)

	assert.Equal(":7000", cfg.Server.Addr)
	assert.True(cfg.Session.StrictSequence)
	// unset flags do not shadow the file
	assert.Equal(3, cfg.Session.RetryLimit)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad backend", "logging:\n  backend: logrus\n"},
		{"negative max conns", "server:\n  maxConns: -1\n"},
		{"exclusive capture files", "capture:\n  file: a.astm\n  rotate:\n    filename: b.astm\n"},
		{"read timeout out of range", "session:\n  readTimeout: 1ms\n"},
		{"retry limit out of range", "session:\n  retryLimit: 99\n"},
		{"frame start out of range", "session:\n  frameNumberStart: 8\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), nil)
			require.Error(t, err)
		})
	}
}

func TestSessionConfig_Options(t *testing.T) {
	sc := SessionConfig{
		ReadTimeout:      2 * time.Second,
		WriteTimeout:     2 * time.Second,
		IdleTimeout:      30 * time.Second,
		RetryLimit:       1,
		MaxScanLength:    1024,
		FrameNumberStart: 0,
		MaxFramePayload:  e1381.StandardMaxFramePayload,
		AcceptBareSTX:    true,
	}

	cfg, err := e1381.NewSessionConfig(sc.Options()...)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.ReadTimeout())
}
