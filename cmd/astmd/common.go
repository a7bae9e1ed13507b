package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/arloliu/go-astm/e1381"
	"github.com/arloliu/go-astm/internal/config"
	"github.com/arloliu/go-astm/logger"
)

const shutdownTimeout = 10 * time.Second

// newFlagSet returns a flag set with the flags shared by every command.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false

	fs.StringP("config", "c", "", "configuration file")
	fs.String("log", "", "log to this file, rotated, instead of stdout")
	fs.String("log-level", "info", "log level: debug, info, warn or error")
	fs.String("log-backend", "slog", "log backend: slog or zap")
	fs.Duration("read-timeout", e1381.DefaultReadTimeout, "wait for a reply byte or the next frame byte")
	fs.Duration("idle-timeout", e1381.DefaultIdleTimeout, "close a connection without protocol activity")
	fs.Int("retry-limit", e1381.DefaultRetryLimit, "retransmissions of one frame after NAK")
	fs.Int("frame-start", e1381.DefaultFrameNumberStart, "number of the first frame of a message")
	fs.Bool("frame-per-record", false, "send every record in its own frame")
	fs.Bool("strict-sequence", false, "reject out-of-sequence inbound frames")

	return fs
}

// loadConfig parses args into fs and loads the configuration.
func loadConfig(fs *pflag.FlagSet, args []string) (*config.Config, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	path, err := fs.GetString("config")
	if err != nil {
		return nil, err
	}

	return config.Load(path, fs)
}

// setupLogger builds the process logger and installs it as the default.
// The returned function flushes and closes the log file.
func setupLogger(cfg config.LoggingConfig) (logger.Logger, func(), error) {
	var w io.Writer = os.Stdout
	closeFn := func() {}

	if cfg.File.Filename != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File.Filename,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
		w = lj
		closeFn = func() { _ = lj.Close() }
	}

	level := logger.ParseLevel(strings.ToLower(cfg.Level))

	var l logger.Logger

	switch cfg.Backend {
	case "zap":
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

		zl := zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), zapcore.DebugLevel), zap.AddCaller())
		l = logger.NewZap(zl)
		l.SetLevel(level)

		closeFile := closeFn
		closeFn = func() {
			_ = zl.Sync()
			closeFile()
		}
	case "slog":
		l = logger.NewSlogWriter(level, false, w)
	default:
		closeFn()

		return nil, nil, fmt.Errorf("unknown log backend %q", cfg.Backend)
	}

	logger.SetLogger(l)

	return l, closeFn, nil
}

// readMessageFile loads a message from a file. Records may be separated by
// CR, LF or CR LF.
func readMessageFile(path string) (e1381.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	msg := e1381.NewMessage(e1381.Message(data).Records()...)
	if msg.IsEmpty() {
		return nil, fmt.Errorf("%s holds no record", path)
	}

	return msg, nil
}
