package main

import (
	"context"

	"github.com/arloliu/go-astm/capture"
	"github.com/arloliu/go-astm/e1381"
	"github.com/arloliu/go-astm/internal/config"
	"github.com/arloliu/go-astm/logger"
)

// openSinks opens every configured capture sink. It returns a nil sink when
// none is configured. The returned function closes what was opened.
func openSinks(ctx context.Context, cfg config.CaptureConfig, log logger.Logger) (e1381.CaptureSink, func(), error) {
	var (
		sinks   capture.MultiSink
		closers []func() error
	)

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("failed to close capture sink", "error", err)
			}
		}
	}

	fail := func(err error) (e1381.CaptureSink, func(), error) {
		closeAll()

		return nil, func() {}, err
	}

	// network wraps a remote sink in an AsyncSink when buffering is enabled.
	// Closers run in reverse, so the buffer drains before the client closes.
	network := func(sink e1381.CaptureSink) e1381.CaptureSink {
		if cfg.AsyncBuffer <= 0 {
			return sink
		}

		async := capture.NewAsyncSink(sink, cfg.AsyncBuffer, log)
		closers = append(closers, async.Close)

		return async
	}

	if cfg.File != "" {
		fsink, err := capture.OpenFileSink(cfg.File)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, fsink)
		closers = append(closers, fsink.Close)
		log.Info("capturing to file", "path", cfg.File)
	}

	if cfg.Rotate.Filename != "" {
		rsink, err := capture.NewRotatingFileSink(capture.RotateConfig{
			Filename:   cfg.Rotate.Filename,
			MaxSizeMB:  cfg.Rotate.MaxSizeMB,
			MaxBackups: cfg.Rotate.MaxBackups,
			MaxAgeDays: cfg.Rotate.MaxAgeDays,
			Compress:   cfg.Rotate.Compress,
		})
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, rsink)
		closers = append(closers, rsink.Close)
		log.Info("capturing to rotated file", "path", cfg.Rotate.Filename)
	}

	if cfg.RedisURL != "" {
		client, err := capture.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, client.Close)
		sinks = append(sinks, network(capture.NewRedisSink(client, cfg.RedisStream, cfg.RedisMaxLen)))
		log.Info("capturing to redis stream", "stream", cfg.RedisStream)
	}

	if cfg.NATSURL != "" {
		nc, err := capture.DialNATS(cfg.NATSURL, "astmd")
		if err != nil {
			return fail(err)
		}
		closers = append(closers, nc.Drain)
		sinks = append(sinks, network(capture.NewNATSSink(nc, cfg.NATSSubject)))
		log.Info("capturing to nats", "subject", cfg.NATSSubject)
	}

	switch len(sinks) {
	case 0:
		return nil, closeAll, nil
	case 1:
		return sinks[0], closeAll, nil
	default:
		return sinks, closeAll, nil
	}
}
