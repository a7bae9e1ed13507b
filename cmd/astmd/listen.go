package main

import (
	"context"
	"fmt"

	"github.com/arloliu/go-astm/e1381"
	"github.com/arloliu/go-astm/gateway"
	"github.com/arloliu/go-astm/internal/admin"
	"github.com/arloliu/go-astm/internal/config"
	"github.com/arloliu/go-astm/logger"
	"github.com/arloliu/go-astm/metrics"
)

func runListen(ctx context.Context, args []string) error {
	fs := newFlagSet("listen")
	fs.String("listen", ":5000", "address to accept instrument connections on")
	fs.Int("max-conns", 0, "maximum concurrent connections, 0 for unlimited")
	fs.String("reply", "", "file holding a message sent back after every received message")
	fs.String("capture", "", "append received messages to this file")
	fs.String("capture-rotate", "", "append received messages to this size-rotated file")
	fs.String("redis", "", "redis URL; add received messages to a stream")
	fs.String("redis-stream", "astm:captures", "redis stream key")
	fs.String("nats", "", "NATS URL; publish received messages")
	fs.String("nats-subject", "astm.capture", "NATS subject")
	fs.Int("capture-buffer", 0, "buffer Redis and NATS captures in memory, 0 writes synchronously")
	fs.String("admin", "", "admin HTTP address serving /healthz, /metrics and /sessions")

	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	log, closeLog, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	sink, closeSinks, err := openSinks(ctx, cfg.Capture, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	handler, err := replyHandler(cfg.Server.ReplyFile, log)
	if err != nil {
		return err
	}

	m := &e1381.Metrics{}

	srv, err := gateway.NewServer(cfg.Server.Addr, handler, serverOptions(cfg, sink, m, log)...)
	if err != nil {
		return err
	}

	if err := srv.Start(ctx); err != nil {
		return err
	}

	if cfg.Admin.Addr != "" {
		reg := metrics.NewRegistry()
		if err := metrics.Register(reg, cfg.Admin.Namespace, m, srv); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}

		adm := admin.New(cfg.Admin.Addr, srv, metrics.Handler(reg))
		go func() {
			if err := adm.Start(); err != nil {
				log.Error("admin server failed", "address", cfg.Admin.Addr, "error", err)
			}
		}()
		log.Info("admin server listening", "address", cfg.Admin.Addr)

		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = adm.Shutdown(sctx)
		}()
	}

	<-ctx.Done()
	log.Info("shutting down", "sessions", len(srv.Sessions()))

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(sctx)
}

func serverOptions(cfg *config.Config, sink e1381.CaptureSink, m *e1381.Metrics, log logger.Logger) []gateway.ServerOption {
	sessOpts := cfg.Session.Options()
	if sink != nil {
		sessOpts = append(sessOpts, e1381.WithCaptureSink(sink))
	}

	opts := []gateway.ServerOption{
		gateway.WithSessionOptions(sessOpts...),
		gateway.WithMaxConns(cfg.Server.MaxConns),
		gateway.WithServerLogger(log),
		gateway.WithServerMetrics(m),
	}

	if cfg.Server.AcceptRate > 0 {
		opts = append(opts, gateway.WithAcceptRate(cfg.Server.AcceptRate, cfg.Server.AcceptBurst))
	}

	return opts
}

// replyHandler answers every message with the content of path, or never
// replies when path is empty.
func replyHandler(path string, log logger.Logger) (gateway.Handler, error) {
	if path == "" {
		return gateway.HandlerFunc(func(_ context.Context, info gateway.ConnInfo, msg e1381.Message) (e1381.Message, error) {
			log.Info("message received", "peer", info.Peer, "sessionID", info.SessionID, "records", len(msg.Records()))

			return nil, nil
		}), nil
	}

	reply, err := readMessageFile(path)
	if err != nil {
		return nil, fmt.Errorf("reply file: %w", err)
	}

	static := gateway.StaticReply(reply)

	return gateway.HandlerFunc(func(ctx context.Context, info gateway.ConnInfo, msg e1381.Message) (e1381.Message, error) {
		log.Info("message received, replying", "peer", info.Peer, "sessionID", info.SessionID, "records", len(msg.Records()))

		return static.HandleMessage(ctx, info, msg)
	}), nil
}
