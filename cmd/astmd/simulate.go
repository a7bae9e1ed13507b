package main

import (
	"context"

	"github.com/arloliu/go-astm/e1381"
	"github.com/arloliu/go-astm/gateway"
)

func runSimulate(ctx context.Context, args []string) error {
	fs := newFlagSet("simulate")
	fs.String("listen", ":5000", "address to accept host connections on")
	fs.StringP("file", "f", "", "message file pushed to every connection; the demo result when empty")
	fs.String("specimen", DemoSpecimenID, "specimen ID substituted into the demo result")
	fs.String("capture", "", "append messages received from the host to this file")

	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	log, closeLog, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	file, _ := fs.GetString("file")
	specimen, _ := fs.GetString("specimen")

	msg, err := outboundMessage(file, specimen)
	if err != nil {
		return err
	}

	sink, closeSinks, err := openSinks(ctx, cfg.Capture, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	m := &e1381.Metrics{}
	opts := serverOptions(cfg, sink, m, log)
	opts = append(opts, gateway.WithPush(func(_ context.Context, info gateway.ConnInfo) e1381.Message {
		log.Info("pushing result", "peer", info.Peer, "records", len(msg.Records()))

		return msg
	}))

	srv, err := gateway.NewServer(cfg.Server.Addr, gateway.HandlerFunc(
		func(_ context.Context, info gateway.ConnInfo, in e1381.Message) (e1381.Message, error) {
			log.Info("host message received", "peer", info.Peer, "message", in.String())

			return nil, nil
		}), opts...)
	if err != nil {
		return err
	}

	if err := srv.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info("simulator stopped", "framesSent", m.FrameSendCount.Load(), "messagesSent", m.MsgSendCount.Load())

	return srv.Shutdown(sctx)
}
