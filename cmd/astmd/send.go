package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/arloliu/go-astm/e1381"
	"github.com/arloliu/go-astm/gateway"
)

func runSend(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("send")
	fs.String("addr", "127.0.0.1:5000", "peer address")
	fs.StringP("file", "f", "", "message file; the built-in demo result is sent when empty")
	fs.String("specimen", DemoSpecimenID, "specimen ID substituted into the demo result")

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

	client, err := gateway.NewClient(cfg.Client.Addr,
		gateway.WithClientSessionOptions(cfg.Session.Options()...),
		gateway.WithDialTimeout(cfg.Client.DialTimeout),
		gateway.WithClientLogger(log),
	)
	if err != nil {
		return err
	}

	reply, err := client.Send(ctx, msg)
	if err != nil {
		return err
	}

	printReply(out, reply)

	return nil
}

func outboundMessage(file, specimen string) (e1381.Message, error) {
	if file != "" {
		return readMessageFile(file)
	}

	if strings.TrimSpace(specimen) == "" {
		return nil, fmt.Errorf("specimen ID must not be empty")
	}

	return DemoResult(specimen), nil
}

func printReply(out io.Writer, reply e1381.Message) {
	if reply.IsEmpty() {
		fmt.Fprintln(out, "no reply")

		return
	}

	for _, rec := range reply.Records() {
		fmt.Fprintln(out, rec)
	}
}
