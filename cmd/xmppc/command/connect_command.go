// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package command

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"mellium.im/client"
	"mellium.im/client/event"
	"mellium.im/client/internal/logger"
	"mellium.im/client/ping"
	"mellium.im/client/version"
)

const stopTimeout = 5 * time.Second

// NewConnectCommand returns the cobra command for "connect".
func NewConnectCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Connects to the configured server and reconnects until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := client.LoadConfig(flags.ConfigFile)
			if err != nil {
				return err
			}
			l := logger.New(cmd.ErrOrStderr(), cfg.Logger.Level, cfg.Logger.Format)
			opts, err := cfg.Options(l)
			if err != nil {
				return err
			}
			c, err := client.New(opts)
			if err != nil {
				return err
			}
			defer c.IQCaller.Close()
			ping.Handle(c.IQCallee)
			version.Handle(c.IQCallee, version.Local())

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, c, l, flags.ConnectTimeout)
		},
	}
}

func run(ctx context.Context, c *client.Client, l log.Logger, connectTimeout time.Duration) error {
	sub := c.Subscribe()
	defer sub.Close()
	go logEvents(sub, l)

	startCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	err := c.Start(startCtx)
	cancel()
	if err != nil {
		return err
	}
	level.Info(l).Log("msg", "session started", "jid", c.JID())

	<-ctx.Done()
	level.Info(l).Log("msg", "shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return c.Stop(stopCtx)
}

func logEvents(sub *event.Subscription, l log.Logger) {
	for ev := range sub.C() {
		switch ev.Kind {
		case event.Online:
			level.Info(l).Log("msg", "online", "jid", ev.JID, "gen", ev.Gen)
		case event.Offline:
			level.Info(l).Log("msg", "offline", "gen", ev.Gen, "err", ev.Err)
		case event.Error:
			level.Warn(l).Log("msg", "error", "gen", ev.Gen, "err", ev.Err)
		case event.Status:
			level.Debug(l).Log("msg", "status", "status", ev.Status, "gen", ev.Gen)
		case event.Stanza:
			level.Debug(l).Log("msg", "stanza", "stanza", ev.Stanza)
		}
	}
}
