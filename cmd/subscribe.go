// Package cmd -----------------------------
// @file      : subscribe.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/2/2 11:30
// -------------------------------------------
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/mloughran/em-hiredis/lib/future"
	"github.com/mloughran/em-hiredis/resp/client"
	"github.com/mloughran/em-hiredis/resp/manager"
	"github.com/mloughran/em-hiredis/resp/pubsub"
)

// lockedWriter 回调在 client 的 loop 上执行，输出要串行
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) printf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}

// subscribe CHANNEL... / psubscribe PATTERN...
// 一直运行到被中断，断线重连之后自动重新订阅
func getCmdSubscribe(r *rootCommand, pattern bool) *cobra.Command {
	use, short := "subscribe CHANNEL...", "Print messages published to channels"
	if pattern {
		use, short = "psubscribe PATTERN...", "Print messages published to channels matching glob patterns"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := pubsub.MakeClient(r.cfg, pubsub.Options{Logger: r.log})
			if err != nil {
				return err
			}
			defer func() {
				_ = ps.Close()
				<-ps.Done()
			}()
			out := &lockedWriter{w: cmd.OutOrStdout()}
			ps.OnEvent(func(e manager.Event) {
				switch e.Kind {
				case manager.EventConnected, manager.EventReconnected:
					r.log.Infof("subscription connection %s", e)
				default:
					r.log.WithError(e.Err).Warnf("subscription connection %s", e)
				}
			})
			show := func(m pubsub.Message) {
				if m.Pattern != "" {
					out.printf("%s %s: %s\n", m.Pattern, m.Channel, m.Payload)
					return
				}
				out.printf("%s: %s\n", m.Channel, m.Payload)
			}

			acks := make([]*future.Future[int64], 0, len(args))
			for _, key := range args {
				var ack *future.Future[int64]
				if pattern {
					_, ack = ps.PSubscribe(key, show)
				} else {
					_, ack = ps.Subscribe(key, show)
				}
				acks = append(acks, ack)
			}
			ps.Connect()
			if _, err := future.WaitAll(r.ctx, acks...); err != nil {
				return ignoreCanceled(err)
			}
			r.log.Infof("subscribed to %v", args)
			<-r.ctx.Done()
			return nil
		},
	}
}

func getCmdMonitor(r *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Print every command the server processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withClient(0, func(ctx context.Context, c *client.Client) error {
				out := &lockedWriter{w: cmd.OutOrStdout()}
				if _, err := c.Monitor(func(line string) { out.printf("%s\n", line) }).Wait(ctx); err != nil {
					return ignoreCanceled(err)
				}
				<-ctx.Done()
				return nil
			})
		},
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
