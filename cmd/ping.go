// Package cmd -----------------------------
// @file      : ping.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/2/2 10:02
// -------------------------------------------
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mloughran/em-hiredis/lib/utils"
	"github.com/mloughran/em-hiredis/resp/client"
)

func getCmdPing(r *rootCommand) *cobra.Command {
	var timeout time.Duration
	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Connect and send PING",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withClient(timeout, func(ctx context.Context, c *client.Client) error {
				start := time.Now()
				pong, err := c.Ping().Wait(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s in %s\n", pong, time.Since(start).Round(time.Microsecond))
				return nil
			})
		},
	}
	pingCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "give up after this long")
	return pingCmd
}

func getCmdDo(r *rootCommand) *cobra.Command {
	var timeout time.Duration
	doCmd := &cobra.Command{
		Use:     "do COMMAND [ARG...]",
		Short:   "Send one command and print the reply",
		Example: "  em-hiredis do set greeting hello\n  em-hiredis -u redis://localhost/2 do keys '*'",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withClient(timeout, func(ctx context.Context, c *client.Client) error {
				result, err := c.Send(ctx, utils.ToCmdLine(args...))
				var redisErr *client.RedisError
				if errors.As(err, &redisErr) {
					// 服务端的错误回复照常打印
					fmt.Fprintf(cmd.OutOrStdout(), "(error) %s\n", redisErr.Msg)
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), formatReply(result))
				return nil
			})
		},
	}
	doCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "give up after this long")
	return doCmd
}
