// Package cmd -----------------------------
// @file      : bench.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/2/2 14:05
// -------------------------------------------
package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mloughran/em-hiredis/lib/metrics"
	"github.com/mloughran/em-hiredis/lib/utils"
	"github.com/mloughran/em-hiredis/resp/client"
	"github.com/mloughran/em-hiredis/resp/clientpool"
)

type benchFlags struct {
	clients     int
	concurrency int
	requests    int
	metricsAddr string
}

func getCmdBench(r *rootCommand) *cobra.Command {
	var flags benchFlags
	benchCmd := &cobra.Command{
		Use:   "bench [COMMAND ARG...]",
		Short: "Send a command many times over a pool of clients",
		Long: `Send a command many times over a pool of clients and report the throughput.

  The command defaults to PING. Client metrics are served on --metrics-addr while the benchmark runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"PING"}
			}
			return r.bench(cmd, flags, utils.ToCmdLine(args...))
		},
	}
	benchCmd.Flags().IntVar(&flags.clients, "clients", 4, "number of connections in the pool")
	benchCmd.Flags().IntVar(&flags.concurrency, "concurrency", 50, "commands in flight at once")
	benchCmd.Flags().IntVarP(&flags.requests, "requests", "n", 10000, "total commands to send")
	benchCmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address, e.g. :9121")
	return benchCmd
}

func (r *rootCommand) bench(cmd *cobra.Command, flags benchFlags, cmdLine [][]byte) error {
	if flags.clients < 1 || flags.concurrency < 1 || flags.requests < 1 {
		return errors.New("--clients, --concurrency and --requests must be positive")
	}
	ctx, cancel := context.WithCancel(r.ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return err
	}
	served := make(chan error, 1)
	if flags.metricsAddr != "" {
		go func() { served <- metrics.Serve(ctx, flags.metricsAddr, reg, r.log) }()
	} else {
		served <- nil
	}

	p, err := clientpool.New(ctx, r.cfg, flags.clients, client.Options{Logger: r.log})
	if err != nil {
		return err
	}
	defer p.Close(context.Background())

	var next, failed atomic.Int64
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < flags.concurrency; i++ {
		g.Go(func() error {
			for next.Add(1) <= int64(flags.requests) {
				err := p.Do(gctx, func(c *client.Client) error {
					_, err := c.Send(gctx, cmdLine)
					return err
				})
				var redisErr *client.RedisError
				if errors.As(err, &redisErr) {
					failed.Add(1)
					continue
				}
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	err = g.Wait()
	elapsed := time.Since(start)
	cancel()
	if serr := <-served; serr != nil {
		r.log.WithError(serr).Warn("metrics server")
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d requests in %s, %.0f requests/s, %d error replies\n",
		flags.requests, elapsed.Round(time.Millisecond), float64(flags.requests)/elapsed.Seconds(), failed.Load())
	return nil
}
