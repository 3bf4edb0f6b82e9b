// Package cmd -----------------------------
// @file      : root.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/2/2 09:40
// -------------------------------------------
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mloughran/em-hiredis/config"
	"github.com/mloughran/em-hiredis/lib/logger"
	"github.com/mloughran/em-hiredis/resp/client"
)

type globalFlags struct {
	url        string
	configFile string
	logLevel   string
}

// rootCommand 所有子命令共享的状态
type rootCommand struct {
	ctx   context.Context
	flags globalFlags
	cfg   *config.Config
	log   logrus.FieldLogger
	cmd   *cobra.Command
}

func newRootCommand(ctx context.Context) *rootCommand {
	r := &rootCommand{ctx: ctx, log: logger.Default()}
	r.cmd = &cobra.Command{
		Use:               "em-hiredis",
		Short:             "Reconnecting redis client toolbox",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: r.persistentPreRunE,
	}
	flags := r.cmd.PersistentFlags()
	flags.StringVarP(&r.flags.url, "url", "u", "", "redis url, overrides REDIS_URL and the config file")
	flags.StringVarP(&r.flags.configFile, "config", "c", "", "yaml config file")
	flags.StringVar(&r.flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	r.cmd.AddCommand(
		getCmdPing(r),
		getCmdDo(r),
		getCmdSubscribe(r, false),
		getCmdSubscribe(r, true),
		getCmdMonitor(r),
		getCmdBench(r),
		getCmdLock(r),
		getCmdMockServer(r),
	)
	return r
}

func (r *rootCommand) persistentPreRunE(cmd *cobra.Command, _ []string) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	settings := &logger.Settings{}
	if cfg.Logging != nil {
		settings = cfg.Logging
	}
	if r.flags.logLevel != "" {
		settings.Level = r.flags.logLevel
	}
	if err := logger.Setup(settings); err != nil {
		return err
	}
	r.cfg = cfg
	r.log = logger.Default()
	return nil
}

// 优先级：--url > 配置文件 > 环境变量
func (r *rootCommand) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if r.flags.configFile != "" {
		cfg, err = config.SetupConfig(r.flags.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("url") {
		cfg.URL = r.flags.url
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// withClient 连上之后执行 fn，结束时关闭 client
func (r *rootCommand) withClient(timeout time.Duration, fn func(ctx context.Context, c *client.Client) error) error {
	c, err := client.MakeClient(r.cfg, client.Options{Logger: r.log})
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Close()
		<-c.Done()
	}()
	ctx := r.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if _, err := c.Connect().Wait(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return fn(ctx, c)
}

// Execute runs the command line until it finishes or the process is interrupted
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	r := newRootCommand(ctx)
	err := r.cmd.Execute()
	stop()
	if err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}
