// Package cmd -----------------------------
// @file      : mock_server.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/2/2 16:00
// -------------------------------------------
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mloughran/em-hiredis/redistest"
)

// mock-server 启动内置的测试服务端，方便在没有 redis 的机器上试用其他子命令
func getCmdMockServer(r *rootCommand) *cobra.Command {
	var (
		addr        string
		requirePass string
	)
	serverCmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run the in-process test server",
		Long: `Run the in-process test server.

  It speaks enough of the protocol for the other subcommands: strings, keys,
  pub/sub, MONITOR and scripts registered from Go. It is not a redis replacement.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := redistest.Start(addr, r.log)
			if err != nil {
				return err
			}
			if requirePass != "" {
				s.RequirePass(requirePass)
			}
			r.log.Infof("mock server listening on %s", s.URL())
			<-r.ctx.Done()
			r.log.Info("shutting down")
			return s.Close()
		},
	}
	serverCmd.Flags().StringVar(&addr, "addr", "127.0.0.1:6379", "listen address")
	serverCmd.Flags().StringVar(&requirePass, "requirepass", "", "require AUTH with this password")
	return serverCmd
}
