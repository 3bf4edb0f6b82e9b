// Package cmd -----------------------------
// @file      : lock.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2024/2/2 15:20
// -------------------------------------------
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mloughran/em-hiredis/lock"
	"github.com/mloughran/em-hiredis/resp/client"
)

// lock KEY：一直持有锁直到被中断，适合在多个进程之间选主
func getCmdLock(r *rootCommand) *cobra.Command {
	var opts lock.PersistentOptions
	lockCmd := &cobra.Command{
		Use:   "lock KEY",
		Short: "Hold a distributed lock until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withClient(0, func(ctx context.Context, c *client.Client) error {
				out := &lockedWriter{w: cmd.OutOrStdout()}
				opts.Logger = r.log
				p := lock.NewPersistent(c, args[0], opts)
				p.OnLocked(func() { out.printf("locked %s\n", args[0]) }).
					OnUnlocked(func() { out.printf("unlocked %s\n", args[0]) })
				p.Start()
				<-ctx.Done()

				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if _, err := p.Stop().Wait(stopCtx); err != nil && !errors.Is(err, lock.ErrNotActive) {
					return fmt.Errorf("release %s: %w", args[0], err)
				}
				return nil
			})
		},
	}
	lockCmd.Flags().DurationVar(&opts.LockTimeout, "timeout", lock.DefaultLockTimeout, "lock expiry, renewed 1s before it runs out")
	lockCmd.Flags().DurationVar(&opts.RetryInterval, "retry", lock.DefaultRetryInterval, "how often to retry while another process holds the lock")
	return lockCmd
}
