package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/fanout/internal/config"
	"github.com/wesleyorama2/fanout/internal/driver"
	"github.com/wesleyorama2/fanout/internal/invoker"
	"github.com/wesleyorama2/fanout/internal/resp"
)

func newPingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping [message]",
		Short: "Send a single PING to check the target is reachable",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			ping := driver.Command{Name: "PING", Args: args}
			reply, rtt, err := pingTarget(cmd.Context(), addr, ping, timeout)
			if err != nil {
				return err
			}
			if err := reply.Err(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", reply, rtt.Round(time.Microsecond))
			return nil
		},
	}

	cmd.Flags().StringP("addr", "a", config.DefaultAddress, "Target address (host:port)")
	cmd.Flags().DurationP("timeout", "t", driver.DefaultInvocationTimeout, "Timeout")
	return cmd
}

func pingTarget(ctx context.Context, addr string, ping driver.Command, timeout time.Duration) (resp.Reply, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	reply, err := invoker.NewRESP(addr).Do(ctx, ping)
	if err != nil {
		return resp.Reply{}, 0, err
	}
	return reply, time.Since(start), nil
}
