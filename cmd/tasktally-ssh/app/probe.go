package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"

	"github.com/tasktally/tasktally-ssh/internal/keyscan"
)

var errHostUnavailable = errors.New("ssh service not available")

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe HOST",
		Short: "Check whether a host accepts connections on its SSH port",
		Long: `Check whether a host accepts TCP connections on its SSH port. With --wait the probe
is retried with exponential backoff until the host is reachable or the wait elapses.`,
		Args: cobra.ExactArgs(1),
		RunE: runProbe,
	}
	cmd.Flags().Int("port", 0, "Port to probe (defaults to probe.port or 22)")
	cmd.Flags().Duration("wait", 0, "Keep probing for up to this long")
	return cmd
}

func runProbe(cmd *cobra.Command, args []string) error {
	host := args[0]
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return fmt.Errorf("failed to get port flag: %w", err)
	}
	wait, err := cmd.Flags().GetDuration("wait")
	if err != nil {
		return fmt.Errorf("failed to get wait flag: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	prober := keyscan.NewProber(append(cfg.ProberOptions(), keyscan.WithProbePort(port))...)

	if err := waitForHost(cmd.Context(), prober, host, wait); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: unavailable\n", host)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: available\n", host)
	return nil
}

// waitForHost probes host until it is available. A zero wait probes once.
func waitForHost(ctx context.Context, prober *keyscan.Prober, host string, wait time.Duration) error {
	probe := func() (struct{}, error) {
		if prober.IsAvailable(ctx, host) {
			return struct{}{}, nil
		}
		return struct{}{}, fmt.Errorf("%s: %w", host, errHostUnavailable)
	}

	if wait <= 0 {
		_, err := probe()
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	_, err := backoff.Retry(ctx, probe,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(wait),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Debug("Host not available yet", "host", host, "retry_in", next, "error", err)
		}),
	)
	return err
}
