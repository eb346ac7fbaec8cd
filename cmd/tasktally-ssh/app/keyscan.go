package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tasktally/tasktally-ssh/internal/keyscan"
)

const defaultScanConcurrency = 4

type scanFunc func(ctx context.Context, host string) ([]keyscan.HostKeyEntry, error)

func newKeyscanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyscan HOST...",
		Short: "Print the SSH host keys of hosts in known_hosts format",
		Long: `Scan one or more hosts for their SSH host keys and print them as known_hosts lines.
Hosts are scanned concurrently. Keys of hosts that could be scanned are printed even when
other hosts fail.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runKeyscan,
	}
	cmd.Flags().Int("port", 0, "Port to scan (defaults to scanner.port or 22)")
	cmd.Flags().Int("concurrency", defaultScanConcurrency, "Maximum number of hosts scanned at once")
	return cmd
}

func runKeyscan(cmd *cobra.Command, hosts []string) error {
	ctx := cmd.Context()
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return fmt.Errorf("failed to get port flag: %w", err)
	}
	concurrency, err := cmd.Flags().GetInt("concurrency")
	if err != nil {
		return fmt.Errorf("failed to get concurrency flag: %w", err)
	}

	env, err := setupEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.close(ctx)

	scan := func(ctx context.Context, host string) ([]keyscan.HostKeyEntry, error) {
		return env.transport.ScanHostKeys(ctx, host, port)
	}
	results, scanErr := scanAll(ctx, scan, hosts, concurrency)
	if err := writeKnownHosts(cmd.OutOrStdout(), results); err != nil {
		return err
	}
	return scanErr
}

// scanAll scans hosts with at most concurrency scans in flight. The result slice is indexed
// like hosts; failed hosts have nil entries and their errors are joined.
func scanAll(ctx context.Context, scan scanFunc, hosts []string, concurrency int) ([][]keyscan.HostKeyEntry, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([][]keyscan.HostKeyEntry, len(hosts))
	failures := make([]error, len(hosts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, host := range hosts {
		g.Go(func() error {
			entries, err := scan(ctx, host)
			if err != nil {
				slog.Warn("Host key scan failed", "host", host, "error", err)
				failures[i] = fmt.Errorf("%s: %w", host, err)
				return nil
			}
			results[i] = entries
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(failures...)
}

func writeKnownHosts(w io.Writer, results [][]keyscan.HostKeyEntry) error {
	for _, entries := range results {
		if len(entries) == 0 {
			continue
		}
		if _, err := io.WriteString(w, keyscan.KnownHosts(entries)); err != nil {
			return fmt.Errorf("failed to write known_hosts: %w", err)
		}
	}
	return nil
}
