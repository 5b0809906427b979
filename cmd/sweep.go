package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/mnemolabs/mnemo/internal/app"
	"github.com/mnemolabs/mnemo/internal/memory"
)

var (
	sweepOnce   bool
	sweepTenant string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the memory lifecycle",
	Long: `Run the background lifecycle: TTL eviction, consolidation of
near-duplicates, and contradiction detection.

By default this runs as a daemon, sweeping all tenants on an interval.
With --once a single pass runs and the process exits; --tenant restricts
the pass to one tenant.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSweep()
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepOnce, "once", false, "run a single sweep pass and exit")
	sweepCmd.Flags().StringVar(&sweepTenant, "tenant", "", "restrict the sweep to one tenant (requires --once)")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep() error {
	if sweepTenant != "" && !sweepOnce {
		return errors.New("--tenant requires --once")
	}

	// A file lock keeps a second local daemon from starting. Cross-process
	// sweep safety within the database is handled separately by per-tenant
	// advisory locks.
	release, err := acquireDaemonLock()
	if err != nil {
		return err
	}
	defer release()

	return withApp(func(ctx context.Context, a *app.App) error {
		if sweepOnce {
			return runSweepOnce(ctx, a)
		}
		a.StartScheduler(ctx)
		<-ctx.Done()
		return nil
	})
}

// runSweepOnce sweeps one tenant, or every tenant when none is given.
func runSweepOnce(ctx context.Context, a *app.App) error {
	tenants := []string{sweepTenant}
	if sweepTenant == "" {
		rows, err := a.DBPool.Query(ctx, `SELECT DISTINCT tenant_id FROM memories ORDER BY tenant_id`)
		if err != nil {
			return fmt.Errorf("listing tenants: %w", err)
		}
		defer rows.Close()
		tenants = tenants[:0]
		for rows.Next() {
			var t string
			if err := rows.Scan(&t); err != nil {
				return fmt.Errorf("scanning tenant: %w", err)
			}
			tenants = append(tenants, t)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating tenants: %w", err)
		}
	}

	for _, tenant := range tenants {
		err := a.Scheduler.SweepTenant(ctx, tenant, 0)
		if errors.Is(err, memory.ErrSweepInProgress) {
			fmt.Printf("tenant %s: sweep already in progress, skipped\n", tenant)
			continue
		}
		if err != nil {
			return fmt.Errorf("sweeping tenant %s: %w", tenant, err)
		}
		fmt.Printf("tenant %s: sweep complete\n", tenant)
	}
	return nil
}

// acquireDaemonLock takes the single-instance file lock under ~/.mnemo.
func acquireDaemonLock() (func(), error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	dir := filepath.Join(home, ".mnemo")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, "sweep.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring daemon lock: %w", err)
	}
	if !locked {
		return nil, errors.New("another sweep process is already running")
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			fmt.Fprintf(os.Stderr, "releasing daemon lock: %v\n", err)
		}
	}, nil
}
