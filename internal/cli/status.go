package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cardkeeper/cardkeeper/internal/audit"
	"github.com/cardkeeper/cardkeeper/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last known mount status from the audit log",
	Long: `Report the most recent mount/unmount transition recorded by a running
daemon. This reads the audit database directly and does not require the
daemon to be running; it is a read-only convenience, not a substitute for
the in-process query API other Go code links against.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Audit.Path == "" {
		return fmt.Errorf("no audit log configured")
	}

	store, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer store.Close()

	ev, err := store.LatestMountTransition(context.Background())
	if err != nil {
		return fmt.Errorf("querying audit log: %w", err)
	}
	if ev == nil {
		fmt.Println("no mount transitions recorded")
		return nil
	}

	fmt.Printf("%s at %s (device %s)\n", ev.Kind, ev.At.Format("2006-01-02T15:04:05Z"), ev.Detail)
	return nil
}
