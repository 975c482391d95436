package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cardkeeper/cardkeeper"
	"github.com/cardkeeper/cardkeeper/internal/config"
)

var lsDescending bool

var lsCmd = &cobra.Command{
	Use:   "ls <relative-path>",
	Short: "List files in a configured directory",
	Long: `List the current contents of one configured directory by constructing an
in-process manager from the on-disk config, without needing a running
daemon.`,
	Args: cobra.ExactArgs(1),
	RunE: runLs,
}

func init() {
	lsCmd.Flags().BoolVar(&lsDescending, "desc", false, "list in descending order")
}

func runLs(cmd *cobra.Command, args []string) error {
	relativePath := args[0]

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	manager, err := cardkeeper.Init(logger, cfg)
	if err != nil {
		return fmt.Errorf("initializing storage manager: %w", err)
	}
	defer manager.Deinit()

	// Give the message consumer a moment before we query: Init enqueues
	// the DevAdd for an already-mounted device, and the consumer needs one
	// pass to process it.
	time.Sleep(100 * time.Millisecond)

	order := cardkeeper.Ascending
	if lsDescending {
		order = cardkeeper.Descending
	}

	files, err := manager.ListFiles(relativePath, order)
	if err != nil {
		return fmt.Errorf("listing %s: %w", relativePath, err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILENAME\tSIZE\tMODIFIED")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Filename, humanize.Bytes(uint64(f.Size)), f.ModTime.Format(time.RFC3339))
	}
	return w.Flush()
}
