package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"forgeloop/internal/logging"
)

var (
	// Global flags
	verbose   bool
	workspace string
	apiKey    string

	// run / daemon flags
	maxCycles    int
	threshold    float64
	pollInterval time.Duration
	maxRuns      int
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "forgeloop - autonomous improvement orchestration engine",
	Long: `forgeloop repeatedly attempts a task, scores its own output, and
decides whether to retry with a revised approach, synthesize new
capability modules at runtime, or stop.

Each task runs as a bounded chain of improvement cycles:
  analyze gaps -> synthesize modules -> execute -> evaluate -> decide

State lives under .forge/ in the workspace: the capability registry and
append-only ledger in forge.db, module sources under modules/, and a
feedback inbox under feedback/.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Init(verbose); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

// runCmd runs one improvement chain to a terminal state
var runCmd = &cobra.Command{
	Use:   "run [task description]",
	Short: "Run one bounded improvement chain for a task",
	Long: `Runs a task through the improvement loop until the confidence target
is reached, the cycle budget is exhausted, or a fatal error aborts the
chain.

Example:
  forge run "write a release summary for v2.3" --threshold 0.9 --cycles 5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChain,
}

// daemonCmd runs continuous improvement mode
var daemonCmd = &cobra.Command{
	Use:   "daemon [task description]",
	Short: "Run continuous improvement, deriving new chains from feedback",
	Long: `Runs the seed task, then keeps polling for feedback on a fixed
interval. New feedback after a terminal state starts a parent-linked
derived chain, up to the run ceiling.

Feedback arrives as files dropped into .forge/feedback/.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDaemon,
}

// statusCmd summarizes a task's chain history from the ledger
var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show the latest recorded state for a task",
	Args:  cobra.ExactArgs(1),
	RunE:  showStatus,
}

// ledgerCmd exports ledger entries
var ledgerCmd = &cobra.Command{
	Use:   "ledger [task-id]",
	Short: "Export the append-only cycle ledger (all tasks when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  exportLedger,
}

// modulesCmd lists integrated capability modules
var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List integrated capability modules",
	RunE:  listModules,
}

func init() {
	// .env is optional; env vars win over config file values.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Gemini API key (or set GEMINI_API_KEY)")

	runCmd.Flags().IntVar(&maxCycles, "cycles", 3, "Maximum improvement cycles")
	runCmd.Flags().Float64Var(&threshold, "threshold", 0.85, "Target confidence in [0,1]")

	daemonCmd.Flags().IntVar(&maxCycles, "cycles", 3, "Maximum improvement cycles per chain")
	daemonCmd.Flags().Float64Var(&threshold, "threshold", 0.85, "Target confidence in [0,1]")
	daemonCmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "Feedback poll interval (default from config)")
	daemonCmd.Flags().IntVar(&maxRuns, "max-runs", 0, "Overall run ceiling (default from config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(modulesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
