// fieldcopy bulk-copies validated custom-field values between two fields on
// Jira issues matched by a fixed JQL filter.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	dryRun     bool
	maxResults int
	rulesPath  string
	logFile    string
	assumeYes  bool

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "fieldcopy",
	Short: "Bulk-copy validated custom field values between Jira issues",
	Long: `fieldcopy searches Jira for issues whose source field holds a candidate
value and whose target field is empty, validates the value against an
anchored pattern, and writes it to the target field.

Credentials come from the environment (or an optional fieldcopy.yaml):
  JIRA_URL       - base URL, e.g. https://company.atlassian.net
  JIRA_EMAIL     - account email for Basic auth
  JIRA_API_TOKEN - API token

Examples:
  fieldcopy --dry-run              # preview decisions, write nothing
  fieldcopy --max-results 10       # process at most 10 issues
  fieldcopy --rules custom.yaml    # override the built-in copy rule
  fieldcopy --yes                  # skip the live-write confirmation`,
	Run: runCopy,
}

func init() {
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log intended changes without writing")
	rootCmd.Flags().IntVar(&maxResults, "max-results", 0, "Process at most N issues (0 = unlimited)")
	rootCmd.Flags().StringVar(&rulesPath, "rules", "", "Copy-rule overrides (yaml)")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "Log file path (default fieldcopy.log)")
	rootCmd.Flags().BoolVar(&assumeYes, "yes", false, "Pre-grant the live-write confirmation")
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
