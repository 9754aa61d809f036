package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/steveyegge/fieldcopy/internal/config"
	"github.com/steveyegge/fieldcopy/internal/copier"
	"github.com/steveyegge/fieldcopy/internal/jira"
)

var (
	modeStyle     = lipgloss.NewStyle().Bold(true)
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	withheldStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func runCopy(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(rulesPath)
	if err != nil {
		FatalError("%v", err)
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		FatalError("open log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	// Every decision goes to both stdout and the log file.
	logger := log.New(io.MultiWriter(os.Stdout, f), "", log.LstdFlags)

	mode := "LIVE UPDATE"
	if dryRun {
		mode = "DRY RUN"
	}
	fmt.Println(modeStyle.Render("fieldcopy — " + mode))
	logger.Printf("starting run: mode=%s project=%s %s -> %s",
		mode, cfg.Rule.Project, cfg.Rule.SourceField, cfg.Rule.TargetField)

	runner := &copier.Runner{
		Client:     jira.NewClient(cfg.URL, cfg.Email, cfg.APIToken),
		Rule:       &cfg.Rule,
		DryRun:     dryRun,
		MaxResults: maxResults,
		Confirm:    confirmLiveWrites,
		Log:        logger,
	}

	sum, err := runner.Run(rootCtx)
	if err != nil {
		logger.Printf("fatal: %v", err)
		FatalError("%v", err)
	}

	printSummary(logger, sum)
}

// confirmLiveWrites is the once-per-run gate before the first live write.
// A non-interactive stdin without --yes counts as withheld rather than
// hanging a scripted invocation on a prompt nobody will answer.
func confirmLiveWrites() (bool, error) {
	if assumeYes {
		return true, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		WarnError("stdin is not a terminal; pass --yes to confirm live writes")
		return false, nil
	}

	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Update Jira issues in LIVE mode?").
				Description("Qualifying issues will have their target field written. This cannot be undone.").
				Affirmative("Update").
				Negative("Cancel").
				Value(&ok),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

func printSummary(logger *log.Logger, sum *copier.Summary) {
	logger.Printf("summary: processed=%d updated=%d skipped=%d errors=%d",
		sum.Processed, sum.Updated, sum.Skipped, sum.Errors)

	switch {
	case sum.Withheld:
		fmt.Println(withheldStyle.Render("Cancelled before any writes; no changes made."))
	case sum.Errors > 0:
		fmt.Println(errStyle.Render(fmt.Sprintf("Completed with %d error(s); see the log for details.", sum.Errors)))
	default:
		fmt.Println(okStyle.Render(fmt.Sprintf("Done: %d updated, %d skipped.", sum.Updated, sum.Skipped)))
	}
}
