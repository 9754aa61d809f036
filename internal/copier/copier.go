package copier

import (
	"context"
	"fmt"
	"log"

	"github.com/steveyegge/fieldcopy/internal/jira"
)

// Client is the slice of the Jira API the pipeline needs: one search to
// establish the result set and one field write per qualifying issue.
type Client interface {
	SearchIssues(ctx context.Context, jql string, fields []string, max int) ([]jira.Issue, error)
	UpdateIssue(ctx context.Context, key string, fields map[string]interface{}) error
}

// ResultStatus classifies the handling of one issue.
type ResultStatus int

const (
	StatusUpdated ResultStatus = iota
	StatusSkipped
	StatusFailed
)

// Result records the decision made for one issue. Every processed issue
// yields exactly one Result; the run log and the summary are both derived
// from it.
type Result struct {
	Key    string
	Status ResultStatus
	Reason string // set for StatusSkipped
	Value  string // value written (or simulated) for StatusUpdated
	Err    error  // set for StatusFailed
}

// Summary aggregates the counters for one run. Counters only ever increase
// while the run is in flight.
type Summary struct {
	Processed int
	Updated   int
	Skipped   int
	Errors    int

	// Withheld is set when live-write confirmation was refused; the run
	// stopped before the first write with zero changes made.
	Withheld bool
}

// Runner drives one sequential pass: search, then validate and conditionally
// update each issue in result order. Per-issue write failures are recorded
// and do not stop the pass; only a failed search aborts the run.
type Runner struct {
	Client     Client
	Rule       *Rule
	DryRun     bool
	MaxResults int // 0 means unlimited

	// Confirm is consulted once, immediately before the first live write.
	// nil means permission is already granted (dry-run, --yes, tests).
	Confirm func() (bool, error)

	// Log receives per-issue decision lines. nil discards them.
	Log *log.Logger
}

// Run executes the pipeline and returns the run summary. The returned error
// is non-nil only when the result set could not be established; everything
// after that point is isolated per issue.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	jql := r.Rule.JQL()
	r.logf("searching: %s", jql)

	fields := []string{"summary", r.Rule.SourceField, r.Rule.TargetField}
	issues, err := r.Client.SearchIssues(ctx, jql, fields, r.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("search issues: %w", err)
	}
	if r.MaxResults > 0 && len(issues) > r.MaxResults {
		issues = issues[:r.MaxResults]
	}
	r.logf("found %d issues to process", len(issues))

	sum := &Summary{}
	confirmed := false
	for i := range issues {
		issue := &issues[i]
		r.logf("processing %d/%d: %s - %s", i+1, len(issues), issue.Key, issue.Summary())

		var res Result
		value, skip := r.evaluate(issue)
		switch {
		case skip != "":
			res = Result{Key: issue.Key, Status: StatusSkipped, Reason: skip}

		case r.DryRun:
			res = Result{Key: issue.Key, Status: StatusUpdated, Value: value}

		default:
			if !confirmed {
				granted, err := r.confirm()
				if err != nil || !granted {
					if err != nil {
						r.logf("confirmation failed: %v", err)
					}
					r.logf("confirmation withheld; stopping with no changes")
					sum.Withheld = true
					return sum, nil
				}
				confirmed = true
			}
			res = r.write(ctx, issue.Key, value)
		}

		r.report(res)
		sum.add(res)
	}

	return sum, nil
}

// report emits the log line for one per-issue decision.
func (r *Runner) report(res Result) {
	switch res.Status {
	case StatusSkipped:
		r.logf("%s: %s, skipping", res.Key, res.Reason)
	case StatusFailed:
		r.logf("%s: update failed: %v", res.Key, res.Err)
	case StatusUpdated:
		if r.DryRun {
			r.logf("%s: [dry-run] would set %s = [%s]", res.Key, r.Rule.TargetField, res.Value)
		} else {
			r.logf("%s: set %s = [%s]", res.Key, r.Rule.TargetField, res.Value)
		}
	}
}

func (s *Summary) add(res Result) {
	s.Processed++
	switch res.Status {
	case StatusUpdated:
		s.Updated++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Errors++
	}
}

// evaluate applies the decision table for one issue without side effects.
// It returns the value to write, or a skip reason. First match wins:
// populated target, then absent source, then invalid source.
func (r *Runner) evaluate(issue *jira.Issue) (value, skipReason string) {
	if len(issue.ListField(r.Rule.TargetField)) > 0 {
		return "", "target already populated"
	}
	raw, _ := issue.StringField(r.Rule.SourceField)
	v := r.Rule.Validate(raw)
	switch v.State {
	case ValueAbsent:
		return "", "source value missing"
	case ValueInvalid:
		return "", v.Reason
	}
	return v.Value, ""
}

// write performs the single field update for a qualifying issue. The target
// is a labels-style field, so the value is written as a one-element list.
func (r *Runner) write(ctx context.Context, key, value string) Result {
	err := r.Client.UpdateIssue(ctx, key, map[string]interface{}{
		r.Rule.TargetField: []string{value},
	})
	if err != nil {
		return Result{Key: key, Status: StatusFailed, Err: err}
	}
	return Result{Key: key, Status: StatusUpdated, Value: value}
}

func (r *Runner) confirm() (bool, error) {
	if r.Confirm == nil {
		return true, nil
	}
	return r.Confirm()
}

func (r *Runner) logf(format string, args ...interface{}) {
	if r.Log != nil {
		r.Log.Printf(format, args...)
	}
}
