package copier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/fieldcopy/internal/jira"
)

type update struct {
	key    string
	fields map[string]interface{}
}

// fakeClient records searches and updates. updateErr injects per-key write
// failures.
type fakeClient struct {
	issues    []jira.Issue
	searchErr error
	updateErr map[string]error

	gotJQL    string
	gotFields []string
	gotMax    int
	updates   []update
}

func (f *fakeClient) SearchIssues(ctx context.Context, jql string, fields []string, max int) ([]jira.Issue, error) {
	f.gotJQL = jql
	f.gotFields = fields
	f.gotMax = max
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.issues, nil
}

func (f *fakeClient) UpdateIssue(ctx context.Context, key string, fields map[string]interface{}) error {
	f.updates = append(f.updates, update{key: key, fields: fields})
	if err, ok := f.updateErr[key]; ok {
		return err
	}
	return nil
}

func makeIssue(t *testing.T, key, source string, target []string) jira.Issue {
	t.Helper()
	fields := map[string]json.RawMessage{
		"summary": json.RawMessage(`"test issue"`),
	}
	if source != "" {
		raw, err := json.Marshal(source)
		require.NoError(t, err)
		fields[DefaultSourceField] = raw
	}
	if target != nil {
		raw, err := json.Marshal(target)
		require.NoError(t, err)
		fields[DefaultTargetField] = raw
	}
	return jira.Issue{Key: key, Fields: fields}
}

func newRunner(t *testing.T, client Client) *Runner {
	t.Helper()
	return &Runner{Client: client, Rule: compiledDefaultRule(t)}
}

func TestRunEndToEndScenario(t *testing.T) {
	fc := &fakeClient{issues: []jira.Issue{
		makeIssue(t, "ES-1", "S-12345", nil),
		makeIssue(t, "ES-2", "invalid", nil),
		makeIssue(t, "ES-3", "S-99999", []string{"X"}),
	}}
	r := newRunner(t, fc)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 1, sum.Updated)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, 0, sum.Errors)
	assert.False(t, sum.Withheld)

	require.Len(t, fc.updates, 1)
	assert.Equal(t, "ES-1", fc.updates[0].key)
	assert.Equal(t, map[string]interface{}{DefaultTargetField: []string{"S-12345"}}, fc.updates[0].fields)

	// The search asked only for the fields the pipeline reads.
	assert.Equal(t, []string{"summary", DefaultSourceField, DefaultTargetField}, fc.gotFields)
}

func TestRunDryRunPerformsNoWrites(t *testing.T) {
	fc := &fakeClient{issues: []jira.Issue{
		makeIssue(t, "ES-1", "S-12345", nil),
		makeIssue(t, "ES-2", "invalid", nil),
		makeIssue(t, "ES-3", "S-99999", []string{"X"}),
	}}
	r := newRunner(t, fc)
	r.DryRun = true
	r.Confirm = func() (bool, error) {
		t.Fatal("Confirm must not be called in dry-run mode")
		return false, nil
	}

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	// Same counters as the live run, zero write calls.
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 1, sum.Updated)
	assert.Equal(t, 2, sum.Skipped)
	assert.Empty(t, fc.updates)
}

func TestRunSecondPassIsIdempotent(t *testing.T) {
	// After a first live run wrote ES-1, its target is populated; a rerun
	// over the same data must make zero writes.
	fc := &fakeClient{issues: []jira.Issue{
		makeIssue(t, "ES-1", "S-12345", []string{"S-12345"}),
		makeIssue(t, "ES-2", "invalid", nil),
		makeIssue(t, "ES-3", "S-99999", []string{"X"}),
	}}
	r := newRunner(t, fc)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 0, sum.Updated)
	assert.Equal(t, 3, sum.Skipped)
	assert.Empty(t, fc.updates)
}

func TestRunIsolatesWriteFailures(t *testing.T) {
	fc := &fakeClient{
		issues: []jira.Issue{
			makeIssue(t, "ES-1", "S-11111", nil),
			makeIssue(t, "ES-2", "S-22222", nil),
			makeIssue(t, "ES-3", "S-33333", nil),
		},
		updateErr: map[string]error{"ES-2": fmt.Errorf("field not on screen")},
	}
	r := newRunner(t, fc)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	// ES-2's failure is counted but does not stop ES-3.
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 2, sum.Updated)
	assert.Equal(t, 1, sum.Errors)
	assert.Len(t, fc.updates, 3)
}

func TestRunHonorsMaxResults(t *testing.T) {
	var issues []jira.Issue
	for i := 1; i <= 5; i++ {
		issues = append(issues, makeIssue(t, fmt.Sprintf("ES-%d", i), fmt.Sprintf("S-1000%d", i), nil))
	}
	// The fake ignores max, so the runner's own cap is exercised too.
	fc := &fakeClient{issues: issues}
	r := newRunner(t, fc)
	r.MaxResults = 2

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, fc.gotMax)
	assert.Equal(t, 2, sum.Processed)
	assert.Len(t, fc.updates, 2)
}

func TestRunConfirmationWithheld(t *testing.T) {
	fc := &fakeClient{issues: []jira.Issue{
		makeIssue(t, "ES-1", "invalid", nil),
		makeIssue(t, "ES-2", "S-12345", nil),
	}}
	r := newRunner(t, fc)
	r.Confirm = func() (bool, error) { return false, nil }

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, sum.Withheld)
	assert.Empty(t, fc.updates)
	assert.Equal(t, 0, sum.Updated)
	// Non-qualifying issues before the gate were still processed.
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.Skipped)
}

func TestRunConfirmationAskedOnce(t *testing.T) {
	fc := &fakeClient{issues: []jira.Issue{
		makeIssue(t, "ES-1", "S-11111", nil),
		makeIssue(t, "ES-2", "S-22222", nil),
		makeIssue(t, "ES-3", "S-33333", nil),
	}}
	r := newRunner(t, fc)
	calls := 0
	r.Confirm = func() (bool, error) {
		calls++
		return true, nil
	}

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 3, sum.Updated)
}

func TestRunSearchFailureIsFatal(t *testing.T) {
	fc := &fakeClient{searchErr: fmt.Errorf("401 unauthorized")}
	r := newRunner(t, fc)

	sum, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, sum)
	assert.Empty(t, fc.updates)
}

func TestRunLogsPerIssueDecisions(t *testing.T) {
	fc := &fakeClient{
		issues: []jira.Issue{
			makeIssue(t, "ES-1", "S-12345", nil),
			makeIssue(t, "ES-2", "invalid", nil),
			makeIssue(t, "ES-3", "S-22222", nil),
		},
		updateErr: map[string]error{"ES-3": fmt.Errorf("permission denied")},
	}
	r := newRunner(t, fc)
	var buf bytes.Buffer
	r.Log = log.New(&buf, "", 0)

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "ES-1: set customfield_10683 = [S-12345]")
	assert.Contains(t, out, "ES-2: pattern mismatch, skipping")
	assert.Contains(t, out, "ES-3: update failed: permission denied")
}

func TestRunLogsDryRunDecisions(t *testing.T) {
	fc := &fakeClient{issues: []jira.Issue{
		makeIssue(t, "ES-1", "S-12345", nil),
	}}
	r := newRunner(t, fc)
	r.DryRun = true
	var buf bytes.Buffer
	r.Log = log.New(&buf, "", 0)

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "ES-1: [dry-run] would set customfield_10683 = [S-12345]")
}

func TestEvaluateDecisionOrder(t *testing.T) {
	r := newRunner(t, &fakeClient{})

	tests := []struct {
		name     string
		issue    jira.Issue
		wantSkip string
	}{
		{"populated target wins over invalid source", makeIssue(t, "ES-1", "invalid", []string{"X"}), "target already populated"},
		{"populated target wins over valid source", makeIssue(t, "ES-2", "S-12345", []string{"X"}), "target already populated"},
		{"absent source", makeIssue(t, "ES-3", "", nil), "source value missing"},
		{"invalid source", makeIssue(t, "ES-4", "nope", nil), "pattern mismatch"},
		{"qualifies", makeIssue(t, "ES-5", "S-12345", nil), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, skip := r.evaluate(&tt.issue)
			assert.Equal(t, tt.wantSkip, skip)
			if tt.wantSkip == "" {
				assert.Equal(t, "S-12345", value)
			}
		})
	}
}
