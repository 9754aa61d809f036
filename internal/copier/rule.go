// Package copier implements the validate-and-copy pipeline that moves values
// between two custom fields on Jira issues. The copy policy lives in a Rule;
// the Runner drives one sequential pass over the matching issues.
package copier

import (
	"fmt"
	"regexp"
	"strings"
)

// Default copy policy. These reproduce the original migration: the submission
// number short-text field is copied into the submission number labels field
// for the ES project, skipping issues held by the migration service account.
const (
	DefaultProject          = "ES"
	DefaultSourceField      = "customfield_10213"
	DefaultTargetField      = "customfield_10683"
	DefaultPrefix           = "S-"
	DefaultExcludedAssignee = "5f6aaf8fad3484006a8038e1"
	DefaultPattern          = `^S-\d{5,6}$`
)

// Rule describes one source-to-target field copy: which issues qualify and
// what a valid source value looks like.
type Rule struct {
	Project          string `yaml:"project"`
	SourceField      string `yaml:"source_field"`
	TargetField      string `yaml:"target_field"`
	Prefix           string `yaml:"prefix"`
	ExcludedAssignee string `yaml:"excluded_assignee"`
	Pattern          string `yaml:"pattern"`

	pattern *regexp.Regexp
}

// DefaultRule returns the built-in copy policy.
func DefaultRule() Rule {
	return Rule{
		Project:          DefaultProject,
		SourceField:      DefaultSourceField,
		TargetField:      DefaultTargetField,
		Prefix:           DefaultPrefix,
		ExcludedAssignee: DefaultExcludedAssignee,
		Pattern:          DefaultPattern,
	}
}

// Compile validates the rule and compiles its pattern. Must be called before
// Validate or JQL.
func (r *Rule) Compile() error {
	if r.Project == "" {
		return fmt.Errorf("rule: project is required")
	}
	if r.SourceField == "" || r.TargetField == "" {
		return fmt.Errorf("rule: source_field and target_field are required")
	}
	if r.SourceField == r.TargetField {
		return fmt.Errorf("rule: source_field and target_field must differ")
	}
	// Anchor the pattern against the whole value so a partial match never
	// qualifies, regardless of how the configured pattern is written.
	re, err := regexp.Compile(`\A(?:` + r.Pattern + `)\z`)
	if err != nil {
		return fmt.Errorf("rule: invalid pattern %q: %w", r.Pattern, err)
	}
	r.pattern = re
	return nil
}

// JQL builds the search filter for issues that qualify for this rule:
// right project, source field not already carrying the prefix, empty target
// field, and not assigned to the excluded account.
func (r *Rule) JQL() string {
	clauses := []string{
		fmt.Sprintf("project = %s", r.Project),
		fmt.Sprintf("%s !~ %q", jqlField(r.SourceField), r.Prefix),
		fmt.Sprintf("%s is EMPTY", jqlField(r.TargetField)),
	}
	if r.ExcludedAssignee != "" {
		clauses = append(clauses, fmt.Sprintf("assignee != %s", r.ExcludedAssignee))
	}
	return strings.Join(clauses, " AND ")
}

// jqlField renders a field key for use in JQL. Custom fields use the cf[n]
// notation, which is stable across field renames; anything else is quoted.
func jqlField(key string) string {
	if id, ok := strings.CutPrefix(key, "customfield_"); ok {
		return fmt.Sprintf("cf[%s]", id)
	}
	return fmt.Sprintf("%q", key)
}
