package copier

import "strings"

// ValidationState classifies a raw source-field value.
type ValidationState int

const (
	// ValueAbsent means the field was null or empty.
	ValueAbsent ValidationState = iota
	// ValueInvalid means the field held something that does not match the rule pattern.
	ValueInvalid
	// ValueValid means the field holds a copyable value.
	ValueValid
)

// Validation is the outcome of checking one source-field value against a rule.
// Value is set only for ValueValid; Reason only for ValueInvalid.
type Validation struct {
	State  ValidationState
	Value  string
	Reason string
}

// Validate classifies a raw source-field value. The value is trimmed of
// surrounding whitespace before matching and is otherwise copied verbatim:
// no case folding, no normalization. The pattern is anchored, so partial
// matches are rejected.
func (r *Rule) Validate(raw string) Validation {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Validation{State: ValueAbsent}
	}
	if !r.pattern.MatchString(trimmed) {
		return Validation{State: ValueInvalid, Reason: "pattern mismatch"}
	}
	return Validation{State: ValueValid, Value: trimmed}
}
