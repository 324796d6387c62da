// Package safety validates SQL text and table names before any execution
// path is allowed to touch a session. All checks are pure and deterministic.
package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// Violation reports why a statement or table name was rejected.
type Violation struct {
	Rule   string
	Detail string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("safety violation (%s): %s", v.Rule, v.Detail)
}

// AllowedTables is the fixed allow-list derived from the known schema.
// Anything else is rejected regardless of query shape.
var AllowedTables = map[string]bool{
	"prospects":            true,
	"campaigns":            true,
	"workflows":            true,
	"workflow_errors":      true,
	"research_results":     true,
	"outreach_messages":    true,
	"workflow_checkpoints": true,
	"health_probe":         true,
}

// destructiveVerbs match schema-mutating or data-destroying statements.
var destructiveVerbs = regexp.MustCompile(`(?i)\b(drop|truncate|alter|grant|revoke|create|vacuum|reindex)\b`)

// unfiltered matches DELETE or UPDATE statements that carry no WHERE clause.
var (
	unfiltered  = regexp.MustCompile(`(?i)^\s*(delete|update)\b`)
	whereClause = regexp.MustCompile(`(?i)\bwhere\b`)
	identifier  = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

// allowedExceptions are the only statements permitted despite matching a
// destructive pattern. The health check is allowed to truncate its own probe
// table between round-trips; nothing else may truncate anything.
var allowedExceptions = []string{
	"truncate table health_probe",
}

// ValidateQuery rejects statements that could mutate schema or destroy data,
// statement stacking, and comment-based smuggling.
func ValidateQuery(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return &Violation{Rule: "empty", Detail: "empty statement"}
	}

	normalized := strings.ToLower(strings.Join(strings.Fields(trimmed), " "))
	for _, exc := range allowedExceptions {
		if strings.HasPrefix(normalized, exc) {
			return nil
		}
	}

	if strings.Contains(trimmed, "--") || strings.Contains(trimmed, "/*") {
		return &Violation{Rule: "comment", Detail: "SQL comments are not allowed"}
	}

	if i := strings.Index(trimmed, ";"); i >= 0 && strings.TrimSpace(trimmed[i+1:]) != "" {
		return &Violation{Rule: "multi_statement", Detail: "multiple statements are not allowed"}
	}

	if m := destructiveVerbs.FindString(trimmed); m != "" {
		return &Violation{Rule: "destructive_verb", Detail: fmt.Sprintf("statement contains %q", strings.ToUpper(m))}
	}

	if unfiltered.MatchString(trimmed) && !whereClause.MatchString(trimmed) {
		return &Violation{Rule: "unfiltered_write", Detail: "DELETE/UPDATE without WHERE clause"}
	}

	return nil
}

// ValidateTable accepts only names in the fixed schema allow-list.
func ValidateTable(name string) error {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return &Violation{Rule: "empty", Detail: "empty table name"}
	}
	if !identifier.MatchString(n) {
		return &Violation{Rule: "table_name", Detail: fmt.Sprintf("invalid table name %q", name)}
	}
	if !AllowedTables[n] {
		return &Violation{Rule: "table_allowlist", Detail: fmt.Sprintf("table %q is not in the allow-list", name)}
	}
	return nil
}

// ValidateColumn accepts only plain identifiers. Column names reach generated
// SQL verbatim, so anything beyond an identifier is an injection vector.
func ValidateColumn(name string) error {
	if strings.TrimSpace(name) == "" {
		return &Violation{Rule: "empty", Detail: "empty column name"}
	}
	if !identifier.MatchString(name) {
		return &Violation{Rule: "column_name", Detail: fmt.Sprintf("invalid column name %q", name)}
	}
	return nil
}
