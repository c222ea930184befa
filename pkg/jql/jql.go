// Package jql builds JQL search strings in the two modes spec.md §4.11
// describes: raw JQL passed through (optionally scoped by a creation
// date), and object criteria assembled into clauses. The quote-escaping
// helper is adapted from the teacher's pkg/jql query validator; no
// parenthesis-balance check is carried over.
package jql

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const defaultMaxResults = 50

// RawQuery is the raw-JQL search mode.
type RawQuery struct {
	JQL          string
	MaxResults   int
	OrderBy      string
	CreatedSince *time.Time
}

// Criteria is the object-criteria search mode. Fields left at their zero
// value are omitted entirely; Labels emits a JQL `IN (...)` clause.
type Criteria struct {
	Project    string
	IssueType  string
	Status     string
	Summary    string
	Labels     []string
	MaxResults int
	OrderBy    string
}

// BuildRaw assembles a RawQuery into the final JQL string.
func BuildRaw(q RawQuery) string {
	jql := q.JQL
	if q.CreatedSince != nil {
		jql = fmt.Sprintf("(%s) AND created >= %q", jql, q.CreatedSince.Format("2006-01-02"))
	}
	if q.OrderBy != "" {
		jql = fmt.Sprintf("%s ORDER BY %s", jql, q.OrderBy)
	}
	return jql
}

// BuildCriteria assembles Criteria into a JQL string, dropping any field
// left at its zero value. Field order is fixed so output is deterministic.
func BuildCriteria(c Criteria) string {
	var clauses []string

	if c.Project != "" {
		clauses = append(clauses, fmt.Sprintf("project = %s", quote(c.Project)))
	}
	if c.IssueType != "" {
		clauses = append(clauses, fmt.Sprintf("issuetype = %s", quote(c.IssueType)))
	}
	if c.Status != "" {
		clauses = append(clauses, fmt.Sprintf("status = %s", quote(c.Status)))
	}
	if c.Summary != "" {
		clauses = append(clauses, fmt.Sprintf("summary ~ %s", quote(c.Summary)))
	}
	if len(c.Labels) > 0 {
		labels := make([]string, len(c.Labels))
		copy(labels, c.Labels)
		sort.Strings(labels)
		quoted := make([]string, len(labels))
		for i, l := range labels {
			quoted[i] = quote(l)
		}
		clauses = append(clauses, fmt.Sprintf("labels IN (%s)", strings.Join(quoted, ",")))
	}

	jql := strings.Join(clauses, " AND ")
	if c.OrderBy != "" {
		jql = fmt.Sprintf("%s ORDER BY %s", jql, c.OrderBy)
	}
	return jql
}

// EffectiveMaxResults returns requested if positive, otherwise the
// default capped value.
func EffectiveMaxResults(requested int) int {
	if requested > 0 {
		return requested
	}
	return defaultMaxResults
}

// DefaultFields is the minimal field list always requested unless the
// caller opts to broaden it.
var DefaultFields = []string{"key", "summary", "status"}

// quote wraps v in double quotes, backslash-escaping any internal
// double quote (JQL string literal escaping, not CSV-style doubling).
func quote(v string) string {
	return fmt.Sprintf("%q", v)
}
