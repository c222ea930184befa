// Package resolver turns a human-friendly field name into the wire-shape
// field ID the JIRA REST API expects, tolerating the usual copy/paste
// noise: case, surrounding whitespace, zero-width characters, and the
// handful of Unicode forms NFKC collapses to a canonical spelling.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	jmlerrors "github.com/jira-magic-library/jml/pkg/errors"
	"github.com/jira-magic-library/jml/pkg/schema"
)

const maxSuggestions = 10

// zeroWidth runes are stripped entirely during normalization. U+00A0
// (non-breaking space) is handled separately below, since it collapses
// to a plain space rather than disappearing.
var zeroWidth = map[rune]bool{
	'​': true, // zero-width space
	'‌': true, // zero-width non-joiner
	'‍': true, // zero-width joiner
	'﻿': true, // BOM / zero-width no-break space
}

const nbsp = ' '

// Resolver maps friendly field names to field IDs for a given
// project/issue-type pair.
type Resolver struct {
	discoverer schema.Discoverer
}

// New builds a Resolver over discoverer.
func New(discoverer schema.Discoverer) *Resolver {
	return &Resolver{discoverer: discoverer}
}

// FieldID resolves friendlyName to its field ID. On a miss it returns a
// NotFoundError listing up to 10 available field names to help the
// caller spot a typo. On a duplicate name it returns the AmbiguityError
// pkg/schema already detected while building the catalog.
func (r *Resolver) FieldID(ctx context.Context, projectKey, issueTypeName, friendlyName string) (string, error) {
	projectSchema, err := r.discoverer.FieldsForIssueType(ctx, projectKey, issueTypeName)
	if err != nil {
		return "", err
	}

	key := Normalize(friendlyName)
	if ids, ambiguous := projectSchema.Ambiguous[key]; ambiguous {
		candidates := make([]jmlerrors.Candidate, 0, len(ids))
		for _, id := range ids {
			candidates = append(candidates, jmlerrors.Candidate{ID: id, Name: friendlyName})
		}
		return "", jmlerrors.Ambiguity(friendlyName, friendlyName, candidates)
	}

	if id, ok := projectSchema.NameToID[key]; ok {
		return id, nil
	}

	return "", jmlerrors.NotFound(
		fmt.Sprintf("field %q not found for %s/%s", friendlyName, projectKey, issueTypeName),
		suggestions(projectSchema),
	)
}

func suggestions(s *schema.ProjectSchema) []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	if len(names) > maxSuggestions {
		names = names[:maxSuggestions]
	}
	return names
}

// Normalize reduces a field name to the canonical lookup key: NFKC form,
// lowercased, invisible characters stripped, surrounding whitespace
// trimmed, and internal whitespace runs collapsed to a single space.
func Normalize(name string) string {
	normalized := norm.NFKC.String(name)
	normalized = stripInvisible(normalized)
	normalized = strings.ToLower(normalized)
	normalized = strings.Join(strings.Fields(normalized), " ")
	return normalized
}

func stripInvisible(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == nbsp:
			b.WriteRune(' ')
		case zeroWidth[r]:
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
