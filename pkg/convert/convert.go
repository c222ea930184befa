// Package convert turns a resolved field's raw human-supplied value into
// the exact wire shape the JIRA REST API expects, dispatching on the
// field's schema type. It is a plain map[schema.FieldType]Converter with
// no interface hierarchy: every converter is a function value, and the
// registry itself does no I/O beyond what an individual converter needs.
package convert

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/jira-magic-library/jml/pkg/cache"
	"github.com/jira-magic-library/jml/pkg/config"
	jmlerrors "github.com/jira-magic-library/jml/pkg/errors"
	"github.com/jira-magic-library/jml/pkg/jiraclient"
	"github.com/jira-magic-library/jml/pkg/resolver"
	"github.com/jira-magic-library/jml/pkg/schema"
)

const maxOptionsListed = 10

// Context carries the collaborators and per-call configuration a
// converter needs beyond the raw value and field schema: the JIRA
// client for lookups that aren't covered by allowedValues, the cache for
// memoizing those lookups, the ambiguity policy for the user converter,
// and the enclosing project key for project-scoped lookups
// (component/version).
type Context struct {
	JiraClient      *jiraclient.Client
	Cache           cache.Store
	AmbiguityPolicy config.AmbiguityPolicy
	ProjectKey      string
	context.Context
}

// Converter converts raw into the wire value for field, or raises a
// pkg/errors Validation/Ambiguity/NotFound error.
type Converter func(c Context, raw any, field *schema.FieldSchema) (any, error)

// Registry dispatches on schema.FieldType.
type Registry map[schema.FieldType]Converter

// Default builds the registry of every converter spec.md §4.5 names.
func Default() Registry {
	return Registry{
		schema.TypeString:          convertString,
		schema.TypeText:            convertString,
		schema.TypeNumber:          convertNumber,
		schema.TypeDate:            convertDate,
		schema.TypeDateTime:        convertDateTime,
		schema.TypeArray:           convertArray,
		schema.TypeProject:         convertProject,
		schema.TypeIssueType:       convertIssueType,
		schema.TypePriority:        convertLookup,
		schema.TypeOption:          convertLookup,
		schema.TypeComponent:       convertLookup,
		schema.TypeVersion:         convertLookup,
		schema.TypeOptionWithChild: convertOptionWithChild,
		schema.TypeUser:            convertUser,
		schema.TypeTimetracking:    convertTimetracking,
	}
}

// Convert dispatches raw to the converter registered for field.Type.
func (r Registry) Convert(c Context, raw any, field *schema.FieldSchema) (any, error) {
	fn, ok := r[field.Type]
	if !ok {
		return convertString(c, raw, field)
	}
	return fn(c, raw, field)
}

func requiredCheck(raw any, field *schema.FieldSchema) (any, bool, error) {
	if raw == nil {
		if field.Required {
			return nil, true, jmlerrors.Validation(fmt.Sprintf("field %q is required", field.Name), nil)
		}
		return nil, true, nil
	}
	return raw, false, nil
}

func convertString(c Context, raw any, field *schema.FieldSchema) (any, error) {
	if v, short, err := requiredCheck(raw, field); short {
		return v, err
	}
	s, ok := raw.(string)
	if !ok {
		return nil, jmlerrors.Validation(fmt.Sprintf("field %q expects a string, got %T", field.Name, raw), nil)
	}
	return strings.TrimSpace(s), nil
}

func convertNumber(c Context, raw any, field *schema.FieldSchema) (any, error) {
	if v, short, err := requiredCheck(raw, field); short {
		return v, err
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		trimmed := strings.TrimSpace(v)
		n, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, jmlerrors.Validation(fmt.Sprintf("field %q is not a valid number: %q", field.Name, v), nil)
		}
		return n, nil
	default:
		return nil, jmlerrors.Validation(fmt.Sprintf("field %q expects a number, got %T", field.Name, raw), nil)
	}
}

const excelEpochOffsetDays = 25569 // days between 1899-12-30 and 1970-01-01

func convertDate(c Context, raw any, field *schema.FieldSchema) (any, error) {
	return convertDateLike(c, raw, field, "2006-01-02")
}

func convertDateTime(c Context, raw any, field *schema.FieldSchema) (any, error) {
	return convertDateLike(c, raw, field, time.RFC3339)
}

func convertDateLike(c Context, raw any, field *schema.FieldSchema, layout string) (any, error) {
	if v, short, err := requiredCheck(raw, field); short {
		return v, err
	}
	switch v := raw.(type) {
	case string:
		s := strings.TrimSpace(v)
		if _, err := time.Parse(layout, s); err == nil {
			return s, nil
		}
		if _, err := time.Parse(time.RFC3339, s); err == nil {
			return s, nil
		}
		if _, err := time.Parse("2006-01-02", s); err == nil {
			if layout == time.RFC3339 {
				return s + "T00:00:00.000+0000", nil
			}
			return s, nil
		}
		return nil, jmlerrors.Validation(fmt.Sprintf("field %q is not a recognized date: %q", field.Name, v), nil)
	case float64:
		days := int(v)
		t := time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC).AddDate(0, 0, days)
		if layout == time.RFC3339 {
			return t.Format("2006-01-02") + "T00:00:00.000+0000", nil
		}
		return t.Format("2006-01-02"), nil
	default:
		return nil, jmlerrors.Validation(fmt.Sprintf("field %q expects a date, got %T", field.Name, raw), nil)
	}
}

func convertArray(c Context, raw any, field *schema.FieldSchema) (any, error) {
	if v, short, err := requiredCheck(raw, field); short {
		return v, err
	}

	var elements []any
	switch v := raw.(type) {
	case []any:
		elements = v
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return []any{}, nil
		}
		for _, part := range strings.Split(trimmed, ",") {
			elements = append(elements, strings.TrimSpace(part))
		}
	default:
		return nil, jmlerrors.Validation(fmt.Sprintf("field %q expects an array or comma-separated string, got %T", field.Name, raw), nil)
	}

	if len(elements) == 0 {
		return []any{}, nil
	}

	itemField := &schema.FieldSchema{
		Name:          field.Name,
		Type:          field.Schema.Items,
		AllowedValues: field.AllowedValues,
	}
	reg := Default()
	out := make([]any, 0, len(elements))
	for _, el := range elements {
		converted, err := reg.Convert(c, el, itemField)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}

// convertProject resolves a project key or name to {key}. It tries a
// direct key lookup first; on a miss it falls back to listing every
// visible project and fuzzy-matching by name.
func convertProject(c Context, raw any, field *schema.FieldSchema) (any, error) {
	if v, short, err := requiredCheck(raw, field); short {
		return v, err
	}
	if m, ok := raw.(map[string]any); ok {
		if key, ok := m["key"].(string); ok && key != "" {
			return map[string]any{"key": key}, nil
		}
	}
	s, ok := raw.(string)
	if !ok {
		return nil, jmlerrors.Validation(fmt.Sprintf("field %q expects a string, got %T", field.Name, raw), nil)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, jmlerrors.Validation(fmt.Sprintf("field %q is required", field.Name), nil)
	}

	key := strings.ToUpper(s)
	if project, err := lookupProject(c, key); err == nil {
		return map[string]any{"key": project.Key}, nil
	}

	projects, err := listProjects(c)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(projects))
	for i, p := range projects {
		names[i] = p.Name
	}
	matches := fuzzy.Find(s, names)
	if len(matches) == 0 {
		return nil, jmlerrors.Validation(
			fmt.Sprintf("project %q not found; available: %s", s, strings.Join(firstN(names, maxOptionsListed), ", ")),
			nil,
		)
	}
	if len(matches) > 1 && matches[0].Score == matches[1].Score {
		return nil, ambiguityFromNames(field.Name, s, matches, names)
	}
	return map[string]any{"key": projects[matches[0].Index].Key}, nil
}

func lookupProject(c Context, key string) (*jiraProjectRef, error) {
	project, err := c.JiraClient.GetProject(c.Context, key)
	if err != nil {
		return nil, err
	}
	return &jiraProjectRef{Key: project.Key, Name: project.Name}, nil
}

type jiraProjectRef struct {
	Key  string
	Name string
}

func listProjects(c Context) ([]jiraProjectRef, error) {
	projects, err := c.JiraClient.ListProjects(c.Context)
	if err != nil {
		return nil, err
	}
	out := make([]jiraProjectRef, len(projects))
	for i, p := range projects {
		out[i] = jiraProjectRef{Key: p.Key, Name: p.Name}
	}
	return out, nil
}

func convertIssueType(c Context, raw any, field *schema.FieldSchema) (any, error) {
	if v, short, err := requiredCheck(raw, field); short {
		return v, err
	}
	if m, ok := raw.(map[string]any); ok {
		if name, ok := m["name"].(string); ok && name != "" {
			return map[string]any{"name": name}, nil
		}
	}
	s, ok := raw.(string)
	if !ok {
		return nil, jmlerrors.Validation(fmt.Sprintf("field %q expects a string, got %T", field.Name, raw), nil)
	}
	return map[string]any{"name": strings.TrimSpace(s)}, nil
}

// convertLookup handles priority/option/component/version: all four
// resolve a human name against fieldSchema.allowedValues and emit {id}.
func convertLookup(c Context, raw any, field *schema.FieldSchema) (any, error) {
	if v, short, err := requiredCheck(raw, field); short {
		return v, err
	}
	if m, ok := raw.(map[string]any); ok {
		if id, ok := m["id"].(string); ok && id != "" {
			return map[string]any{"id": id}, nil
		}
	}
	s, ok := raw.(string)
	if !ok {
		return nil, jmlerrors.Validation(fmt.Sprintf("field %q expects a string, got %T", field.Name, raw), nil)
	}
	s = strings.TrimSpace(s)

	id, err := resolveAllowedValue(field.Name, s, field.AllowedValues)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": id}, nil
}

func resolveAllowedValue(fieldName, input string, allowed []schema.AllowedValue) (string, error) {
	normalizedInput := resolver.Normalize(input)
	var exact []schema.AllowedValue
	for _, av := range allowed {
		if resolver.Normalize(av.Name) == normalizedInput || resolver.Normalize(av.Value) == normalizedInput {
			exact = append(exact, av)
		}
	}
	if len(exact) == 1 {
		return exact[0].ID, nil
	}
	if len(exact) > 1 {
		candidates := make([]jmlerrors.Candidate, len(exact))
		for i, av := range exact {
			name := av.Name
			if name == "" {
				name = av.Value
			}
			candidates[i] = jmlerrors.Candidate{Name: name}
		}
		return "", jmlerrors.Ambiguity(fieldName, input, candidates)
	}

	names := make([]string, len(allowed))
	for i, av := range allowed {
		if av.Name != "" {
			names[i] = av.Name
		} else {
			names[i] = av.Value
		}
	}
	matches := fuzzy.Find(input, names)
	if len(matches) == 0 {
		return "", jmlerrors.Validation(
			fmt.Sprintf("%q not found for field %q; available: %s", input, fieldName, strings.Join(firstN(names, maxOptionsListed), ", ")),
			nil,
		)
	}
	if len(matches) > 1 && matches[0].Score == matches[1].Score {
		return "", ambiguityFromNames(fieldName, input, matches, names)
	}
	return allowed[matches[0].Index].ID, nil
}

// convertOptionWithChild handles cascading select fields: "Parent -> Child"
// or {parent, child}, matching parent in allowedValues then child within
// the parent's own Children list.
func convertOptionWithChild(c Context, raw any, field *schema.FieldSchema) (any, error) {
	if v, short, err := requiredCheck(raw, field); short {
		return v, err
	}

	var parentInput, childInput string
	switch v := raw.(type) {
	case string:
		parts := strings.SplitN(v, "->", 2)
		parentInput = strings.TrimSpace(parts[0])
		if len(parts) == 2 {
			childInput = strings.TrimSpace(parts[1])
		}
	case map[string]any:
		parentInput, _ = v["parent"].(string)
		childInput, _ = v["child"].(string)
		parentInput = strings.TrimSpace(parentInput)
		childInput = strings.TrimSpace(childInput)
	default:
		return nil, jmlerrors.Validation(fmt.Sprintf("field %q expects \"Parent -> Child\" or {parent, child}, got %T", field.Name, raw), nil)
	}

	var parent *schema.AllowedValue
	for i := range field.AllowedValues {
		if strings.EqualFold(field.AllowedValues[i].Name, parentInput) {
			parent = &field.AllowedValues[i]
			break
		}
	}
	if parent == nil {
		return nil, jmlerrors.Validation(fmt.Sprintf("%q is not a known parent option for field %q", parentInput, field.Name), nil)
	}

	result := map[string]any{"value": parent.Name}
	if childInput == "" {
		return result, nil
	}

	for _, child := range parent.Children {
		if strings.EqualFold(child.Name, childInput) {
			result["child"] = map[string]any{"value": child.Name}
			return result, nil
		}
	}
	return nil, jmlerrors.Validation(fmt.Sprintf("%q is not a known child of %q for field %q", childInput, parentInput, field.Name), nil)
}

// userCandidate is one entry of a user lookup result set.
type userCandidate struct {
	AccountID   string
	Name        string
	Email       string
	DisplayName string
}

func convertUser(c Context, raw any, field *schema.FieldSchema) (any, error) {
	if v, short, err := requiredCheck(raw, field); short {
		return v, err
	}
	if m, ok := raw.(map[string]any); ok {
		if accountID, ok := m["accountId"].(string); ok && accountID != "" {
			return map[string]any{"accountId": accountID}, nil
		}
		if name, ok := m["name"].(string); ok && name != "" {
			return map[string]any{"name": name}, nil
		}
	}
	s, ok := raw.(string)
	if !ok {
		return nil, jmlerrors.Validation(fmt.Sprintf("field %q expects a string, got %T", field.Name, raw), nil)
	}
	s = strings.TrimSpace(s)

	candidates, err := searchUsers(c, s)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, jmlerrors.Validation(fmt.Sprintf("no user found matching %q for field %q", s, field.Name), nil)
	}
	if len(candidates) == 1 {
		return userRef(candidates[0]), nil
	}

	if c.AmbiguityPolicy == config.AmbiguityScore {
		best := scoreUsers(s, candidates)
		if len(best) == 1 || (len(best) > 1 && best[0].score > best[1].score) {
			return userRef(best[0].user), nil
		}
	}

	errCandidates := make([]jmlerrors.Candidate, len(candidates))
	for i, u := range candidates {
		errCandidates[i] = jmlerrors.Candidate{ID: u.AccountID, Name: u.DisplayName}
	}
	return nil, jmlerrors.Ambiguity(field.Name, s, errCandidates)
}

func userRef(u userCandidate) map[string]any {
	if u.AccountID != "" {
		return map[string]any{"accountId": u.AccountID}
	}
	return map[string]any{"name": u.Name}
}

type scoredUser struct {
	user  userCandidate
	score int
}

func scoreUsers(input string, candidates []userCandidate) []scoredUser {
	scored := make([]scoredUser, len(candidates))
	lowerInput := strings.ToLower(input)
	for i, u := range candidates {
		score := 0
		if strings.EqualFold(u.Email, input) {
			score += 2
		}
		if strings.ToLower(u.DisplayName) == lowerInput {
			score += 1
		}
		scored[i] = scoredUser{user: u, score: score}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	return scored
}

// searchUsers is the user-lookup collaborator. It is deliberately a
// package-level var (not a Context field) so tests can stub it without
// widening the Context struct with a user-search-specific dependency
// that only this one converter needs.
var searchUsers = func(c Context, query string) ([]userCandidate, error) {
	return nil, jmlerrors.Validation("user lookup is not configured", nil)
}

// convertTimetracking converts a full {originalEstimate, remainingEstimate}
// object, keeping only those two string keys (trimmed). It does not see
// the virtual timetracking.originalEstimate/remainingEstimate fields;
// MergeVirtualTimetracking applies those afterwards, and they win.
func convertTimetracking(c Context, raw any, field *schema.FieldSchema) (any, error) {
	if v, short, err := requiredCheck(raw, field); short {
		return v, err
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, jmlerrors.Validation(fmt.Sprintf("field %q expects an object, got %T", field.Name, raw), nil)
	}
	result := map[string]any{}
	if v, ok := m["originalEstimate"].(string); ok {
		result["originalEstimate"] = strings.TrimSpace(v)
	}
	if v, ok := m["remainingEstimate"].(string); ok {
		result["remainingEstimate"] = strings.TrimSpace(v)
	}
	return result, nil
}

// MergeVirtualTimetracking applies any standalone
// timetracking.originalEstimate/remainingEstimate values over a
// previously converted timetracking payload, per the resolved Open
// Question: the standalone value is applied last and wins.
func MergeVirtualTimetracking(payload map[string]any, originalEstimate, remainingEstimate string) map[string]any {
	tt, _ := payload["timetracking"].(map[string]any)
	if tt == nil {
		tt = map[string]any{}
	}
	if originalEstimate != "" {
		tt["originalEstimate"] = originalEstimate
	}
	if remainingEstimate != "" {
		tt["remainingEstimate"] = remainingEstimate
	}
	if len(tt) > 0 {
		payload["timetracking"] = tt
	}
	return payload
}

func ambiguityFromNames(fieldName, input string, matches fuzzy.Matches, names []string) error {
	candidates := make([]jmlerrors.Candidate, 0, 2)
	for _, m := range matches {
		if m.Score != matches[0].Score {
			break
		}
		candidates = append(candidates, jmlerrors.Candidate{Name: names[m.Index]})
	}
	return jmlerrors.Ambiguity(fieldName, input, candidates)
}

func firstN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
