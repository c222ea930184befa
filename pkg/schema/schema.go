// Package schema discovers and caches a JIRA project's field catalog for a
// given issue type, built from the createmeta endpoint family.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/jira-magic-library/jml/pkg/cache"
	jmlerrors "github.com/jira-magic-library/jml/pkg/errors"
	"github.com/jira-magic-library/jml/pkg/jiraclient"
)

const cacheTTL = 900 * time.Second

// FieldType is the closed set of JIRA field wire shapes the converter
// registry dispatches on.
type FieldType string

const (
	TypeString          FieldType = "string"
	TypeText            FieldType = "text"
	TypeNumber          FieldType = "number"
	TypeDate            FieldType = "date"
	TypeDateTime        FieldType = "datetime"
	TypeArray           FieldType = "array"
	TypePriority        FieldType = "priority"
	TypeUser            FieldType = "user"
	TypeOption          FieldType = "option"
	TypeOptionWithChild FieldType = "option-with-child"
	TypeComponent       FieldType = "component"
	TypeVersion         FieldType = "version"
	TypeTimetracking    FieldType = "timetracking"
	TypeIssueType       FieldType = "issuetype"
	TypeProject         FieldType = "project"
	TypeUnknown         FieldType = "unknown"
)

// FieldSubSchema is the nested `schema` object of a FieldSchema.
type FieldSubSchema struct {
	Type     FieldType `json:"type"`
	Items    FieldType `json:"items,omitempty"`
	Custom   string    `json:"custom,omitempty"`
	CustomID int       `json:"customId,omitempty"`
	System   string    `json:"system,omitempty"`
}

// AllowedValue is one entry of a field's allowedValues list.
type AllowedValue struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Value    string         `json:"value,omitempty"`
	Children []AllowedValue `json:"children,omitempty"`
}

// FieldSchema describes one field valid for a project/issue-type pair.
type FieldSchema struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Type          FieldType      `json:"type"`
	Required      bool           `json:"required"`
	Schema        FieldSubSchema `json:"schema"`
	AllowedValues []AllowedValue `json:"allowedValues,omitempty"`
}

// ProjectSchema is the full field catalog for one (project, issueType) pair.
type ProjectSchema struct {
	ProjectKey string                 `json:"projectKey"`
	IssueType  string                 `json:"issueType"`
	Fields     map[string]*FieldSchema `json:"fields"`

	// NameToID is the lowercased-name -> field-id map used by the
	// resolver. Ambiguous names are recorded in Ambiguous instead of
	// NameToID, so a lookup can raise AmbiguityError instead of
	// silently picking one.
	NameToID  map[string]string   `json:"nameToId"`
	Ambiguous map[string][]string `json:"ambiguous,omitempty"`
}

// Discoverer fetches and caches field catalogs.
type Discoverer interface {
	FieldsForIssueType(ctx context.Context, projectKey, issueTypeName string) (*ProjectSchema, error)
	FieldIDByName(ctx context.Context, projectKey, issueTypeName, friendlyName string) (string, bool, error)
}

// JIRADiscoverer implements Discoverer against a live JIRA Server.
type JIRADiscoverer struct {
	client  *jiraclient.Client
	cache   cache.Store
	baseURL string
	log     logr.Logger
}

// New builds a JIRADiscoverer. baseURL is folded into the cache key so
// multiple JML handles against different JIRA instances never collide.
func New(client *jiraclient.Client, store cache.Store, baseURL string, log logr.Logger) *JIRADiscoverer {
	return &JIRADiscoverer{client: client, cache: store, baseURL: baseURL, log: log}
}

func (d *JIRADiscoverer) cacheKey(projectKey, issueTypeName string) string {
	return fmt.Sprintf("%s%s:%s:%s", cache.NamespaceSchema, d.baseURL, projectKey, issueTypeName)
}

// FieldsForIssueType fetches (or serves from cache) the field catalog for
// projectKey/issueTypeName.
func (d *JIRADiscoverer) FieldsForIssueType(ctx context.Context, projectKey, issueTypeName string) (*ProjectSchema, error) {
	key := d.cacheKey(projectKey, issueTypeName)

	if raw, ok, stale := d.cache.Get(ctx, key, false); ok {
		schema, err := decodeSchema(raw)
		if err == nil {
			if stale {
				d.log.V(1).Info("serving stale schema while refresh runs", "key", key)
				go d.refreshInBackground(key, projectKey, issueTypeName)
			}
			return schema, nil
		}
		d.log.Error(err, "cached schema entry corrupt, refetching", "key", key)
	}

	raw, err := d.cache.RefreshOnce(ctx, key, cacheTTL, func(ctx context.Context) ([]byte, error) {
		schema, err := d.fetch(ctx, projectKey, issueTypeName)
		if err != nil {
			return nil, err
		}
		return json.Marshal(schema)
	})
	if err != nil {
		return nil, err
	}
	return decodeSchema(raw)
}

func (d *JIRADiscoverer) refreshInBackground(key, projectKey, issueTypeName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := d.cache.RefreshOnce(ctx, key, cacheTTL, func(ctx context.Context) ([]byte, error) {
		schema, err := d.fetch(ctx, projectKey, issueTypeName)
		if err != nil {
			return nil, err
		}
		return json.Marshal(schema)
	}); err != nil {
		d.log.Error(err, "background schema refresh failed", "key", key)
	}
}

func decodeSchema(raw []byte) (*ProjectSchema, error) {
	var schema ProjectSchema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, jmlerrors.InputParse("failed to decode cached schema", err)
	}
	return &schema, nil
}

func (d *JIRADiscoverer) fetch(ctx context.Context, projectKey, issueTypeName string) (*ProjectSchema, error) {
	issueTypes, err := d.client.CreateMetaIssueTypes(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	if len(issueTypes) == 0 {
		return nil, jmlerrors.NotFound(fmt.Sprintf("no issue types for project %s", projectKey), nil)
	}

	var matchID string
	var available []string
	for _, it := range issueTypes {
		available = append(available, it.Name)
		if it.Name == issueTypeName {
			matchID = it.ID
		}
	}
	if matchID == "" {
		return nil, jmlerrors.NotFound(
			fmt.Sprintf("issue type %q not found in project %s", issueTypeName, projectKey),
			available,
		)
	}

	fields, err := d.client.CreateMetaFields(ctx, projectKey, matchID)
	if err != nil {
		return nil, err
	}

	schema := &ProjectSchema{
		ProjectKey: projectKey,
		IssueType:  issueTypeName,
		Fields:     map[string]*FieldSchema{},
		NameToID:   map[string]string{},
		Ambiguous:  map[string][]string{},
	}

	var hasTimetracking bool
	for _, f := range fields {
		if f.FieldID == "" {
			continue
		}
		fs := convertFieldMeta(f)
		schema.Fields[fs.ID] = fs
		if fs.Type == TypeTimetracking {
			hasTimetracking = true
		}
		addName(schema, fs.Name, fs.ID)
	}

	if hasTimetracking {
		addVirtualTimetrackingFields(schema)
	}

	return schema, nil
}

func addName(schema *ProjectSchema, name, id string) {
	key := strings.ToLower(name)
	if existing, ok := schema.NameToID[key]; ok {
		if existing != id {
			schema.Ambiguous[key] = append(uniqueAppend(schema.Ambiguous[key], existing), id)
			delete(schema.NameToID, key)
		}
		return
	}
	if ids, ok := schema.Ambiguous[key]; ok {
		schema.Ambiguous[key] = uniqueAppend(ids, id)
		return
	}
	schema.NameToID[key] = id
}

func uniqueAppend(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func addVirtualTimetrackingFields(schema *ProjectSchema) {
	virtual := []struct {
		id, name, system string
	}{
		{"timetracking.originalEstimate", "Original Estimate", "timetracking.originalEstimate"},
		{"timetracking.remainingEstimate", "Remaining Estimate", "timetracking.remainingEstimate"},
	}
	for _, v := range virtual {
		schema.Fields[v.id] = &FieldSchema{
			ID:   v.id,
			Name: v.name,
			Type: TypeString,
			Schema: FieldSubSchema{
				Type:   TypeString,
				Custom: "virtual",
				System: v.system,
			},
		}
		addName(schema, v.name, v.id)
	}
}

func convertFieldMeta(f jiraclient.FieldMeta) *FieldSchema {
	fieldType := mapFieldType(f.Schema, f.AllowedValues)
	allowed := make([]AllowedValue, 0, len(f.AllowedValues))
	for _, av := range f.AllowedValues {
		allowed = append(allowed, convertAllowedValue(av))
	}
	return &FieldSchema{
		ID:       f.FieldID,
		Name:     f.Name,
		Type:     fieldType,
		Required: f.Required,
		Schema: FieldSubSchema{
			Type:     fieldType,
			Items:    FieldType(f.Schema.Items),
			Custom:   f.Schema.Custom,
			CustomID: f.Schema.CustomID,
			System:   f.Schema.System,
		},
		AllowedValues: allowed,
	}
}

func convertAllowedValue(av jiraclient.FieldAllowedValue) AllowedValue {
	children := make([]AllowedValue, 0, len(av.Children))
	for _, c := range av.Children {
		children = append(children, convertAllowedValue(c))
	}
	return AllowedValue{ID: av.ID, Name: av.Name, Value: av.Value, Children: children}
}

// mapFieldType maps JIRA's raw schema.type into the closed FieldType set,
// per spec: option-with-child is identified by the presence of children in
// any allowed value rather than a distinct wire type.
func mapFieldType(raw jiraclient.FieldSchemaMeta, allowed []jiraclient.FieldAllowedValue) FieldType {
	for _, av := range allowed {
		if len(av.Children) > 0 {
			return TypeOptionWithChild
		}
	}

	switch raw.Type {
	case "string":
		return TypeString
	case "date":
		return TypeDate
	case "datetime":
		return TypeDateTime
	case "number":
		return TypeNumber
	case "array":
		return TypeArray
	case "priority":
		return TypePriority
	case "user":
		return TypeUser
	case "option":
		return TypeOption
	case "component":
		return TypeComponent
	case "version":
		return TypeVersion
	case "timetracking":
		return TypeTimetracking
	case "issuetype":
		return TypeIssueType
	case "project":
		return TypeProject
	case "":
		return TypeUnknown
	default:
		return TypeUnknown
	}
}

// FieldIDByName resolves a friendly field name case-insensitively.
func (d *JIRADiscoverer) FieldIDByName(ctx context.Context, projectKey, issueTypeName, friendlyName string) (string, bool, error) {
	schema, err := d.FieldsForIssueType(ctx, projectKey, issueTypeName)
	if err != nil {
		return "", false, err
	}
	key := strings.ToLower(friendlyName)
	if _, ambiguous := schema.Ambiguous[key]; ambiguous {
		return "", false, jmlerrors.Ambiguity(friendlyName, friendlyName, nil)
	}
	id, ok := schema.NameToID[key]
	return id, ok, nil
}
