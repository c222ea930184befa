// Package jiraclient is the thin JIRA Server REST v2 boundary every other
// package in this module issues requests through. It layers JIRA-specific
// endpoint knowledge over pkg/httpclient's retrying, rate-limited
// transport, and borrows andygrunwald/go-jira's wire types for the shapes
// that library already models well (projects, users) while defining its
// own types for the createmeta/bulk endpoints go-jira doesn't cover.
package jiraclient

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/andygrunwald/go-jira"
	"github.com/go-logr/logr"

	"github.com/jira-magic-library/jml/pkg/config"
	jmlerrors "github.com/jira-magic-library/jml/pkg/errors"
	"github.com/jira-magic-library/jml/pkg/httpclient"
)

// Client is the JIRA Server REST v2 boundary.
type Client struct {
	http       *httpclient.Client
	apiVersion string
	log        logr.Logger
}

// New builds a Client from cfg, wiring the rate-limited HTTP transport.
// cfg.APIVersion is the "v2"/"v3" config spelling; the REST path itself
// uses the bare number, so the leading "v" is stripped here.
func New(cfg *config.Config, log logr.Logger) *Client {
	version := strings.TrimPrefix(cfg.APIVersion, "v")
	if version == "" {
		version = "2"
	}
	return &Client{http: httpclient.New(cfg, log), apiVersion: version, log: log}
}

func (c *Client) path(format string, args ...any) string {
	return fmt.Sprintf("/rest/api/%s"+format, append([]any{c.apiVersion}, args...)...)
}

// IssueTypeMeta is one entry of the createmeta issuetypes list.
type IssueTypeMeta struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subtask bool   `json:"subtask"`
}

type issueTypesPage struct {
	IssueTypes []IssueTypeMeta `json:"issueTypes"`
	Total      int             `json:"total"`
}

// CreateMetaIssueTypes lists the issue types creatable in projectKey.
func (c *Client) CreateMetaIssueTypes(ctx context.Context, projectKey string) ([]IssueTypeMeta, error) {
	var page issueTypesPage
	path := c.path("/issue/createmeta/%s/issuetypes", url.PathEscape(projectKey))
	if err := c.http.Get(ctx, path, &page); err != nil {
		return nil, err
	}
	return page.IssueTypes, nil
}

// FieldAllowedValue is one entry of a createmeta field's allowedValues.
type FieldAllowedValue struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	Value    string              `json:"value"`
	Children []FieldAllowedValue `json:"children,omitempty"`
}

// FieldSchemaMeta is the raw `schema` object nested in a createmeta field.
type FieldSchemaMeta struct {
	Type     string `json:"type"`
	Items    string `json:"items,omitempty"`
	Custom   string `json:"custom,omitempty"`
	CustomID int    `json:"customId,omitempty"`
	System   string `json:"system,omitempty"`
}

// FieldMeta is one createmeta field entry for an issue type.
type FieldMeta struct {
	FieldID       string              `json:"fieldId"`
	Name          string              `json:"name"`
	Required      bool                `json:"required"`
	Schema        FieldSchemaMeta     `json:"schema"`
	AllowedValues []FieldAllowedValue `json:"allowedValues,omitempty"`
}

type fieldsPage struct {
	Fields     []FieldMeta `json:"fields"`
	Total      int         `json:"total"`
	StartAt    int         `json:"startAt"`
	MaxResults int         `json:"maxResults"`
}

// CreateMetaFields lists the fields valid when creating an issue of
// issueTypeID in projectKey, handling pagination transparently.
func (c *Client) CreateMetaFields(ctx context.Context, projectKey, issueTypeID string) ([]FieldMeta, error) {
	var all []FieldMeta
	startAt := 0
	for {
		var page fieldsPage
		path := c.path("/issue/createmeta/%s/issuetypes/%s?startAt=%d&maxResults=1000",
			url.PathEscape(projectKey), url.PathEscape(issueTypeID), startAt)
		if err := c.http.Get(ctx, path, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Fields...)
		startAt += len(page.Fields)
		if len(page.Fields) == 0 || startAt >= page.Total {
			break
		}
	}
	return all, nil
}

// GetProject fetches a single project by key.
func (c *Client) GetProject(ctx context.Context, key string) (*jira.Project, error) {
	var project jira.Project
	if err := c.http.Get(ctx, c.path("/project/%s", url.PathEscape(key)), &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// ListProjects lists every project visible to the authenticated user.
func (c *Client) ListProjects(ctx context.Context) ([]jira.Project, error) {
	var projects []jira.Project
	if err := c.http.Get(ctx, c.path("/project"), &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// CreateResult is the response to a single issue create.
type CreateResult struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

// CreateIssue posts a single issue create payload.
func (c *Client) CreateIssue(ctx context.Context, payload map[string]any) (*CreateResult, error) {
	var result CreateResult
	if err := c.http.Post(ctx, c.path("/issue"), payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BulkElementError is one element of a bulk create's error list.
type BulkElementError struct {
	Status              int                  `json:"status"`
	FailedElementNumber int                  `json:"failedElementNumber"`
	ElementErrors       BulkElementErrorBody `json:"elementErrors"`
}

// BulkElementErrorBody carries the per-field error map for one failed element.
type BulkElementErrorBody struct {
	Errors        map[string]string `json:"errors"`
	ErrorMessages []string          `json:"errorMessages"`
}

// BulkResult is the response to a bulk issue create.
type BulkResult struct {
	Issues []CreateResult     `json:"issues"`
	Errors []BulkElementError `json:"errors"`
}

// BulkCreateIssues posts a batch of issue create payloads in one request.
func (c *Client) BulkCreateIssues(ctx context.Context, payloads []map[string]any) (*BulkResult, error) {
	body := map[string]any{"issueUpdates": payloads}
	var result BulkResult
	if err := c.http.Post(ctx, c.path("/issue/bulk"), body, &result, httpclient.WithBulk()); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateIssue applies a partial field update to an existing issue, used by
// the progress tracker's label-cleanup pass.
func (c *Client) UpdateIssue(ctx context.Context, key string, payload map[string]any) error {
	return c.http.Put(ctx, c.path("/issue/%s", url.PathEscape(key)), payload, nil)
}

// SearchResult is the response to a JQL search.
type SearchResult struct {
	StartAt    int          `json:"startAt"`
	MaxResults int          `json:"maxResults"`
	Total      int          `json:"total"`
	Issues     []jira.Issue `json:"issues"`
}

// Search runs jql against the JIRA search endpoint, requesting only fields.
func (c *Client) Search(ctx context.Context, jql string, maxResults int, fields []string) (*SearchResult, error) {
	body := map[string]any{
		"jql":        jql,
		"maxResults": maxResults,
		"fields":     fields,
	}
	var result SearchResult
	if err := c.http.Post(ctx, c.path("/search"), body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Authenticate verifies the configured token by fetching the current user.
func (c *Client) Authenticate(ctx context.Context) error {
	var user jira.User
	if err := c.http.Get(ctx, c.path("/myself"), &user); err != nil {
		if jmlerrors.IsAuthentication(err) {
			return err
		}
		return jmlerrors.AuthenticationError("failed to verify JIRA credentials", nil)
	}
	return nil
}
