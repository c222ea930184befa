// Package issuecreate builds and optionally sends a single JIRA issue
// create payload: resolve every record key via pkg/resolver, convert
// every value via pkg/convert, and POST via pkg/jiraclient unless the
// caller only wants the built payload (dry-run).
package issuecreate

import (
	"context"
	"strings"

	"github.com/jira-magic-library/jml/pkg/cache"
	"github.com/jira-magic-library/jml/pkg/config"
	"github.com/jira-magic-library/jml/pkg/convert"
	jmlerrors "github.com/jira-magic-library/jml/pkg/errors"
	"github.com/jira-magic-library/jml/pkg/jiraclient"
	"github.com/jira-magic-library/jml/pkg/resolver"
	"github.com/jira-magic-library/jml/pkg/schema"
)

// CreateOptions configures a single Create call.
type CreateOptions struct {
	// DryRun runs the full resolve+convert pipeline but skips the POST,
	// returning the built payload keyed "DRY-RUN" as Result.Key.
	DryRun bool
}

// Result is the outcome of a single issue create.
type Result struct {
	Key     string
	ID      string
	Self    string
	Payload map[string]any
}

const dryRunKey = "DRY-RUN"

// Service builds and sends single issue create payloads.
type Service struct {
	discoverer schema.Discoverer
	resolver   *resolver.Resolver
	registry   convert.Registry
	client     *jiraclient.Client
	cacheStore cache.Store
	cfg        *config.Config
}

// New builds a Service from its collaborators.
func New(discoverer schema.Discoverer, client *jiraclient.Client, cacheStore cache.Store, cfg *config.Config) *Service {
	return &Service{
		discoverer: discoverer,
		resolver:   resolver.New(discoverer),
		registry:   convert.Default(),
		client:     client,
		cacheStore: cacheStore,
		cfg:        cfg,
	}
}

// Create resolves and converts record's fields into a JIRA issue create
// payload for projectKey/issueType, POSTing it unless opts.DryRun.
func (s *Service) Create(ctx context.Context, projectKey, issueType string, record map[string]any, opts CreateOptions) (*Result, error) {
	payload, err := s.BuildPayload(ctx, projectKey, issueType, record)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		return &Result{Key: dryRunKey, Payload: payload}, nil
	}

	created, err := s.client.CreateIssue(ctx, payload)
	if err != nil {
		return nil, err
	}
	return &Result{Key: created.Key, ID: created.ID, Self: created.Self, Payload: payload}, nil
}

// BuildPayload runs the resolve+convert pipeline without sending
// anything, producing the exact request body CreateIssue would POST.
// pkg/bulk uses this directly to build per-row payloads concurrently
// before a single bulk POST.
func (s *Service) BuildPayload(ctx context.Context, projectKey, issueType string, record map[string]any) (map[string]any, error) {
	projectSchema, err := s.discoverer.FieldsForIssueType(ctx, projectKey, issueType)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{
		"project":   map[string]any{"key": projectKey},
		"issuetype": map[string]any{"name": issueType},
	}

	convertCtx := convert.Context{
		Context:         ctx,
		JiraClient:      s.client,
		Cache:           s.cacheStore,
		AmbiguityPolicy: s.cfg.UserAmbiguityPolicy,
		ProjectKey:      projectKey,
	}

	var originalEstimate, remainingEstimate string

	for rawName, rawValue := range record {
		trimmedName := strings.TrimSpace(rawName)
		if trimmedName == "" {
			continue
		}
		if resolver.Normalize(trimmedName) == resolver.Normalize("uid") {
			continue
		}
		if resolver.Normalize(trimmedName) == resolver.Normalize("Parent") {
			if key, ok := rawValue.(string); ok && strings.TrimSpace(key) != "" {
				fields["parent"] = map[string]any{"key": strings.TrimSpace(key)}
			}
			continue
		}

		fieldID, err := s.resolver.FieldID(ctx, projectKey, issueType, trimmedName)
		if err != nil {
			return nil, err
		}

		field := projectSchema.Fields[fieldID]
		if field == nil {
			return nil, jmlerrors.Validation("resolved field id has no schema entry: "+fieldID, nil)
		}

		if fieldID == "timetracking.originalEstimate" {
			if s, ok := rawValue.(string); ok {
				originalEstimate = strings.TrimSpace(s)
			}
			continue
		}
		if fieldID == "timetracking.remainingEstimate" {
			if s, ok := rawValue.(string); ok {
				remainingEstimate = strings.TrimSpace(s)
			}
			continue
		}

		converted, err := s.registry.Convert(convertCtx, rawValue, field)
		if err != nil {
			return nil, err
		}
		fields[fieldID] = converted
	}

	payload := map[string]any{"fields": fields}
	convert.MergeVirtualTimetracking(fields, originalEstimate, remainingEstimate)
	return payload, nil
}
