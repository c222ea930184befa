// Package jml is the library's public entrypoint: Connect wires the
// JIRA client, Redis-backed cache, schema discovery, field resolution,
// converters, issue creation, bulk engine, progress tracker and search
// into a single JML handle.
package jml

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/jira-magic-library/jml/pkg/bulk"
	"github.com/jira-magic-library/jml/pkg/cache"
	"github.com/jira-magic-library/jml/pkg/config"
	jmlerrors "github.com/jira-magic-library/jml/pkg/errors"
	"github.com/jira-magic-library/jml/pkg/issuecreate"
	"github.com/jira-magic-library/jml/pkg/jiraclient"
	"github.com/jira-magic-library/jml/pkg/jql"
	"github.com/jira-magic-library/jml/pkg/parser"
	"github.com/jira-magic-library/jml/pkg/progress"
	"github.com/jira-magic-library/jml/pkg/resolver"
	"github.com/jira-magic-library/jml/pkg/schema"
)

// JML is a connected handle over one JIRA Server instance and its
// backing cache. Safe for concurrent use; Connect should be called once
// per process and the returned handle shared.
type JML struct {
	cfg        *config.Config
	redis      *redis.Client
	cacheStore cache.Store
	client     *jiraclient.Client
	discoverer schema.Discoverer
	resolver   *resolver.Resolver
	issues     *issuecreate.Service
	bulk       *bulk.Engine
	tracker    *progress.Tracker
	log        logr.Logger
}

// Connect builds a JML handle from cfg: a JIRA client, a Redis cache
// store, and every domain package layered on top of them. The Redis
// connection is pinged once so a misconfigured cache surfaces here
// rather than on the first cache-dependent call.
func Connect(ctx context.Context, cfg config.Config, log logr.Logger) (*JML, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
	})

	cacheStore := cache.NewRedisStore(rdb, log)
	if err := cacheStore.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, jmlerrors.ConfigurationError(fmt.Sprintf("cannot reach redis at %s:%d: %v", cfg.RedisHost, cfg.RedisPort, err))
	}

	client := jiraclient.New(&cfg, log)
	discoverer := schema.New(client, cacheStore, cfg.JIRABaseURL, log)
	res := resolver.New(discoverer)
	issues := issuecreate.New(discoverer, client, cacheStore, &cfg)
	bulkEngine := bulk.New(parser.New(), issues, client, cacheStore, &cfg, log)
	tracker := progress.New(client, progress.Options{
		PollingInterval: cfg.ProgressPolling,
		ProgressTimeout: cfg.ProgressTimeout,
		CleanupMarkers:  cfg.CleanupMarkers,
	}, log)

	return &JML{
		cfg:        &cfg,
		redis:      rdb,
		cacheStore: cacheStore,
		client:     client,
		discoverer: discoverer,
		resolver:   res,
		issues:     issues,
		bulk:       bulkEngine,
		tracker:    tracker,
		log:        log,
	}, nil
}

// Disconnect releases the underlying Redis connection. The JML handle
// must not be used afterward.
func (j *JML) Disconnect() error {
	return j.redis.Close()
}

// Issues returns the issue-level operations: single create, bulk
// create, retry, and search.
func (j *JML) Issues() *IssueService {
	return &IssueService{jml: j}
}

// IssueService groups the issue-facing operations of a connected JML
// handle.
type IssueService struct {
	jml *JML
}

// Create builds and sends a single issue create payload for a
// human-readable record, resolving field names and converting values
// against projectKey/issueType's discovered schema.
func (s *IssueService) Create(ctx context.Context, projectKey, issueType string, record map[string]any, opts issuecreate.CreateOptions) (*issuecreate.Result, error) {
	return s.jml.issues.Create(ctx, projectKey, issueType, record, opts)
}

// BulkCreate runs the bulk create algorithm over in, persisting a
// manifest that RetryBulk can later resume against.
func (s *IssueService) BulkCreate(ctx context.Context, in bulk.Input, opts bulk.Options) (*bulk.Result, error) {
	return s.jml.bulk.Create(ctx, in, opts)
}

// RetryBulk reruns only the failed rows of a prior bulk create,
// identified by manifestID, merging the outcome back into the manifest.
func (s *IssueService) RetryBulk(ctx context.Context, manifestID string, in bulk.Input, opts bulk.Options) (*bulk.Result, error) {
	return s.jml.bulk.Retry(ctx, manifestID, in, opts)
}

// TrackProgress starts polling search for job's marker label, returning
// a channel of Snapshots that closes when the job completes, is
// declared stuck, or ctx is canceled.
func (s *IssueService) TrackProgress(ctx context.Context, job progress.Job) <-chan progress.Snapshot {
	return s.jml.tracker.Track(ctx, job)
}

// NewTrackedJob builds a Job carrying a fresh marker label (unless
// cleanup markers are disabled in config), ready for InjectLabel and
// TrackProgress.
func (s *IssueService) NewTrackedJob(jobID string, total int) progress.Job {
	return s.jml.tracker.NewJob(jobID, total)
}

// SearchJQL runs a raw JQL search, optionally scoped by q.CreatedSince
// and ordered by q.OrderBy.
func (s *IssueService) SearchJQL(ctx context.Context, q jql.RawQuery) (*jiraclient.SearchResult, error) {
	fields := jql.DefaultFields
	return s.jml.client.Search(ctx, jql.BuildRaw(q), jql.EffectiveMaxResults(q.MaxResults), fields)
}

// Search assembles c into a JQL query and runs it.
func (s *IssueService) Search(ctx context.Context, c jql.Criteria) (*jiraclient.SearchResult, error) {
	return s.jml.client.Search(ctx, jql.BuildCriteria(c), jql.EffectiveMaxResults(c.MaxResults), jql.DefaultFields)
}

// Schema returns the schema-discovery and field-resolution operations
// of a connected JML handle.
func (j *JML) Schema() *SchemaService {
	return &SchemaService{jml: j}
}

// SchemaService groups the field-schema-facing operations of a
// connected JML handle.
type SchemaService struct {
	jml *JML
}

// FieldsForIssueType returns the discovered field catalog for
// projectKey/issueType, served from cache when fresh.
func (s *SchemaService) FieldsForIssueType(ctx context.Context, projectKey, issueType string) (*schema.ProjectSchema, error) {
	return s.jml.discoverer.FieldsForIssueType(ctx, projectKey, issueType)
}

// FieldID resolves friendlyName to its JIRA wire-shape field ID for
// projectKey/issueType, raising AmbiguityError when more than one field
// name plausibly matches.
func (s *SchemaService) FieldID(ctx context.Context, projectKey, issueType, friendlyName string) (string, error) {
	return s.jml.resolver.FieldID(ctx, projectKey, issueType, friendlyName)
}
