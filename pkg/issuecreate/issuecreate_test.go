package issuecreate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"

	"github.com/jira-magic-library/jml/pkg/config"
	"github.com/jira-magic-library/jml/pkg/jiraclient"
	"github.com/jira-magic-library/jml/pkg/schema"
)

type fakeDiscoverer struct {
	schema *schema.ProjectSchema
}

func (f *fakeDiscoverer) FieldsForIssueType(ctx context.Context, projectKey, issueTypeName string) (*schema.ProjectSchema, error) {
	return f.schema, nil
}

func (f *fakeDiscoverer) FieldIDByName(ctx context.Context, projectKey, issueTypeName, friendlyName string) (string, bool, error) {
	id, ok := f.schema.NameToID[friendlyName]
	return id, ok, nil
}

func testSchema() *schema.ProjectSchema {
	return &schema.ProjectSchema{
		ProjectKey: "ENG",
		IssueType:  "Bug",
		Fields: map[string]*schema.FieldSchema{
			"summary":  {ID: "summary", Name: "Summary", Type: schema.TypeString},
			"priority": {ID: "priority", Name: "Priority", Type: schema.TypePriority, AllowedValues: []schema.AllowedValue{{ID: "1", Name: "High"}}},
		},
		NameToID: map[string]string{"summary": "summary", "priority": "priority"},
		Ambiguous: map[string][]string{},
	}
}

func TestBuildPayload_ResolvesAndConverts(t *testing.T) {
	svc := New(&fakeDiscoverer{schema: testSchema()}, jiraclient.New(&config.Config{JIRABaseURL: "http://unused", JIRAToken: "test-token-123456"}, logr.Discard()), nil, &config.Config{})
	payload, err := svc.BuildPayload(context.Background(), "ENG", "Bug", map[string]any{
		"Summary":  "Fix the bug",
		"Priority": "High",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fields := payload["fields"].(map[string]any)
	if fields["summary"] != "Fix the bug" {
		t.Errorf("got %v", fields["summary"])
	}
	priority := fields["priority"].(map[string]any)
	if priority["id"] != "1" {
		t.Errorf("got %v", priority)
	}
	if fields["project"].(map[string]any)["key"] != "ENG" {
		t.Errorf("got %v", fields["project"])
	}
}

func TestBuildPayload_SkipsUIDAndParent(t *testing.T) {
	svc := New(&fakeDiscoverer{schema: testSchema()}, jiraclient.New(&config.Config{JIRABaseURL: "http://unused", JIRAToken: "test-token-123456"}, logr.Discard()), nil, &config.Config{})
	payload, err := svc.BuildPayload(context.Background(), "ENG", "Bug", map[string]any{
		"Summary": "x",
		"uid":     "epic-1",
		"Parent":  "epic-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fields := payload["fields"].(map[string]any)
	if _, ok := fields["uid"]; ok {
		t.Error("expected uid to be excluded from the payload")
	}
}

func TestCreate_DryRunSkipsNetworkCall(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(jiraclient.CreateResult{Key: "ENG-1"})
	}))
	defer srv.Close()

	cfg := &config.Config{JIRABaseURL: srv.URL, JIRAToken: "test-token-123456", APIVersion: "v2"}
	svc := New(&fakeDiscoverer{schema: testSchema()}, jiraclient.New(cfg, logr.Discard()), nil, cfg)

	result, err := svc.Create(context.Background(), "ENG", "Bug", map[string]any{"Summary": "x"}, CreateOptions{DryRun: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Key != "DRY-RUN" {
		t.Errorf("got %q, want DRY-RUN", result.Key)
	}
	if calls != 0 {
		t.Errorf("expected no network calls in dry-run mode, got %d", calls)
	}
}

func TestCreate_PostsAndReturnsKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jiraclient.CreateResult{Key: "ENG-1", ID: "10001"})
	}))
	defer srv.Close()

	cfg := &config.Config{JIRABaseURL: srv.URL, JIRAToken: "test-token-123456", APIVersion: "v2"}
	svc := New(&fakeDiscoverer{schema: testSchema()}, jiraclient.New(cfg, logr.Discard()), nil, cfg)

	result, err := svc.Create(context.Background(), "ENG", "Bug", map[string]any{"Summary": "x"}, CreateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Key != "ENG-1" {
		t.Errorf("got %q, want ENG-1", result.Key)
	}
}
