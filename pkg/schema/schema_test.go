package schema

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/jira-magic-library/jml/pkg/cache"
	"github.com/jira-magic-library/jml/pkg/config"
	"github.com/jira-magic-library/jml/pkg/jiraclient"
)

func newTestStore(t *testing.T) cache.Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return cache.NewRedisStore(client, logr.Discard())
}

// newTestServer builds a createmeta-only fake JIRA server: one issue type
// ("Bug") with a duplicate-name pair, a priority field, and a timetracking
// field (to exercise virtual field synthesis).
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/issue/createmeta/ENG/issuetypes", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"total": 1,
			"issueTypes": []map[string]any{
				{"id": "10001", "name": "Bug", "subtask": false},
			},
		})
	})
	mux.HandleFunc("/rest/api/2/issue/createmeta/ENG/issuetypes/10001", func(w http.ResponseWriter, r *http.Request) {
		fields := []jiraclient.FieldMeta{
			{FieldID: "summary", Name: "Summary", Required: true, Schema: jiraclient.FieldSchemaMeta{Type: "string"}},
			{FieldID: "priority", Name: "Priority", Schema: jiraclient.FieldSchemaMeta{Type: "priority"}},
			{FieldID: "timetracking", Name: "Time Tracking", Schema: jiraclient.FieldSchemaMeta{Type: "timetracking"}},
			{FieldID: "customfield_100", Name: "Team", Schema: jiraclient.FieldSchemaMeta{Type: "string", Custom: "select"}},
			{FieldID: "customfield_200", Name: "Team", Schema: jiraclient.FieldSchemaMeta{Type: "string", Custom: "select"}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"fields": fields, "total": len(fields), "startAt": 0, "maxResults": 1000,
		})
	})
	return httptest.NewServer(mux)
}

func newTestDiscoverer(t *testing.T) *JIRADiscoverer {
	t.Helper()
	srv := newTestServer(t)
	t.Cleanup(srv.Close)

	cfg := &config.Config{JIRABaseURL: srv.URL, JIRAToken: "test-token-123456", APIVersion: "v2"}
	client := jiraclient.New(cfg, logr.Discard())
	return New(client, newTestStore(t), srv.URL, logr.Discard())
}

func TestFieldsForIssueType_BuildsCatalog(t *testing.T) {
	d := newTestDiscoverer(t)
	schema, err := d.FieldsForIssueType(t.Context(), "ENG", "Bug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if schema.Fields["summary"].Type != TypeString {
		t.Errorf("expected summary to be string type, got %v", schema.Fields["summary"].Type)
	}
	if schema.Fields["priority"].Type != TypePriority {
		t.Errorf("expected priority field type, got %v", schema.Fields["priority"].Type)
	}
}

func TestFieldsForIssueType_SynthesizesVirtualTimetrackingFields(t *testing.T) {
	d := newTestDiscoverer(t)
	schema, err := d.FieldsForIssueType(t.Context(), "ENG", "Bug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	orig, ok := schema.Fields["timetracking.originalEstimate"]
	if !ok {
		t.Fatal("expected virtual timetracking.originalEstimate field")
	}
	if orig.Schema.Custom != "virtual" {
		t.Errorf("expected virtual field to be marked schema.custom=virtual, got %q", orig.Schema.Custom)
	}
	if _, ok := schema.Fields["timetracking.remainingEstimate"]; !ok {
		t.Fatal("expected virtual timetracking.remainingEstimate field")
	}
}

func TestFieldsForIssueType_DuplicateNamesAreAmbiguous(t *testing.T) {
	d := newTestDiscoverer(t)
	schema, err := d.FieldsForIssueType(t.Context(), "ENG", "Bug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := schema.NameToID["team"]; ok {
		t.Error("expected ambiguous name 'team' to be absent from NameToID")
	}
	ids, ok := schema.Ambiguous["team"]
	if !ok || len(ids) != 2 {
		t.Errorf("expected 2 ambiguous candidates for 'team', got %v", ids)
	}
}

func TestFieldIDByName_ResolvesCaseInsensitively(t *testing.T) {
	d := newTestDiscoverer(t)
	id, ok, err := d.FieldIDByName(t.Context(), "ENG", "Bug", "SUMMARY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || id != "summary" {
		t.Errorf("got id=%q ok=%v, want summary/true", id, ok)
	}
}

func TestFieldIDByName_AmbiguousNameErrors(t *testing.T) {
	d := newTestDiscoverer(t)
	_, _, err := d.FieldIDByName(t.Context(), "ENG", "Bug", "Team")
	if err == nil {
		t.Fatal("expected an ambiguity error")
	}
}

func TestFieldsForIssueType_UnknownIssueTypeIsNotFound(t *testing.T) {
	d := newTestDiscoverer(t)
	_, err := d.FieldsForIssueType(t.Context(), "ENG", "Epic")
	if err == nil {
		t.Fatal("expected a not-found error for an unknown issue type")
	}
}

func TestFieldsForIssueType_CachesSecondCall(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	cfg := &config.Config{JIRABaseURL: srv.URL, JIRAToken: "test-token-123456", APIVersion: "v2"}
	client := jiraclient.New(cfg, logr.Discard())
	store := newTestStore(t)
	d := New(client, store, srv.URL, logr.Discard())

	if _, err := d.FieldsForIssueType(t.Context(), "ENG", "Bug"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	srv.Close()

	// Server is now closed; a cached second call must still succeed.
	if _, err := d.FieldsForIssueType(t.Context(), "ENG", "Bug"); err != nil {
		t.Fatalf("expected cached hit to succeed with server down: %v", err)
	}
}
