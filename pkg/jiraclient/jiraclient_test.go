package jiraclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"

	"github.com/jira-magic-library/jml/pkg/config"
	jmlerrors "github.com/jira-magic-library/jml/pkg/errors"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		JIRABaseURL:            baseURL,
		JIRAToken:              "test-token-123456",
		APIVersion:             "v2",
		RateLimitDelay:         0,
		MaxConcurrentRequests:  10,
		ExponentialBackoffBase: 0,
		MaxBackoffDelay:        0,
	}
}

func TestClient_CreateMetaIssueTypes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/2/issue/createmeta/ENG/issuetypes" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"total":      1,
			"issueTypes": []map[string]any{{"id": "1", "name": "Bug", "subtask": false}},
		})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), logr.Discard())
	types, err := c.CreateMetaIssueTypes(t.Context(), "ENG")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(types) != 1 || types[0].Name != "Bug" {
		t.Errorf("got %+v", types)
	}
}

func TestClient_CreateMetaFields_Paginates(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			_ = json.NewEncoder(w).Encode(fieldsPage{
				Fields: []FieldMeta{{FieldID: "summary", Name: "Summary"}},
				Total:  2, StartAt: 0, MaxResults: 1,
			})
			return
		}
		_ = json.NewEncoder(w).Encode(fieldsPage{
			Fields: []FieldMeta{{FieldID: "priority", Name: "Priority"}},
			Total:  2, StartAt: 1, MaxResults: 1,
		})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), logr.Discard())
	fields, err := c.CreateMetaFields(t.Context(), "ENG", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields across pages, got %d", len(fields))
	}
}

func TestClient_CreateIssue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(CreateResult{ID: "10001", Key: "ENG-1", Self: "https://x/issue/10001"})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), logr.Discard())
	result, err := c.CreateIssue(t.Context(), map[string]any{"fields": map[string]any{"summary": "X"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Key != "ENG-1" {
		t.Errorf("got %q, want ENG-1", result.Key)
	}
}

func TestClient_BulkCreateIssues_WithErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(BulkResult{
			Issues: []CreateResult{{Key: "ENG-1"}, {Key: "ENG-2"}},
			Errors: []BulkElementError{{
				Status:              400,
				FailedElementNumber: 1,
				ElementErrors:       BulkElementErrorBody{Errors: map[string]string{"issuetype": "invalid"}},
			}},
		})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), logr.Discard())
	result, err := c.BulkCreateIssues(t.Context(), []map[string]any{{}, {}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Issues) != 2 || len(result.Errors) != 1 {
		t.Fatalf("got %+v", result)
	}
}

func TestClient_Authenticate_MapsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), logr.Discard())
	err := c.Authenticate(t.Context())
	if !jmlerrors.IsAuthentication(err) {
		t.Fatalf("expected AuthenticationError, got %v", err)
	}
}

func TestClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["jql"] != "project = ENG" {
			t.Errorf("unexpected jql: %v", body["jql"])
		}
		_ = json.NewEncoder(w).Encode(SearchResult{Total: 0})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), logr.Discard())
	result, err := c.Search(t.Context(), "project = ENG", 50, []string{"key", "summary", "status"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Total != 0 {
		t.Errorf("got %+v", result)
	}
}
