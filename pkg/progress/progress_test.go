package progress

import (
	"context"
	"testing"
	"time"

	"github.com/andygrunwald/go-jira"
	"github.com/go-logr/logr"

	"github.com/jira-magic-library/jml/pkg/jiraclient"
)

type fakeSearcher struct {
	resultsByCall []*jiraclient.SearchResult
	call          int
}

func (f *fakeSearcher) Search(ctx context.Context, jql string, maxResults int, fields []string) (*jiraclient.SearchResult, error) {
	r := f.resultsByCall[f.call]
	if f.call < len(f.resultsByCall)-1 {
		f.call++
	}
	return r, nil
}

func TestNewJob_CleanupDisabledHasEmptyLabel(t *testing.T) {
	tracker := New(&fakeSearcher{}, Options{CleanupMarkers: false}, logr.Discard())
	job := tracker.NewJob("job-1", 5)
	if job.Label != "" {
		t.Errorf("expected empty label, got %q", job.Label)
	}
}

func TestInjectLabel_PreservesExistingLabels(t *testing.T) {
	payload := map[string]any{"fields": map[string]any{"labels": []any{"existing"}}}
	job := Job{Label: "jml-job-x-1"}
	InjectLabel(payload, job)

	labels := payload["fields"].(map[string]any)["labels"].([]any)
	if len(labels) != 2 || labels[0] != "existing" || labels[1] != "jml-job-x-1" {
		t.Errorf("got %v", labels)
	}
}

func TestInjectLabel_NoopWhenLabelEmpty(t *testing.T) {
	payload := map[string]any{"fields": map[string]any{}}
	InjectLabel(payload, Job{Label: ""})
	if _, ok := payload["fields"].(map[string]any)["labels"]; ok {
		t.Error("expected no labels key to be added")
	}
}

func TestTrack_CompletesWhenAllIssuesFound(t *testing.T) {
	tracker := New(&fakeSearcher{resultsByCall: []*jiraclient.SearchResult{
		{Issues: make([]jira.Issue, 2)},
	}}, Options{PollingInterval: 10 * time.Millisecond, CleanupMarkers: true}, logr.Discard())

	job := tracker.NewJob("job-1", 2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var last Snapshot
	for snap := range tracker.Track(ctx, job) {
		last = snap
	}
	if last.Completed != 2 || last.Total != 2 {
		t.Errorf("got %+v", last)
	}
}

func TestTrack_NoopWhenLabelEmpty(t *testing.T) {
	tracker := New(&fakeSearcher{}, Options{CleanupMarkers: false}, logr.Discard())
	job := tracker.NewJob("job-1", 2)

	ch := tracker.Track(context.Background(), job)
	if _, ok := <-ch; ok {
		t.Error("expected the channel to be closed immediately")
	}
}

func TestTrack_DeclaresStuckAfterTimeout(t *testing.T) {
	tracker := New(&fakeSearcher{resultsByCall: []*jiraclient.SearchResult{
		{Issues: make([]jira.Issue, 0)},
	}}, Options{PollingInterval: 5 * time.Millisecond, ProgressTimeout: 10 * time.Millisecond, CleanupMarkers: true}, logr.Discard())

	job := tracker.NewJob("job-1", 5)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var sawStuck bool
	for snap := range tracker.Track(ctx, job) {
		if snap.IsStuck {
			sawStuck = true
		}
	}
	if !sawStuck {
		t.Error("expected the tracker to eventually declare the job stuck")
	}
}
