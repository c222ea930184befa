// Package progress tracks a bulk create job by injecting a unique
// marker label into every created issue's payload, then polling search
// for issues carrying that marker until the job's work is done or no
// progress has been made for too long.
package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/jira-magic-library/jml/pkg/jiraclient"
	"github.com/jira-magic-library/jml/pkg/jql"
)

// Searcher is the search boundary a Tracker polls; *jiraclient.Client
// satisfies it directly.
type Searcher interface {
	Search(ctx context.Context, jql string, maxResults int, fields []string) (*jiraclient.SearchResult, error)
}

// Options configures a Tracker.
type Options struct {
	// PollingInterval is how often the tracker re-polls search. Zero
	// defaults to 2s.
	PollingInterval time.Duration
	// ProgressTimeout is how long with no new completions before a job
	// is declared stuck. Zero disables stuck-detection entirely.
	ProgressTimeout time.Duration
	// CleanupMarkers controls whether MarkerLabel is injected at all; if
	// false, NewJob returns a job whose Label is empty and Track is a
	// no-op.
	CleanupMarkers bool
	ProjectKey     string
	IssueType      string
}

// Snapshot is one progress report.
type Snapshot struct {
	Total             int
	Completed         int
	InProgress        int
	ProgressMade      bool
	TimeSinceProgress time.Duration
	IsStuck           bool
}

// Job is one tracked bulk run.
type Job struct {
	Label      string
	Total      int
	StartedAt  time.Time
	ProjectKey string
	IssueType  string
}

// Tracker polls search for a Job's marker label and reports Snapshots.
type Tracker struct {
	search Searcher
	opts   Options
	log    logr.Logger
}

// New builds a Tracker from its collaborators.
func New(search Searcher, opts Options, log logr.Logger) *Tracker {
	if opts.PollingInterval <= 0 {
		opts.PollingInterval = 2 * time.Second
	}
	return &Tracker{search: search, opts: opts, log: log}
}

// MarkerLabel builds the unique label for jobID, stamped with the
// current time so repeated jobs with the same ID never collide.
func MarkerLabel(jobID string, startedAt time.Time) string {
	return fmt.Sprintf("jml-job-%s-%d", jobID, startedAt.Unix())
}

// NewJob builds a Job for jobID. If opts.CleanupMarkers is false, the
// returned Job's Label is empty: callers should skip label injection
// entirely and Track becomes a no-op.
func (t *Tracker) NewJob(jobID string, total int) Job {
	started := time.Now()
	label := ""
	if t.opts.CleanupMarkers {
		label = MarkerLabel(jobID, started)
	}
	return Job{Label: label, Total: total, StartedAt: started, ProjectKey: t.opts.ProjectKey, IssueType: t.opts.IssueType}
}

// InjectLabel adds job's marker label to payload's fields.labels array,
// preserving any labels already present. A no-op when job.Label is "".
func InjectLabel(payload map[string]any, job Job) {
	if job.Label == "" {
		return
	}
	fields, ok := payload["fields"].(map[string]any)
	if !ok {
		return
	}
	existing, _ := fields["labels"].([]any)
	fields["labels"] = append(existing, job.Label)
}

// Track polls search on a ticker until ctx is canceled, job.Total
// issues are observed complete, or the job is declared stuck. Snapshots
// are sent on the returned channel, which is closed when tracking ends.
// A no-op (closed channel, no polling) when job.Label is "".
func (t *Tracker) Track(ctx context.Context, job Job) <-chan Snapshot {
	out := make(chan Snapshot)
	if job.Label == "" {
		close(out)
		return out
	}

	go func() {
		defer close(out)

		ticker := time.NewTicker(t.opts.PollingInterval)
		defer ticker.Stop()

		lastCompleted := -1
		lastProgressAt := time.Now()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				completed, inProgress, err := t.poll(ctx, job)
				if err != nil {
					t.log.Error(err, "progress poll failed", "label", job.Label)
					continue
				}

				progressMade := completed != lastCompleted
				if progressMade {
					lastCompleted = completed
					lastProgressAt = time.Now()
				}

				timeSinceProgress := time.Since(lastProgressAt)
				isStuck := t.opts.ProgressTimeout > 0 && timeSinceProgress > t.opts.ProgressTimeout

				snap := Snapshot{
					Total:             job.Total,
					Completed:         completed,
					InProgress:        inProgress,
					ProgressMade:      progressMade,
					TimeSinceProgress: timeSinceProgress,
					IsStuck:           isStuck,
				}

				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}

				if completed >= job.Total || isStuck {
					return
				}
			}
		}
	}()

	return out
}

func (t *Tracker) poll(ctx context.Context, job Job) (completed, inProgress int, err error) {
	query := jql.BuildCriteria(jql.Criteria{
		Project:   job.ProjectKey,
		IssueType: job.IssueType,
		Labels:    []string{job.Label},
	})
	result, err := t.search.Search(ctx, query, job.Total, jql.DefaultFields)
	if err != nil {
		return 0, 0, err
	}
	completed = len(result.Issues)
	inProgress = job.Total - completed
	if inProgress < 0 {
		inProgress = 0
	}
	return completed, inProgress, nil
}

// CleanupLabel removes job's marker label from every issue in keys,
// swallowing individual failures (spec.md §4.10: cleanup is best-effort).
func (t *Tracker) CleanupLabel(ctx context.Context, updater interface {
	UpdateIssue(ctx context.Context, key string, payload map[string]any) error
}, job Job, keys []string) {
	if job.Label == "" {
		return
	}
	for _, key := range keys {
		payload := map[string]any{"update": map[string]any{"labels": []any{map[string]any{"remove": job.Label}}}}
		if err := updater.UpdateIssue(ctx, key, payload); err != nil {
			t.log.Error(err, "failed to remove marker label", "key", key, "label", job.Label)
		}
	}
}
