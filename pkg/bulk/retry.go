package bulk

import (
	"context"
	"fmt"
	"sort"
	"time"

	jmlerrors "github.com/jira-magic-library/jml/pkg/errors"
	"github.com/jira-magic-library/jml/pkg/hierarchy"
	"github.com/jira-magic-library/jml/pkg/manifest"
)

const staleManifestAge = 24 * time.Hour

// Retry implements spec.md §4.9: load the manifest for manifestID,
// rebuild the original records, resend only the rows that previously
// failed, and merge the outcome back into the manifest so already-
// succeeded rows are never re-sent.
func (e *Engine) Retry(ctx context.Context, manifestID string, in Input, opts Options) (*Result, error) {
	if e.cacheStore == nil {
		return nil, jmlerrors.ConfigurationError("bulk operations require a reachable cache store for manifest persistence")
	}

	m, err := e.manifests.Load(ctx, manifestID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, jmlerrors.NotFound(fmt.Sprintf("manifest %s not found or expired", manifestID), nil)
	}
	if time.Since(m.Timestamp) > staleManifestAge {
		e.log.Info("retrying a manifest older than 24h", "id", manifestID, "age", time.Since(m.Timestamp).String())
	}

	if len(m.Failed) == 0 {
		return resultFromManifest(m), nil
	}

	records, err := e.resolveRecords(in)
	if err != nil {
		return nil, err
	}

	failedSet := make(map[int]bool, len(m.Failed))
	for _, idx := range m.Failed {
		failedSet[idx] = true
	}

	var filtered []map[string]any
	var filteredToOriginal []int
	for i, rec := range records {
		if failedSet[i] {
			filtered = append(filtered, rec)
			filteredToOriginal = append(filteredToOriginal, i)
		}
	}
	if len(filtered) == 0 {
		return resultFromManifest(m), nil
	}

	hier, err := hierarchy.Preprocess(filtered)
	if err != nil {
		return nil, err
	}

	var outcomes []RowOutcome
	if hier.HasHierarchy && len(hier.Levels) > 1 {
		outcomes, err = e.createByLevel(ctx, in, filtered, hier, opts)
	} else {
		outcomes, err = e.createFlat(ctx, in, filtered, opts)
	}
	if err != nil {
		return nil, err
	}

	delta := manifest.Delta{Created: map[int]string{}, Errors: map[int]manifest.RowError{}}
	for i, o := range outcomes {
		originalIdx := filteredToOriginal[i]
		if o.Success {
			delta.Succeeded = append(delta.Succeeded, originalIdx)
			delta.Created[originalIdx] = o.Key
		} else {
			delta.Failed = append(delta.Failed, originalIdx)
			delta.Errors[originalIdx] = manifest.RowError{Status: o.Status, Errors: o.Errors}
		}
	}
	if len(hier.UIDMap) > 0 {
		delta.UIDMap = map[string]string(hier.UIDMap)
	}
	updated, err := e.manifests.Update(ctx, manifestID, delta)
	if err != nil {
		return nil, err
	}

	return resultFromManifest(updated), nil
}

func resultFromManifest(m *manifest.BulkManifest) *Result {
	outcomes := make([]RowOutcome, 0, len(m.Succeeded)+len(m.Failed))
	for _, idx := range m.Succeeded {
		outcomes = append(outcomes, RowOutcome{Index: idx, Success: true, Key: m.Created[idx]})
	}
	for _, idx := range m.Failed {
		rowErr := m.Errors[idx]
		outcomes = append(outcomes, RowOutcome{Index: idx, Success: false, Status: rowErr.Status, Errors: rowErr.Errors})
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Index < outcomes[j].Index })

	return &Result{
		Manifest:  m,
		Total:     m.Total,
		Succeeded: m.Succeeded,
		Failed:    m.Failed,
		Results:   outcomes,
	}
}
