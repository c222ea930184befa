// Package manifest persists the record of a bulk create operation so a
// later retry can resume from exactly the rows that failed. It
// re-targets the teacher's load->mutate->save state pattern at the
// shared cache substrate instead of the filesystem, since a manifest's
// only consumer is the retry coordinator running against the same
// cache-backed deployment.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jmlerrors "github.com/jira-magic-library/jml/pkg/errors"

	"github.com/jira-magic-library/jml/pkg/cache"
)

const defaultTTL = 24 * time.Hour

// RowError is the structured failure recorded for one failed row:
// JIRA's HTTP status for the failed create, plus a field name -> message
// map. A failure with no per-field breakdown (a local validation error,
// a network failure) is recorded under the "_error" key.
type RowError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

// BulkManifest is the durable record of one bulk create operation.
type BulkManifest struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Total     int               `json:"total"`
	Succeeded []int             `json:"succeeded"`
	Failed    []int             `json:"failed"`
	Created   map[int]string    `json:"created"`
	Errors    map[int]RowError  `json:"errors"`
	UIDMap    map[string]string `json:"uidMap,omitempty"`
}

// Delta is a partial update merged into an existing manifest by Update.
type Delta struct {
	Succeeded []int
	Failed    []int
	Created   map[int]string
	Errors    map[int]RowError
	UIDMap    map[string]string
}

// Manager is the manifest storage boundary consumed by pkg/bulk.
type Manager struct {
	store cache.Store
	ttl   time.Duration
}

// New builds a Manager over store. ttl of 0 uses the default 24h.
func New(store cache.Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Manager{store: store, ttl: ttl}
}

func key(id string) string {
	return cache.NamespaceManifest + id
}

// Store writes m under its own ID.
func (mgr *Manager) Store(ctx context.Context, m *BulkManifest) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return jmlerrors.InputParse("failed to marshal manifest", err)
	}
	mgr.store.Set(ctx, key(m.ID), raw, mgr.ttl)
	return nil
}

// Load reads the manifest for id. It returns (nil, nil) on a cache miss
// (expired or never written), matching spec's "on read miss -> null".
func (mgr *Manager) Load(ctx context.Context, id string) (*BulkManifest, error) {
	raw, ok, _ := mgr.store.Get(ctx, key(id), true)
	if !ok {
		return nil, nil
	}
	var m BulkManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, jmlerrors.InputParse(fmt.Sprintf("manifest %s is corrupt", id), err)
	}
	return &m, nil
}

// Update loads the manifest for id, merges delta, and writes it back.
// Succeeded and created are unioned, uidMap is unioned, failed is
// replaced by delta's failed list, per-row errors under indices newly
// present in delta.Succeeded are removed, and Timestamp is preserved
// from the original manifest.
func (mgr *Manager) Update(ctx context.Context, id string, delta Delta) (*BulkManifest, error) {
	m, err := mgr.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, jmlerrors.NotFound(fmt.Sprintf("manifest %s not found or expired", id), nil)
	}

	succeededSet := toSet(m.Succeeded)
	for _, idx := range delta.Succeeded {
		succeededSet[idx] = true
	}

	if m.Created == nil {
		m.Created = map[int]string{}
	}
	for idx, issueKey := range delta.Created {
		m.Created[idx] = issueKey
	}

	if m.Errors == nil {
		m.Errors = map[int]RowError{}
	}
	for idx, rowErr := range delta.Errors {
		m.Errors[idx] = rowErr
	}
	for idx := range succeededSet {
		delete(m.Errors, idx)
	}

	if len(delta.UIDMap) > 0 {
		if m.UIDMap == nil {
			m.UIDMap = map[string]string{}
		}
		for uid, issueKey := range delta.UIDMap {
			m.UIDMap[uid] = issueKey
		}
	}

	m.Succeeded = fromSet(succeededSet)
	m.Failed = delta.Failed

	if err := mgr.Store(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func toSet(indices []int) map[int]bool {
	set := make(map[int]bool, len(indices))
	for _, i := range indices {
		set[i] = true
	}
	return set
}

func fromSet(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for i := range set {
		out = append(out, i)
	}
	sortInts(out)
	return out
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
