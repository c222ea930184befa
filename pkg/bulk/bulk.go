// Package bulk implements the multi-row create algorithm: parse input
// into records, detect hierarchy, build every row's payload concurrently
// in dry-run mode, send the survivors in one bulk POST, and persist a
// manifest a later call can retry against.
package bulk

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/jira-magic-library/jml/pkg/cache"
	"github.com/jira-magic-library/jml/pkg/config"
	jmlerrors "github.com/jira-magic-library/jml/pkg/errors"
	"github.com/jira-magic-library/jml/pkg/hierarchy"
	"github.com/jira-magic-library/jml/pkg/issuecreate"
	"github.com/jira-magic-library/jml/pkg/jiraclient"
	"github.com/jira-magic-library/jml/pkg/manifest"
	"github.com/jira-magic-library/jml/pkg/parser"
)

const manifestTTL = 24 * time.Hour

// Options configures a single bulk Create call.
type Options struct {
	// Validate runs the full resolve+convert pipeline for every row but
	// skips the network POST, returning payloads keyed "DRY-RUN".
	Validate bool
	// Format is not read by Create or Retry; the parser format for raw
	// byte input comes from Input.Format.
	Format parser.Format
	// OnProgress, if set, is invoked after every row's payload is built.
	OnProgress func(index int, ok bool)
}

// RowOutcome is one row's final outcome in a Result. A failed row
// carries Status (JIRA's HTTP status, or 0 for a local failure) and
// Errors (field name -> message; a failure with no field breakdown is
// recorded under the "_error" key).
type RowOutcome struct {
	Index   int
	Success bool
	Key     string
	Status  int
	Errors  map[string]string
}

// ErrorMessage joins a failed row's Errors into one display string,
// sorted by field name for determinism.
func (r RowOutcome) ErrorMessage() string {
	if len(r.Errors) == 0 {
		return ""
	}
	parts := make([]string, 0, len(r.Errors))
	for field, msg := range r.Errors {
		if field == "_error" {
			parts = append(parts, msg)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// Result is the outcome of a bulk Create or Retry call.
type Result struct {
	Manifest  *manifest.BulkManifest
	Total     int
	Succeeded []int
	Failed    []int
	Results   []RowOutcome
}

// Engine runs the bulk create and retry algorithms.
type Engine struct {
	parser      parser.Parser
	issues      *issuecreate.Service
	client      *jiraclient.Client
	manifests   *manifest.Manager
	cacheStore  cache.Store
	concurrency int
	log         logr.Logger
}

// New builds an Engine from its collaborators. cacheStore must be
// reachable: bulk operations without a durable manifest store raise
// ConfigurationError, since a retry is meaningless without one.
func New(p parser.Parser, issues *issuecreate.Service, client *jiraclient.Client, cacheStore cache.Store, cfg *config.Config, log logr.Logger) *Engine {
	concurrency := cfg.MaxConcurrentRequests
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{
		parser:      p,
		issues:      issues,
		client:      client,
		manifests:   manifest.New(cacheStore, manifestTTL),
		cacheStore:  cacheStore,
		concurrency: concurrency,
		log:         log,
	}
}

// Input is the disambiguated shape accepted by Create: a single record,
// an array of records, or parser options to run before bulk creation.
type Input struct {
	Record     map[string]any
	Records    []map[string]any
	Data       []byte
	Format     parser.Format
	ProjectKey string
	IssueType  string
}

// Create runs the bulk algorithm described in spec.md §4.6: parse,
// detect hierarchy, build payloads concurrently, bulk POST, persist a
// manifest, and return the combined per-row result.
func (e *Engine) Create(ctx context.Context, in Input, opts Options) (*Result, error) {
	if e.cacheStore == nil {
		return nil, jmlerrors.ConfigurationError("bulk operations require a reachable cache store for manifest persistence")
	}

	records, err := e.resolveRecords(in)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, jmlerrors.Validation("bulk create received no records", nil)
	}

	hier, err := hierarchy.Preprocess(records)
	if err != nil {
		return nil, err
	}

	var outcomes []RowOutcome
	if hier.HasHierarchy && len(hier.Levels) > 1 {
		outcomes, err = e.createByLevel(ctx, in, records, hier, opts)
	} else {
		outcomes, err = e.createFlat(ctx, in, records, opts)
	}
	if err != nil {
		return nil, err
	}

	return e.finalize(ctx, fmt.Sprintf("bulk-%s", uuid.NewString()), len(records), outcomes, hier.UIDMap)
}

// createFlat builds every row's payload concurrently, then sends every
// successfully-built payload in a single bulk POST.
func (e *Engine) createFlat(ctx context.Context, in Input, records []map[string]any, opts Options) ([]RowOutcome, error) {
	built := e.buildPayloads(ctx, in, records, opts)

	var validIndices []int
	var payloads []map[string]any
	outcomes := make([]RowOutcome, len(records))
	for i, r := range built {
		if r.Err != nil {
			status, fieldErrors := rowErrorFields(r.Err)
			outcomes[i] = RowOutcome{Index: i, Success: false, Status: status, Errors: fieldErrors}
			continue
		}
		validIndices = append(validIndices, i)
		payloads = append(payloads, r.Payload)
	}

	if len(payloads) == 0 {
		// Every row failed validation: surface the first row's error
		// rather than calling the API at all.
		return nil, jmlerrors.Validation(fmt.Sprintf("all %d rows failed validation: %s", len(records), outcomes[0].ErrorMessage()), nil)
	}

	if opts.Validate {
		for _, idx := range validIndices {
			outcomes[idx] = RowOutcome{Index: idx, Success: true, Key: "DRY-RUN"}
		}
		return outcomes, nil
	}

	bulkResult, err := e.client.BulkCreateIssues(ctx, payloads)
	if err != nil {
		return nil, err
	}

	failedByElement := make(map[int]jiraclient.BulkElementError, len(bulkResult.Errors))
	for _, be := range bulkResult.Errors {
		failedByElement[be.FailedElementNumber] = be
	}

	issueCursor := 0
	for elementNumber, originalIndex := range validIndices {
		if be, failed := failedByElement[elementNumber]; failed {
			outcomes[originalIndex] = RowOutcome{Index: originalIndex, Success: false, Status: be.Status, Errors: fieldErrorsFromBulkElement(be)}
			continue
		}
		if issueCursor >= len(bulkResult.Issues) {
			outcomes[originalIndex] = RowOutcome{Index: originalIndex, Success: false, Errors: map[string]string{"_error": "bulk response did not include a matching issue"}}
			continue
		}
		created := bulkResult.Issues[issueCursor]
		issueCursor++
		outcomes[originalIndex] = RowOutcome{Index: originalIndex, Success: true, Key: created.Key}
	}

	return outcomes, nil
}

// createByLevel runs the level-based create of spec.md §4.7: each
// hierarchy level is built and POSTed in order, substituting resolved
// parent UIDs as earlier levels complete. A row whose parent failed (or
// whose parent was itself blocked by an earlier failure) is failed with
// a synthetic "parent creation failed" error and marked blocked so its
// own descendants cascade, rather than being submitted with a dangling
// parent reference.
func (e *Engine) createByLevel(ctx context.Context, in Input, records []map[string]any, hier *hierarchy.Result, opts Options) ([]RowOutcome, error) {
	outcomes := make([]RowOutcome, len(records))
	blocked := make([]bool, len(records))

	failParent := func(idx int) {
		outcomes[idx] = RowOutcome{Index: idx, Success: false, Errors: map[string]string{"_error": "parent creation failed"}}
		blocked[idx] = true
	}

	for _, level := range hier.Levels {
		var levelRecords []map[string]any
		var levelIndices []int

		for _, idx := range level.Indices {
			if blocked[idx] {
				failParent(idx)
				continue
			}
			rec, ok := substituteParent(records[idx], hier.KnownUIDs, hier.UIDMap)
			if !ok {
				failParent(idx)
				continue
			}
			levelRecords = append(levelRecords, rec)
			levelIndices = append(levelIndices, idx)
		}
		if len(levelRecords) == 0 {
			continue
		}

		built := e.buildPayloads(ctx, in, levelRecords, opts)

		var validLocal []int
		var payloads []map[string]any
		for i, r := range built {
			originalIdx := levelIndices[i]
			if r.Err != nil {
				status, fieldErrors := rowErrorFields(r.Err)
				outcomes[originalIdx] = RowOutcome{Index: originalIdx, Success: false, Status: status, Errors: fieldErrors}
				blocked[originalIdx] = true
				continue
			}
			validLocal = append(validLocal, i)
			payloads = append(payloads, r.Payload)
		}

		if len(payloads) == 0 {
			continue
		}

		if opts.Validate {
			for _, i := range validLocal {
				originalIdx := levelIndices[i]
				outcomes[originalIdx] = RowOutcome{Index: originalIdx, Success: true, Key: "DRY-RUN"}
			}
			continue
		}

		bulkResult, err := e.client.BulkCreateIssues(ctx, payloads)
		if err != nil {
			return nil, err
		}

		failedByElement := make(map[int]jiraclient.BulkElementError, len(bulkResult.Errors))
		for _, be := range bulkResult.Errors {
			failedByElement[be.FailedElementNumber] = be
		}

		issueCursor := 0
		for elementNumber, i := range validLocal {
			originalIdx := levelIndices[i]
			if be, failed := failedByElement[elementNumber]; failed {
				outcomes[originalIdx] = RowOutcome{Index: originalIdx, Success: false, Status: be.Status, Errors: fieldErrorsFromBulkElement(be)}
				blocked[originalIdx] = true
				continue
			}
			if issueCursor >= len(bulkResult.Issues) {
				outcomes[originalIdx] = RowOutcome{Index: originalIdx, Success: false, Errors: map[string]string{"_error": "bulk response did not include a matching issue"}}
				blocked[originalIdx] = true
				continue
			}
			created := bulkResult.Issues[issueCursor]
			issueCursor++
			outcomes[originalIdx] = RowOutcome{Index: originalIdx, Success: true, Key: created.Key}

			if uid, ok := extractUIDFor(records[originalIdx]); ok {
				hier.UIDMap[uid] = created.Key
			}
		}
	}

	return outcomes, nil
}

func (e *Engine) buildPayloads(ctx context.Context, in Input, records []map[string]any, opts Options) []payloadResult {
	build := func(ctx context.Context, record map[string]any) (map[string]any, error) {
		return e.issues.BuildPayload(ctx, in.ProjectKey, in.IssueType, record)
	}
	results := buildPayloadsConcurrently(ctx, records, e.concurrency, build)
	if opts.OnProgress != nil {
		for _, r := range results {
			opts.OnProgress(r.Index, r.Err == nil)
		}
	}
	return results
}

func (e *Engine) finalize(ctx context.Context, id string, total int, outcomes []RowOutcome, uidMap hierarchy.UIDMap) (*Result, error) {
	var succeeded, failed []int
	created := make(map[int]string)
	errs := make(map[int]manifest.RowError)
	for _, o := range outcomes {
		if o.Success {
			succeeded = append(succeeded, o.Index)
			created[o.Index] = o.Key
		} else {
			failed = append(failed, o.Index)
			errs[o.Index] = manifest.RowError{Status: o.Status, Errors: o.Errors}
		}
	}

	var storedUIDMap map[string]string
	if len(uidMap) > 0 {
		storedUIDMap = map[string]string(uidMap)
	}

	m := &manifest.BulkManifest{
		ID:        id,
		Total:     total,
		Succeeded: succeeded,
		Failed:    failed,
		Created:   created,
		Errors:    errs,
		UIDMap:    storedUIDMap,
		Timestamp: time.Now(),
	}
	if err := e.manifests.Store(ctx, m); err != nil {
		e.log.Error(err, "failed to store bulk manifest", "id", id)
	}

	return &Result{Manifest: m, Total: total, Succeeded: succeeded, Failed: failed, Results: outcomes}, nil
}

// resolveRecords disambiguates Input exactly as spec.md §4.6 describes:
// an explicit Records slice wins, a single Record is wrapped, and raw
// Data is run through the parser collaborator.
func (e *Engine) resolveRecords(in Input) ([]map[string]any, error) {
	switch {
	case in.Records != nil:
		return in.Records, nil
	case in.Record != nil:
		return []map[string]any{in.Record}, nil
	case in.Data != nil:
		result, err := e.parser.Parse(parser.Options{Data: in.Data, Format: in.Format})
		if err != nil {
			return nil, err
		}
		return result.Records, nil
	default:
		return nil, jmlerrors.Validation("bulk create requires a record, a record array, or parser input", nil)
	}
}

// substituteParent rewrites rec's Parent field to the resolved JIRA key
// for a tracked UID. ok is false when Parent names a tracked UID whose
// own row never produced a key (its parent creation failed), in which
// case the caller must fail rec with "parent creation failed" rather
// than submit it with a dangling UID as the literal parent key.
func substituteParent(rec map[string]any, knownUIDs map[string]bool, uidMap hierarchy.UIDMap) (map[string]any, bool) {
	key, resolved := hierarchy.ResolveParent(rec, knownUIDs, uidMap)
	if !resolved {
		return nil, false
	}
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	if key != "" {
		out["Parent"] = key
	}
	return out, true
}

func extractUIDFor(rec map[string]any) (string, bool) {
	raw, ok := rec["uid"]
	if !ok {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return "", false
		}
		return v, true
	case int, int64:
		return fmt.Sprint(v), true
	case float64:
		return fmt.Sprint(int64(v)), true
	default:
		return "", false
	}
}

// fieldErrorsFromBulkElement extracts the field -> message map from a
// failed bulk element, falling back to a single "_error" entry when
// JIRA returned only a flat errorMessages list.
func fieldErrorsFromBulkElement(be jiraclient.BulkElementError) map[string]string {
	if len(be.ElementErrors.Errors) > 0 {
		out := make(map[string]string, len(be.ElementErrors.Errors))
		for field, msg := range be.ElementErrors.Errors {
			out[field] = msg
		}
		return out
	}
	if len(be.ElementErrors.ErrorMessages) > 0 {
		return map[string]string{"_error": strings.Join(be.ElementErrors.ErrorMessages, "; ")}
	}
	return map[string]string{"_error": "bulk create failed"}
}

// rowErrorFields extracts a JIRA-like (status, field errors) pair from a
// local payload-build failure. jmlerrors.Validation errors built with a
// FieldErrors Details payload keep their per-field breakdown; anything
// else collapses to a single "_error" entry.
func rowErrorFields(err error) (int, map[string]string) {
	jerr, ok := err.(*jmlerrors.Error)
	if !ok {
		return 0, map[string]string{"_error": err.Error()}
	}
	if fe, ok := jerr.Details.(jmlerrors.FieldErrors); ok && len(fe) > 0 {
		out := make(map[string]string, len(fe))
		for field, msg := range fe {
			out[field] = msg
		}
		return 400, out
	}
	return statusForCode(jerr.Code), map[string]string{"_error": jerr.Message}
}

func statusForCode(code jmlerrors.Code) int {
	switch code {
	case jmlerrors.CodeValidation, jmlerrors.CodeAmbiguity, jmlerrors.CodeInputParse:
		return 400
	case jmlerrors.CodeAuthentication:
		return 401
	case jmlerrors.CodeNotFound, jmlerrors.CodeFileNotFound:
		return 404
	case jmlerrors.CodeRateLimit:
		return 429
	case jmlerrors.CodeJiraServer:
		return 500
	default:
		return 0
	}
}
