package bulk

import (
	"context"
	"sync"
)

// payloadTask is a single row awaiting payload construction.
type payloadTask struct {
	Index  int
	Record map[string]any
}

// payloadResult is one row's built payload, or the error that prevented
// it from being built. Exactly one of Payload/Err is set.
type payloadResult struct {
	Index   int
	Payload map[string]any
	Err     error
}

// buildFn builds one row's payload; it is called concurrently across
// workers, so it must not share mutable state across calls beyond what
// its own collaborators already guard (the cache/HTTP client are safe
// for concurrent use).
type buildFn func(ctx context.Context, record map[string]any) (map[string]any, error)

// buildPayloadsConcurrently runs build over every record using a fixed
// pool of concurrency workers, preserving original row order in the
// returned slice regardless of completion order.
func buildPayloadsConcurrently(ctx context.Context, records []map[string]any, concurrency int, build buildFn) []payloadResult {
	if concurrency < 1 {
		concurrency = 1
	}

	taskChan := make(chan payloadTask, len(records))
	resultChan := make(chan payloadResult, len(records))

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go worker(ctx, taskChan, resultChan, build, &wg)
	}

	sent := make([]bool, len(records))
	go func() {
		defer close(taskChan)
		for i, rec := range records {
			select {
			case taskChan <- payloadTask{Index: i, Record: rec}:
				sent[i] = true
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([]payloadResult, len(records))
	for r := range resultChan {
		results[r.Index] = r
	}
	for i, ok := range sent {
		if !ok {
			results[i] = payloadResult{Index: i, Err: ctx.Err()}
		}
	}
	return results
}

func worker(ctx context.Context, tasks <-chan payloadTask, results chan<- payloadResult, build buildFn, wg *sync.WaitGroup) {
	defer wg.Done()
	for task := range tasks {
		payload, err := build(ctx, task.Record)
		if err != nil {
			results <- payloadResult{Index: task.Index, Err: wrapUnexpected(err)}
			continue
		}
		results <- payloadResult{Index: task.Index, Payload: payload}
	}
}

// wrapUnexpected matches spec's "unexpected promise rejections during
// payload build become per-row errors" rule: any error surfacing from a
// build call, expected or not, simply becomes that row's failure.
func wrapUnexpected(err error) error {
	return err
}
