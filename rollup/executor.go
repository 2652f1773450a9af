// ABOUTME: Bounded concurrency executor used for every network-bound fan-out
// ABOUTME: Runs tasks with at most N in flight and returns per-task results in submission order
package rollup

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// TaskResult is the settled outcome of one task.
type TaskResult[T any] struct {
	Value T
	Err   error
}

// RunBounded executes tasks with at most limit running at once. Results come
// back in task order no matter which finished first. A failing or panicking
// task only affects its own slot.
func RunBounded[T any](ctx context.Context, limit int, tasks []func(context.Context) (T, error)) []TaskResult[T] {
	if limit < 1 {
		limit = 1
	}
	results := make([]TaskResult[T], len(tasks))

	// Plain Group, not WithContext: one failure must not cancel siblings.
	var g errgroup.Group
	g.SetLimit(limit)
	for i, task := range tasks {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = TaskResult[T]{Err: fmt.Errorf("task %d panicked: %v", i, r)}
				}
			}()
			value, err := task(ctx)
			results[i] = TaskResult[T]{Value: value, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
