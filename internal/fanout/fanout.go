// Package fanout provides the settle-all concurrency primitive used by the
// scoring services and the enrichment orchestrator: launch every task, wait
// for all of them to finish, and report each outcome individually instead of
// failing fast. A panic inside a task is captured as that task's error.
package fanout

import (
	"context"
	"fmt"
	"sync"
)

// Task is one unit of work in a settle-all group.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Outcome reports how a single task settled.
type Outcome struct {
	Name string
	Err  error
}

// OK reports whether the task completed without error.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// SettleAll runs every task concurrently and blocks until all have settled.
// Outcomes are returned in task order. Sibling tasks are never cancelled on
// failure — a failed task is simply reported as failed.
func SettleAll(ctx context.Context, tasks ...Task) []Outcome {
	outcomes := make([]Outcome, len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			outcomes[i] = Outcome{Name: task.Name, Err: run(ctx, task)}
		}(i, task)
	}
	wg.Wait()

	return outcomes
}

func run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", task.Name, r)
		}
	}()
	return task.Run(ctx)
}

// Failed returns the outcomes that settled with an error.
func Failed(outcomes []Outcome) []Outcome {
	var failed []Outcome
	for _, o := range outcomes {
		if !o.OK() {
			failed = append(failed, o)
		}
	}
	return failed
}
