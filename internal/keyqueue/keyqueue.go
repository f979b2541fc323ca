// Package keyqueue serializes tasks per key.
//
// Tasks scheduled for the same key run strictly one after another in the
// order they were scheduled, independent of the outcome of their
// predecessor. Tasks for different keys run concurrently.
// It is used to prevent that read-modify-write sequences on the same
// pull request or branch interleave.
package keyqueue

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dionisio-bot/dionisio/internal/logfields"
)

const loggerName = "keyqueue"

// Queue is a per-key FIFO task serializer.
type Queue struct {
	lock sync.Mutex
	// tails contains per key the done channel of the last scheduled task.
	tails map[string]chan struct{}

	wg      sync.WaitGroup
	deferFn func()
	logger  *zap.Logger
}

// WithTaskDeferFunc sets a function that is deferred in the go-routine
// running a task.
// It can be used to set a panic handler.
func WithTaskDeferFunc(fn func()) func(*Queue) {
	return func(q *Queue) {
		q.deferFn = fn
	}
}

func New(opts ...func(*Queue)) *Queue {
	q := Queue{
		tails: map[string]chan struct{}{},
	}

	for _, opt := range opts {
		opt(&q)
	}

	if q.logger == nil {
		q.logger = zap.L().Named(loggerName)
	}

	return &q
}

// Schedule queues fn for execution.
// If no task for key is pending, fn is started immediately, otherwise it runs
// after the last task that was scheduled for the key returned.
// The returned channel is closed after fn returned.
func (q *Queue) Schedule(key string, fn func()) <-chan struct{} {
	done := make(chan struct{})

	q.lock.Lock()
	prev := q.tails[key]
	q.tails[key] = done
	q.wg.Add(1)
	q.lock.Unlock()

	logger := q.logger.With(logfields.Key(key))

	if prev == nil {
		logger.Debug("task scheduled, key is idle", logfields.Event("task_scheduled"))
	} else {
		logger.Debug("task scheduled after pending task", logfields.Event("task_chained"))
	}

	go func() {
		if q.deferFn != nil {
			defer q.deferFn()
		}

		defer q.wg.Done()
		defer close(done)
		defer q.release(key, done)

		if prev != nil {
			<-prev
		}

		fn()
	}()

	return done
}

func (q *Queue) release(key string, done chan struct{}) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.tails[key] == done {
		delete(q.tails, key)
	}
}

// Run schedules fn and waits until it was executed.
// The error returned by fn is returned.
func (q *Queue) Run(key string, fn func() error) error {
	var err error

	<-q.Schedule(key, func() { err = fn() })

	return err
}

// PendingKeys returns the sorted keys for that tasks are running or waiting.
func (q *Queue) PendingKeys() []string {
	q.lock.Lock()
	defer q.lock.Unlock()

	result := make([]string, 0, len(q.tails))
	for k := range q.tails {
		result = append(result, k)
	}

	sort.Strings(result)

	return result
}

// Wait blocks until all scheduled tasks finished.
func (q *Queue) Wait() {
	q.wg.Wait()
}
