package keyqueue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const condWaitTimeout = 5 * time.Second
const condCheckInterval = 10 * time.Millisecond

func TestTasksForSameKeyRunInOrder(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	q := New()

	var lock sync.Mutex
	var order []int

	release := make(chan struct{})
	q.Schedule("pr-1", func() {
		<-release
		lock.Lock()
		order = append(order, 0)
		lock.Unlock()
	})

	for i := 1; i < 50; i++ {
		i := i
		q.Schedule("pr-1", func() {
			lock.Lock()
			order = append(order, i)
			lock.Unlock()
		})
	}

	close(release)
	q.Wait()

	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}

	assert.Empty(t, q.PendingKeys())
}

func TestSuccessorRunsAfterFailedPredecessor(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	q := New()

	err := q.Run("branch", func() error { return errors.New("cherry-pick failed") })
	require.Error(t, err)

	var ran bool
	err = q.Run("branch", func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestDifferentKeysRunConcurrently(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	q := New()

	block := make(chan struct{})
	q.Schedule("a", func() { <-block })

	done := q.Schedule("b", func() {})

	select {
	case <-done:
	case <-time.After(condWaitTimeout):
		t.Fatal("task for key b did not run while key a was blocked")
	}

	assert.Equal(t, []string{"a"}, q.PendingKeys())

	close(block)
	q.Wait()
}

func TestPendingTaskIsChained(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	q := New()

	block := make(chan struct{})
	var secondStarted sync.WaitGroup
	secondStarted.Add(1)

	q.Schedule("a", func() { <-block })
	second := q.Schedule("a", func() { secondStarted.Done() })

	assert.Never(t, func() bool {
		select {
		case <-second:
			return true
		default:
			return false
		}
	}, 100*time.Millisecond, condCheckInterval)

	close(block)
	secondStarted.Wait()

	require.Eventually(t, func() bool { return len(q.PendingKeys()) == 0 }, condWaitTimeout, condCheckInterval)
}

func TestTaskDeferFuncIsRun(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	var called sync.WaitGroup
	called.Add(1)

	q := New(WithTaskDeferFunc(func() {
		if r := recover(); r != nil {
			called.Done()
		}
	}))

	q.Schedule("a", func() { panic("boom") })
	called.Wait()
	q.Wait()

	// the panicking task must not block successors
	require.NoError(t, q.Run("a", func() error { return nil }))
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
