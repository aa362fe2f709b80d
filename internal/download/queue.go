package download

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ytget/yt-player/internal/metrics"
	"github.com/ytget/yt-player/internal/model"
)

// ErrCancelled is the cancellation cause for operator-initiated stops
var ErrCancelled = model.ErrCancelled

// ErrAlreadyQueued is returned when an id is submitted twice
var ErrAlreadyQueued = errors.New("download already queued")

// Queue runs submitted work one item at a time in submission order
type Queue struct {
	metrics *metrics.Metrics

	mu      sync.Mutex
	pending []*queueItem
	current *queueItem
}

type queueItem struct {
	id     string
	cancel context.CancelCauseFunc
	start  chan struct{}
}

// NewQueue creates an empty queue. m may be nil.
func NewQueue(m *metrics.Metrics) *Queue {
	return &Queue{metrics: m}
}

// Do blocks until the item reaches the head of the queue, runs fn and hands
// the slot to the next item. An item cancelled with ErrCancelled before it
// starts leaves the queue and Do returns nil without calling fn, including
// when ctx was already done on entry.
func (q *Queue) Do(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	item := &queueItem{id: id, cancel: cancel, start: make(chan struct{})}
	if err := q.push(item); err != nil {
		return err
	}

	select {
	case <-item.start:
	case <-ctx.Done():
		if q.remove(item) {
			return stopped(ctx)
		}
		// Promoted concurrently
		<-item.start
	}
	defer q.release(item)

	if ctx.Err() != nil {
		return stopped(ctx)
	}
	return fn(ctx)
}

// stopped maps the cause of a done context to Do's result
func stopped(ctx context.Context) error {
	if cause := context.Cause(ctx); !errors.Is(cause, ErrCancelled) {
		return cause
	}
	return nil
}

// Cancel stops the item with id whether it is waiting or running. Unknown
// ids are ignored.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current != nil && q.current.id == id {
		q.current.cancel(ErrCancelled)
		return true
	}
	for _, it := range q.pending {
		if it.id == id {
			it.cancel(ErrCancelled)
			return true
		}
	}
	return false
}

// Len returns the number of items waiting behind the running one
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Running returns the id of the item holding the slot
func (q *Queue) Running() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return "", false
	}
	return q.current.id, true
}

func (q *Queue) push(item *queueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current != nil && q.current.id == item.id {
		return fmt.Errorf("%w: %s", ErrAlreadyQueued, item.id)
	}
	for _, it := range q.pending {
		if it.id == item.id {
			return fmt.Errorf("%w: %s", ErrAlreadyQueued, item.id)
		}
	}
	q.pending = append(q.pending, item)
	q.advanceLocked()
	return nil
}

// remove drops a still-waiting item; false means it was already promoted
func (q *Queue) remove(item *queueItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := slices.Index(q.pending, item)
	if i < 0 {
		return false
	}
	q.pending = slices.Delete(q.pending, i, i+1)
	q.observeLocked()
	return true
}

func (q *Queue) release(item *queueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == item {
		q.current = nil
	}
	q.advanceLocked()
}

func (q *Queue) advanceLocked() {
	if q.current == nil && len(q.pending) > 0 {
		q.current = q.pending[0]
		q.pending = q.pending[1:]
		close(q.current.start)
	}
	q.observeLocked()
}

func (q *Queue) observeLocked() {
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(len(q.pending)))
	}
}
