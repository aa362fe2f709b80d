package jobs

import (
	"sync"

	"github.com/ytget/yt-player/internal/model"
)

// broker fans job records out to subscribers. Each subscriber owns an
// unbounded FIFO drained by its own goroutine, so publishing never blocks
// and a slow reader only delays itself.
type broker struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	out  chan model.Job
	wake chan struct{}
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	pending []model.Job
}

func newBroker() *broker {
	return &broker{subs: make(map[*subscriber]struct{})}
}

func (b *broker) subscribe() (<-chan model.Job, func()) {
	sub := &subscriber{
		out:  make(chan model.Job),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.pump()

	return sub.out, func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		sub.stop()
	}
}

func (b *broker) publish(job model.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		sub.push(job)
	}
}

// close detaches every subscriber and closes their channels. Records not yet
// delivered are dropped.
func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		delete(b.subs, sub)
		sub.stop()
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) push(job model.Job) {
	s.mu.Lock()
	s.pending = append(s.pending, job)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.wake:
		case <-s.done:
			return
		}

		for {
			s.mu.Lock()
			if len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			job := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()

			select {
			case s.out <- job:
			case <-s.done:
				return
			}
		}
	}
}
