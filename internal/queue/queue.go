package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/trustpilot-scraper/internal/models"
)

var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrQueueClosed = errors.New("queue is closed")
	ErrDuplicate   = errors.New("url already scheduled")
)

// Task is a CrawlTask as held by the frontier.
type Task struct {
	ID        string
	Crawl     models.CrawlTask
	Priority  int
	Retries   int
	CreatedAt time.Time
	seq       uint64
}

// Queue is the crawl frontier.
type Queue interface {
	Push(task models.CrawlTask) (*Task, error)
	Pop(ctx context.Context) (*Task, error)
	Size() int
	Close() error
}

// priorityFor drains deeper pages first so records are produced early and
// the frontier stays small.
func priorityFor(h models.Handler) int {
	switch h {
	case models.ProfilePage:
		return 2
	case models.ListingPage:
		return 1
	default:
		return 0
	}
}

// InMemoryQueue is a priority frontier, FIFO within one priority, that
// schedules each URL at most once per run.
type InMemoryQueue struct {
	mu     sync.Mutex
	tasks  taskHeap
	seen   map[string]struct{}
	seq    uint64
	closed bool
	notify chan struct{}
	done   chan struct{}
}

// NewInMemoryQueue creates a new in-memory queue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		seen:   make(map[string]struct{}),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *InMemoryQueue) Push(crawl models.CrawlTask) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	if _, ok := q.seen[crawl.URL]; ok {
		return nil, ErrDuplicate
	}
	q.seen[crawl.URL] = struct{}{}

	q.seq++
	task := &Task{
		ID:        uuid.New().String(),
		Crawl:     crawl,
		Priority:  priorityFor(crawl.Handler),
		CreatedAt: time.Now(),
		seq:       q.seq,
	}
	heap.Push(&q.tasks, task)

	select {
	case q.notify <- struct{}{}:
	default:
	}

	return task, nil
}

// Pop blocks until a task is available, the queue is closed, or ctx ends.
func (q *InMemoryQueue) Pop(ctx context.Context) (*Task, error) {
	for {
		task, err := q.TryPop()
		if !errors.Is(err, ErrQueueEmpty) {
			return task, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
		case <-q.notify:
		}
	}
}

// TryPop returns the next task without blocking.
func (q *InMemoryQueue) TryPop() (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		if q.closed {
			return nil, ErrQueueClosed
		}
		return nil, ErrQueueEmpty
	}

	task := heap.Pop(&q.tasks).(*Task)
	if len(q.tasks) > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return task, nil
}

func (q *InMemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Seen reports how many distinct URLs were scheduled.
func (q *InMemoryQueue) Seen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.seen)
}

// Close stops accepting tasks. Queued tasks can still be popped; once the
// queue is drained Pop returns ErrQueueClosed.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return task
}
