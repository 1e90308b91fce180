// Package notify fans created interventions out to connected clients.
package notify

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/domain"
)

const (
	defaultReplaySize     = 50
	defaultSubscriberSize = 16
)

// Message is one delivered intervention. IDs increase monotonically per
// process and are used as SSE event IDs for replay.
type Message struct {
	ID        int64         `json:"id"`
	Result    domain.Result `json:"result"`
	Timestamp time.Time     `json:"timestamp"`
}

// Bus publishes interventions and lets clients subscribe per learner.
type Bus interface {
	Publish(ctx context.Context, res domain.Result) error
	// Subscribe returns messages newer than afterID that are still buffered,
	// a channel of live messages, and a cancel func that must be called.
	Subscribe(userID string, afterID int64) (missed []Message, live <-chan Message, cancel func())
	// Forget drops buffered messages for a learner.
	Forget(userID string)
	// Subscribers returns the number of open subscriptions across learners.
	Subscribers() int
	Close() error
}

// replayQueue buffers recent messages per learner so reconnecting clients
// can catch up. Each learner gets its own bounded list so one burst cannot
// evict another learner's messages.
type replayQueue struct {
	mu      sync.RWMutex
	queues  map[string]*list.List
	maxSize int
}

func newReplayQueue(maxSize int) *replayQueue {
	if maxSize <= 0 {
		maxSize = defaultReplaySize
	}
	return &replayQueue{queues: make(map[string]*list.List), maxSize: maxSize}
}

func (q *replayQueue) enqueue(userID string, msg Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.queues[userID]
	if !ok {
		l = list.New()
		q.queues[userID] = l
	}
	l.PushBack(msg)
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

func (q *replayQueue) after(userID string, afterID int64) []Message {
	q.mu.RLock()
	defer q.mu.RUnlock()

	l, ok := q.queues[userID]
	if !ok {
		return nil
	}
	var missed []Message
	for e := l.Front(); e != nil; e = e.Next() {
		if msg := e.Value.(Message); msg.ID > afterID {
			missed = append(missed, msg)
		}
	}
	return missed
}

func (q *replayQueue) prune(userID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, userID)
}

// LocalBus is an in-process Bus. Slow subscribers miss live messages rather
// than blocking publishers; they can recover them through replay.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[string]map[int64]chan Message
	nextID int64
	closed bool

	seq    atomic.Int64
	replay *replayQueue
	logger *slog.Logger
}

// NewLocalBus creates a bus keeping replaySize messages per learner.
func NewLocalBus(replaySize int, logger *slog.Logger) *LocalBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalBus{
		subs:   make(map[string]map[int64]chan Message),
		replay: newReplayQueue(replaySize),
		logger: logger,
	}
}

// Publish implements Bus.
func (b *LocalBus) Publish(_ context.Context, res domain.Result) error {
	b.Deliver(res)
	return nil
}

// Deliver assigns a message ID, buffers the message for replay and fans it
// out to the learner's live subscribers.
func (b *LocalBus) Deliver(res domain.Result) Message {
	msg := Message{ID: b.seq.Add(1), Result: res, Timestamp: time.Now()}

	// Buffering and fan-out share the lock Subscribe takes, so a new
	// subscriber sees each message either in replay or live, never both.
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.replay.enqueue(res.UserID, msg)
	for id, ch := range b.subs[res.UserID] {
		select {
		case ch <- msg:
		default:
			b.logger.Warn("Subscriber buffer full, dropping message",
				"user_id", res.UserID,
				"subscriber_id", id,
				"message_id", msg.ID,
			)
		}
	}
	return msg
}

// Subscribe implements Bus.
func (b *LocalBus) Subscribe(userID string, afterID int64) ([]Message, <-chan Message, func()) {
	ch := make(chan Message, defaultSubscriberSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return nil, ch, func() {}
	}
	b.nextID++
	id := b.nextID
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[int64]chan Message)
	}
	b.subs[userID][id] = ch
	var missed []Message
	if afterID > 0 {
		missed = b.replay.after(userID, afterID)
	}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if userSubs, ok := b.subs[userID]; ok {
				if _, ok := userSubs[id]; ok {
					delete(userSubs, id)
					close(ch)
				}
				if len(userSubs) == 0 {
					delete(b.subs, userID)
				}
			}
		})
	}
	return missed, ch, cancel
}

// Forget implements Bus.
func (b *LocalBus) Forget(userID string) {
	b.replay.prune(userID)
}

// Subscribers implements Bus.
func (b *LocalBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, userSubs := range b.subs {
		n += len(userSubs)
	}
	return n
}

// Close implements Bus. Live subscriber channels are closed.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for userID, userSubs := range b.subs {
		for _, ch := range userSubs {
			close(ch)
		}
		delete(b.subs, userID)
	}
	return nil
}
