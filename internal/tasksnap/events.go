package tasksnap

import (
	"sync"
	"time"
)

// StoreEventKind classifies store notifications.
type StoreEventKind int

const (
	// StoreChanged follows a successful local commit or restore.
	StoreChanged StoreEventKind = iota
	// RemoteChanged means the replica reported changes from another origin.
	RemoteChanged
	// ReplicaPushed means committed changes reached the replica.
	ReplicaPushed
	// ReplicaPushFailed means committed changes could not reach the replica.
	ReplicaPushFailed
)

func (k StoreEventKind) String() string {
	switch k {
	case StoreChanged:
		return "store-changed"
	case RemoteChanged:
		return "remote-changed"
	case ReplicaPushed:
		return "replica-pushed"
	case ReplicaPushFailed:
		return "replica-push-failed"
	default:
		return "unknown"
	}
}

// StoreEvent is delivered to store subscribers.
type StoreEvent struct {
	Kind StoreEventKind
	At   time.Time
	Err  error
}

// broadcaster fans values out to subscribers over buffered channels.
// Publishing never blocks: a subscriber whose buffer is full misses the
// value. Delivered values keep publish order.
type broadcaster[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan T
	closed bool
}

func newBroadcaster[T any]() *broadcaster[T] {
	return &broadcaster[T]{subs: make(map[int]chan T)}
}

// subscribe registers a subscriber. The returned cancel function removes the
// subscription and closes the channel; it is safe to call more than once.
func (b *broadcaster[T]) subscribe(buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// publish delivers v to every subscriber and returns how many missed it.
func (b *broadcaster[T]) publish(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := 0
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			dropped++
		}
	}
	return dropped
}

// close closes every subscriber channel; later subscriptions get a closed channel.
func (b *broadcaster[T]) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
