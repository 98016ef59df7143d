package session

import (
	"sync"

	"github.com/google/uuid"

	"tunet/internal/domain"
)

// Field identifies which part of the session changed
type Field string

const (
	FieldIsOnline     Field = "is_online"
	FieldBalance      Field = "balance"
	FieldWebTraffic   Field = "web_traffic"
	FieldUpdateTime   Field = "update_time"
	FieldExactTraffic Field = "exact_traffic"
	FieldDevices      Field = "devices"
)

// DeviceChange describes what happened to a device in a FieldDevices event
type DeviceChange string

const (
	DeviceAdded   DeviceChange = "added"
	DeviceUpdated DeviceChange = "updated"
	DeviceRetired DeviceChange = "retired"
	DeviceRenamed DeviceChange = "renamed"
)

// Event is a single field-identified change notification
type Event struct {
	Field  Field             `json:"field"`
	Value  any               `json:"value,omitempty"`
	Change DeviceChange      `json:"change,omitempty"`
	Device *domain.DeviceKey `json:"device,omitempty"`
}

func deviceEvent(change DeviceChange, key domain.DeviceKey) Event {
	return Event{Field: FieldDevices, Change: change, Device: &key}
}

// Subscriber receives events on the notifier's dispatcher
type Subscriber func(Event)

// Dispatcher decides on which goroutine subscribers run
type Dispatcher interface {
	Dispatch(fn func())
}

// InlineDispatcher runs subscribers on the publishing goroutine
type InlineDispatcher struct{}

// Dispatch calls fn immediately
func (InlineDispatcher) Dispatch(fn func()) {
	fn()
}

// QueueDispatcher runs subscribers one at a time, in publish order, on its
// own goroutine
type QueueDispatcher struct {
	queue chan func()
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// NewQueueDispatcher starts a dispatcher with room for size pending
// notifications; Dispatch blocks when the queue is full
func NewQueueDispatcher(size int) *QueueDispatcher {
	if size <= 0 {
		size = 64
	}
	q := &QueueDispatcher{
		queue: make(chan func(), size),
		done:  make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *QueueDispatcher) run() {
	defer q.wg.Done()
	for {
		select {
		case fn := <-q.queue:
			fn()
		case <-q.done:
			// Deliver what was queued before Close
			for {
				select {
				case fn := <-q.queue:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Dispatch queues fn. Calls after Close are dropped.
func (q *QueueDispatcher) Dispatch(fn func()) {
	select {
	case <-q.done:
		return
	default:
	}
	select {
	case q.queue <- fn:
	case <-q.done:
	}
}

// Close stops the dispatcher after draining queued notifications
func (q *QueueDispatcher) Close() {
	q.once.Do(func() {
		close(q.done)
	})
	q.wg.Wait()
}

type subscription struct {
	id uuid.UUID
	fn Subscriber
}

// Notifier fans events out to subscribers through a Dispatcher
type Notifier struct {
	dispatcher Dispatcher

	mu   sync.RWMutex
	subs []subscription
}

// NewNotifier creates a notifier; a nil dispatcher means InlineDispatcher
func NewNotifier(d Dispatcher) *Notifier {
	if d == nil {
		d = InlineDispatcher{}
	}
	return &Notifier{dispatcher: d}
}

// Subscribe registers fn and returns its subscription id
func (n *Notifier) Subscribe(fn Subscriber) uuid.UUID {
	id := uuid.New()
	n.mu.Lock()
	n.subs = append(n.subs, subscription{id: id, fn: fn})
	n.mu.Unlock()
	return id
}

// SubscribeChan forwards events to ch without blocking; events are dropped
// while ch is full
func (n *Notifier) SubscribeChan(ch chan<- Event) uuid.UUID {
	return n.Subscribe(func(e Event) {
		select {
		case ch <- e:
		default:
		}
	})
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (n *Notifier) Unsubscribe(id uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, s := range n.subs {
		if s.id == id {
			n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
			return
		}
	}
}

func (n *Notifier) publish(events ...Event) {
	if len(events) == 0 {
		return
	}
	n.mu.RLock()
	subs := make([]subscription, len(n.subs))
	copy(subs, n.subs)
	n.mu.RUnlock()
	if len(subs) == 0 {
		return
	}

	n.dispatcher.Dispatch(func() {
		for _, e := range events {
			for _, s := range subs {
				s.fn(e)
			}
		}
	})
}
