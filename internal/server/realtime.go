package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/margin/backend/internal/annotations"
)

const (
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "margin-backend"
	realtimeBufferSize     = 16
)

// RealtimeMessage is a committed annotation change fanned out to subscribers of one paper.
type RealtimeMessage struct {
	PaperID      string
	EventType    string
	AnnotationID string
	ParentID     string
	Version      int64
	Timestamp    time.Time
}

// RealtimeDispatcher fans annotation events out to per-paper subscribers. Slow subscribers
// drop messages rather than block publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  realtimeBufferSize,
	}
}

// Subscribe registers for a paper's events until ctx is done or cleanup is called.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, paperID string) (<-chan RealtimeMessage, func()) {
	if paperID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(paperID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(paperID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish implements annotations.EventPublisher.
func (d *RealtimeDispatcher) Publish(event annotations.Event) {
	d.publishMessage(RealtimeMessage{
		PaperID:      event.PaperID,
		EventType:    string(event.Type),
		AnnotationID: event.AnnotationID,
		ParentID:     event.ParentID,
		Version:      event.Version,
		Timestamp:    event.OccurredAt,
	})
}

func (d *RealtimeDispatcher) publishMessage(message RealtimeMessage) {
	if message.PaperID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.PaperID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports active subscribers for a paper.
func (d *RealtimeDispatcher) SubscriberCount(paperID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[paperID])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(paperID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[paperID]; !ok {
		d.subscribers[paperID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[paperID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(paperID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[paperID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, paperID)
		}
	}
	d.mu.Unlock()
}
