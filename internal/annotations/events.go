package annotations

import "time"

// EventType names a change notification.
type EventType string

const (
	EventCreated EventType = "annotation-created"
	EventUpdated EventType = "annotation-updated"
	EventDeleted EventType = "annotation-deleted"
	EventReplied EventType = "annotation-replied"
)

// Event is published after a mutation commits.
type Event struct {
	Type         EventType
	PaperID      string
	AnnotationID string
	ParentID     string
	Version      int64
	OccurredAt   time.Time
}

// EventPublisher receives committed change notifications. Publish must not block.
type EventPublisher interface {
	Publish(event Event)
}

func (s *Service) publish(eventType EventType, record Annotation, occurredAt time.Time) {
	if s.events == nil {
		return
	}
	parentID := ""
	if record.ParentID != nil {
		parentID = *record.ParentID
	}
	s.events.Publish(Event{
		Type:         eventType,
		PaperID:      record.PaperID,
		AnnotationID: record.AnnotationID,
		ParentID:     parentID,
		Version:      record.Version,
		OccurredAt:   occurredAt,
	})
}
