package annotations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequentialIDGenerator struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (g *sequentialIDGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s-%03d", g.prefix, g.next), nil
}

type failingIDGenerator struct{}

func (failingIDGenerator) NewID() (string, error) {
	return "", errors.New("exhausted ids")
}

// steppingClock advances one second per reading so rows get distinct timestamps.
type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{current: time.Unix(1700000000, 0).UTC()}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

type staticAuthorDirectory struct {
	authors map[string]AuthorSummary
	calls   int
}

func (d *staticAuthorDirectory) LookupAuthors(_ context.Context, userIDs []string) (map[string]AuthorSummary, error) {
	d.calls++
	found := make(map[string]AuthorSummary, len(userIDs))
	for _, id := range userIDs {
		if summary, ok := d.authors[id]; ok {
			found[id] = summary
		}
	}
	return found, nil
}

type staticPaperDirectory struct {
	titles map[string]string
}

func (d *staticPaperDirectory) LookupTitles(_ context.Context, paperIDs []string) (map[string]string, error) {
	found := make(map[string]string, len(paperIDs))
	for _, id := range paperIDs {
		if title, ok := d.titles[id]; ok {
			found[id] = title
		}
	}
	return found, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

type testServiceOptions struct {
	ids            IDProvider
	metrics        *Metrics
	events         EventPublisher
	recentVersions int
	maxPageSize    int
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:margin_annotations_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&Annotation{}, &AnnotationVersion{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, options testServiceOptions) (*Service, *gorm.DB) {
	t.Helper()

	db := newTestDatabase(t)
	ids := options.ids
	if ids == nil {
		ids = &sequentialIDGenerator{prefix: "id"}
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      newSteppingClock().Now,
		IDProvider: ids,
		Authors: &staticAuthorDirectory{authors: map[string]AuthorSummary{
			"user-1": {ID: "user-1", DisplayName: "Ada Lovelace", Email: "ada@example.com"},
			"user-2": {ID: "user-2", DisplayName: "Alan Turing", Email: "alan@example.com"},
		}},
		Papers: &staticPaperDirectory{titles: map[string]string{
			"paper-1": "On Computable Numbers",
			"paper-2": "Notes on the Analytical Engine",
		}},
		Events:         options.events,
		Metrics:        options.metrics,
		RecentVersions: options.recentVersions,
		MaxPageSize:    options.maxPageSize,
	})
	if err != nil {
		t.Fatalf("failed to construct annotations service: %v", err)
	}
	return service, db
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustPaperID(t *testing.T, value string) PaperID {
	t.Helper()
	id, err := NewPaperID(value)
	if err != nil {
		t.Fatalf("unexpected paper id error: %v", err)
	}
	return id
}

func mustAnnotationID(t *testing.T, value string) AnnotationID {
	t.Helper()
	id, err := NewAnnotationID(value)
	if err != nil {
		t.Fatalf("unexpected annotation id error: %v", err)
	}
	return id
}

func sampleAnchor(page int) Anchor {
	return Anchor{
		Page:         page,
		Coordinates:  Coordinates{X: 10, Y: 20, Width: 100, Height: 50},
		SelectedText: "Figure 2",
	}
}

func mustCreate(t *testing.T, service *Service, input CreateInput) AnnotationView {
	t.Helper()
	view, err := service.Create(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return view
}

func createHighlight(t *testing.T, service *Service, paper, author string, page int, text string) AnnotationView {
	t.Helper()
	return mustCreate(t, service, CreateInput{
		AuthorID: mustUserID(t, author),
		PaperID:  mustPaperID(t, paper),
		Type:     TypeHighlight,
		Anchor:   sampleAnchor(page),
		Text:     text,
	})
}

func stringPointer(value string) *string {
	return &value
}

func errorCode(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}
