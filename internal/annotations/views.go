package annotations

import (
	"context"
	"time"
)

// AuthorSummary is the public identity attached to annotations and versions.
type AuthorSummary struct {
	ID          string
	DisplayName string
	Email       string
	AvatarURL   string
}

// AuthorDirectory resolves author summaries for user identifiers.
type AuthorDirectory interface {
	LookupAuthors(ctx context.Context, userIDs []string) (map[string]AuthorSummary, error)
}

// PaperDirectory resolves paper titles for paper identifiers.
type PaperDirectory interface {
	LookupTitles(ctx context.Context, paperIDs []string) (map[string]string, error)
}

// ParentSummary is attached to a freshly created reply.
type ParentSummary struct {
	ID     string
	Text   string
	Author AuthorSummary
}

// VersionView is a version ledger entry with the editor's identity.
type VersionView struct {
	ID           string
	AnnotationID string
	Version      int64
	Text         string
	Anchor       Anchor
	ChangedBy    AuthorSummary
	Timestamp    time.Time
}

// AnnotationView is an annotation assembled with its author, replies, and recent history.
type AnnotationView struct {
	ID         string
	PaperID    string
	PaperTitle string
	Author     AuthorSummary
	Type       AnnotationType
	Anchor     Anchor
	Text       string
	Version    int64
	ParentID   *string
	Parent     *ParentSummary
	IsDeleted  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Replies    []AnnotationView
	Versions   []VersionView
}

// UserAnnotationsPage is one page of a user's annotations across papers.
type UserAnnotationsPage struct {
	Annotations []AnnotationView
	Total       int64
	Page        int
	Limit       int
	TotalPages  int
}
