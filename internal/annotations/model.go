package annotations

import (
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

// AnnotationID represents a validated annotation identifier.
type AnnotationID string

// NewAnnotationID validates raw input and returns an AnnotationID.
func NewAnnotationID(rawInput string) (AnnotationID, error) {
	trimmed, err := validateIdentifier("annotationId", rawInput)
	if err != nil {
		return "", err
	}
	return AnnotationID(trimmed), nil
}

// String returns the underlying string identifier.
func (id AnnotationID) String() string {
	return string(id)
}

// PaperID represents a validated paper identifier.
type PaperID string

// NewPaperID validates raw input and returns a PaperID.
func NewPaperID(rawInput string) (PaperID, error) {
	trimmed, err := validateIdentifier("paperId", rawInput)
	if err != nil {
		return "", err
	}
	return PaperID(trimmed), nil
}

// String returns the underlying string identifier.
func (id PaperID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed, err := validateIdentifier("userId", rawInput)
	if err != nil {
		return "", err
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

func validateIdentifier(field, rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", newValidationError(field, "must not be empty")
	}
	if len(trimmed) > maxIdentifierLength {
		return "", newValidationError(field, fmt.Sprintf("exceeds %d characters", maxIdentifierLength))
	}
	return trimmed, nil
}

// AnnotationType enumerates the closed set of annotation kinds.
type AnnotationType string

const (
	TypeHighlight     AnnotationType = "highlight"
	TypeUnderline     AnnotationType = "underline"
	TypeStrikethrough AnnotationType = "strikethrough"
	TypeArea          AnnotationType = "area"
	TypeComment       AnnotationType = "comment"
	TypeNote          AnnotationType = "note"
	TypeInk           AnnotationType = "ink"
)

var knownAnnotationTypes = map[AnnotationType]struct{}{
	TypeHighlight:     {},
	TypeUnderline:     {},
	TypeStrikethrough: {},
	TypeArea:          {},
	TypeComment:       {},
	TypeNote:          {},
	TypeInk:           {},
}

// ParseAnnotationType normalizes raw input and rejects values outside the closed set.
func ParseAnnotationType(rawInput string) (AnnotationType, error) {
	normalized := AnnotationType(strings.ToLower(strings.TrimSpace(rawInput)))
	if _, ok := knownAnnotationTypes[normalized]; !ok {
		return "", newValidationError("type", fmt.Sprintf("unknown annotation type %q", rawInput))
	}
	return normalized, nil
}

// Valid reports whether the type belongs to the closed set.
func (t AnnotationType) Valid() bool {
	_, ok := knownAnnotationTypes[t]
	return ok
}

// Annotation is the persisted annotation row. Replies carry a ParentID.
type Annotation struct {
	AnnotationID string         `gorm:"column:annotation_id;primaryKey;size:190;not null"`
	PaperID      string         `gorm:"column:paper_id;size:190;not null;index:idx_annotations_paper_created,priority:1"`
	AuthorID     string         `gorm:"column:author_id;size:190;not null;index:idx_annotations_author_created,priority:1"`
	Type         AnnotationType `gorm:"column:type;size:32;not null"`
	Page         int            `gorm:"column:page;not null"`
	AnchorJSON   string         `gorm:"column:anchor_json;type:text;not null"`
	Text         string         `gorm:"column:text;type:text;not null"`
	Version      int64          `gorm:"column:version;not null;default:1"`
	ParentID     *string        `gorm:"column:parent_id;size:190;index:idx_annotations_parent"`
	IsDeleted    bool           `gorm:"column:is_deleted;not null;default:false"`
	CreatedAt    time.Time      `gorm:"column:created_at;not null;autoCreateTime:false;index:idx_annotations_paper_created,priority:2;index:idx_annotations_author_created,priority:2"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Annotation) TableName() string {
	return "annotations"
}

// IsReply reports whether the annotation references a parent.
func (a Annotation) IsReply() bool {
	return a.ParentID != nil && *a.ParentID != ""
}

// AnnotationVersion is an append-only snapshot of an annotation taken before an edit.
// Version holds the annotation's version number at the time of the snapshot.
type AnnotationVersion struct {
	VersionID    string    `gorm:"column:version_id;primaryKey;size:190;not null"`
	AnnotationID string    `gorm:"column:annotation_id;size:190;not null;index:idx_annotation_versions_annotation_time,priority:1"`
	Version      int64     `gorm:"column:version;not null"`
	Text         string    `gorm:"column:text;type:text;not null"`
	AnchorJSON   string    `gorm:"column:anchor_json;type:text;not null"`
	ChangedByID  string    `gorm:"column:changed_by_id;size:190;not null"`
	Timestamp    time.Time `gorm:"column:recorded_at;not null;index:idx_annotation_versions_annotation_time,priority:2"`
	IsDeleted    bool      `gorm:"column:is_deleted;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (AnnotationVersion) TableName() string {
	return "annotation_versions"
}
