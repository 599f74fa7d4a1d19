package annotations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// MaxTextLength bounds annotation text in characters.
	MaxTextLength = 5000

	defaultRecentVersions = 5

	fieldAnnotationID = "annotation_id"
	fieldPaperID      = "paper_id"
	fieldUserID       = "user_id"

	queryAnnotationID        = "annotation_id = ?"
	queryAnnotationIDVersion = "annotation_id = ? AND version = ?"
	queryAnnotationIDLive    = "annotation_id = ? AND is_deleted = ?"
	queryParentID            = "parent_id = ?"
)

var noOpLogger = zap.NewNop()

type ServiceConfig struct {
	Database       *gorm.DB
	Clock          func() time.Time
	IDProvider     IDProvider
	Logger         *zap.Logger
	Authors        AuthorDirectory
	Papers         PaperDirectory
	Events         EventPublisher
	Metrics        *Metrics
	RecentVersions int
	MaxPageSize    int
}

// Service owns the annotation tree and its version ledger.
type Service struct {
	db             *gorm.DB
	clock          func() time.Time
	idProvider     IDProvider
	logger         *zap.Logger
	authors        AuthorDirectory
	papers         PaperDirectory
	events         EventPublisher
	metrics        *Metrics
	recentVersions int
	maxPageSize    int
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, reasonMissingIDProvider, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	recentVersions := cfg.RecentVersions
	if recentVersions <= 0 {
		recentVersions = defaultRecentVersions
	}

	maxPageSize := cfg.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = defaultMaxPageSize
	}

	return &Service{
		db:             cfg.Database,
		clock:          clock,
		idProvider:     cfg.IDProvider,
		logger:         logger,
		authors:        cfg.Authors,
		papers:         cfg.Papers,
		events:         cfg.Events,
		metrics:        cfg.Metrics,
		recentVersions: recentVersions,
		maxPageSize:    maxPageSize,
	}, nil
}

// CreateInput describes a new annotation. A non-nil ParentID makes it a reply.
type CreateInput struct {
	AuthorID UserID
	PaperID  PaperID
	Type     AnnotationType
	Anchor   Anchor
	Text     string
	ParentID *AnnotationID
}

func (input CreateInput) validate() error {
	if input.AuthorID == "" {
		return newValidationError("authorId", "must not be empty")
	}
	if input.PaperID == "" {
		return newValidationError("paperId", "must not be empty")
	}
	if input.ParentID == nil && !input.Type.Valid() {
		return newValidationError("type", fmt.Sprintf("unknown annotation type %q", input.Type))
	}
	if err := input.Anchor.Validate(); err != nil {
		return err
	}
	return validateText(input.Text)
}

// UpdateInput carries the optional replacements for an annotation's text and anchor.
// ExpectedVersion, when set, must match the stored version.
type UpdateInput struct {
	AnnotationID    AnnotationID
	RequesterID     UserID
	Text            *string
	Anchor          *Anchor
	ExpectedVersion *int64
}

func (input UpdateInput) validate() error {
	if input.AnnotationID == "" {
		return newValidationError("annotationId", "must not be empty")
	}
	if input.RequesterID == "" {
		return newValidationError("userId", "must not be empty")
	}
	if input.Text == nil && input.Anchor == nil {
		return newValidationError("text", "text or anchor is required")
	}
	if input.Text != nil {
		if err := validateText(*input.Text); err != nil {
			return err
		}
	}
	if input.Anchor != nil {
		if err := input.Anchor.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return newValidationError("text", "must not be empty")
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return newValidationError("text", fmt.Sprintf("must be at most %d characters", MaxTextLength))
	}
	return nil
}

// Create persists a new annotation at version 1.
func (s *Service) Create(ctx context.Context, input CreateInput) (view AnnotationView, err error) {
	startedAt := time.Now()
	defer func() { s.metrics.observe(opCreate, startedAt, err) }()

	if s.db == nil {
		return AnnotationView{}, s.fail(opCreate, reasonMissingDatabase, errMissingDatabase)
	}
	if s.idProvider == nil {
		return AnnotationView{}, s.fail(opCreate, reasonMissingIDProvider, errMissingIDProvider)
	}
	if err := input.validate(); err != nil {
		return AnnotationView{}, s.fail(opCreate, reasonInvalidInput, err,
			zap.String(fieldPaperID, input.PaperID.String()),
			zap.String(fieldUserID, input.AuthorID.String()))
	}

	var created Annotation
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, insertErr := s.insertAnnotation(tx, opCreate, input)
		if insertErr != nil {
			return insertErr
		}
		created = record
		return nil
	})
	if txErr != nil {
		return AnnotationView{}, txErr
	}

	eventType := EventCreated
	if created.IsReply() {
		eventType = EventReplied
	}
	s.publish(eventType, created, created.CreatedAt)

	return s.assembleOne(ctx, opCreate, s.db.WithContext(ctx), created, assembleOptions{paperTitles: true})
}

// insertAnnotation is the single insert path shared by Create and CreateReply.
func (s *Service) insertAnnotation(tx *gorm.DB, operation string, input CreateInput) (Annotation, error) {
	annotationType := input.Type
	var parentID *string
	if input.ParentID != nil {
		parent, err := s.loadLive(tx, operation, *input.ParentID, false)
		if err != nil {
			return Annotation{}, err
		}
		if parent.IsReply() {
			return Annotation{}, s.fail(operation, reasonNestedReply,
				newValidationError("parentId", "replies cannot be nested"),
				zap.String(fieldAnnotationID, parent.AnnotationID))
		}
		if parent.PaperID != input.PaperID.String() {
			return Annotation{}, s.fail(operation, reasonInvalidInput,
				newValidationError("parentId", "parent belongs to a different paper"),
				zap.String(fieldAnnotationID, parent.AnnotationID))
		}
		annotationType = TypeComment
		value := parent.AnnotationID
		parentID = &value
	}

	annotationID, err := s.idProvider.NewID()
	if err != nil {
		return Annotation{}, s.fail(operation, reasonIDGeneration, err)
	}
	anchorJSON, err := encodeAnchor(input.Anchor)
	if err != nil {
		return Annotation{}, s.fail(operation, reasonAnchorEncode, err)
	}

	now := s.now()
	record := Annotation{
		AnnotationID: annotationID,
		PaperID:      input.PaperID.String(),
		AuthorID:     input.AuthorID.String(),
		Type:         annotationType,
		Page:         input.Anchor.Page,
		AnchorJSON:   anchorJSON,
		Text:         input.Text,
		Version:      1,
		ParentID:     parentID,
		IsDeleted:    false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.Create(&record).Error; err != nil {
		return Annotation{}, s.fail(operation, reasonInsertFailed, err,
			zap.String(fieldAnnotationID, annotationID),
			zap.String(fieldPaperID, record.PaperID))
	}
	return record, nil
}

// Update replaces text and/or anchor. Supplied text or a changed anchor appends the pre-edit
// state to the version ledger and bumps the version by one, inside a single transaction guarded
// by a compare-and-swap on the version column. Replies cannot move; a parent's new anchor is
// copied onto its replies in the same transaction.
func (s *Service) Update(ctx context.Context, input UpdateInput) (view AnnotationView, err error) {
	startedAt := time.Now()
	defer func() { s.metrics.observe(opUpdate, startedAt, err) }()

	if s.db == nil {
		return AnnotationView{}, s.fail(opUpdate, reasonMissingDatabase, errMissingDatabase)
	}
	if s.idProvider == nil {
		return AnnotationView{}, s.fail(opUpdate, reasonMissingIDProvider, errMissingIDProvider)
	}
	if err := input.validate(); err != nil {
		return AnnotationView{}, s.fail(opUpdate, reasonInvalidInput, err,
			zap.String(fieldAnnotationID, input.AnnotationID.String()))
	}

	var updated Annotation
	changed := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, loadErr := s.loadLive(tx, opUpdate, input.AnnotationID, true)
		if loadErr != nil {
			return loadErr
		}
		if existing.AuthorID != input.RequesterID.String() {
			return s.fail(opUpdate, reasonForbidden,
				fmt.Errorf("%w: requester is not the author", ErrForbidden),
				zap.String(fieldAnnotationID, existing.AnnotationID),
				zap.String(fieldUserID, input.RequesterID.String()))
		}
		if input.ExpectedVersion != nil && *input.ExpectedVersion != existing.Version {
			return s.fail(opUpdate, reasonConflict,
				fmt.Errorf("%w: expected version %d, stored %d", ErrConflict, *input.ExpectedVersion, existing.Version),
				zap.String(fieldAnnotationID, existing.AnnotationID))
		}

		currentAnchor, decodeErr := decodeAnchor(existing.AnchorJSON)
		if decodeErr != nil {
			return s.fail(opUpdate, reasonAnchorDecode, decodeErr, zap.String(fieldAnnotationID, existing.AnnotationID))
		}

		nextText := existing.Text
		if input.Text != nil {
			nextText = *input.Text
			changed = true
		}
		nextAnchor := currentAnchor
		anchorChanged := input.Anchor != nil && !input.Anchor.Equal(currentAnchor)
		if anchorChanged {
			if existing.IsReply() {
				return s.fail(opUpdate, reasonInvalidInput,
					newValidationError("anchor", "replies inherit the parent's anchor"),
					zap.String(fieldAnnotationID, existing.AnnotationID))
			}
			nextAnchor = *input.Anchor
			changed = true
		}
		if !changed {
			updated = existing
			return nil
		}

		now := s.now()
		if snapshotErr := s.appendSnapshot(tx, opUpdate, existing, input.RequesterID, now); snapshotErr != nil {
			return snapshotErr
		}

		anchorJSON, encodeErr := encodeAnchor(nextAnchor)
		if encodeErr != nil {
			return s.fail(opUpdate, reasonAnchorEncode, encodeErr, zap.String(fieldAnnotationID, existing.AnnotationID))
		}
		nextVersion := existing.Version + 1
		result := tx.Model(&Annotation{}).
			Where(queryAnnotationIDVersion, existing.AnnotationID, existing.Version).
			Updates(map[string]interface{}{
				"text":        nextText,
				"anchor_json": anchorJSON,
				"page":        nextAnchor.Page,
				"version":     nextVersion,
				"updated_at":  now,
			})
		if result.Error != nil {
			return s.fail(opUpdate, reasonUpdateFailed, result.Error, zap.String(fieldAnnotationID, existing.AnnotationID))
		}
		if result.RowsAffected == 0 {
			return s.fail(opUpdate, reasonConflict,
				fmt.Errorf("%w: version %d was superseded", ErrConflict, existing.Version),
				zap.String(fieldAnnotationID, existing.AnnotationID))
		}
		if anchorChanged {
			replyResult := tx.Model(&Annotation{}).
				Where(queryParentID, existing.AnnotationID).
				Updates(map[string]interface{}{
					"anchor_json": anchorJSON,
					"page":        nextAnchor.Page,
				})
			if replyResult.Error != nil {
				return s.fail(opUpdate, reasonUpdateFailed, replyResult.Error, zap.String(fieldAnnotationID, existing.AnnotationID))
			}
		}

		updated = existing
		updated.Text = nextText
		updated.AnchorJSON = anchorJSON
		updated.Page = nextAnchor.Page
		updated.Version = nextVersion
		updated.UpdatedAt = now
		return nil
	})
	if txErr != nil {
		return AnnotationView{}, txErr
	}

	if changed {
		s.publish(EventUpdated, updated, updated.UpdatedAt)
	}

	return s.assembleOne(ctx, opUpdate, s.db.WithContext(ctx), updated, assembleOptions{
		replies:     true,
		versions:    true,
		paperTitles: true,
	})
}

// Delete soft-deletes an annotation. Replies and versions are left untouched.
func (s *Service) Delete(ctx context.Context, annotationID AnnotationID, requesterID UserID) (err error) {
	startedAt := time.Now()
	defer func() { s.metrics.observe(opDelete, startedAt, err) }()

	if s.db == nil {
		return s.fail(opDelete, reasonMissingDatabase, errMissingDatabase)
	}
	if annotationID == "" {
		return s.fail(opDelete, reasonInvalidInput, newValidationError("annotationId", "must not be empty"))
	}
	if requesterID == "" {
		return s.fail(opDelete, reasonInvalidInput, newValidationError("userId", "must not be empty"))
	}

	var deleted Annotation
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, loadErr := s.loadLive(tx, opDelete, annotationID, true)
		if loadErr != nil {
			return loadErr
		}
		if existing.AuthorID != requesterID.String() {
			return s.fail(opDelete, reasonForbidden,
				fmt.Errorf("%w: requester is not the author", ErrForbidden),
				zap.String(fieldAnnotationID, existing.AnnotationID),
				zap.String(fieldUserID, requesterID.String()))
		}

		now := s.now()
		result := tx.Model(&Annotation{}).
			Where(queryAnnotationIDLive, existing.AnnotationID, false).
			Updates(map[string]interface{}{
				"is_deleted": true,
				"updated_at": now,
			})
		if result.Error != nil {
			return s.fail(opDelete, reasonUpdateFailed, result.Error, zap.String(fieldAnnotationID, existing.AnnotationID))
		}
		if result.RowsAffected == 0 {
			return s.fail(opDelete, reasonNotFound,
				fmt.Errorf("%w: annotation %s", ErrNotFound, existing.AnnotationID),
				zap.String(fieldAnnotationID, existing.AnnotationID))
		}
		deleted = existing
		deleted.IsDeleted = true
		deleted.UpdatedAt = now
		return nil
	})
	if txErr != nil {
		return txErr
	}

	s.publish(EventDeleted, deleted, deleted.UpdatedAt)
	return nil
}

// loadLive reads an annotation and reports ErrNotFound when it is missing or soft-deleted.
func (s *Service) loadLive(tx *gorm.DB, operation string, annotationID AnnotationID, lock bool) (Annotation, error) {
	query := tx
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var record Annotation
	err := query.Where(queryAnnotationID, annotationID.String()).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && record.IsDeleted) {
		return Annotation{}, s.fail(operation, reasonNotFound,
			fmt.Errorf("%w: annotation %s", ErrNotFound, annotationID),
			zap.String(fieldAnnotationID, annotationID.String()))
	}
	if err != nil {
		return Annotation{}, s.fail(operation, reasonSelectFailed, err, zap.String(fieldAnnotationID, annotationID.String()))
	}
	return record, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// fail logs the failure once and returns the coded service error.
func (s *Service) fail(operation, reason string, cause error, fields ...zap.Field) error {
	s.logError(operation, reason, cause, fields...)
	return newServiceError(operation, reason, cause)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	switch resultLabel(err) {
	case "error":
		s.loggerOrDefault().Error("annotations service error", attrs...)
	default:
		s.loggerOrDefault().Debug("annotations request rejected", attrs...)
	}
}
