package annotations

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReplyInput describes a reply to an existing top-level annotation.
type ReplyInput struct {
	ParentID AnnotationID
	AuthorID UserID
	Text     string
}

func (input ReplyInput) validate() error {
	if input.ParentID == "" {
		return newValidationError("parentId", "must not be empty")
	}
	if input.AuthorID == "" {
		return newValidationError("authorId", "must not be empty")
	}
	return validateText(input.Text)
}

// CreateReply attaches a comment to a live top-level annotation. The reply inherits the
// parent's paper and anchor, and the parent is returned alongside it.
func (s *Service) CreateReply(ctx context.Context, input ReplyInput) (view AnnotationView, err error) {
	startedAt := time.Now()
	defer func() { s.metrics.observe(opCreateReply, startedAt, err) }()

	if s.db == nil {
		return AnnotationView{}, s.fail(opCreateReply, reasonMissingDatabase, errMissingDatabase)
	}
	if s.idProvider == nil {
		return AnnotationView{}, s.fail(opCreateReply, reasonMissingIDProvider, errMissingIDProvider)
	}
	if err := input.validate(); err != nil {
		return AnnotationView{}, s.fail(opCreateReply, reasonInvalidInput, err,
			zap.String(fieldAnnotationID, input.ParentID.String()),
			zap.String(fieldUserID, input.AuthorID.String()))
	}

	var (
		parent Annotation
		reply  Annotation
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, loadErr := s.loadLive(tx, opCreateReply, input.ParentID, false)
		if loadErr != nil {
			return loadErr
		}
		if loaded.IsReply() {
			return s.fail(opCreateReply, reasonNestedReply,
				newValidationError("parentId", "replies cannot be nested"),
				zap.String(fieldAnnotationID, loaded.AnnotationID))
		}
		parentAnchor, decodeErr := decodeAnchor(loaded.AnchorJSON)
		if decodeErr != nil {
			return s.fail(opCreateReply, reasonAnchorDecode, decodeErr, zap.String(fieldAnnotationID, loaded.AnnotationID))
		}

		parentID := AnnotationID(loaded.AnnotationID)
		record, insertErr := s.insertAnnotation(tx, opCreateReply, CreateInput{
			AuthorID: input.AuthorID,
			PaperID:  PaperID(loaded.PaperID),
			Type:     TypeComment,
			Anchor:   parentAnchor,
			Text:     input.Text,
			ParentID: &parentID,
		})
		if insertErr != nil {
			return insertErr
		}
		parent = loaded
		reply = record
		return nil
	})
	if txErr != nil {
		return AnnotationView{}, txErr
	}

	s.publish(EventReplied, reply, reply.CreatedAt)

	authors, err := s.lookupAuthors(ctx, opCreateReply, []string{reply.AuthorID, parent.AuthorID})
	if err != nil {
		return AnnotationView{}, err
	}
	view, err = s.assembleOne(ctx, opCreateReply, s.db.WithContext(ctx), reply, assembleOptions{paperTitles: true})
	if err != nil {
		return AnnotationView{}, err
	}
	view.Parent = &ParentSummary{
		ID:     parent.AnnotationID,
		Text:   parent.Text,
		Author: authorFor(authors, parent.AuthorID),
	}
	return view, nil
}
