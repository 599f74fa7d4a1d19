package annotations

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// DefaultPageSize is used when a user listing omits its limit.
	DefaultPageSize    = 20
	defaultMaxPageSize = 100

	predicatePaper      = "paper_id = ?"
	predicateAuthor     = "author_id = ?"
	predicateDeleted    = "is_deleted = ?"
	predicateTopLevel   = "parent_id IS NULL"
	predicatePage       = "page = ?"
	predicateType       = "type = ?"
	predicateParentIn   = "parent_id IN ?"
	predicateLiveParent = "(parent_id IS NULL OR parent_id IN (SELECT annotation_id FROM annotations WHERE is_deleted = ?))"

	orderOldestFirst = "created_at ASC, annotation_id ASC"
	orderNewestFirst = "created_at DESC, annotation_id DESC"
)

// predicate is one conjunct of a listing query.
type predicate struct {
	clause string
	args   []interface{}
}

func where(clause string, args ...interface{}) predicate {
	return predicate{clause: clause, args: args}
}

// applyPredicates ANDs every predicate onto the query.
func applyPredicates(db *gorm.DB, predicates []predicate) *gorm.DB {
	for _, p := range predicates {
		db = db.Where(p.clause, p.args...)
	}
	return db
}

// PaperFilter narrows a paper listing. Nil fields do not filter.
type PaperFilter struct {
	Page           *int
	Type           *AnnotationType
	ExcludeReplies bool
}

func (filter PaperFilter) validate() error {
	if filter.Page != nil && *filter.Page < 1 {
		return newValidationError("page", "must be at least 1")
	}
	if filter.Type != nil && !filter.Type.Valid() {
		return newValidationError("type", "unknown annotation type")
	}
	return nil
}

func paperListingPredicates(paperID PaperID, filter PaperFilter) []predicate {
	predicates := []predicate{
		where(predicatePaper, paperID.String()),
		where(predicateDeleted, false),
		where(predicateTopLevel),
	}
	if filter.Page != nil {
		predicates = append(predicates, where(predicatePage, *filter.Page))
	}
	if filter.Type != nil {
		predicates = append(predicates, where(predicateType, string(*filter.Type)))
	}
	return predicates
}

func userListingPredicates(userID UserID) []predicate {
	return []predicate{
		where(predicateAuthor, userID.String()),
		where(predicateDeleted, false),
		where(predicateLiveParent, false),
	}
}

func replyPredicates(parentIDs []string) []predicate {
	return []predicate{
		where(predicateParentIn, parentIDs),
		where(predicateDeleted, false),
	}
}

// PageRequest selects one page of a user listing. Zero values take defaults.
type PageRequest struct {
	Page  int
	Limit int
}

func (s *Service) normalizePageRequest(request PageRequest) (PageRequest, error) {
	if request.Page < 0 {
		return PageRequest{}, newValidationError("page", "must be at least 1")
	}
	if request.Limit < 0 {
		return PageRequest{}, newValidationError("limit", "must be at least 1")
	}
	if request.Page == 0 {
		request.Page = 1
	}
	if request.Limit == 0 {
		request.Limit = DefaultPageSize
	}
	maxPageSize := s.maxPageSize
	if maxPageSize <= 0 {
		maxPageSize = defaultMaxPageSize
	}
	if request.Limit > maxPageSize {
		request.Limit = maxPageSize
	}
	return request, nil
}

// GetPaperAnnotations lists live top-level annotations on a paper, oldest first, each with
// its author, recent versions and live replies.
func (s *Service) GetPaperAnnotations(ctx context.Context, paperID PaperID, filter PaperFilter) (views []AnnotationView, err error) {
	startedAt := time.Now()
	defer func() { s.metrics.observe(opGetPaperAnnotations, startedAt, err) }()

	if s.db == nil {
		return nil, s.fail(opGetPaperAnnotations, reasonMissingDatabase, errMissingDatabase)
	}
	if paperID == "" {
		return nil, s.fail(opGetPaperAnnotations, reasonInvalidInput, newValidationError("paperId", "must not be empty"))
	}
	if err := filter.validate(); err != nil {
		return nil, s.fail(opGetPaperAnnotations, reasonInvalidInput, err, zap.String(fieldPaperID, paperID.String()))
	}

	db := s.db.WithContext(ctx)
	var records []Annotation
	query := applyPredicates(db.Model(&Annotation{}), paperListingPredicates(paperID, filter))
	if err := query.Order(orderOldestFirst).Find(&records).Error; err != nil {
		return nil, s.fail(opGetPaperAnnotations, reasonQueryFailed, err, zap.String(fieldPaperID, paperID.String()))
	}

	return s.assemble(ctx, opGetPaperAnnotations, db, records, assembleOptions{
		replies:  !filter.ExcludeReplies,
		versions: true,
	})
}

// GetUserAnnotations pages through a user's live annotations across papers, newest first.
func (s *Service) GetUserAnnotations(ctx context.Context, userID UserID, request PageRequest) (page UserAnnotationsPage, err error) {
	startedAt := time.Now()
	defer func() { s.metrics.observe(opGetUserAnnotations, startedAt, err) }()

	if s.db == nil {
		return UserAnnotationsPage{}, s.fail(opGetUserAnnotations, reasonMissingDatabase, errMissingDatabase)
	}
	if userID == "" {
		return UserAnnotationsPage{}, s.fail(opGetUserAnnotations, reasonInvalidInput, newValidationError("userId", "must not be empty"))
	}
	normalized, err := s.normalizePageRequest(request)
	if err != nil {
		return UserAnnotationsPage{}, s.fail(opGetUserAnnotations, reasonInvalidInput, err, zap.String(fieldUserID, userID.String()))
	}

	db := s.db.WithContext(ctx)
	predicates := userListingPredicates(userID)

	var total int64
	if err := applyPredicates(db.Model(&Annotation{}), predicates).Count(&total).Error; err != nil {
		return UserAnnotationsPage{}, s.fail(opGetUserAnnotations, reasonQueryFailed, err, zap.String(fieldUserID, userID.String()))
	}

	var records []Annotation
	offset := (normalized.Page - 1) * normalized.Limit
	if err := applyPredicates(db.Model(&Annotation{}), predicates).
		Order(orderNewestFirst).
		Offset(offset).
		Limit(normalized.Limit).
		Find(&records).Error; err != nil {
		return UserAnnotationsPage{}, s.fail(opGetUserAnnotations, reasonQueryFailed, err, zap.String(fieldUserID, userID.String()))
	}

	views, err := s.assemble(ctx, opGetUserAnnotations, db, records, assembleOptions{
		replies:     true,
		paperTitles: true,
	})
	if err != nil {
		return UserAnnotationsPage{}, err
	}

	return UserAnnotationsPage{
		Annotations: views,
		Total:       total,
		Page:        normalized.Page,
		Limit:       normalized.Limit,
		TotalPages:  int(math.Ceil(float64(total) / float64(normalized.Limit))),
	}, nil
}

// GetAnnotation fetches one live annotation assembled like the listings.
func (s *Service) GetAnnotation(ctx context.Context, annotationID AnnotationID) (view AnnotationView, err error) {
	startedAt := time.Now()
	defer func() { s.metrics.observe(opGetAnnotation, startedAt, err) }()

	if s.db == nil {
		return AnnotationView{}, s.fail(opGetAnnotation, reasonMissingDatabase, errMissingDatabase)
	}
	if annotationID == "" {
		return AnnotationView{}, s.fail(opGetAnnotation, reasonInvalidInput, newValidationError("annotationId", "must not be empty"))
	}

	db := s.db.WithContext(ctx)
	record, err := s.loadLive(db, opGetAnnotation, annotationID, false)
	if err != nil {
		return AnnotationView{}, err
	}
	return s.assembleOne(ctx, opGetAnnotation, db, record, assembleOptions{
		replies:     true,
		versions:    true,
		paperTitles: true,
	})
}

type assembleOptions struct {
	replies     bool
	versions    bool
	paperTitles bool
}

func (s *Service) assembleOne(ctx context.Context, operation string, db *gorm.DB, record Annotation, options assembleOptions) (AnnotationView, error) {
	views, err := s.assemble(ctx, operation, db, []Annotation{record}, options)
	if err != nil {
		return AnnotationView{}, err
	}
	return views[0], nil
}

// assemble batches reply, version, author and paper lookups for a page of annotations.
// Replies and Versions are never nil.
func (s *Service) assemble(ctx context.Context, operation string, db *gorm.DB, records []Annotation, options assembleOptions) ([]AnnotationView, error) {
	views := make([]AnnotationView, 0, len(records))
	if len(records) == 0 {
		return views, nil
	}

	annotationIDs := make([]string, 0, len(records))
	for _, record := range records {
		annotationIDs = append(annotationIDs, record.AnnotationID)
	}

	repliesByParent := make(map[string][]Annotation)
	if options.replies {
		var replies []Annotation
		query := applyPredicates(db.Model(&Annotation{}), replyPredicates(annotationIDs))
		if err := query.Order(orderOldestFirst).Find(&replies).Error; err != nil {
			return nil, s.fail(operation, reasonQueryFailed, err)
		}
		for _, reply := range replies {
			repliesByParent[*reply.ParentID] = append(repliesByParent[*reply.ParentID], reply)
		}
	}

	versionsByAnnotation := make(map[string][]AnnotationVersion)
	if options.versions {
		loaded, err := s.recentVersionsFor(db, operation, annotationIDs)
		if err != nil {
			return nil, err
		}
		versionsByAnnotation = loaded
	}

	authorIDs := make([]string, 0, len(records))
	paperIDs := make([]string, 0, len(records))
	for _, record := range records {
		authorIDs = append(authorIDs, record.AuthorID)
		paperIDs = append(paperIDs, record.PaperID)
		for _, reply := range repliesByParent[record.AnnotationID] {
			authorIDs = append(authorIDs, reply.AuthorID)
		}
		for _, version := range versionsByAnnotation[record.AnnotationID] {
			authorIDs = append(authorIDs, version.ChangedByID)
		}
	}
	authors, err := s.lookupAuthors(ctx, operation, authorIDs)
	if err != nil {
		return nil, err
	}
	titles := map[string]string{}
	if options.paperTitles {
		titles, err = s.lookupTitles(ctx, operation, paperIDs)
		if err != nil {
			return nil, err
		}
	}

	for _, record := range records {
		view, err := s.annotationView(operation, record, authors, titles)
		if err != nil {
			return nil, err
		}
		for _, reply := range repliesByParent[record.AnnotationID] {
			replyView, replyErr := s.annotationView(operation, reply, authors, titles)
			if replyErr != nil {
				return nil, replyErr
			}
			view.Replies = append(view.Replies, replyView)
		}
		for _, version := range versionsByAnnotation[record.AnnotationID] {
			versionView, versionErr := s.versionView(operation, version, authors)
			if versionErr != nil {
				return nil, versionErr
			}
			view.Versions = append(view.Versions, versionView)
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) annotationView(operation string, record Annotation, authors map[string]AuthorSummary, titles map[string]string) (AnnotationView, error) {
	anchor, err := decodeAnchor(record.AnchorJSON)
	if err != nil {
		return AnnotationView{}, s.fail(operation, reasonAnchorDecode, err, zap.String(fieldAnnotationID, record.AnnotationID))
	}
	var parentID *string
	if record.ParentID != nil {
		value := *record.ParentID
		parentID = &value
	}
	return AnnotationView{
		ID:         record.AnnotationID,
		PaperID:    record.PaperID,
		PaperTitle: titles[record.PaperID],
		Author:     authorFor(authors, record.AuthorID),
		Type:       record.Type,
		Anchor:     anchor,
		Text:       record.Text,
		Version:    record.Version,
		ParentID:   parentID,
		IsDeleted:  record.IsDeleted,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
		Replies:    []AnnotationView{},
		Versions:   []VersionView{},
	}, nil
}

func (s *Service) lookupAuthors(ctx context.Context, operation string, userIDs []string) (map[string]AuthorSummary, error) {
	if s.authors == nil {
		return map[string]AuthorSummary{}, nil
	}
	authors, err := s.authors.LookupAuthors(ctx, uniqueStrings(userIDs))
	if err != nil {
		return nil, s.fail(operation, reasonAuthorLookup, err)
	}
	if authors == nil {
		authors = map[string]AuthorSummary{}
	}
	return authors, nil
}

func (s *Service) lookupTitles(ctx context.Context, operation string, paperIDs []string) (map[string]string, error) {
	if s.papers == nil {
		return map[string]string{}, nil
	}
	titles, err := s.papers.LookupTitles(ctx, uniqueStrings(paperIDs))
	if err != nil {
		return nil, s.fail(operation, reasonPaperLookup, err)
	}
	if titles == nil {
		titles = map[string]string{}
	}
	return titles, nil
}

// authorFor falls back to an identifier-only summary for unknown authors.
func authorFor(authors map[string]AuthorSummary, userID string) AuthorSummary {
	if summary, ok := authors[userID]; ok {
		return summary
	}
	return AuthorSummary{ID: userID}
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	unique := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		unique = append(unique, value)
	}
	return unique
}
