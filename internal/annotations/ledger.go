package annotations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	queryVersionsForAnnotation  = "annotation_id = ? AND is_deleted = ?"
	queryVersionsForAnnotations = "annotation_id IN ? AND is_deleted = ?"
	orderVersionsNewestFirst    = "recorded_at DESC, version DESC"
)

// appendSnapshot records the annotation's current text, anchor and version before an edit
// overwrites them. It must run inside the same transaction as the edit and before it.
// The ledger exposes no update or delete path.
func (s *Service) appendSnapshot(tx *gorm.DB, operation string, current Annotation, changedBy UserID, recordedAt time.Time) error {
	versionID, err := s.idProvider.NewID()
	if err != nil {
		return s.fail(operation, reasonIDGeneration, err, zap.String(fieldAnnotationID, current.AnnotationID))
	}
	snapshot := AnnotationVersion{
		VersionID:    versionID,
		AnnotationID: current.AnnotationID,
		Version:      current.Version,
		Text:         current.Text,
		AnchorJSON:   current.AnchorJSON,
		ChangedByID:  changedBy.String(),
		Timestamp:    recordedAt,
		IsDeleted:    false,
	}
	if err := tx.Create(&snapshot).Error; err != nil {
		return s.fail(operation, reasonSnapshotFailed, err,
			zap.String(fieldAnnotationID, current.AnnotationID),
			zap.Int64("version", current.Version))
	}
	s.metrics.snapshotAppended()
	return nil
}

// GetVersions returns the annotation's history newest first. Soft-deleted annotations keep
// their history; an identifier that never existed is ErrNotFound.
func (s *Service) GetVersions(ctx context.Context, annotationID AnnotationID) (versions []VersionView, err error) {
	startedAt := time.Now()
	defer func() { s.metrics.observe(opGetVersions, startedAt, err) }()

	if s.db == nil {
		return nil, s.fail(opGetVersions, reasonMissingDatabase, errMissingDatabase)
	}
	if annotationID == "" {
		return nil, s.fail(opGetVersions, reasonInvalidInput, newValidationError("annotationId", "must not be empty"))
	}

	db := s.db.WithContext(ctx)
	var owner Annotation
	lookupErr := db.Select(fieldAnnotationID).Where(queryAnnotationID, annotationID.String()).Take(&owner).Error
	if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		return nil, s.fail(opGetVersions, reasonNotFound,
			fmt.Errorf("%w: annotation %s", ErrNotFound, annotationID),
			zap.String(fieldAnnotationID, annotationID.String()))
	}
	if lookupErr != nil {
		return nil, s.fail(opGetVersions, reasonSelectFailed, lookupErr, zap.String(fieldAnnotationID, annotationID.String()))
	}

	var records []AnnotationVersion
	if err := db.Where(queryVersionsForAnnotation, annotationID.String(), false).
		Order(orderVersionsNewestFirst).
		Find(&records).Error; err != nil {
		return nil, s.fail(opGetVersions, reasonQueryFailed, err, zap.String(fieldAnnotationID, annotationID.String()))
	}

	editorIDs := make([]string, 0, len(records))
	for _, record := range records {
		editorIDs = append(editorIDs, record.ChangedByID)
	}
	authors, err := s.lookupAuthors(ctx, opGetVersions, editorIDs)
	if err != nil {
		return nil, err
	}

	versions = make([]VersionView, 0, len(records))
	for _, record := range records {
		view, viewErr := s.versionView(opGetVersions, record, authors)
		if viewErr != nil {
			return nil, viewErr
		}
		versions = append(versions, view)
	}
	return versions, nil
}

// recentVersionsFor loads up to recentVersions entries per annotation, newest first.
func (s *Service) recentVersionsFor(db *gorm.DB, operation string, annotationIDs []string) (map[string][]AnnotationVersion, error) {
	grouped := make(map[string][]AnnotationVersion, len(annotationIDs))
	if len(annotationIDs) == 0 {
		return grouped, nil
	}
	var records []AnnotationVersion
	if err := db.Where(queryVersionsForAnnotations, annotationIDs, false).
		Order(orderVersionsNewestFirst).
		Find(&records).Error; err != nil {
		return nil, s.fail(operation, reasonQueryFailed, err)
	}
	for _, record := range records {
		if len(grouped[record.AnnotationID]) >= s.recentVersionLimit() {
			continue
		}
		grouped[record.AnnotationID] = append(grouped[record.AnnotationID], record)
	}
	return grouped, nil
}

func (s *Service) recentVersionLimit() int {
	if s.recentVersions <= 0 {
		return defaultRecentVersions
	}
	return s.recentVersions
}

func (s *Service) versionView(operation string, record AnnotationVersion, authors map[string]AuthorSummary) (VersionView, error) {
	anchor, err := decodeAnchor(record.AnchorJSON)
	if err != nil {
		return VersionView{}, s.fail(operation, reasonAnchorDecode, err, zap.String(fieldAnnotationID, record.AnnotationID))
	}
	return VersionView{
		ID:           record.VersionID,
		AnnotationID: record.AnnotationID,
		Version:      record.Version,
		Text:         record.Text,
		Anchor:       anchor,
		ChangedBy:    authorFor(authors, record.ChangedByID),
		Timestamp:    record.Timestamp,
	}, nil
}
