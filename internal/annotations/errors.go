package annotations

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the annotation or parent does not exist or is soft-deleted.
	ErrNotFound = errors.New("annotations: not found")
	// ErrForbidden indicates the requester is not the annotation's author.
	ErrForbidden = errors.New("annotations: forbidden")
	// ErrValidation indicates the input failed shape or length constraints.
	ErrValidation = errors.New("annotations: validation failed")
	// ErrConflict indicates the annotation changed since the caller read it.
	ErrConflict = errors.New("annotations: version conflict")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// ValidationError names the offending field of a rejected input.
type ValidationError struct {
	Field   string
	Message string
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ServiceError carries a stable "<operation>.<reason>" code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew          = "annotations.service.new"
	opCreate              = "annotations.create"
	opUpdate              = "annotations.update"
	opDelete              = "annotations.delete"
	opCreateReply         = "annotations.create_reply"
	opGetAnnotation       = "annotations.get"
	opGetVersions         = "annotations.get_versions"
	opGetPaperAnnotations = "annotations.get_paper_annotations"
	opGetUserAnnotations  = "annotations.get_user_annotations"
)

const (
	reasonMissingDatabase   = "missing_database"
	reasonMissingIDProvider = "missing_id_provider"
	reasonInvalidInput      = "invalid_input"
	reasonNotFound          = "not_found"
	reasonForbidden         = "forbidden"
	reasonConflict          = "conflict"
	reasonNestedReply       = "nested_reply"
	reasonIDGeneration      = "id_generation_failed"
	reasonAnchorEncode      = "anchor_encode_failed"
	reasonAnchorDecode      = "anchor_decode_failed"
	reasonSelectFailed      = "select_failed"
	reasonInsertFailed      = "insert_failed"
	reasonUpdateFailed      = "update_failed"
	reasonSnapshotFailed    = "snapshot_failed"
	reasonQueryFailed       = "query_failed"
	reasonAuthorLookup      = "author_lookup_failed"
	reasonPaperLookup       = "paper_lookup_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// resultLabel classifies an error for metrics.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
