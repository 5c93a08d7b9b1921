package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches sentinel domain errors by code and message so wrapped copies
// created with NewDomainErrorWithCause still satisfy errors.Is.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// Wrap returns a copy of e carrying err as its cause.
func (e *DomainError) Wrap(err error) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, Err: err}
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeUnavailable      = "UNAVAILABLE"
)

// Validation errors
var (
	ErrMissingRequiredField    = NewDomainError(ErrCodeValidation, "missing required field")
	ErrInvalidPermission       = NewDomainError(ErrCodeValidation, "invalid permission mode")
	ErrRoleIDsRequired         = NewDomainError(ErrCodeValidation, "role_ids are required when permission is role")
	ErrInvalidSyncKind         = NewDomainError(ErrCodeValidation, "invalid sync kind")
	ErrInvalidDocumentStatus   = NewDomainError(ErrCodeValidation, "invalid document status")
	ErrInvalidIngestionStatus  = NewDomainError(ErrCodeValidation, "invalid ingestion job status")
	ErrContentHashMismatch     = NewDomainError(ErrCodeValidation, "stored content does not match recorded hash")
	ErrUnsupportedDocumentKind = NewDomainError(ErrCodeValidation, "unsupported document kind")
)

// Not found errors
var (
	ErrKnowledgeBaseNotFound = NewDomainError(ErrCodeNotFound, "knowledge base not found")
	ErrDocumentNotFound      = NewDomainError(ErrCodeNotFound, "document not found")
	ErrTenantNotFound        = NewDomainError(ErrCodeNotFound, "tenant not found")
	ErrUserNotFound          = NewDomainError(ErrCodeNotFound, "user not found")
	ErrAPIKeyNotFound        = NewDomainError(ErrCodeNotFound, "api key not found")
	ErrIngestionJobNotFound  = NewDomainError(ErrCodeNotFound, "ingestion job not found")
)

// Already exists errors
var (
	ErrTenantAlreadyExists   = NewDomainError(ErrCodeAlreadyExists, "tenant already exists")
	ErrUserAlreadyExists     = NewDomainError(ErrCodeAlreadyExists, "user already exists")
	ErrDocumentAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "document with this remote identity already exists")
)

// Authorization errors
var (
	ErrAPIKeyRevoked = NewDomainError(ErrCodeUnauthorized, "api key has been revoked")
	ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid api key")
	ErrAccessDenied  = NewDomainError(ErrCodeForbidden, "no authorization for this knowledge base")
	ErrOwnerOnly     = NewDomainError(ErrCodeForbidden, "only the owner of the knowledge base is authorized")
)

// Sync run errors. ConfigurationError and AuthError abort a run; transient
// provider errors degrade it to a partial failure; cancellation is a
// deliberate terminal state, not a failure.
var (
	ErrSyncConfiguration = NewDomainError(ErrCodeValidation, "sync configuration error")
	ErrSyncAuth          = NewDomainError(ErrCodeUnauthorized, "sync provider authentication failed")
	ErrSyncTransient     = NewDomainError(ErrCodeUnavailable, "sync provider temporarily unavailable")
	ErrSyncCancelled     = NewDomainError(ErrCodeInvalidOperation, "sync cancelled")
	ErrSyncNotEnabled    = NewDomainError(ErrCodeInvalidOperation, "sync is not enabled for this knowledge base")
	ErrAlreadyRunning    = NewDomainError(ErrCodeConflict, "sync already running for this knowledge base")
	ErrNotRunning        = NewDomainError(ErrCodeConflict, "no sync running for this knowledge base")
	ErrSyncInProgress    = NewDomainError(ErrCodeConflict, "knowledge base is being synchronized, try again later")
)

// Storage errors
var (
	ErrStorageOperationFail = NewDomainError(ErrCodeInternalError, "storage operation failed")
	ErrStorageNotConfigured = NewDomainError(ErrCodeUnavailable, "blob storage is not configured")
)

// ReconciliationError records a single change record that could not be
// applied. It is counted by the run and never aborts sibling records.
type ReconciliationError struct {
	RemoteID string
	Op       ChangeOp
	Err      error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile %s %s: %v", e.Op, e.RemoteID, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}
