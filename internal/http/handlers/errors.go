// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// These constants are the stable machine-readable taxonomy returned in every
// ErrorResponse (via the `fail()` helper). Generic codes mirror common HTTP
// status semantics; domain-specific codes cover pipeline outcomes that a
// status alone cannot convey.
//
// Conventions:
//   - Codes are lowercase snake_case.
//   - Pipeline outcome codes match the router's Reason values one-to-one so a
//     platform adapter sees the same code whether an event was rejected at the
//     edge or deep in the pipeline.

package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Pipeline outcomes:
	ErrCodeValidation         = "validation_error"
	ErrCodeCommunityNotFound  = "community_not_found"
	ErrCodeCooldownActive     = "cooldown_active"
	ErrCodeHandlerUnavailable = "handler_unavailable"
	ErrCodeBatchTooLarge      = "batch_too_large"
	ErrCodeMethodNotAllowed   = "method_not_allowed"
)
