package router

// Reason is the stable machine-readable code attached to every outcome.
// Codes are part of the API surface; never rename one.
type Reason string

// Outcome reason codes.
const (
	ReasonOK                 Reason = "ok"
	ReasonValidationError    Reason = "validation_error"
	ReasonCommunityNotFound  Reason = "community_not_found"
	ReasonCommandNotFound    Reason = "command_not_found"
	ReasonCommandDisabled    Reason = "command_disabled"
	ReasonRateLimited        Reason = "rate_limited"
	ReasonCooldownActive     Reason = "cooldown_active"
	ReasonHandlerUnavailable Reason = "handler_unavailable"
	ReasonInternalError      Reason = "internal_error"
)

// Terminal reports whether the outcome must not be redelivered: retrying a
// validation failure or an unknown command can never succeed, whereas a
// handler outage or a backing-store failure is worth another attempt.
func (r Reason) Terminal() bool {
	return r != ReasonHandlerUnavailable && r != ReasonInternalError
}
