package domain

import "errors"

// Gateway error taxonomy. Validation errors are deterministic and never
// retried; transport errors are retried with bounded backoff inside the
// ledger client before surfacing. Backend-specific error vocabularies are
// mapped onto these sentinels at the validator transport boundary and do
// not leak past it.
var (
	ErrMalformedPayload     = errors.New("malformed payload")
	ErrEmptyBatch           = errors.New("empty batch")
	ErrPayloadTooLarge      = errors.New("payload too large")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrUnauthorizedAddress  = errors.New("address outside authorized namespace")
	ErrDuplicateBatch       = errors.New("duplicate batch")
	ErrRejectedByValidator  = errors.New("rejected by validator")
	ErrTransportUnavailable = errors.New("validator transport unavailable")
	ErrTooManyIDs           = errors.New("too many batch ids requested")
	ErrMissedCommits        = errors.New("missed commits")
	ErrSubscriberLag        = errors.New("subscriber lag threshold exceeded")
)

// ErrorCode returns the stable, user-visible code for an error, or
// "internal" for anything outside the taxonomy. API responses carry
// these codes instead of raw backend messages.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrEmptyBatch):
		return "empty_batch"
	case errors.Is(err, ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrUnauthorizedAddress):
		return "unauthorized_address"
	case errors.Is(err, ErrDuplicateBatch):
		return "duplicate_batch"
	case errors.Is(err, ErrRejectedByValidator):
		return "rejected_by_validator"
	case errors.Is(err, ErrTransportUnavailable):
		return "transport_unavailable"
	case errors.Is(err, ErrTooManyIDs):
		return "too_many_ids"
	case errors.Is(err, ErrMissedCommits):
		return "missed_commits"
	case errors.Is(err, ErrSubscriberLag):
		return "subscriber_lag_exceeded"
	default:
		return "internal"
	}
}
