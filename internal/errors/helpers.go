package errors

import (
	"errors"
	"fmt"
)

// Common error constructors for the frequent cases.

// NewUnknownJobTypeError rejects a producer call for an unregistered type.
func NewUnknownJobTypeError(jobType string) *AppError {
	return New(ErrCodeUnknownJobType, fmt.Sprintf("no handler registered for job type: %s", jobType)).
		WithContext("job_type", jobType)
}

// NewInvalidPayloadError marks a job's payload as undecodable. These
// failures are terminal for the job; retrying cannot fix a bad payload.
func NewInvalidPayloadError(jobID string, err error) *AppError {
	return Wrap(err, ErrCodeInvalidPayload, "invalid payload format").
		WithContext("job_id", jobID)
}

// NewWebhookInactiveError rejects ingestion on a disabled or unknown webhook.
func NewWebhookInactiveError(endpoint string) *AppError {
	return New(ErrCodeWebhookInactive, "webhook not found or inactive").
		WithContext("endpoint", endpoint)
}

// NewInvalidSecretError rejects ingestion when the caller's key mismatches.
func NewInvalidSecretError(webhookID string) *AppError {
	return New(ErrCodeInvalidSecret, "invalid secret key").
		WithContext("webhook_id", webhookID)
}

// NewChannelSendError records a per-delivery send failure. Marked
// retryable: the delivery may be re-driven through the queue.
func NewChannelSendError(channelType string, err error) *AppError {
	return WrapRetryable(err, ErrCodeChannelSend, fmt.Sprintf("%s send failed", channelType)).
		WithContext("channel_type", channelType)
}

// NewStoreError wraps a storage failure with operation context.
func NewStoreError(operation string, err error) *AppError {
	return WrapRetryable(err, ErrCodeStoreQuery, fmt.Sprintf("store %s failed", operation)).
		WithContext("operation", operation)
}

// NewNotFoundError creates a not found error with resource context.
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier)
}

// HTTPStatusCode maps error codes to HTTP status codes for the front door.
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeInvalidInput, ErrCodeUnknownJobType, ErrCodeInvalidPayload, ErrCodeInvalidConfig:
		return 400
	case ErrCodeInvalidSecret:
		return 401
	case ErrCodeNotFound, ErrCodeWebhookInactive:
		return 404
	case ErrCodeRateLimit:
		return 429
	case ErrCodeStoreUnavailable, ErrCodeStoreQuery:
		return 503
	case ErrCodeChannelSend:
		if IsRetryable(err) {
			return 502
		}
		return 500
	default:
		return 500
	}
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
