package service

import (
	"context"
	"errors"
	"strings"

	"github.com/dialogkernel/driver/internal/domain/entity"
)

// ClassifyLLMError is the C1 Error Classifier (§4.3): it turns a raw
// provider/transport error into the driver-visible taxonomy so the Drive
// Loop (C6) can decide whether to retry, surface a rejection, or give up.
//
//   - context.Canceled / context.DeadlineExceeded -> Interrupted{reason}
//   - rate limits, timeouts, 5xx, connection resets -> LlmRetriable
//   - auth failures, malformed requests, content-policy blocks -> LlmRejected
//   - anything else unrecognized -> LlmFatal
//
// reason names the stop reason the caller believes is in effect; it is only
// consulted when the error turns out to be a cancellation, so the resulting
// Interrupted{reason} carries it through instead of defaulting blindly.
func ClassifyLLMError(err error, reason entity.StopReason) *entity.DriverError {
	if err == nil {
		return nil
	}

	var de *entity.DriverError
	if errors.As(err, &de) {
		return de
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return entity.NewInterrupted(orSystemStop(reason))
	}

	errStr := strings.ToLower(err.Error())

	for _, p := range []string{"context canceled", "context deadline exceeded"} {
		if strings.Contains(errStr, p) {
			return entity.NewInterrupted(orSystemStop(reason))
		}
	}

	rejectPatterns := []string{
		"unauthorized", "invalid api key", "403", "401", "authentication", "permission denied",
		"bad request", "invalid argument", "invalid_request", "model not found", "400",
		"content filter", "content policy", "safety", "blocked", "harmful",
	}
	for _, p := range rejectPatterns {
		if strings.Contains(errStr, p) {
			return &entity.DriverError{Kind: entity.KindLlmRejected, Msg: "llm rejected the request", Err: err}
		}
	}

	retryPatterns := []string{
		"timeout", "deadline exceeded", "connection reset", "connection refused", "eof",
		"server error", "502", "503", "504", "529", "rate limit", "too many requests",
		"overloaded", "temporarily unavailable",
	}
	for _, p := range retryPatterns {
		if strings.Contains(errStr, p) {
			return &entity.DriverError{Kind: entity.KindLlmRetriable, Msg: "transient llm error", Err: err}
		}
	}

	return &entity.DriverError{Kind: entity.KindLlmFatal, Msg: "unclassified llm error", Err: err}
}

func orSystemStop(reason entity.StopReason) entity.StopReason {
	if reason == "" {
		return entity.StopSystem
	}
	return reason
}

// IsRetriable reports whether the classifier would retry this error.
func IsRetriable(err error) bool {
	de := ClassifyLLMError(err, "")
	return de != nil && de.Kind == entity.KindLlmRetriable
}
