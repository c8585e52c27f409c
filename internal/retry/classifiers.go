package retry

import "strings"

// ClassifyTransport classifies errors from remote API calls (forge and CI).
// Not-found is a distinguishable outcome callers branch on, never retried.
func ClassifyTransport(err error) ErrorType {
	if err == nil {
		return Permanent
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "not found") ||
		strings.Contains(errStr, "404") {
		return Permanent
	}

	// Rate limiting
	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too many requests") {
		return RateLimited
	}

	// Timeouts and network failures are retryable
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "i/o timeout") {
		return Retryable
	}

	// Server-side errors
	if strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") {
		return Retryable
	}

	return Permanent
}

// ClassifyWorker classifies errors from the agent CLI
func ClassifyWorker(err error) ErrorType {
	if err == nil {
		return Permanent
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "capacity") {
		return RateLimited
	}

	// Worker timeouts consume an issue attempt instead of being retried
	// transparently here
	if strings.Contains(errStr, "timed out") {
		return Permanent
	}

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "temporary failure") {
		return Retryable
	}

	return Permanent
}
