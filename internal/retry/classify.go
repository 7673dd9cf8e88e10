package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"strings"
)

// ErrNoProvider is the classifier's marker for "no endpoint could be reached".
var ErrNoProvider = errors.New("no provider available")

var transientPatterns = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"broken pipe",
	"client is closed",
	"nonce too low",
	"already known",
	"replacement transaction underpriced",
	"too many requests",
	"no provider available",
	"temporarily unavailable",
}

var providerPatterns = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"broken pipe",
	"client is closed",
	"too many requests",
	"no provider available",
	"temporarily unavailable",
}

// upstreamFailure matches gateway status codes and a bare EOF as whole words, so
// digits inside hashes or amounts do not count.
var upstreamFailure = regexp.MustCompile(`\b(?:429|502|503|504|eof)\b`)

var terminalPatterns = []string{
	"insufficient funds",
	"invalid sender",
	"invalid signature",
	"intrinsic gas too low",
	"exceeds block gas limit",
	"invalid address",
	"wrong network",
	"chain id mismatch",
}

// IsTransient reports whether err belongs to the retryable class: timeouts,
// connection failures, rate limiting, nonce races and provider unavailability.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	if containsAny(msg, terminalPatterns) {
		return false
	}
	if errors.Is(err, ErrNoProvider) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if isEOF(err) {
		return true
	}
	return containsAny(msg, transientPatterns) || upstreamFailure.MatchString(msg)
}

// IsProviderError reports whether err points at the endpoint itself rather than the
// transaction, so a caller should switch to a fresh connection.
func IsProviderError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrNoProvider) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) || isEOF(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return containsAny(msg, providerPatterns) || upstreamFailure.MatchString(msg)
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// IsNonceTooLow reports a stale nonce rejection.
func IsNonceTooLow(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

// IsAlreadyKnown reports that the node already holds the identical transaction.
func IsAlreadyKnown(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already known")
}

func containsAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
