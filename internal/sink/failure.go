package sink

import (
	"context"
	"errors"
	"net"
	"strings"
)

// FailureKind classifies why a batch write was rejected.
type FailureKind string

const (
	FailureGeneric       FailureKind = "generic"
	FailureValueTooLarge FailureKind = "value_too_large"
	FailureTextTooLong   FailureKind = "text_too_long"
	FailureTypeMismatch  FailureKind = "type_mismatch"
	FailureNoSuchTable   FailureKind = "no_such_table"
	FailureNoSuchColumn  FailureKind = "no_such_column"
	FailureDuplicateKey  FailureKind = "duplicate_key"
	FailureConnection    FailureKind = "connection"
	FailureTimeout       FailureKind = "timeout"
)

// ClassifyCommon handles failures that look the same on every backend.
// Backends call it after their driver-specific checks come up empty.
func ClassifyCommon(err error) FailureKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailureTimeout
		}
		return FailureConnection
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "bad connection"):
		return FailureConnection
	case strings.Contains(msg, "no such table"),
		strings.Contains(msg, "doesn't exist"),
		strings.Contains(msg, "does not exist") && strings.Contains(msg, "relation"):
		return FailureNoSuchTable
	case strings.Contains(msg, "out of range"),
		strings.Contains(msg, "overflow"):
		return FailureValueTooLarge
	case strings.Contains(msg, "too long"),
		strings.Contains(msg, "truncated"):
		return FailureTextTooLong
	}
	return FailureGeneric
}
