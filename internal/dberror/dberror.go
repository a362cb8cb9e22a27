// Package dberror classifies Postgres-facing errors so store implementations
// can map them onto the mpcerr.Transient kind instead of returning raw driver
// errors to callers.
package dberror

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorType classifies database errors for appropriate handling.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeConnectivity
	ErrorTypeTimeout
	ErrorTypeAuth
	ErrorTypeQuery
)

// IsTransient returns true if the error is likely transient and worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch Classify(err) {
	case ErrorTypeConnectivity, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// Classify determines the type of database error.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeConnectivity
	}

	errStr := strings.ToLower(err.Error())

	connectivityPatterns := []string{
		"connection refused", "connection reset", "connection closed",
		"no such host", "dial tcp", "dial unix", "eof", "broken pipe",
		"network is unreachable", "no route to host", "i/o timeout",
		"read/write on closed", "client is closing", "server shutdown",
		"pool is closed", "too many connections", "pool exhausted",
	}
	for _, p := range connectivityPatterns {
		if strings.Contains(errStr, p) {
			return ErrorTypeConnectivity
		}
	}

	timeoutPatterns := []string{"timeout", "deadline exceeded", "context deadline", "timed out", "statement timeout"}
	for _, p := range timeoutPatterns {
		if strings.Contains(errStr, p) {
			return ErrorTypeTimeout
		}
	}

	authPatterns := []string{"unauthorized", "authentication failed", "invalid credentials", "password authentication", "access denied", "permission denied"}
	for _, p := range authPatterns {
		if strings.Contains(errStr, p) {
			return ErrorTypeAuth
		}
	}

	queryPatterns := []string{"syntax error", "invalid query", "unknown column", "undefined column", "relation", "does not exist"}
	for _, p := range queryPatterns {
		if strings.Contains(errStr, p) {
			return ErrorTypeQuery
		}
	}

	return ErrorTypeUnknown
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), the signal stores use to turn a racing insert
// into a Conflict instead of a Transient error.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "23505") || strings.Contains(strings.ToLower(err.Error()), "duplicate key value violates unique constraint")
}

// IsNoRows reports whether err indicates a query found no matching row.
func IsNoRows(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "no rows in result set")
}
