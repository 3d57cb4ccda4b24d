// Package apperr defines the core's typed error taxonomy (spec §7) and maps
// each sentinel to its wire error code (spec §6).
package apperr

import (
	"errors"
	"fmt"

	"github.com/chainreview/core/pkg/protocol"
)

// Sentinel errors. Wrap with fmt.Errorf("%w: ...", apperr.X) to attach detail
// while keeping errors.Is resolution intact.
var (
	Cancelled          = errors.New("cancelled")
	Timeout            = errors.New("timeout")
	PathEscape         = errors.New("path escape")
	AllowlistViolation = errors.New("allowlist violation")
	NoSuchRun          = errors.New("no such run")
	NoSuchFinding      = errors.New("no such finding")
	ToolArgs           = errors.New("invalid tool arguments")
	ToolFailure        = errors.New("tool failure")
	LLMProvider        = errors.New("llm provider error")
	AuthMissing        = errors.New("missing credentials")
	Internal           = errors.New("internal error")
)

// Code maps a sentinel error to its wire-level error code, defaulting to
// CodeInternal for anything unrecognized.
func Code(err error) int {
	switch {
	case errors.Is(err, Cancelled):
		return protocol.CodeCancelled
	case errors.Is(err, Timeout):
		return protocol.CodeTimeout
	case errors.Is(err, PathEscape):
		return protocol.CodePathEscape
	case errors.Is(err, AllowlistViolation):
		return protocol.CodeAllowlistViolation
	case errors.Is(err, NoSuchRun):
		return protocol.CodeNoSuchRun
	default:
		return protocol.CodeInternal
	}
}

// ToErrorObject renders err as the wire ErrorObject the host displays
// verbatim, per spec §7's "host displays the message without reinterpreting
// the code" contract.
func ToErrorObject(err error) *protocol.ErrorObject {
	if err == nil {
		return nil
	}
	return &protocol.ErrorObject{Code: Code(err), Message: err.Error()}
}

// Wrap attaches context to a sentinel while preserving errors.Is matching.
func Wrap(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
