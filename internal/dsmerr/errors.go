// Package dsmerr defines the error taxonomy shared by every layer of the
// coherence stack: config loading, OS-level memory operations, the RPC
// transport, and the coherence engine itself.
package dsmerr

import (
	"errors"
	"fmt"
)

// Kind tags an error with the category a caller (or a test) needs to act on.
// Only RPC_TRANSIENT is expected to be retried; every other kind is fatal.
type Kind string

const (
	KindConfigMissing      Kind = "CONFIG_MISSING"
	KindConfigFormat       Kind = "CONFIG_FORMAT"
	KindBadNodeID          Kind = "BAD_NODE_ID"
	KindOSMap              Kind = "OS_MAP"
	KindOSProt             Kind = "OS_PROT"
	KindOSSignal           Kind = "OS_SIGNAL"
	KindRPCTransient       Kind = "RPC_TRANSIENT"
	KindRPCProtocol        Kind = "RPC_PROTOCOL"
	KindInvalidationFailed Kind = "INVALIDATION_FAILED"
	KindBadState           Kind = "BAD_STATE"
	KindDoubleInstall      Kind = "DOUBLE_INSTALL"
)

// Error is the concrete error type produced by every package in this module.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Fatal reports whether an error of this kind should abort the process.
// RPC_TRANSIENT is the only retryable kind; call_blocking swallows it.
func (e *Error) Fatal() bool {
	return e.Kind != KindRPCTransient
}

// Is lets callers write `dsmerr.Is(err, dsmerr.KindBadState)`.
func Is(err error, kind Kind) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}
