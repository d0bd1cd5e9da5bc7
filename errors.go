package pagedb

import (
	"errors"
	"fmt"

	"github.com/pagedb/pagedb/internal/btree"
	"github.com/pagedb/pagedb/internal/txn"
)

// ErrCode is the stable numeric error taxonomy spec §6/§7 requires at the
// API boundary, grounded directly in the teacher's BLTErr enum
// (blterr.go) — renamed and re-scoped to pagedb's error table instead of
// the teacher's page-layer-specific codes.
type ErrCode int

const (
	CodeSuccess ErrCode = iota
	CodeKeyNotFound
	CodeDuplicateKey
	CodeInvalidKeySize
	CodeInvalidRecordSize
	CodeCursorIsNil
	CodeTxnConflict
	CodeTxnStillOpen
	CodeNeedRecovery
	CodeIntegrityViolated
	CodeIOError
	CodeOutOfMemory
	CodeNotReady
	CodeLimitsReached
	CodePluginNotFound
	CodeParserError
)

func (c ErrCode) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeKeyNotFound:
		return "key-not-found"
	case CodeDuplicateKey:
		return "duplicate-key"
	case CodeInvalidKeySize:
		return "invalid-key-size"
	case CodeInvalidRecordSize:
		return "invalid-record-size"
	case CodeCursorIsNil:
		return "cursor-is-nil"
	case CodeTxnConflict:
		return "txn-conflict"
	case CodeTxnStillOpen:
		return "txn-still-open"
	case CodeNeedRecovery:
		return "need-recovery"
	case CodeIntegrityViolated:
		return "integrity-violated"
	case CodeIOError:
		return "io-error"
	case CodeOutOfMemory:
		return "out-of-memory"
	case CodeNotReady:
		return "not-ready"
	case CodeLimitsReached:
		return "limits-reached"
	case CodePluginNotFound:
		return "plugin-not-found"
	case CodeParserError:
		return "parser-error"
	default:
		return fmt.Sprintf("errcode(%d)", int(c))
	}
}

// Error is the boundary error type every exported pagedb operation
// returns. It is errors.Is/As-compatible: errors.Is(err, pagedb.ErrKeyNotFound)
// and a *pagedb.Error type assertion both work.
type Error struct {
	code ErrCode
	msg  string
	err  error
}

func newError(code ErrCode, msg string, wrapped error) *Error {
	return &Error{code: code, msg: msg, err: wrapped}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("pagedb: %s: %v", e.msg, e.err)
	}
	return "pagedb: " + e.msg
}

func (e *Error) Unwrap() error { return e.err }
func (e *Error) Code() ErrCode { return e.code }

// Sentinel errors for errors.Is against common boundary conditions.
var (
	ErrKeyNotFound      = newError(CodeKeyNotFound, "key not found", nil)
	ErrDuplicateKey     = newError(CodeDuplicateKey, "duplicate key", nil)
	ErrCursorIsNil      = newError(CodeCursorIsNil, "cursor has no position", nil)
	ErrTxnConflict      = newError(CodeTxnConflict, "transaction conflict", nil)
	ErrTxnStillOpen     = newError(CodeTxnStillOpen, "transaction still open", nil)
	ErrNeedRecovery     = newError(CodeNeedRecovery, "database needs recovery", nil)
	ErrIntegrityViolated = newError(CodeIntegrityViolated, "integrity check failed", nil)
	ErrNotReady         = newError(CodeNotReady, "environment is in the error state", nil)
	ErrLimitsReached    = newError(CodeLimitsReached, "limits reached", nil)
)

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.code == e.code
}

// translateErr maps an internal package's sentinel error to the boundary
// taxonomy, wrapping unrecognized errors as io-error (the catch-all for
// "something the storage layer returned that the boundary doesn't have a
// more specific code for").
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	switch {
	case errors.Is(err, btree.ErrNotFound):
		return newError(CodeKeyNotFound, "key not found", err)
	case errors.Is(err, btree.ErrKeyExists):
		return newError(CodeDuplicateKey, "duplicate key", err)
	case errors.Is(err, btree.ErrTreeCorrupt):
		return newError(CodeIntegrityViolated, "integrity check failed", err)
	case errors.Is(err, btree.ErrLimitsReached):
		return newError(CodeLimitsReached, "limits reached", err)
	case errors.Is(err, txn.ErrConflict):
		return newError(CodeTxnConflict, "transaction conflict", err)
	case errors.Is(err, txn.ErrDuplicateKey):
		return newError(CodeDuplicateKey, "duplicate key", err)
	case errors.Is(err, txn.ErrNotActive):
		return newError(CodeTxnStillOpen, "transaction is not active", err)
	default:
		return newError(CodeIOError, "storage error", err)
	}
}
