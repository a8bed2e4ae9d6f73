// Package txerrors is the shared error taxonomy for the transaction
// builder: sentinel values every package wraps with fmt.Errorf's %w, plus
// a structured *Error carrying the fields callers need to act on a failure
// (which outpoint, which server, which transaction) without parsing a
// message string.
package txerrors

import (
	"errors"
	"fmt"
)

// Kind is a closed set of the error categories the builder surfaces across
// selection, PSBT assembly, RBF/CPFP, locking, and the ElectrumX client.
type Kind string

const (
	KindInsufficientFunds  Kind = "insufficient_funds"
	KindNoCombinationFound Kind = "no_combination_found"
	KindDustOnly           Kind = "dust_only"
	KindMaxInputsExceeded  Kind = "max_inputs_exceeded"
	KindCombineMismatch    Kind = "combine_mismatch"
	KindNotRbfSignaled     Kind = "not_rbf_signaled"
	KindInsufficientFeeBump Kind = "insufficient_fee_bump"
	KindInsufficientFundsForBump Kind = "insufficient_funds_for_bump"
	KindInsufficientValue  Kind = "insufficient_value"
	KindCycleDetected      Kind = "cycle_detected"
	KindAlreadyLocked      Kind = "already_locked"
	KindMultipleConflicts  Kind = "multiple_conflicts"
	KindLockNotFound       Kind = "lock_not_found"
	KindConnectionLost     Kind = "connection_lost"
	KindPoolExhausted      Kind = "pool_exhausted"
	KindRateLimited        Kind = "rate_limited"
	KindFinalizeFailed     Kind = "finalize_failed"
	KindOriginalFeeRateRequired Kind = "original_fee_rate_required"

	// PSBT
	KindInputIndexOutOfRange Kind = "input_index_out_of_range"
	KindMissingUtxo          Kind = "missing_utxo"
	KindMissingRedeemScript  Kind = "missing_redeem_script"
	KindMissingWitnessScript Kind = "missing_witness_script"
	KindExtractFailed        Kind = "extract_failed"

	// CPFP
	KindNoParentLink   Kind = "no_parent_link"
	KindPackageTooLarge Kind = "package_too_large"

	// Network (client/transport level)
	KindConnectionRefused Kind = "connection_refused"
	KindConnectionReset   Kind = "connection_reset"
	KindTlsError          Kind = "tls_error"
	KindProtocolError     Kind = "protocol_error"
	KindTimeout           Kind = "timeout"
	KindServerError       Kind = "server_error"
	KindDisconnected      Kind = "disconnected"

	// Pool
	KindNoServersAvailable Kind = "no_servers_available"
	KindAllServersFailed   Kind = "all_servers_failed"
)

// Sentinel values for errors.Is comparisons; wrap these with fmt.Errorf's
// %w rather than constructing ad hoc strings.
var (
	ErrInsufficientFunds  = errors.New(string(KindInsufficientFunds))
	ErrNoCombinationFound = errors.New(string(KindNoCombinationFound))
	ErrDustOnly           = errors.New(string(KindDustOnly))
	ErrMaxInputsExceeded  = errors.New(string(KindMaxInputsExceeded))
	ErrCombineMismatch    = errors.New(string(KindCombineMismatch))
	ErrNotRbfSignaled     = errors.New(string(KindNotRbfSignaled))
	ErrInsufficientFeeBump = errors.New(string(KindInsufficientFeeBump))
	ErrInsufficientFundsForBump = errors.New(string(KindInsufficientFundsForBump))
	ErrInsufficientValue  = errors.New(string(KindInsufficientValue))
	ErrCycleDetected      = errors.New(string(KindCycleDetected))
	ErrAlreadyLocked      = errors.New(string(KindAlreadyLocked))
	ErrMultipleConflicts  = errors.New(string(KindMultipleConflicts))
	ErrLockNotFound       = errors.New(string(KindLockNotFound))
	ErrConnectionLost     = errors.New(string(KindConnectionLost))
	ErrPoolExhausted      = errors.New(string(KindPoolExhausted))
	ErrRateLimited        = errors.New(string(KindRateLimited))
	ErrFinalizeFailed     = errors.New(string(KindFinalizeFailed))
	ErrOriginalFeeRateRequired = errors.New(string(KindOriginalFeeRateRequired))

	ErrInputIndexOutOfRange = errors.New(string(KindInputIndexOutOfRange))
	ErrMissingUtxo          = errors.New(string(KindMissingUtxo))
	ErrMissingRedeemScript  = errors.New(string(KindMissingRedeemScript))
	ErrMissingWitnessScript = errors.New(string(KindMissingWitnessScript))
	ErrExtractFailed        = errors.New(string(KindExtractFailed))

	ErrNoParentLink    = errors.New(string(KindNoParentLink))
	ErrPackageTooLarge = errors.New(string(KindPackageTooLarge))

	ErrConnectionRefused = errors.New(string(KindConnectionRefused))
	ErrConnectionReset   = errors.New(string(KindConnectionReset))
	ErrTlsError          = errors.New(string(KindTlsError))
	ErrProtocolError     = errors.New(string(KindProtocolError))
	ErrTimeout           = errors.New(string(KindTimeout))
	ErrServerError       = errors.New(string(KindServerError))
	ErrDisconnected      = errors.New(string(KindDisconnected))

	ErrNoServersAvailable = errors.New(string(KindNoServersAvailable))
	ErrAllServersFailed   = errors.New(string(KindAllServersFailed))
)

var sentinelByKind = map[Kind]error{
	KindInsufficientFunds:   ErrInsufficientFunds,
	KindNoCombinationFound:  ErrNoCombinationFound,
	KindDustOnly:            ErrDustOnly,
	KindMaxInputsExceeded:   ErrMaxInputsExceeded,
	KindCombineMismatch:     ErrCombineMismatch,
	KindNotRbfSignaled:      ErrNotRbfSignaled,
	KindInsufficientFeeBump: ErrInsufficientFeeBump,
	KindInsufficientFundsForBump: ErrInsufficientFundsForBump,
	KindInsufficientValue:   ErrInsufficientValue,
	KindCycleDetected:       ErrCycleDetected,
	KindAlreadyLocked:       ErrAlreadyLocked,
	KindMultipleConflicts:   ErrMultipleConflicts,
	KindLockNotFound:        ErrLockNotFound,
	KindConnectionLost:      ErrConnectionLost,
	KindPoolExhausted:       ErrPoolExhausted,
	KindRateLimited:         ErrRateLimited,
	KindFinalizeFailed:      ErrFinalizeFailed,
	KindOriginalFeeRateRequired: ErrOriginalFeeRateRequired,

	KindInputIndexOutOfRange: ErrInputIndexOutOfRange,
	KindMissingUtxo:          ErrMissingUtxo,
	KindMissingRedeemScript:  ErrMissingRedeemScript,
	KindMissingWitnessScript: ErrMissingWitnessScript,
	KindExtractFailed:        ErrExtractFailed,

	KindNoParentLink:    ErrNoParentLink,
	KindPackageTooLarge: ErrPackageTooLarge,

	KindConnectionRefused: ErrConnectionRefused,
	KindConnectionReset:   ErrConnectionReset,
	KindTlsError:          ErrTlsError,
	KindProtocolError:     ErrProtocolError,
	KindTimeout:           ErrTimeout,
	KindServerError:       ErrServerError,
	KindDisconnected:      ErrDisconnected,

	KindNoServersAvailable: ErrNoServersAvailable,
	KindAllServersFailed:   ErrAllServersFailed,
}

// Error is the structured error the builder's packages return for
// anything beyond a plain wrapped sentinel: which outpoint, transaction,
// or server the failure concerns.
type Error struct {
	Kind     Kind
	Detail   string
	Outpoint string
	TxID     string
	Server   string
	// Code and Message carry the ElectrumX JSON-RPC error payload for
	// KindServerError, per spec.md §7's ServerError{code, message}.
	Code     int
	Message  string
	Wrapped  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	if e.Kind == KindServerError {
		msg = fmt.Sprintf("%s (code=%d message=%s)", msg, e.Code, e.Message)
	}
	switch {
	case e.Outpoint != "":
		msg = fmt.Sprintf("%s (outpoint=%s)", msg, e.Outpoint)
	case e.TxID != "":
		msg = fmt.Sprintf("%s (txid=%s)", msg, e.TxID)
	case e.Server != "":
		msg = fmt.Sprintf("%s (server=%s)", msg, e.Server)
	}
	return msg
}

// Unwrap exposes the sentinel for this Kind so errors.Is(err,
// txerrors.ErrInsufficientFunds) works against a returned *Error, and
// passes through any explicitly wrapped cause instead when one is set.
func (e *Error) Unwrap() error {
	if e.Wrapped != nil {
		return e.Wrapped
	}
	return sentinelByKind[e.Kind]
}

// Is matches the sentinel for this Kind, so errors.Is finds it even when
// Unwrap passes through a wrapped cause.
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinelByKind[e.Kind]
	return ok && target == sentinel
}

// New builds an *Error for the given kind with a formatted detail message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error that also chains to an underlying cause via %w
// semantics (errors.Is/As will find both the sentinel and cause).
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Wrapped: cause}
}

// WithOutpoint/WithTxID/WithServer attach the context field the caller
// needs to act on the failure without parsing the message string.
func (e *Error) WithOutpoint(outpoint string) *Error {
	e.Outpoint = outpoint
	return e
}

func (e *Error) WithTxID(txid string) *Error {
	e.TxID = txid
	return e
}

func (e *Error) WithServer(server string) *Error {
	e.Server = server
	return e
}

// WithServerCode attaches the ElectrumX JSON-RPC error code/message to a
// KindServerError.
func (e *Error) WithServerCode(code int, message string) *Error {
	e.Code = code
	e.Message = message
	return e
}
