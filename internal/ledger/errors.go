package ledger

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes ledger errors.
type ErrorCode string

const (
	// ErrCodeValueMismatch indicates the attached value differs from the declared amount.
	ErrCodeValueMismatch ErrorCode = "VALUE_MISMATCH"

	// ErrCodeInvalidReceiver indicates the receiver is not a valid account identity.
	ErrCodeInvalidReceiver ErrorCode = "INVALID_RECEIVER"

	// ErrCodeTransferRejected indicates the value movement could not complete:
	// the receiver refuses funds or the sender cannot cover the amount.
	ErrCodeTransferRejected ErrorCode = "TRANSFER_REJECTED"

	// ErrCodeMessageTooLarge indicates the note exceeds the configured bound.
	ErrCodeMessageTooLarge ErrorCode = "MESSAGE_TOO_LARGE"

	// ErrCodeEngineStopped indicates the write path shut down before the request ran.
	ErrCodeEngineStopped ErrorCode = "ENGINE_STOPPED"
)

// Sentinels for errors.Is. Any *Error with the same Code matches.
var (
	ErrValueMismatch    = &Error{Code: ErrCodeValueMismatch, Message: "attached value does not match declared amount"}
	ErrInvalidReceiver  = &Error{Code: ErrCodeInvalidReceiver, Message: "receiver is not a valid account identity"}
	ErrTransferRejected = &Error{Code: ErrCodeTransferRejected, Message: "value transfer rejected"}
	ErrMessageTooLarge  = &Error{Code: ErrCodeMessageTooLarge, Message: "message exceeds size limit"}
	ErrEngineStopped    = &Error{Code: ErrCodeEngineStopped, Message: "transfer engine stopped"}
)

// Error is a domain error returned by the transfer path. None of these errors
// leave a trace in the ledger.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Details contains additional context.
	Details map[string]string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error carrying the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// IsValueMismatch reports whether err is a VALUE_MISMATCH error.
func IsValueMismatch(err error) bool {
	return errors.Is(err, ErrValueMismatch)
}

// IsInvalidReceiver reports whether err is an INVALID_RECEIVER error.
func IsInvalidReceiver(err error) bool {
	return errors.Is(err, ErrInvalidReceiver)
}

// IsTransferRejected reports whether err is a TRANSFER_REJECTED error.
func IsTransferRejected(err error) bool {
	return errors.Is(err, ErrTransferRejected)
}

// NewValueMismatchError reports a declared/attached disagreement.
func NewValueMismatchError(declared, attached Amount) *Error {
	return &Error{
		Code:    ErrCodeValueMismatch,
		Message: fmt.Sprintf("attached value %s wei does not match declared amount %s wei", attached, declared),
		Details: map[string]string{
			"declared": declared.String(),
			"attached": attached.String(),
		},
	}
}

// NewInvalidReceiverError reports a malformed receiver identity.
func NewInvalidReceiverError(receiver string, cause error) *Error {
	msg := fmt.Sprintf("invalid receiver %q", receiver)
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    ErrCodeInvalidReceiver,
		Message: msg,
		Details: map[string]string{"receiver": receiver},
	}
}

// NewRefusedError reports a receiver that rejects incoming value.
func NewRefusedError(receiver Address) *Error {
	return &Error{
		Code:    ErrCodeTransferRejected,
		Message: fmt.Sprintf("receiver %s refuses incoming value", receiver),
		Details: map[string]string{"reason": "refused", "receiver": receiver.String()},
	}
}

// NewInsufficientFundsError reports a sender whose balance cannot cover amount.
func NewInsufficientFundsError(sender Address, balance, amount Amount) *Error {
	return &Error{
		Code:    ErrCodeTransferRejected,
		Message: fmt.Sprintf("sender %s balance %s wei cannot cover %s wei", sender, balance, amount),
		Details: map[string]string{
			"reason":  "insufficient_funds",
			"sender":  sender.String(),
			"balance": balance.String(),
			"amount":  amount.String(),
		},
	}
}

// NewMessageTooLargeError reports a note longer than limit bytes.
func NewMessageTooLargeError(size, limit int) *Error {
	return &Error{
		Code:    ErrCodeMessageTooLarge,
		Message: fmt.Sprintf("message is %d bytes, limit is %d", size, limit),
		Details: map[string]string{
			"size":  fmt.Sprintf("%d", size),
			"limit": fmt.Sprintf("%d", limit),
		},
	}
}
