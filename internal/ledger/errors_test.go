package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	err := NewValueMismatchError(NewAmount(100), NewAmount(50))

	assert.True(t, errors.Is(err, ErrValueMismatch))
	assert.False(t, errors.Is(err, ErrTransferRejected))
	assert.True(t, IsValueMismatch(err))
	assert.Equal(t, "50", err.Details["attached"])

	wrapped := fmt.Errorf("send: %w", err)
	assert.True(t, IsValueMismatch(wrapped))
	assert.Equal(t, ErrCodeValueMismatch, CodeOf(wrapped))
}

func TestError_Constructors(t *testing.T) {
	alice := MustParseAddress("0x00000000000000000000000000000000000a11ce")

	assert.True(t, IsTransferRejected(NewRefusedError(alice)))
	assert.True(t, IsTransferRejected(NewInsufficientFundsError(alice, NewAmount(1), NewAmount(2))))
	assert.True(t, IsInvalidReceiver(NewInvalidReceiverError("nope", nil)))
	assert.True(t, errors.Is(NewMessageTooLargeError(10, 5), ErrMessageTooLarge))

	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	assert.Contains(t, NewRefusedError(alice).Error(), "TRANSFER_REJECTED")
}

func TestPlanMove(t *testing.T) {
	alice := Account{Address: MustParseAddress("0x00000000000000000000000000000000000a11ce"), Balance: NewAmount(100)}
	bob := Account{Address: MustParseAddress("0x0000000000000000000000000000000000000b0b")}

	from, to, err := PlanMove(alice, bob, NewAmount(40))
	assert.NoError(t, err)
	assert.Equal(t, "60", from.Balance.String())
	assert.Equal(t, "40", to.Balance.String())

	_, _, err = PlanMove(alice, bob, NewAmount(101))
	assert.True(t, IsTransferRejected(err))

	bob.RefusesFunds = true
	from, to, err = PlanMove(alice, bob, NewAmount(1))
	assert.True(t, IsTransferRejected(err))
	assert.Equal(t, "100", from.Balance.String(), "balances unchanged on rejection")
	assert.True(t, to.Balance.IsZero())

	same, same2, err := PlanMove(alice, alice, NewAmount(100))
	assert.NoError(t, err)
	assert.Equal(t, "100", same.Balance.String())
	assert.Equal(t, same, same2)
}
