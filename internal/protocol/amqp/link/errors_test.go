package link

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marmos91/dittomq/pkg/amqp/types"
)

func TestError(t *testing.T) {
	t.Parallel()

	t.Run("Message", func(t *testing.T) {
		err := newDeliveryError(ErrDuplicateDelivery, "orders", 9, "already live")
		assert.Equal(t, "DuplicateDelivery: already live (link=orders delivery=9)", err.Error())
		assert.Equal(t, "CreditExhausted", (&Error{Code: ErrCreditExhausted}).Error())
	})

	t.Run("IsByCode", func(t *testing.T) {
		err := fmt.Errorf("send: %w", newError(ErrLinkDetached, "orders", "gone"))
		assert.True(t, errors.Is(err, &Error{Code: ErrLinkDetached}))
		assert.False(t, errors.Is(err, &Error{Code: ErrCreditExhausted}))
		assert.True(t, IsLinkDetached(err))
		assert.False(t, IsFatal(err))
	})

	t.Run("Helpers", func(t *testing.T) {
		assert.True(t, IsFatal(newError(ErrDuplicateDelivery, "", "")))
		assert.True(t, IsFatal(newError(ErrProtocolViolation, "", "")))
		assert.True(t, IsCreditExhausted(newError(ErrCreditExhausted, "", "")))
		assert.True(t, IsUnknownLink(newError(ErrUnknownLink, "", "")))
		assert.False(t, IsProtocolViolation(errors.New("plain")))
		_, ok := AsError(nil)
		assert.False(t, ok)
	})

	t.Run("Condition", func(t *testing.T) {
		cases := map[ErrorCode]string{
			ErrDuplicateDelivery: types.ConditionInvalidField,
			ErrProtocolViolation: types.ConditionInvalidField,
			ErrCreditExhausted:   types.ConditionTransferLimit,
			ErrLinkDetached:      types.ConditionDetachForced,
			ErrInvalidState:      types.ConditionIllegalState,
			ErrUnknownLink:       types.ConditionSessionUnattached,
		}
		for code, want := range cases {
			info := (&Error{Code: code, Link: "l"}).Condition()
			assert.Equal(t, want, info.Condition, code.String())
			assert.NotEmpty(t, info.Description)
		}
	})
}
