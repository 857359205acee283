package orders

import (
	"errors"
	"fmt"
)

var (
	ErrCustomerNotFound         = errors.New("customer not found")
	ErrPaymentPending           = errors.New("previous order payment is still pending verification")
	ErrOrderNotFound            = errors.New("order not found")
	ErrNothingToUpdate          = errors.New("nothing to update")
	ErrPaymentNotVerified       = errors.New("payment must be verified before the order can progress")
	ErrCancelReasonRequired     = fmt.Errorf("cancel reason must be at least %d characters", MinCancelReasonLength)
	ErrPaymentStatusUnsupported = errors.New("payment status is not tracked by this schema")
)

// MinCancelReasonLength is the shortest accepted cancellation reason after trimming.
const MinCancelReasonLength = 10

type TransitionError struct {
	Field string
	From  string
	To    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Field, e.From, e.To)
}
