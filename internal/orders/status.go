package orders

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:   {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered: {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// RequiresVerifiedPayment reports whether moving into s needs a verified payment.
func RequiresVerifiedPayment(s Status) bool {
	return s == StatusConfirmed || s == StatusShipped || s == StatusDelivered
}

type PaymentStatus string

const (
	PaymentPendingVerification PaymentStatus = "PENDING_VERIFICATION"
	PaymentVerified            PaymentStatus = "VERIFIED"
	PaymentFailed              PaymentStatus = "FAILED"
)

var validPaymentNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPendingVerification: {PaymentVerified: true, PaymentFailed: true},
	PaymentVerified:            {},
	PaymentFailed:              {},
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return validPaymentNext[from][to]
}

func (p PaymentStatus) Valid() bool {
	_, ok := validPaymentNext[p]
	return ok
}
