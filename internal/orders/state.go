package orders

import "strconv"

var statusTransitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled, StatusRefunded},
	StatusProcessing: {StatusShipped, StatusCancelled, StatusRefunded},
	StatusShipped:    {StatusDelivered, StatusRefunded},
	StatusDelivered:  {StatusRefunded},
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:           {PaymentPaid, PaymentFailed},
	PaymentFailed:            {PaymentPaid, PaymentPending},
	PaymentPaid:              {PaymentRefunded, PaymentPartiallyRefunded},
	PaymentPartiallyRefunded: {PaymentRefunded, PaymentPartiallyRefunded},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	return contains(statusTransitions[from], to)
}

// CanTransitionPayment reports whether a payment may move between states.
// pending -> pending is allowed so references can be attached before capture.
func CanTransitionPayment(from, to PaymentStatus) bool {
	if from == PaymentPending && to == PaymentPending {
		return true
	}
	return contains(paymentTransitions[from], to)
}

// Cancellable reports whether the order has not shipped yet.
func (s Status) Cancellable() bool {
	return CanTransition(s, StatusCancelled)
}

// DeriveStatus returns the order status implied by a new payment status.
func DeriveStatus(current Status, payment PaymentStatus) Status {
	switch payment {
	case PaymentPaid:
		if current == StatusPending {
			return StatusConfirmed
		}
	case PaymentFailed:
		if current == StatusPending || current == StatusConfirmed {
			return StatusPending
		}
	case PaymentRefunded:
		if CanTransition(current, StatusRefunded) {
			return StatusRefunded
		}
	}
	return current
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func itoa(i int) string { return strconv.Itoa(i) }
