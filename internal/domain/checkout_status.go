package domain

type CheckoutStatus string

const (
	CheckoutStatusCartLoaded CheckoutStatus = "CART_LOADED"
	CheckoutStatusReconciled CheckoutStatus = "RECONCILED"
	CheckoutStatusBlocked    CheckoutStatus = "BLOCKED"
	CheckoutStatusCleared    CheckoutStatus = "CLEARED"
	CheckoutStatusCommitted  CheckoutStatus = "COMMITTED"
	CheckoutStatusAborted    CheckoutStatus = "ABORTED"
)

var checkoutTransitions = map[CheckoutStatus][]CheckoutStatus{
	CheckoutStatusCartLoaded: {CheckoutStatusReconciled},
	CheckoutStatusReconciled: {CheckoutStatusBlocked, CheckoutStatusCleared},
	CheckoutStatusCleared:    {CheckoutStatusCommitted, CheckoutStatusAborted},
}

func (s CheckoutStatus) IsTerminal() bool {
	return s == CheckoutStatusBlocked || s == CheckoutStatusCommitted || s == CheckoutStatusAborted
}

func (s CheckoutStatus) CanTransitionTo(next CheckoutStatus) bool {
	for _, allowed := range checkoutTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// String representation (for logging)
func (s CheckoutStatus) String() string {
	return string(s)
}
