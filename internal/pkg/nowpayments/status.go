package nowpayments

import "strings"

// PaymentStatus is the gateway's payment_status value.
type PaymentStatus string

const (
	StatusWaiting       PaymentStatus = "waiting"
	StatusConfirming    PaymentStatus = "confirming"
	StatusConfirmed     PaymentStatus = "confirmed"
	StatusSending       PaymentStatus = "sending"
	StatusPartiallyPaid PaymentStatus = "partially_paid"
	StatusFinished      PaymentStatus = "finished"
	StatusFailed        PaymentStatus = "failed"
	StatusRefunded      PaymentStatus = "refunded"
	StatusExpired       PaymentStatus = "expired"
)

// Outcome is what a gateway status means for the ledger.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomePaid
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePaid:
		return "paid"
	case OutcomeFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Classify maps a gateway status to a ledger outcome. Unknown statuses stay pending.
func Classify(status PaymentStatus) Outcome {
	switch PaymentStatus(strings.ToLower(strings.TrimSpace(string(status)))) {
	case StatusFinished, StatusConfirmed:
		return OutcomePaid
	case StatusFailed, StatusExpired, StatusRefunded:
		return OutcomeFailed
	default:
		return OutcomePending
	}
}
