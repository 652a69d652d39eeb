package square

import (
	"encoding/json"
	"fmt"

	sq "github.com/square/square-go-sdk"
)

// Event is the envelope Square posts for every webhook subscription.
type Event struct {
	MerchantID string `json:"merchant_id"`
	Type       string `json:"type"`
	EventID    string `json:"event_id"`
	CreatedAt  string `json:"created_at"`
	Data       struct {
		Type   string `json:"type"`
		ID     string `json:"id"`
		Object struct {
			Payment *sq.Payment `json:"payment,omitempty"`
		} `json:"object"`
	} `json:"data"`
}

const (
	EventPaymentCreated = "payment.created"
	EventPaymentUpdated = "payment.updated"

	paymentStatusCompleted = "COMPLETED"
)

// ParseEvent decodes a webhook body.
func ParseEvent(body []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("decode square event: %w", err)
	}
	if evt.EventID == "" || evt.MerchantID == "" {
		return nil, fmt.Errorf("square event missing event_id or merchant_id")
	}
	return &evt, nil
}

// CompletedPayment returns the payment when the event reports a completed
// purchase, or nil for any other event.
func (e *Event) CompletedPayment() *sq.Payment {
	if e == nil || (e.Type != EventPaymentCreated && e.Type != EventPaymentUpdated) {
		return nil
	}
	payment := e.Data.Object.Payment
	if payment == nil || stringValue(payment.GetStatus()) != paymentStatusCompleted {
		return nil
	}
	return payment
}

// PaymentAmount returns the payment's total in minor units and its currency.
func PaymentAmount(payment *sq.Payment) (int64, string) {
	if payment == nil {
		return 0, ""
	}
	money := payment.GetTotalMoney()
	if money == nil {
		money = payment.GetAmountMoney()
	}
	if money == nil {
		return 0, ""
	}
	var amount int64
	if money.GetAmount() != nil {
		amount = *money.GetAmount()
	}
	currency := ""
	if money.GetCurrency() != nil {
		currency = string(*money.GetCurrency())
	}
	return amount, currency
}
