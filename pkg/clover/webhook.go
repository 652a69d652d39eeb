package clover

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

const paymentObjectPrefix = "P:"

// Notification is the batched Clover app webhook body.
type Notification struct {
	AppID     string                     `json:"appId"`
	Merchants map[string][]MerchantEvent `json:"merchants"`
	// VerificationCode is only present on the one-time URL verification ping.
	VerificationCode string `json:"verificationCode"`
}

type MerchantEvent struct {
	ObjectID string `json:"objectId"`
	Type     string `json:"type"`
	TS       int64  `json:"ts"`
}

// PaymentRef identifies a created payment inside a notification.
type PaymentRef struct {
	MerchantID string
	PaymentID  string
	TS         int64
}

// ParseNotification decodes a webhook body.
func ParseNotification(body []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("decode clover notification: %w", err)
	}
	return &n, nil
}

// CreatedPayments lists payment CREATE events across all merchants.
func (n *Notification) CreatedPayments() []PaymentRef {
	var refs []PaymentRef
	for merchantID, events := range n.Merchants {
		for _, ev := range events {
			if ev.Type != "CREATE" || !strings.HasPrefix(ev.ObjectID, paymentObjectPrefix) {
				continue
			}
			refs = append(refs, PaymentRef{
				MerchantID: merchantID,
				PaymentID:  strings.TrimPrefix(ev.ObjectID, paymentObjectPrefix),
				TS:         ev.TS,
			})
		}
	}
	return refs
}

// Payment is a Clover payment with the buyer resolved from its order.
type Payment struct {
	ID        string
	Amount    decimal.Decimal
	Result    string
	OrderID   string
	FirstName string
	Phone     string
}

type customerPayload struct {
	ID           string `json:"id"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	PhoneNumbers *struct {
		Elements []struct {
			PhoneNumber string `json:"phoneNumber"`
		} `json:"elements"`
	} `json:"phoneNumbers"`
}

func (c customerPayload) phone() string {
	if c.PhoneNumbers == nil {
		return ""
	}
	for _, el := range c.PhoneNumbers.Elements {
		if strings.TrimSpace(el.PhoneNumber) != "" {
			return el.PhoneNumber
		}
	}
	return ""
}

// GetPayment fetches a payment and the first customer attached to its order.
func (c *Client) GetPayment(ctx context.Context, accessToken, merchantID, paymentID string) (*Payment, error) {
	var raw struct {
		ID     string `json:"id"`
		Amount int64  `json:"amount"`
		Result string `json:"result"`
		Order  *struct {
			ID string `json:"id"`
		} `json:"order"`
	}
	path := fmt.Sprintf("/v3/merchants/%s/payments/%s", url.PathEscape(merchantID), url.PathEscape(paymentID))
	if err := c.get(ctx, "get_payment", accessToken, path, &raw); err != nil {
		return nil, err
	}

	payment := &Payment{
		ID:     raw.ID,
		Amount: decimal.New(raw.Amount, -2),
		Result: raw.Result,
	}
	if raw.Order == nil || raw.Order.ID == "" {
		return payment, nil
	}
	payment.OrderID = raw.Order.ID

	var order struct {
		Customers *struct {
			Elements []customerPayload `json:"elements"`
		} `json:"customers"`
	}
	orderPath := fmt.Sprintf("/v3/merchants/%s/orders/%s?expand=customers", url.PathEscape(merchantID), url.PathEscape(raw.Order.ID))
	if err := c.get(ctx, "get_order", accessToken, orderPath, &order); err != nil {
		return nil, err
	}
	if order.Customers == nil || len(order.Customers.Elements) == 0 {
		return payment, nil
	}

	customer := order.Customers.Elements[0]
	if customer.phone() == "" && customer.ID != "" {
		custPath := fmt.Sprintf("/v3/merchants/%s/customers/%s?expand=phoneNumbers", url.PathEscape(merchantID), url.PathEscape(customer.ID))
		if err := c.get(ctx, "get_customer", accessToken, custPath, &customer); err != nil {
			return nil, err
		}
	}
	payment.FirstName = customer.FirstName
	payment.Phone = customer.phone()
	return payment, nil
}
