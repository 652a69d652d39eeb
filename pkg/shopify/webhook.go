package shopify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	TopicOrdersPaid      = "orders/paid"
	TopicOrdersCreate    = "orders/create"
	TopicAppUninstalled  = "app/uninstalled"
	onlineLocationSuffix = "online"
)

// OnlineLocationID is the synthetic location used for orders placed without
// a physical location (the online store).
const OnlineLocationID = onlineLocationSuffix

// Order is the subset of the Shopify order webhook payload used for dispatch.
type Order struct {
	ID              uint64          `json:"id"`
	LocationID      *uint64         `json:"location_id"`
	Phone           string          `json:"phone"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	Currency        string          `json:"currency"`
	FinancialStatus string          `json:"financial_status"`
	Customer        *struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Phone     string `json:"phone"`
	} `json:"customer"`
	BillingAddress *struct {
		FirstName string `json:"first_name"`
		Phone     string `json:"phone"`
	} `json:"billing_address"`
}

// ParseOrder decodes an orders/* webhook body.
func ParseOrder(body []byte) (*Order, error) {
	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("decode shopify order: %w", err)
	}
	if order.ID == 0 {
		return nil, fmt.Errorf("shopify order missing id")
	}
	return &order, nil
}

// EventID is the stable idempotency id for the order.
func (o *Order) EventID() string {
	return strconv.FormatUint(o.ID, 10)
}

// ExternalLocationID returns the order's location or the online location.
func (o *Order) ExternalLocationID() string {
	if o.LocationID == nil || *o.LocationID == 0 {
		return OnlineLocationID
	}
	return strconv.FormatUint(*o.LocationID, 10)
}

// CustomerPhone prefers the customer record, then the order, then billing.
func (o *Order) CustomerPhone() string {
	if o.Customer != nil && strings.TrimSpace(o.Customer.Phone) != "" {
		return o.Customer.Phone
	}
	if strings.TrimSpace(o.Phone) != "" {
		return o.Phone
	}
	if o.BillingAddress != nil {
		return o.BillingAddress.Phone
	}
	return ""
}

func (o *Order) CustomerFirstName() string {
	if o.Customer != nil && o.Customer.FirstName != "" {
		return o.Customer.FirstName
	}
	if o.BillingAddress != nil {
		return o.BillingAddress.FirstName
	}
	return ""
}
