package square

import (
	"context"
	"strings"

	sq "github.com/square/square-go-sdk"
)

// Buyer is the contact subset needed to address a review request.
type Buyer struct {
	Name  string
	Phone string
}

// GetBuyer loads a customer profile. A missing customer id yields an empty Buyer.
func (c *Client) GetBuyer(ctx context.Context, accessToken, customerID string) (Buyer, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Buyer{}, nil
	}
	sdk, err := c.merchantSDK(accessToken)
	if err != nil {
		return Buyer{}, err
	}
	c.log(ctx, "request", "get_customer", map[string]any{"customer_id": customerID})

	resp, err := sdk.Customers.Get(ctx, &sq.GetCustomersRequest{CustomerID: customerID})
	if err != nil {
		c.log(ctx, "error", "get_customer", map[string]any{"error": err.Error()})
		return Buyer{}, c.mapSquareError(err, "get customer")
	}

	cust := resp.GetCustomer()
	if cust == nil {
		return Buyer{}, nil
	}
	name := strings.TrimSpace(strings.Join([]string{
		stringValue(cust.GetGivenName()),
		stringValue(cust.GetFamilyName()),
	}, " "))
	c.log(ctx, "response", "get_customer", map[string]any{"customer_id": customerID})
	return Buyer{Name: name, Phone: stringValue(cust.GetPhoneNumber())}, nil
}
