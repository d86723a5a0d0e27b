package client

import (
	"context"

	"github.com/earlyexpress/order-fulfillment/pkg/httpclient"
)

// PaymentClient talks to the payment service to verify a payment-gateway
// transaction against the order.
type PaymentClient struct {
	doer    httpclient.Doer
	baseURL string
}

// NewPaymentClient creates a payment client.
func NewPaymentClient(doer httpclient.Doer, baseURL string) *PaymentClient {
	return &PaymentClient{doer: doer, baseURL: baseURL}
}

// VerifyPaymentRequest checks a PG transaction. Amount must equal the
// order's derived total; a mismatch comes back as ORDER_AMOUNT_MISMATCH.
type VerifyPaymentRequest struct {
	OrderID    string `json:"order_id"`
	PaymentID  string `json:"payment_id"`
	PaymentKey string `json:"payment_key"`
	Amount     int64  `json:"amount"`
}

// VerifyPaymentResponse confirms the verified transaction.
type VerifyPaymentResponse struct {
	PaymentID  string `json:"payment_id"`
	PGProvider string `json:"pg_provider"`
	Amount     int64  `json:"amount"`
}

// Verify confirms the payment with the gateway through the payment service.
func (c *PaymentClient) Verify(ctx context.Context, req VerifyPaymentRequest) (*VerifyPaymentResponse, error) {
	var resp VerifyPaymentResponse
	if err := postJSON(ctx, c.doer, c.baseURL+"/api/v1/payments/verify", "payment-service", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
