package payments

import (
	"context"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeClient wraps stripe-go for the credit top-up flow. The core never
// sees card data; it only consumes the confirmed amount as a trusted
// callback into the ledger.
type StripeClient struct{}

// NewStripeClient initializes the stripe client with the STRIPE_API_KEY env var.
func NewStripeClient() *StripeClient {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &StripeClient{}
}

// CreateTopUp opens a PaymentIntent for a credit purchase. amountCents is the
// charge in the smallest currency unit; the credited amount is settled by the
// webhook once the intent succeeds.
func (s *StripeClient) CreateTopUp(ctx context.Context, amountCents int64, currency, spCode string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
	}
	params.AddMetadata("sp_code", spCode)
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// ConfirmTopUp fetches a PaymentIntent and reports whether it settled,
// returning the provider code and amount from its metadata.
func (s *StripeClient) ConfirmTopUp(ctx context.Context, paymentIntentID string) (spCode string, amountCents int64, ok bool, err error) {
	pi, err := paymentintent.Get(paymentIntentID, nil)
	if err != nil {
		return "", 0, false, err
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return "", 0, false, nil
	}
	return pi.Metadata["sp_code"], pi.Amount, true, nil
}
