package rail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/crewpay/crewpay/internal/retry"
)

// StripeRail sends transfers to Stripe connected accounts.
type StripeRail struct {
	api    *client.API
	logger *slog.Logger
}

// NewStripeRail creates a Stripe-backed rail from a secret key.
func NewStripeRail(secretKey string, logger *slog.Logger) *StripeRail {
	if logger == nil {
		logger = slog.Default()
	}
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeRail{api: api, logger: logger}
}

func (r *StripeRail) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	params := &stripe.TransferParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.DestinationAccount),
	}
	// Stripe dedupes on this key server-side, so a retried call returns the
	// original transfer instead of sending twice.
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	// Retries reuse the same idempotency key, so transient failures cannot
	// produce a second transfer.
	var tr *stripe.Transfer
	err := retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		var callErr error
		tr, callErr = r.api.Transfers.New(params)
		if callErr != nil {
			var stripeErr *stripe.Error
			if errors.As(callErr, &stripeErr) && stripeErr.HTTPStatusCode < 500 && stripeErr.HTTPStatusCode != 429 {
				return retry.Permanent(callErr)
			}
			return callErr
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stripe transfer failed: %w", err)
	}

	r.logger.Info("transfer sent",
		"transferId", tr.ID,
		"amountCents", req.AmountCents,
		"destination", req.DestinationAccount,
	)
	return &Transfer{ID: tr.ID, Status: "SENT"}, nil
}
