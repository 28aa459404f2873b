// Package rail abstracts the external transfer rail that moves money to
// payees. The engine never retries a transfer without the same idempotency
// key, so implementations must pass the key through to the provider.
package rail

import (
	"context"
	"errors"
)

// TransferRequest describes one outbound transfer leg.
type TransferRequest struct {
	AmountCents        int64
	Currency           string
	DestinationAccount string
	IdempotencyKey     string
	Metadata           map[string]string
}

// Transfer is the provider's view of a created transfer.
type Transfer struct {
	ID     string
	Status string
}

var ErrInvalidRequest = errors.New("rail: invalid transfer request")

// Rail creates transfers on an external payment provider.
type Rail interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
}

func validate(req TransferRequest) error {
	if req.AmountCents <= 0 || req.Currency == "" || req.DestinationAccount == "" || req.IdempotencyKey == "" {
		return ErrInvalidRequest
	}
	return nil
}
