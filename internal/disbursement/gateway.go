// Package disbursement moves testnet funds through an external backend.
package disbursement

import (
	"context"
	"errors"
)

// ErrRejected is returned when the backend answered and refused the transfer, for example
// because the faucet account is out of funds. Transport failures are not wrapped with it.
var ErrRejected = errors.New("disbursement rejected")

// Request is one transfer. RequestID is unique per attempt and lets the backend detect replays.
type Request struct {
	RequestID string
	Address   string
	Amount    uint64
}

// Receipt identifies the submitted transaction
type Receipt struct {
	TxReference string
}

// Gateway performs a transfer. It may block for a long time and is not assumed idempotent,
// so callers must never retry a call whose outcome is unknown.
type Gateway interface {
	Disburse(ctx context.Context, req Request) (Receipt, error)
}
