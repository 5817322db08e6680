package disbursement

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// StubGateway pretends to transfer funds. It is selected when no backend URL is configured,
// for local development and networks without a reachable node.
type StubGateway struct {
	// Delay simulates backend latency; the call fails if ctx ends first
	Delay time.Duration
}

var _ Gateway = (*StubGateway)(nil)

// Disburse returns a random 32-byte hex reference
func (g *StubGateway) Disburse(ctx context.Context, _ Request) (Receipt, error) {
	if g.Delay > 0 {
		timer := time.NewTimer(g.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Receipt{}, fmt.Errorf("stub disbursement: %w", ctx.Err())
		case <-timer.C:
		}
	}

	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return Receipt{}, fmt.Errorf("stub disbursement: %w", err)
	}
	return Receipt{TxReference: "0x" + hex.EncodeToString(b[:])}, nil
}
