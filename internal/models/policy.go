package models

import (
	"fmt"
	"math"
	"time"
)

// Policy holds the runtime-adjustable dispensing parameters
type Policy struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
	Amount      uint64        `yaml:"amount"`
	Decimals    int           `yaml:"decimals"`

	// ThrottleRate is the coarse per-IP HTTP limit in "<limit>-<period>" form, e.g. "30-M"
	ThrottleRate string `yaml:"http_throttle_rate,omitempty"`
}

// DisplayAmount converts the base-unit amount to whole tokens
func (p Policy) DisplayAmount() float64 {
	return float64(p.Amount) / math.Pow10(p.Decimals)
}

// Validate checks the policy invariants
func (p Policy) Validate() error {
	if p.MaxRequests <= 0 {
		return fmt.Errorf("max requests must be positive, got %d", p.MaxRequests)
	}
	if p.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", p.Window)
	}
	if p.Amount == 0 {
		return fmt.Errorf("amount must be positive")
	}
	if p.Decimals < 0 || p.Decimals > 18 {
		return fmt.Errorf("decimals must be between 0 and 18, got %d", p.Decimals)
	}
	return nil
}
