package models

import "time"

// RequestStatus is the terminal outcome of a faucet request
type RequestStatus string

const (
	// RequestStatusSuccess means funds were disbursed
	RequestStatusSuccess RequestStatus = "success"
	// RequestStatusFailed covers validation, ban, store and disbursement failures
	RequestStatusFailed RequestStatus = "failed"
	// RequestStatusRateLimited means the request was rejected by the window cap
	RequestStatusRateLimited RequestStatus = "rate_limited"
)

// UnknownAddress is recorded when a request fails before its address is validated
const UnknownAddress = "unknown"

// LogEntry is one completed faucet attempt. Entries are immutable once appended.
type LogEntry struct {
	ID        string        `json:"id"`
	Address   string        `json:"wallet"`
	IP        string        `json:"ip"`
	Timestamp time.Time     `json:"timestamp"`
	Status    RequestStatus `json:"status"`
	Amount    *float64      `json:"amount,omitempty"`
	TxHash    string        `json:"txHash,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// IsSuccess reports whether the entry records a disbursement
func (e *LogEntry) IsSuccess() bool {
	return e.Status == RequestStatusSuccess
}

// LedgerStats is derived by scanning the current ledger entries
type LedgerStats struct {
	Total       int `json:"totalRequests"`
	Successful  int `json:"successfulRequests"`
	Failed      int `json:"failedRequests"`
	RateLimited int `json:"rateLimitedRequests"`
}

// ComputeStats scans entries. Failed counts every non-success entry, rate limited ones included.
func ComputeStats(entries []LogEntry) LedgerStats {
	stats := LedgerStats{Total: len(entries)}
	for i := range entries {
		switch entries[i].Status {
		case RequestStatusSuccess:
			stats.Successful++
		case RequestStatusRateLimited:
			stats.RateLimited++
		}
	}
	stats.Failed = stats.Total - stats.Successful
	return stats
}
