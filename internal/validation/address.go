package validation

import "strings"

const (
	// AddressPrefix is the literal prefix every recipient address carries
	AddressPrefix = "0x"
	// AddressHexLength is the number of hex characters after the prefix
	AddressHexLength = 64
	// AddressLength is the total fixed length of a recipient address
	AddressLength = len(AddressPrefix) + AddressHexLength
)

// IsValidAddress reports whether address is "0x" followed by exactly 64 hex characters.
// Hex digits are matched case-insensitively.
func IsValidAddress(address string) bool {
	if len(address) != AddressLength || !strings.HasPrefix(address, AddressPrefix) {
		return false
	}
	for i := len(AddressPrefix); i < len(address); i++ {
		if !isHex(address[i]) {
			return false
		}
	}
	return true
}

// NormalizeAddress lower-cases a valid address so that case variants share ban and rate-limit state
func NormalizeAddress(address string) string {
	return strings.ToLower(address)
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
