package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/benvon/testnet-faucet/internal/models"
	"github.com/go-playground/validator/v10"
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate
)

func init() {
	Validate = validator.New()

	// These should never fail in normal operation
	if err := Validate.RegisterValidation("faucet_address", validateFaucetAddress); err != nil {
		panic(fmt.Sprintf("failed to register faucet_address validator: %v", err))
	}
	if err := Validate.RegisterValidation("ban_action", validateBanAction); err != nil {
		panic(fmt.Sprintf("failed to register ban_action validator: %v", err))
	}
}

// validateFaucetAddress validates that a string is a well-formed recipient address
func validateFaucetAddress(fl validator.FieldLevel) bool {
	return IsValidAddress(fl.Field().String())
}

// validateBanAction validates that a string is a valid BanAction enum value
func validateBanAction(fl validator.FieldLevel) bool {
	switch models.BanAction(fl.Field().String()) {
	case models.BanActionBan, models.BanActionUnban:
		return true
	default:
		return false
	}
}

// SanitizeText sanitizes text input by trimming whitespace and removing control characters
func SanitizeText(text string) string {
	text = strings.TrimSpace(text)

	var sanitized strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) {
			continue
		}
		sanitized.WriteRune(r)
	}

	return sanitized.String()
}

// ValidateBanAction validates a BanAction string value
func ValidateBanAction(value string) error {
	if err := Validate.Var(value, "required,ban_action"); err != nil {
		return fmt.Errorf("invalid action: %s (must be 'ban' or 'unban')", value)
	}
	return nil
}

// ValidateAddress checks a recipient address with the faucet_address tag
func ValidateAddress(address string) error {
	if err := Validate.Var(address, "required,faucet_address"); err != nil {
		return fmt.Errorf("invalid wallet address format")
	}
	return nil
}
