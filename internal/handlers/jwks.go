package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// JWKSHandler publishes the public keys the disbursement backend uses to verify faucet requests
func JWKSHandler(keys jwk.Set) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/jwk-set+json")
		w.Header().Set("Cache-Control", "public, max-age=300")
		if err := json.NewEncoder(w).Encode(keys); err != nil {
			http.Error(w, "Failed to encode key set", http.StatusInternalServerError)
		}
	}
}
