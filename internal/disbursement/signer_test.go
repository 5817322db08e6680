package disbursement

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

var testSeed = strings.Repeat("01", ed25519.SeedSize)

func TestNewSigner(t *testing.T) {
	t.Parallel()

	full := hex.EncodeToString(ed25519.NewKeyFromSeed(mustHex(t, testSeed)))

	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "seed", key: testSeed},
		{name: "seed with prefix", key: "0x" + testSeed},
		{name: "full private key", key: full},
		{name: "wrong length", key: "abcd", wantErr: true},
		{name: "not hex", key: strings.Repeat("zz", 32), wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := NewSigner(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewSigner() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && s.KeyID() == "" {
				t.Error("expected a thumbprint key id")
			}
		})
	}
}

func TestSigner_SeedAndFullKeyAgree(t *testing.T) {
	t.Parallel()

	a, err := NewSigner(testSeed)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewSigner(hex.EncodeToString(ed25519.NewKeyFromSeed(mustHex(t, testSeed))))
	if err != nil {
		t.Fatal(err)
	}
	if a.KeyID() != b.KeyID() {
		t.Errorf("expected identical key ids, got %s and %s", a.KeyID(), b.KeyID())
	}
}

func TestSigner_SignVerifiesAgainstPublicKeys(t *testing.T) {
	t.Parallel()

	s, err := NewSigner(testSeed)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().Truncate(time.Second)
	req := Request{RequestID: "req-1", Address: "0x" + strings.Repeat("ab", 32), Amount: 1_000_000_000}

	signed, err := s.Sign(req, now)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	tok, err := jwt.Parse(signed, jwt.WithKeySet(s.PublicKeys()), jwt.WithValidate(true), jwt.WithIssuer(Issuer))
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if tok.Subject() != req.Address {
		t.Errorf("sub = %q, want %q", tok.Subject(), req.Address)
	}
	if tok.JwtID() != req.RequestID {
		t.Errorf("jti = %q, want %q", tok.JwtID(), req.RequestID)
	}
	if amount, _ := tok.Get(AmountClaim); amount != "1000000000" {
		t.Errorf("amount = %v, want \"1000000000\"", amount)
	}
	if !tok.Expiration().Equal(now.Add(TokenTTL)) {
		t.Errorf("exp = %s, want %s", tok.Expiration(), now.Add(TokenTTL))
	}
}

func TestSigner_RejectsOtherKey(t *testing.T) {
	t.Parallel()

	s, _ := NewSigner(testSeed)
	other, _ := NewSigner(strings.Repeat("02", ed25519.SeedSize))

	signed, err := s.Sign(Request{RequestID: "r", Address: "0x1", Amount: 1}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := jwt.Parse(signed, jwt.WithKeySet(other.PublicKeys())); err == nil {
		t.Fatal("expected verification with a different key set to fail")
	}
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
