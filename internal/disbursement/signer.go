package disbursement

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	// Issuer is the iss claim of every disbursement token
	Issuer = "testnet-faucet"
	// TokenTTL bounds how long a signed request stays acceptable to the backend
	TokenTTL = 5 * time.Minute
	// AmountClaim carries the base-unit amount as a decimal string so no precision is lost
	AmountClaim = "amount"
)

// Signer signs disbursement requests with the faucet's Ed25519 key
type Signer struct {
	private jwk.Key
	public  jwk.Set
}

// NewSigner parses a hex Ed25519 key: either the 32-byte seed or the 64-byte private key, with or without 0x
func NewSigner(hexKey string) (*Signer, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}

	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("signing key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
	return newSigner(priv)
}

func newSigner(priv ed25519.PrivateKey) (*Signer, error) {
	key, err := jwk.FromRaw(priv)
	if err != nil {
		return nil, fmt.Errorf("build private jwk: %w", err)
	}
	if err := jwk.AssignKeyID(key); err != nil {
		return nil, fmt.Errorf("assign key id: %w", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.EdDSA); err != nil {
		return nil, fmt.Errorf("set key algorithm: %w", err)
	}

	pub, err := jwk.PublicKeyOf(key)
	if err != nil {
		return nil, fmt.Errorf("derive public jwk: %w", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		return nil, fmt.Errorf("build jwks: %w", err)
	}

	return &Signer{private: key, public: set}, nil
}

// Sign returns a compact EdDSA JWT describing req, valid from now for TokenTTL
func (s *Signer) Sign(req Request, now time.Time) ([]byte, error) {
	tok, err := jwt.NewBuilder().
		Issuer(Issuer).
		Subject(req.Address).
		JwtID(req.RequestID).
		IssuedAt(now).
		Expiration(now.Add(TokenTTL)).
		Claim(AmountClaim, strconv.FormatUint(req.Amount, 10)).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.EdDSA, s.private))
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// PublicKeys is the JWK set a backend uses to verify Sign output
func (s *Signer) PublicKeys() jwk.Set {
	return s.public
}

// KeyID is the RFC 7638 thumbprint of the signing key
func (s *Signer) KeyID() string {
	return s.private.KeyID()
}
