package disbursement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

const maxResponseBytes = 64 << 10

// HTTPGateway posts signed disbursement tokens to a backend over HTTP.
// The backend answers 200 {"digest": "..."} or a non-2xx status with {"error": "..."}.
type HTTPGateway struct {
	endpoint string
	client   *http.Client
	signer   *Signer
	now      func() time.Time
}

// HTTPOption configures an HTTPGateway
type HTTPOption func(*HTTPGateway)

// WithHTTPClient replaces the default client
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(g *HTTPGateway) {
		g.client = c
	}
}

// WithClientCredentials authenticates every call with an OAuth2 client-credentials token.
// Tokens are cached and refreshed by the returned transport.
func WithClientCredentials(tokenURL, clientID, clientSecret string, scopes ...string) HTTPOption {
	return func(g *HTTPGateway) {
		cfg := &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
		}
		c := cfg.Client(context.Background())
		c.Timeout = g.client.Timeout
		g.client = c
	}
}

// WithGatewayClock overrides the token issue time source, for tests
func WithGatewayClock(now func() time.Time) HTTPOption {
	return func(g *HTTPGateway) {
		g.now = now
	}
}

// NewHTTPGateway creates a gateway for endpoint
func NewHTTPGateway(endpoint string, signer *Signer, opts ...HTTPOption) *HTTPGateway {
	g := &HTTPGateway{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		signer:   signer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var _ Gateway = (*HTTPGateway)(nil)

type backendResponse struct {
	Digest string `json:"digest"`
	Error  string `json:"error"`
}

// Disburse signs req and submits it. Non-2xx answers are wrapped with ErrRejected.
func (g *HTTPGateway) Disburse(ctx context.Context, req Request) (Receipt, error) {
	token, err := g.signer.Sign(req, g.now())
	if err != nil {
		return Receipt{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(token))
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/jwt")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.RequestID)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Receipt{}, fmt.Errorf("disbursement backend unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to read backend response: %w", err)
	}

	var out backendResponse
	decodeErr := json.Unmarshal(body, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := out.Error
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return Receipt{}, fmt.Errorf("%w: backend returned %d: %s", ErrRejected, resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return Receipt{}, fmt.Errorf("failed to decode backend response: %w", decodeErr)
	}
	if out.Digest == "" {
		return Receipt{}, fmt.Errorf("backend response has no transaction digest")
	}
	return Receipt{TxReference: out.Digest}, nil
}
