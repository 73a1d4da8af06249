package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
)

// MockGateway is a provider for local development and tests. Its webhooks are
// processor-neutral events signed with HMAC-SHA256 ("sha256=<hex>").
type MockGateway struct {
	secret  string
	baseURL string
}

// NewMockGateway creates a MockGateway that signs with secret and hands out
// URLs under baseURL.
func NewMockGateway(secret, baseURL string) *MockGateway {
	return &MockGateway{secret: secret, baseURL: strings.TrimRight(baseURL, "/")}
}

func (g *MockGateway) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (string, error) {
	q := url.Values{}
	q.Set("session_id", "cs_mock_"+uuid.New().String())
	for k, v := range req.metadata() {
		q.Set(k, v)
	}
	q.Set("price", req.PriceID)
	return g.baseURL + "/mock/checkout?" + q.Encode(), nil
}

func (g *MockGateway) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	q := url.Values{}
	q.Set("customer", customerID)
	q.Set("return_url", returnURL)
	return g.baseURL + "/mock/portal?" + q.Encode(), nil
}

func (g *MockGateway) SignatureHeader() string {
	return "X-Webhook-Signature"
}

func (g *MockGateway) ParseWebhook(payload []byte, signature string) (*domain.RawEvent, error) {
	if g.secret == "" || !verifySignature(signature, payload, g.secret) {
		return nil, ErrInvalidSignature
	}
	var raw domain.RawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, domain.MalformedEvent("invalid JSON body")
	}
	return &raw, nil
}

// Sign returns the signature header value for payload.
func (g *MockGateway) Sign(payload []byte) string {
	return "sha256=" + computeMAC(payload, g.secret)
}

func verifySignature(signature string, payload []byte, secret string) bool {
	parts := strings.SplitN(signature, "=", 2)
	if len(parts) != 2 || parts[0] != "sha256" {
		return false
	}
	return hmac.Equal([]byte(parts[1]), []byte(computeMAC(payload, secret)))
}

func computeMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
