// Package payment wraps the external checkout provider. The core consumes
// it as an opaque create-session / poll-status / verify-webhook capability.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrBadSignature is returned when a webhook delivery fails signature
// verification. The delivery is rejected outright with no state change.
var ErrBadSignature = fmt.Errorf("webhook signature verification failed")

// Session is the provider-side payment session opened for one checkout.
type Session struct {
	ID          string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}

// SessionStatus is the provider's current view of a session. ChargedAmount
// is the amount actually captured, which the ticket records instead of the
// quoted fare.
type SessionStatus struct {
	Paid          bool              `json:"paid"`
	Status        string            `json:"status"` // "pending", "paid", "failed", "expired", "cancelled"
	ChargedAmount float64           `json:"charged_amount"`
	Currency      string            `json:"currency"`
	TransactionID string            `json:"transaction_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// WebhookEvent is a signature-verified provider notification.
type WebhookEvent struct {
	Type          string            `json:"type"` // "session.paid", "session.failed", "session.expired"
	SessionID     string            `json:"session_id"`
	ChargedAmount float64           `json:"charged_amount"`
	Currency      string            `json:"currency"`
	TransactionID string            `json:"transaction_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// CreateSessionParams carries everything needed to open a session.
type CreateSessionParams struct {
	Amount      float64
	Currency    string
	Description string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

// Gateway is the contract the orchestrator depends on.
type Gateway interface {
	CreateSession(ctx context.Context, params CreateSessionParams) (*Session, error)
	GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error)
	VerifyWebhookSignature(rawBody []byte, signatureHeader string) (*WebhookEvent, error)
}

// Config holds checkout provider credentials and endpoints.
type Config struct {
	Environment   string // "sandbox" or "production"
	BaseURL       string // Overrides the environment endpoint when set
	MerchantKey   string
	MerchantToken string // SECRET - never expose to client
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// environmentURLs maps environment names to provider endpoints.
var environmentURLs = map[string]string{
	"sandbox":    "https://sandbox.checkout.rutaviva.mx/v1",
	"production": "https://checkout.rutaviva.mx/v1",
}

// CheckoutClient is the HTTP Gateway implementation.
type CheckoutClient struct {
	config Config
	logger *logrus.Logger
	client *http.Client
}

// NewCheckoutClient creates a gateway client for the configured environment.
func NewCheckoutClient(cfg Config, logger *logrus.Logger) *CheckoutClient {
	return &CheckoutClient{
		config: cfg,
		logger: logger,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// IsConfigured returns true if merchant credentials are present.
func (c *CheckoutClient) IsConfigured() bool {
	return c.config.MerchantKey != "" && c.config.MerchantToken != ""
}

func (c *CheckoutClient) baseURL() string {
	if c.config.BaseURL != "" {
		return c.config.BaseURL
	}
	if url, ok := environmentURLs[c.config.Environment]; ok {
		return url
	}
	return environmentURLs["sandbox"]
}

// checkValue authenticates requests to the provider:
// hash1 = SHA512(merchantToken), hex uppercase
// hash2 = SHA512("merchantKey|payload|hash1"), hex uppercase
func (c *CheckoutClient) checkValue(payload string) string {
	hash1 := sha512.Sum512([]byte(c.config.MerchantToken))
	hash1Hex := strings.ToUpper(hex.EncodeToString(hash1[:]))

	data := fmt.Sprintf("%s|%s|%s", c.config.MerchantKey, payload, hash1Hex)
	hash2 := sha512.Sum512([]byte(data))
	return strings.ToUpper(hex.EncodeToString(hash2[:]))
}

type createSessionRequest struct {
	MerchantKey string            `json:"merchant_key"`
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	SuccessURL  string            `json:"success_url"`
	CancelURL   string            `json:"cancel_url"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CheckValue  string            `json:"check_value"`
}

// CreateSession opens a payment session and returns its id and the page
// the customer is redirected to.
func (c *CheckoutClient) CreateSession(ctx context.Context, params CreateSessionParams) (*Session, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("payment gateway not configured: missing merchant credentials")
	}

	if params.SuccessURL == "" {
		params.SuccessURL = c.config.SuccessURL
	}
	if params.CancelURL == "" {
		params.CancelURL = c.config.CancelURL
	}

	amount := fmt.Sprintf("%.2f", params.Amount)
	reqBody := &createSessionRequest{
		MerchantKey: c.config.MerchantKey,
		Amount:      amount,
		Currency:    params.Currency,
		Description: params.Description,
		SuccessURL:  params.SuccessURL,
		CancelURL:   params.CancelURL,
		Metadata:    params.Metadata,
		CheckValue:  c.checkValue(amount + "|" + params.Currency),
	}

	c.logger.WithFields(logrus.Fields{
		"amount":   amount,
		"currency": params.Currency,
		"endpoint": c.baseURL(),
	}).Info("Creating checkout session")

	var session Session
	if err := c.postJSON(ctx, c.baseURL()+"/sessions", reqBody, &session); err != nil {
		return nil, err
	}
	if session.ID == "" || session.RedirectURL == "" {
		return nil, fmt.Errorf("session creation failed: incomplete provider response")
	}

	c.logger.WithField("session_id", session.ID).Info("Checkout session created")
	return &session, nil
}

// GetSessionStatus polls the provider for the current state of a session.
// Safe to call any number of times.
func (c *CheckoutClient) GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	url := fmt.Sprintf("%s/sessions/%s?merchant_key=%s", c.baseURL(), sessionID, c.config.MerchantKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}
	req.Header.Set("X-Check-Value", c.checkValue(sessionID))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to check session status: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payment gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	var status SessionStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &status, nil
}

// VerifyWebhookSignature checks the HMAC-SHA256 signature header against
// the raw body and parses the event. A failed check rejects the delivery;
// nothing downstream runs on unverified payloads.
func (c *CheckoutClient) VerifyWebhookSignature(rawBody []byte, signatureHeader string) (*WebhookEvent, error) {
	mac := hmac.New(sha256.New, []byte(c.config.WebhookSecret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	provided := strings.TrimPrefix(strings.TrimSpace(signatureHeader), "sha256=")
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return nil, ErrBadSignature
	}

	var event WebhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if event.SessionID == "" {
		return nil, fmt.Errorf("webhook missing session_id")
	}

	c.logger.WithFields(logrus.Fields{
		"session_id": event.SessionID,
		"type":       event.Type,
	}).Info("Webhook payload verified")
	return &event, nil
}

func (c *CheckoutClient) postJSON(ctx context.Context, url string, in, out interface{}) error {
	jsonBody, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).Error("Failed to call payment gateway")
		return fmt.Errorf("failed to call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("payment gateway returned status %d: %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}
