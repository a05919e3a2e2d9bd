package distribution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// PaymentError is a payment the gateway refused or could not execute.
type PaymentError struct {
	StatusCode int
	Message    string
}

func (e *PaymentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("payment gateway returned %d: %s", e.StatusCode, e.Message)
	}
	return "payment declined: " + e.Message
}

type paymentRequest struct {
	DistributionID string `json:"distribution_id"`
	RecipientID    string `json:"recipient_id"`
	Name           string `json:"name"`
	AccountNumber  string `json:"account_number"`
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
}

type paymentResponse struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// HTTPGateway posts payments to the transfer service. Each request carries an
// idempotency key so retried batches do not pay a recipient twice.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) Client() *http.Client {
	return g.client
}

func IdempotencyKey(distributionID, recipientID string) string {
	return distributionID + ":" + recipientID
}

func (g *HTTPGateway) Pay(ctx context.Context, distributionID string, r Recipient) error {
	payload, err := json.Marshal(paymentRequest{
		DistributionID: distributionID,
		RecipientID:    r.ID,
		Name:           r.Name,
		AccountNumber:  r.AccountNumber,
		AmountMinor:    r.AmountMinor,
		Currency:       r.Currency,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/payments", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", IdempotencyKey(distributionID, r.ID))
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out paymentResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode >= http.StatusMultipleChoices {
		msg := out.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &PaymentError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode gateway response: %w", decodeErr)
	}
	if !strings.EqualFold(out.Status, "success") {
		msg := out.Message
		if msg == "" {
			msg = out.Status
		}
		return &PaymentError{Message: msg}
	}
	return nil
}
