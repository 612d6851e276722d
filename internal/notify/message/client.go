// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package message implements the message-delivery channel.

The provider is an HTTP JSON API: one POST per message carrying recipient,
subject, and rendered text + rich bodies, returning a provider message id.
Every request carries an Idempotency-Key derived from the delivery row, so
a retry after a crash-after-success is deduplicated on the provider side.
Where a provider ignores the key, this degrades to at-least-once delivery —
an accepted tradeoff, not an assumed impossibility.
*/
package message

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/taibuivan/machiyomi/internal/platform/apperr"
)

// sendsPerMinute is the channel's own rate budget.
const sendsPerMinute = 30

// # Wire Types

// Request is one message to deliver.
type Request struct {
	Recipient string `json:"recipient"`
	Sender    string `json:"sender"`
	Subject   string `json:"subject"`
	TextBody  string `json:"text_body"`
	HTMLBody  string `json:"html_body"`
}

// response is the provider's acknowledgement.
type response struct {
	MessageID string `json:"message_id"`
}

// # Client

// Client talks to the message provider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient constructs a message provider [Client].
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/sendsPerMinute), 1),
	}
}

/*
Send delivers one message and returns the provider message id.

Description: The idempotency key travels as a header; providers that honor
it return the original message id on a duplicate send instead of delivering
twice.

Parameters:
  - context: context.Context
  - request: Request
  - idempotencyKey: string (Stable per delivery row)

Returns:
  - string: Provider message id
  - error: apperr classification (RateLimited, Unauthorized, Internal)
*/
func (client *Client) Send(ctx context.Context, request Request, idempotencyKey string) (string, error) {

	if err := client.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(request)
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("message: failed to encode request: %w", err))
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost,
		client.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", apperr.Internal(err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Authorization", "Bearer "+client.apiKey)
	httpRequest.Header.Set("Idempotency-Key", idempotencyKey)

	httpResponse, err := client.httpClient.Do(httpRequest)
	if err != nil {
		// Transport failure: the dispatcher retries with backoff.
		return "", fmt.Errorf("message: send failed: %w", err)
	}
	defer func() { _ = httpResponse.Body.Close() }()

	switch {
	case httpResponse.StatusCode == http.StatusUnauthorized || httpResponse.StatusCode == http.StatusForbidden:
		return "", apperr.Unauthorized("message provider rejected credentials")
	case httpResponse.StatusCode == http.StatusTooManyRequests:
		return "", apperr.RateLimited(60)
	case httpResponse.StatusCode >= 500:
		return "", fmt.Errorf("message: provider error %d", httpResponse.StatusCode)
	case httpResponse.StatusCode != http.StatusOK && httpResponse.StatusCode != http.StatusCreated:
		return "", apperr.Unprocessable(fmt.Sprintf("message provider returned %d", httpResponse.StatusCode))
	}

	var decoded response
	if err := json.NewDecoder(httpResponse.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("message: malformed acknowledgement: %w", err)
	}

	if decoded.MessageID == "" {
		return "", fmt.Errorf("message: acknowledgement missing message id")
	}

	return decoded.MessageID, nil
}
