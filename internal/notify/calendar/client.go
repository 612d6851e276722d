// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package calendar implements the calendar-sync channel.

The provider is a REST calendar API authenticated with service-account
bearer tokens (RS256 assertions exchanged for short-lived access tokens).
Event creation carries an Idempotency-Key, and updates address events by the
stored provider event id — both idempotent from the caller's perspective.
*/
package calendar

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

// callsPerMinute is the channel's own rate budget.
const callsPerMinute = 60

// # Wire Types

// Event is one calendar entry.
type Event struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// eventResponse is the provider's representation of a stored event.
type eventResponse struct {
	EventID string `json:"event_id"`
}

// # Client

// Client talks to the calendar provider.
type Client struct {
	baseURL     string
	calendarID  string
	tokens      *tokenSource
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewClient constructs a calendar provider [Client].
//
// # Parameters
//   - baseURL: Provider API root.
//   - calendarID: Target calendar.
//   - issuer: Service-account identifier (JWT 'iss' claim).
//   - scope: Token scope requested for calendar access.
//   - keyPath: Path to the RS256 private key PEM.
func NewClient(baseURL, calendarID, issuer, scope, keyPath string, timeout time.Duration) (*Client, error) {
	tokens, err := newTokenSource(baseURL, issuer, scope, keyPath, timeout)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL:     baseURL,
		calendarID:  calendarID,
		tokens:      tokens,
		httpClient:  &http.Client{Timeout: timeout},
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/callsPerMinute), 1),
	}, nil
}

/*
CreateEvent creates a calendar event and returns the provider event id.

Description: The idempotency key makes the create safe to repeat — a
provider that already holds an event for the key returns that event instead
of creating a second one.

Parameters:
  - context: context.Context
  - event: Event
  - idempotencyKey: string (Stable per delivery row)

Returns:
  - string: Provider event id
  - error: apperr classification (RateLimited, Unauthorized, Internal)
*/
func (client *Client) CreateEvent(ctx context.Context, event Event, idempotencyKey string) (string, error) {
	path := fmt.Sprintf("/v1/calendars/%s/events", client.calendarID)

	var decoded eventResponse
	if err := client.call(ctx, http.MethodPost, path, event, idempotencyKey, &decoded); err != nil {
		return "", err
	}

	if decoded.EventID == "" {
		return "", fmt.Errorf("calendar: response missing event id")
	}

	return decoded.EventID, nil
}

/*
UpdateEvent overwrites an existing event addressed by its provider id.
*/
func (client *Client) UpdateEvent(ctx context.Context, eventID string, event Event) error {
	path := fmt.Sprintf("/v1/calendars/%s/events/%s", client.calendarID, eventID)
	return client.call(ctx, http.MethodPut, path, event, "", nil)
}

// call performs one authenticated provider request.
func (client *Client) call(ctx context.Context, method, path string, payload any, idempotencyKey string, out any) error {

	if err := client.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	token, err := client.tokens.Token(ctx)
	if err != nil {
		// Failing to mint a token is a credential problem, not a transient one.
		return apperr.Unauthorized("calendar token exchange failed: " + err.Error())
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return apperr.Internal(fmt.Errorf("calendar: failed to encode payload: %w", err))
	}

	request, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return apperr.Internal(err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+token)
	if idempotencyKey != "" {
		request.Header.Set("Idempotency-Key", idempotencyKey)
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("calendar: request failed: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	switch {
	case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
		return apperr.Unauthorized("calendar provider rejected credentials")
	case response.StatusCode == http.StatusTooManyRequests:
		return apperr.RateLimited(60)
	case response.StatusCode >= 500:
		return fmt.Errorf("calendar: provider error %d", response.StatusCode)
	case response.StatusCode < 200 || response.StatusCode >= 300:
		return apperr.Unprocessable(fmt.Sprintf("calendar provider returned %d", response.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("calendar: malformed response: %w", err)
	}

	return nil
}
