// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package message

import (
	"context"
	"fmt"
	"html"

	"github.com/taibuivan/machiyomi/internal/core/delivery"
	"github.com/taibuivan/machiyomi/internal/core/release"
	"github.com/taibuivan/machiyomi/internal/platform/constants"
)

// # Dispatch Channel Adapter

// Channel adapts [Client] to the dispatcher's channel contract, rendering
// one message per release.
type Channel struct {
	client    *Client
	recipient string
	sender    string
}

// NewChannel constructs the message dispatch channel.
func NewChannel(client *Client, recipient, sender string) *Channel {
	return &Channel{client: client, recipient: recipient, sender: sender}
}

// Name implements the channel contract.
func (channel *Channel) Name() string { return constants.ChannelMessage }

// SuccessStatus implements the channel contract.
func (channel *Channel) SuccessStatus() delivery.Status { return delivery.StatusSent }

// DeliversOnExistingRef implements the channel contract. Message delivery
// cannot be proven from a stored reference; duplicates on crash recovery
// are suppressed provider-side via the idempotency key instead.
func (channel *Channel) DeliversOnExistingRef() bool { return false }

/*
Attempt sends the release notification message.

Description: The delivery row id doubles as the provider idempotency key, so
a retried send after a crash-before-commit collapses to the original message.

Parameters:
  - context: context.Context
  - attempt: *delivery.Attempt

Returns:
  - string: Provider message id
  - error: Classified provider error
*/
func (channel *Channel) Attempt(context context.Context, attempt *delivery.Attempt) (string, error) {
	pending := attempt.Release

	subject := fmt.Sprintf("[%s] %s %s %s — %s",
		pending.WorkKind,
		pending.WorkTitle,
		unitLabel(pending.UnitKind),
		pending.UnitNumber,
		pending.ReleaseDate.Format("2006-01-02"),
	)

	text := fmt.Sprintf(
		"%s\n%s %s releases on %s via %s.\n\nFirst reported by %s.\n%s\n",
		pending.WorkTitle,
		unitLabel(pending.UnitKind),
		pending.UnitNumber,
		pending.ReleaseDate.Format("Monday, 2 January 2006"),
		pending.Platform,
		pending.SourceName,
		pending.WorkURL,
	)

	return channel.client.Send(context, Request{
		Recipient: channel.recipient,
		Sender:    channel.sender,
		Subject:   subject,
		TextBody:  text,
		HTMLBody:  renderHTML(text),
	}, attempt.State.ID)
}

// unitLabel maps a unit kind to its display word.
func unitLabel(kind release.UnitKind) string {
	switch kind {
	case release.UnitEpisode:
		return "Episode"
	case release.UnitVolume:
		return "Volume"
	}
	return "Unit"
}

// renderHTML wraps the text body in a minimal HTML shell.
func renderHTML(text string) string {
	return fmt.Sprintf("<html><body><pre>%s</pre></body></html>", html.EscapeString(text))
}
