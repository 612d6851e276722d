// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/taibuivan/machiyomi/internal/core/delivery"
	"github.com/taibuivan/machiyomi/internal/core/release"
	"github.com/taibuivan/machiyomi/internal/platform/constants"
)

// # Dispatch Channel Adapter

// Channel adapts [Client] to the dispatcher's channel contract, creating
// one all-day event per release.
type Channel struct {
	client *Client
}

// NewChannel constructs the calendar dispatch channel.
func NewChannel(client *Client) *Channel {
	return &Channel{client: client}
}

// Name implements the channel contract.
func (channel *Channel) Name() string { return constants.ChannelCalendar }

// SuccessStatus implements the channel contract.
func (channel *Channel) SuccessStatus() delivery.Status { return delivery.StatusSynced }

// DeliversOnExistingRef implements the channel contract. A stored event id
// proves the event exists on the provider, so recovery after a crash
// between create and commit completes without a second create call.
func (channel *Channel) DeliversOnExistingRef() bool { return true }

/*
Attempt creates the release's calendar event.

Parameters:
  - context: context.Context
  - attempt: *delivery.Attempt

Returns:
  - string: Provider event id
  - error: Classified provider error
*/
func (channel *Channel) Attempt(context context.Context, attempt *delivery.Attempt) (string, error) {
	pending := attempt.Release

	day := pending.ReleaseDate.UTC().Truncate(24 * time.Hour)

	return channel.client.CreateEvent(context, Event{
		Title:       eventTitle(&pending),
		Description: eventDescription(&pending),
		Start:       day,
		End:         day.Add(24 * time.Hour),
	}, attempt.State.ID)
}

// eventTitle renders "Title — Ep. 12" / "Title — Vol. 3".
func eventTitle(pending *release.PendingRelease) string {
	abbrev := "Ep."
	if pending.UnitKind == release.UnitVolume {
		abbrev = "Vol."
	}
	return fmt.Sprintf("%s — %s %s", pending.WorkTitle, abbrev, pending.UnitNumber)
}

func eventDescription(pending *release.PendingRelease) string {
	return fmt.Sprintf("%s %s of %s on %s.\nFirst reported by %s.\n%s",
		string(pending.UnitKind),
		pending.UnitNumber,
		pending.WorkTitle,
		pending.Platform,
		pending.SourceName,
		pending.WorkURL,
	)
}
