// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package audit

import (
	"context"
	"log/slog"

	"github.com/taibuivan/machiyomi/pkg/uuidv7"
)

// # Recorder Service

// Recorder writes audit records without ever failing its caller.
//
// # Contract
//
// A failed audit write is logged locally and swallowed. Audit is a secondary
// concern: it must never roll back or abort the primary state transition
// that triggered it.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
}

// NewRecorder constructs a [Recorder].
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

/*
DispatchSuccess records a successful delivery attempt.

Parameters:
  - context: context.Context
  - releaseID: string (UUID)
  - channel: string
  - detail: string (Provider reference or payload summary)
*/
func (recorder *Recorder) DispatchSuccess(context context.Context, releaseID, channel, detail string) {
	recorder.append(context, &Record{
		EventType:   EventDispatch,
		SubjectType: SubjectRelease,
		SubjectID:   releaseID,
		Channel:     &channel,
		Outcome:     OutcomeSuccess,
		Detail:      detail,
	})
}

/*
DispatchFailure records a failed delivery attempt.
*/
func (recorder *Recorder) DispatchFailure(context context.Context, releaseID, channel, detail string) {
	recorder.append(context, &Record{
		EventType:   EventDispatch,
		SubjectType: SubjectRelease,
		SubjectID:   releaseID,
		Channel:     &channel,
		Outcome:     OutcomeFailure,
		Detail:      detail,
	})
}

/*
Abandoned records that a delivery row exhausted its retry budget.

Description: Written in addition to the final failure record, so "still
trying" and "gave up" stay distinguishable in the history.
*/
func (recorder *Recorder) Abandoned(context context.Context, releaseID, channel, detail string) {
	recorder.append(context, &Record{
		EventType:   EventAbandoned,
		SubjectType: SubjectRelease,
		SubjectID:   releaseID,
		Channel:     &channel,
		Outcome:     OutcomeFailure,
		Detail:      detail,
	})
}

/*
Poll records a source poll outcome.
*/
func (recorder *Recorder) Poll(context context.Context, source string, outcome Outcome, detail string) {
	recorder.append(context, &Record{
		EventType:   EventPoll,
		SubjectType: SubjectSource,
		SubjectID:   source,
		Outcome:     outcome,
		Detail:      detail,
	})
}

/*
Ingest records a normalization outcome for one candidate event.
*/
func (recorder *Recorder) Ingest(context context.Context, source string, outcome Outcome, detail string) {
	recorder.append(context, &Record{
		EventType:   EventIngest,
		SubjectType: SubjectSource,
		SubjectID:   source,
		Outcome:     outcome,
		Detail:      detail,
	})
}

/*
AuthFailure records a credential failure on a source or channel.
*/
func (recorder *Recorder) AuthFailure(context context.Context, subjectType SubjectType, subjectID, detail string) {
	recorder.append(context, &Record{
		EventType:   EventAuth,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Outcome:     OutcomeFailure,
		Detail:      detail,
	})
}

// append assigns an ID and writes the record, swallowing storage failures.
func (recorder *Recorder) append(context context.Context, record *Record) {
	record.ID = uuidv7.New()

	if err := recorder.repo.Append(context, record); err != nil {
		recorder.logger.Error("audit_append_failed",
			slog.String("event_type", string(record.EventType)),
			slog.String("subject_id", record.SubjectID),
			slog.Any("error", err),
		)
	}
}
