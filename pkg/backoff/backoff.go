// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package backoff implements a capped exponential backoff policy.

It replaces ad-hoc retry loops with an explicit, testable policy object:
the caller asks "how long after attempt N", the policy answers. No sleeps
happen inside this package — the scheduler owns all waiting.

Usage:

	policy := backoff.Policy{Base: 2 * time.Minute, Cap: 12 * time.Hour}
	delay := policy.Delay(attempt) // attempt is 1-based
*/
package backoff

import "time"

// Policy computes the delay before the next retry attempt.
//
// # Shape
//
// Delay(n) = Base * 2^(n-1), clamped to Cap. Attempt numbers below 1 are
// treated as 1.
type Policy struct {
	// Base is the delay after the first failure.
	Base time.Duration

	// Cap is the upper bound on any single delay.
	Cap time.Duration
}

// Delay returns the wait before retry attempt number 'attempt' (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		// Stop doubling once the cap is reached to avoid overflow on
		// large attempt counts.
		if delay >= p.Cap {
			return p.Cap
		}
	}

	if delay > p.Cap {
		return p.Cap
	}
	return delay
}

// NextEligibleAt returns the earliest instant at which a row that failed at
// 'lastAttempt' on attempt number 'attempt' becomes dispatchable again.
func (p Policy) NextEligibleAt(lastAttempt time.Time, attempt int) time.Time {
	return lastAttempt.Add(p.Delay(attempt))
}
