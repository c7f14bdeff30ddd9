/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"sync"
	"time"
)

// TransferState is the secondary-zone side of spec.md section 4.5: one
// instance per zone, tracking where in the refresh/retry/expire cycle
// the zone currently sits. It is the generalisation of the teacher's
// RefreshCounter (tdns/refreshengine.go) into an explicit state machine
// instead of a bag of timer fields read by an external loop.
type TransferState struct {
	mu sync.Mutex

	State        XferStateKind
	LastRefresh  time.Time
	NextRefresh  time.Time
	RetryCount   int
	LastError    string
	CorrelationID string // set per in-flight transfer attempt

	Refresh uint32
	Retry   uint32
	Expire  uint32
}

type XferStateKind int

const (
	StateRefreshing XferStateKind = iota
	StateOK
	StateExpired
)

func (s XferStateKind) String() string {
	switch s {
	case StateRefreshing:
		return "refreshing"
	case StateOK:
		return "ok"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// NewTransferState seeds a transfer state from a zone's SOA timers.
func NewTransferState(refresh, retry, expire uint32) *TransferState {
	return &TransferState{
		State:   StateRefreshing,
		Refresh: refresh,
		Retry:   retry,
		Expire:  expire,
	}
}

// jitter returns d scaled by a pseudo-random factor in [0.9, 1.1), the
// same spread the teacher's ticker-driven loop achieves implicitly by
// never scheduling two zones' refreshes on the exact same tick; here it
// is made explicit since each zone carries its own NextRefresh deadline,
// which Coordinator.Run checks on its shared 1-second ticker.
func jitter(d time.Duration, seed int64) time.Duration {
	// A linear congruential step keeps this deterministic and free of
	// math/rand global state shared across zones; the exact spread
	// only needs to avoid synchronised thundering-herd refreshes.
	seed = seed*1103515245 + 12345
	frac := float64(uint32(seed)%2000) / 10000.0 // [0, 0.2)
	return time.Duration(float64(d) * (0.9 + frac))
}

// OnRefreshSuccess transitions to OK and reschedules the next refresh
// after Refresh seconds (plus jitter), per spec.md section 4.5.
func (s *TransferState) OnRefreshSuccess(now time.Time, seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateOK
	s.RetryCount = 0
	s.LastError = ""
	s.LastRefresh = now
	s.NextRefresh = now.Add(jitter(time.Duration(s.Refresh)*time.Second, seed))
}

// OnRefreshFailure transitions toward Expired if the zone's total
// expire timer has elapsed since the last successful refresh, otherwise
// schedules a retry after Retry seconds (spec.md section 4.5).
func (s *TransferState) OnRefreshFailure(now time.Time, reason string, seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastError = reason
	s.RetryCount++

	if !s.LastRefresh.IsZero() && now.Sub(s.LastRefresh) >= time.Duration(s.Expire)*time.Second {
		s.State = StateExpired
		return
	}
	s.State = StateRefreshing
	s.NextRefresh = now.Add(jitter(time.Duration(s.Retry)*time.Second, seed))
}

// Due reports whether a refresh attempt should be made now.
func (s *TransferState) Due(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.NextRefresh.IsZero() || !now.Before(s.NextRefresh)
}

func (s *TransferState) Snapshot() (state XferStateKind, lastErr string, retries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State, s.LastError, s.RetryCount
}
