/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTransferStateInitiallyDue(t *testing.T) {
	s := NewTransferState(3600, 600, 86400)
	assert.True(t, s.Due(time.Now()))
}

func TestOnRefreshSuccessSchedulesNext(t *testing.T) {
	s := NewTransferState(3600, 600, 86400)
	now := time.Unix(1_700_000_000, 0)
	s.OnRefreshSuccess(now, 1)

	state, lastErr, retries := s.Snapshot()
	assert.Equal(t, StateOK, state)
	assert.Empty(t, lastErr)
	assert.Equal(t, 0, retries)
	assert.False(t, s.Due(now), "should not be due immediately after a success")
	assert.True(t, s.Due(now.Add(4000*time.Second)), "should be due again after refresh interval")
}

func TestOnRefreshFailureRetriesBeforeExpiring(t *testing.T) {
	s := NewTransferState(3600, 600, 86400)
	now := time.Unix(1_700_000_000, 0)
	s.OnRefreshSuccess(now, 1)

	s.OnRefreshFailure(now.Add(time.Hour), "timeout", 2)
	state, lastErr, retries := s.Snapshot()
	assert.Equal(t, StateRefreshing, state)
	assert.Equal(t, "timeout", lastErr)
	assert.Equal(t, 1, retries)
}

func TestOnRefreshFailureExpiresAfterExpireElapsed(t *testing.T) {
	s := NewTransferState(3600, 600, 86400)
	now := time.Unix(1_700_000_000, 0)
	s.OnRefreshSuccess(now, 1)

	s.OnRefreshFailure(now.Add(25*time.Hour), "timeout", 2)
	state, _, _ := s.Snapshot()
	assert.Equal(t, StateExpired, state)
}

func TestJitterStaysWithinExpectedBand(t *testing.T) {
	base := 1000 * time.Second
	for seed := int64(0); seed < 50; seed++ {
		d := jitter(base, seed)
		assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.9))
		assert.Less(t, d, time.Duration(float64(base)*1.1))
	}
}
