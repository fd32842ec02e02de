package scheduler

import (
	"time"

	"github.com/benmeehan/tesla-exporter/internal/models"
	"github.com/rs/zerolog"
)

// escalationThreshold is the consecutive-error count at which the tracker
// slows polling down regardless of vehicle state.
const escalationThreshold = 5

// SleepTracker tracks the vehicle's sleep state and decides whether to fetch
// full telemetry and how long to wait before the next poll, balancing data
// freshness against not waking a battery-powered vehicle unnecessarily.
// It is owned and mutated exclusively by the poll loop.
type SleepTracker struct {
	normalInterval time.Duration
	sleepInterval  time.Duration
	wakeOnPoll     bool
	logger         zerolog.Logger

	lastKnownState    models.VehicleState
	lastFetch         time.Time
	consecutiveErrors int
}

// NewSleepTracker initializes a new SleepTracker.
func NewSleepTracker(normalInterval, sleepInterval time.Duration, wakeOnPoll bool, logger zerolog.Logger) *SleepTracker {
	return &SleepTracker{
		normalInterval: normalInterval,
		sleepInterval:  sleepInterval,
		wakeOnPoll:     wakeOnPoll,
		logger:         logger,
		lastKnownState: models.VehicleStateUnknown,
	}
}

// LastKnownState returns the most recently observed vehicle state.
func (st *SleepTracker) LastKnownState() models.VehicleState {
	return st.lastKnownState
}

// UpdateState records a fresh state observation. A state change is notable
// but does not alter behavior beyond resetting the consecutive-error counter,
// which every fresh observation does.
func (st *SleepTracker) UpdateState(state models.VehicleState) {
	if state != st.lastKnownState {
		st.logger.Info().
			Str("from", string(st.lastKnownState)).
			Str("to", string(state)).
			Msg("Vehicle state changed")
	}
	st.lastKnownState = state
	st.consecutiveErrors = 0
}

// RecordError increments the consecutive-error counter.
func (st *SleepTracker) RecordError() {
	st.consecutiveErrors++
	if st.consecutiveErrors >= escalationThreshold {
		st.logger.Warn().
			Int("consecutive_errors", st.consecutiveErrors).
			Msg("Using reduced poll rate")
	}
}

// RecordSuccessfulFetch stamps the last successful telemetry fetch. It does
// not reset the error counter; only a fresh state observation does.
func (st *SleepTracker) RecordSuccessfulFetch() {
	st.lastFetch = time.Now()
}

// ShouldFetch decides whether full telemetry should be fetched for the given
// state. Asleep vehicles are only fetched when wake-on-poll is enabled, to
// preserve vehicle battery.
func (st *SleepTracker) ShouldFetch(state models.VehicleState) bool {
	switch state {
	case models.VehicleStateOnline:
		return true
	case models.VehicleStateAsleep:
		if st.wakeOnPoll {
			st.logger.Info().Msg("Vehicle asleep, will wake (wake_on_poll enabled)")
			return true
		}
		st.logger.Info().Msg("Vehicle asleep, skipping data fetch to preserve battery")
		return false
	case models.VehicleStateOffline:
		st.logger.Info().Msg("Vehicle offline, skipping data fetch")
		return false
	default:
		st.logger.Info().Str("state", string(state)).Msg("Vehicle state unknown, skipping data fetch")
		return false
	}
}

// PollInterval computes the wait before the next poll cycle. Persistent
// failures escalate to at least the sleep interval so a failing endpoint is
// not hammered.
func (st *SleepTracker) PollInterval() time.Duration {
	if st.consecutiveErrors >= escalationThreshold {
		if st.sleepInterval > st.normalInterval {
			return st.sleepInterval
		}
		return st.normalInterval
	}

	switch st.lastKnownState {
	case models.VehicleStateAsleep, models.VehicleStateOffline, models.VehicleStateUnknown:
		return st.sleepInterval
	default:
		return st.normalInterval
	}
}
