package scheduler

import (
	"testing"
	"time"

	"github.com/benmeehan/tesla-exporter/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

const (
	testNormalInterval = 300 * time.Second
	testSleepInterval  = 660 * time.Second
)

func newTestTracker(wakeOnPoll bool) *SleepTracker {
	return NewSleepTracker(testNormalInterval, testSleepInterval, wakeOnPoll, zerolog.Nop())
}

func TestShouldFetch(t *testing.T) {
	tests := []struct {
		name       string
		state      models.VehicleState
		wakeOnPoll bool
		want       bool
	}{
		{"online vehicle is always fetched", models.VehicleStateOnline, false, true},
		{"asleep vehicle is skipped by default", models.VehicleStateAsleep, false, false},
		{"asleep vehicle is fetched with wake-on-poll", models.VehicleStateAsleep, true, true},
		{"offline vehicle is never fetched", models.VehicleStateOffline, false, false},
		{"offline vehicle is never fetched even with wake-on-poll", models.VehicleStateOffline, true, false},
		{"unknown state is skipped", models.VehicleStateUnknown, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newTestTracker(tt.wakeOnPoll)
			assert.Equal(t, tt.want, tracker.ShouldFetch(tt.state))
		})
	}
}

func TestPollInterval_FollowsVehicleState(t *testing.T) {
	tracker := newTestTracker(false)

	// Unknown until the first observation.
	assert.Equal(t, testSleepInterval, tracker.PollInterval())

	tracker.UpdateState(models.VehicleStateOnline)
	assert.Equal(t, testNormalInterval, tracker.PollInterval())

	tracker.UpdateState(models.VehicleStateAsleep)
	assert.Equal(t, testSleepInterval, tracker.PollInterval())

	tracker.UpdateState(models.VehicleStateOffline)
	assert.Equal(t, testSleepInterval, tracker.PollInterval())
}

func TestPollInterval_EscalatesAfterRepeatedErrors(t *testing.T) {
	tracker := newTestTracker(false)
	tracker.UpdateState(models.VehicleStateOnline)

	for i := 0; i < escalationThreshold-1; i++ {
		tracker.RecordError()
		assert.Equal(t, testNormalInterval, tracker.PollInterval(),
			"interval must not escalate before the threshold")
	}

	tracker.RecordError()
	assert.Equal(t, testSleepInterval, tracker.PollInterval(),
		"reaching the threshold must slow polling down even while online")
}

func TestPollInterval_EscalationPicksTheSlowerInterval(t *testing.T) {
	// Misconfigured setups can have sleep_interval below interval; escalation
	// must still pick the slower of the two.
	tracker := NewSleepTracker(600*time.Second, 60*time.Second, false, zerolog.Nop())
	tracker.UpdateState(models.VehicleStateOnline)

	for i := 0; i < escalationThreshold; i++ {
		tracker.RecordError()
	}
	assert.Equal(t, 600*time.Second, tracker.PollInterval())
}

func TestUpdateState_ResetsErrorCounter(t *testing.T) {
	tracker := newTestTracker(false)
	tracker.UpdateState(models.VehicleStateOnline)

	for i := 0; i < escalationThreshold; i++ {
		tracker.RecordError()
	}
	assert.Equal(t, testSleepInterval, tracker.PollInterval())

	tracker.UpdateState(models.VehicleStateOnline)
	assert.Equal(t, testNormalInterval, tracker.PollInterval(),
		"a fresh observation must clear the escalation")
}

func TestRecordSuccessfulFetch_DoesNotResetErrorCounter(t *testing.T) {
	tracker := newTestTracker(false)
	tracker.UpdateState(models.VehicleStateOnline)

	for i := 0; i < escalationThreshold; i++ {
		tracker.RecordError()
	}
	tracker.RecordSuccessfulFetch()
	assert.Equal(t, testSleepInterval, tracker.PollInterval(),
		"only a state observation resets the counter")
}

func TestLastKnownState(t *testing.T) {
	tracker := newTestTracker(false)
	assert.Equal(t, models.VehicleStateUnknown, tracker.LastKnownState())

	tracker.UpdateState(models.VehicleStateAsleep)
	assert.Equal(t, models.VehicleStateAsleep, tracker.LastKnownState())
}
