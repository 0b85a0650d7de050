package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	valid := []struct{ from, to AppointmentStatus }{
		{StatusRequested, StatusAccepted},
		{StatusRequested, StatusRejected},
		{StatusRequested, StatusCancelled},
		{StatusAccepted, StatusScheduled},
		{StatusAccepted, StatusCancelled},
		{StatusScheduled, StatusCompleted},
		{StatusScheduled, StatusCancelled},
	}
	for _, tc := range valid {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	invalid := []struct{ from, to AppointmentStatus }{
		{StatusRequested, StatusScheduled},
		{StatusRequested, StatusCompleted},
		{StatusAccepted, StatusRejected},
		{StatusAccepted, StatusCompleted},
		{StatusScheduled, StatusAccepted},
		{StatusScheduled, StatusRejected},
		{StatusCompleted, StatusCancelled},
		{StatusRejected, StatusAccepted},
		{StatusCancelled, StatusRequested},
		{StatusCompleted, StatusRequested},
	}
	for _, tc := range invalid {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be rejected", tc.from, tc.to)
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	all := []AppointmentStatus{
		StatusRequested, StatusAccepted, StatusScheduled,
		StatusCompleted, StatusRejected, StatusCancelled,
	}

	for _, terminal := range []AppointmentStatus{StatusCompleted, StatusRejected, StatusCancelled} {
		assert.True(t, IsTerminal(terminal))
		for _, to := range all {
			assert.False(t, CanTransition(terminal, to), "%s -> %s", terminal, to)
		}
	}

	for _, live := range []AppointmentStatus{StatusRequested, StatusAccepted, StatusScheduled} {
		assert.False(t, IsTerminal(live))
	}
}

func TestSlotIdentityLockKey(t *testing.T) {
	a := SlotIdentity{DoctorID: mustUUID(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8")}
	b := a
	assert.Equal(t, a.LockKey(), b.LockKey(), "same identity must contend on the same lock")

	b.StartTime = b.StartTime.Add(time.Second)
	assert.NotEqual(t, a.LockKey(), b.LockKey())
}
