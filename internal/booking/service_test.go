package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/booking-escrow/internal/config"
	"github.com/hackgods/booking-escrow/internal/escrow"
	"github.com/hackgods/booking-escrow/internal/logger"
)

// passthroughLocker runs the critical section without any distributed
// lock; the repository CAS is what the tests exercise.
type passthroughLocker struct{}

func (passthroughLocker) WithSlotLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	svc        *Service
	repo       *MemoryRepository
	escrowRepo *escrow.MemoryRepository
	escrowSvc  *escrow.Service
	patient    Patient
	doctor     Doctor
	slot       SlotIdentity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Config{
		PlatformFeeBps:  500,
		SubscriptionBps: 1000,
		ResponseWindow:  2 * time.Hour,
		ReleaseDelay:    time.Hour,
	}

	repo := NewMemoryRepository()
	escrowRepo := escrow.NewMemoryRepository()
	escrowSvc := escrow.NewService(escrowRepo, cfg.PlatformFeeBps, cfg.ReleaseDelay, logger.Nop(), nil)
	svc := NewService(repo, passthroughLocker{}, escrowSvc, cfg, logger.Nop(), nil)

	patient := Patient{ID: uuid.New(), Name: "Asha Rao"}
	doctor := Doctor{ID: uuid.New(), Name: "Dr. Mehta", ConsultationFee: 1000}
	repo.AddPatient(patient)
	repo.AddDoctor(doctor)

	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	slot := &Slot{
		ID:        uuid.New(),
		DoctorID:  doctor.ID,
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
		Status:    SlotOpen,
	}
	require.NoError(t, repo.CreateSlot(context.Background(), slot))

	return &fixture{
		svc:        svc,
		repo:       repo,
		escrowRepo: escrowRepo,
		escrowSvc:  escrowSvc,
		patient:    patient,
		doctor:     doctor,
		slot:       SlotIdentity{DoctorID: doctor.ID, StartTime: slot.StartTime, EndTime: slot.EndTime},
	}
}

func (f *fixture) createParams() CreateParams {
	return CreateParams{
		PatientID:       f.patient.ID,
		DoctorID:        f.doctor.ID,
		Slot:            f.slot,
		ConsultationFee: f.doctor.ConsultationFee,
	}
}

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}

func TestCreateAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.CreateAppointment(ctx, f.createParams())
	require.NoError(t, err)

	assert.Equal(t, StatusRequested, result.Appointment.Status)
	require.NotNil(t, result.Appointment.EscrowTxnID)
	assert.Equal(t, result.Escrow.ID, *result.Appointment.EscrowTxnID)

	assert.Equal(t, escrow.StatusInitiated, result.Escrow.Status)
	assert.Equal(t, int64(1000), result.Escrow.DoctorPayout)
	assert.Equal(t, int64(50), result.Escrow.PlatformFee)
	assert.Equal(t, int64(1050), result.Escrow.Amount)

	slot, err := f.repo.GetSlot(ctx, f.slot)
	require.NoError(t, err)
	assert.Equal(t, SlotHeld, slot.Status)

	events := f.repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentRequested, events[0].EventType)
}

func TestCreateAppointmentUnknownEntities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createParams()
	p.PatientID = uuid.New()
	_, err := f.svc.CreateAppointment(ctx, p)
	assert.ErrorIs(t, err, ErrPatientNotFound)

	p = f.createParams()
	p.DoctorID = uuid.New()
	_, err = f.svc.CreateAppointment(ctx, p)
	assert.ErrorIs(t, err, ErrDoctorNotFound)

	p = f.createParams()
	p.Slot.StartTime = p.Slot.StartTime.Add(24 * time.Hour)
	p.Slot.EndTime = p.Slot.EndTime.Add(24 * time.Hour)
	_, err = f.svc.CreateAppointment(ctx, p)
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestCreateAppointmentInvalidFee(t *testing.T) {
	f := newFixture(t)

	p := f.createParams()
	p.ConsultationFee = 0
	_, err := f.svc.CreateAppointment(context.Background(), p)
	assert.ErrorIs(t, err, ErrInvalidFee)

	// Nothing was reserved.
	slot, err := f.repo.GetSlot(context.Background(), f.slot)
	require.NoError(t, err)
	assert.Equal(t, SlotOpen, slot.Status)
}

func TestCreateAppointmentSubscriptionAndEmergency(t *testing.T) {
	f := newFixture(t)

	p := f.createParams()
	p.HasSubscription = true
	p.IsEmergency = true
	p.EmergencyMultiplier = 1.5

	result, err := f.svc.CreateAppointment(context.Background(), p)
	require.NoError(t, err)

	// 1000 discounted to 900, then x1.5 = 1350; 5% on top.
	assert.Equal(t, int64(1350), result.Quote.ConsultationFee)
	assert.Equal(t, int64(68), result.Quote.PlatformFee)
	assert.Equal(t, int64(1418), result.Escrow.Amount)
	assert.True(t, result.Appointment.IsEmergency)
}

func TestConcurrentBookingSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 1000

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		conflict int
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateAppointment(ctx, f.createParams())

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case assert.ErrorIs(t, err, ErrSlotUnavailable):
				conflict++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created, "exactly one booking may win the slot")
	assert.Equal(t, n-1, conflict)

	slot, err := f.repo.GetSlot(ctx, f.slot)
	require.NoError(t, err)
	assert.Equal(t, SlotHeld, slot.Status)
}

func TestFullLifecycleThroughRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Pin the clock in the past so the release hold window has already
	// elapsed by the time the worker scan runs.
	f.svc.now = func() time.Time { return time.Now().Add(-3 * time.Hour) }

	result, err := f.svc.CreateAppointment(ctx, f.createParams())
	require.NoError(t, err)
	apptID := result.Appointment.ID

	// Gateway captures the funds.
	require.NoError(t, f.svc.HandlePaymentResult(ctx, apptID, true))
	txn, err := f.escrowSvc.Get(ctx, result.Escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusHeld, txn.Status)

	appt, err := f.svc.Respond(ctx, apptID, DecisionAccept)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, appt.Status)

	appt, err = f.svc.Schedule(ctx, apptID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, appt.Status)

	slot, err := f.repo.GetSlot(ctx, f.slot)
	require.NoError(t, err)
	assert.Equal(t, SlotBooked, slot.Status)

	appt, err = f.svc.Complete(ctx, apptID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, appt.Status)

	txn, err = f.escrowSvc.Get(ctx, result.Escrow.ID)
	require.NoError(t, err)
	require.NotNil(t, txn.ReleaseDueAt, "completion must schedule the payout")

	released, err := f.escrowSvc.ReleaseDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	txn, err = f.escrowSvc.Get(ctx, result.Escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusReleased, txn.Status)
}

func TestRejectReleasesSlotAndRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.CreateAppointment(ctx, f.createParams())
	require.NoError(t, err)
	require.NoError(t, f.svc.HandlePaymentResult(ctx, result.Appointment.ID, true))

	appt, err := f.svc.Respond(ctx, result.Appointment.ID, DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, appt.Status)

	slot, err := f.repo.GetSlot(ctx, f.slot)
	require.NoError(t, err)
	assert.Equal(t, SlotOpen, slot.Status, "rejected booking frees the slot")

	txn, err := f.escrowSvc.Get(ctx, result.Escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusRefunded, txn.Status)
}

func TestCancelBeforeCaptureLeavesEscrowInitiated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.CreateAppointment(ctx, f.createParams())
	require.NoError(t, err)

	appt, err := f.svc.Cancel(ctx, result.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, appt.Status)

	slot, err := f.repo.GetSlot(ctx, f.slot)
	require.NoError(t, err)
	assert.Equal(t, SlotOpen, slot.Status)

	// No funds captured, so there is nothing to refund.
	txn, err := f.escrowSvc.Get(ctx, result.Escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusInitiated, txn.Status)
}

func TestPaymentFailureCancelsBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.CreateAppointment(ctx, f.createParams())
	require.NoError(t, err)

	require.NoError(t, f.svc.HandlePaymentResult(ctx, result.Appointment.ID, false))

	appt, err := f.svc.Get(ctx, result.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, appt.Status)

	slot, err := f.repo.GetSlot(ctx, f.slot)
	require.NoError(t, err)
	assert.Equal(t, SlotOpen, slot.Status)

	var sawFailure bool
	for _, ev := range f.repo.Events() {
		if ev.EventType == EventPaymentFailed {
			sawFailure = true
		}
	}
	assert.True(t, sawFailure, "payment failure must be audited")
}

func TestLateCaptureAfterCancelRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.CreateAppointment(ctx, f.createParams())
	require.NoError(t, err)

	// Patient cancels while the gateway is still processing; the
	// cancel cascade sees INITIATED and has nothing to refund.
	_, err = f.svc.Cancel(ctx, result.Appointment.ID)
	require.NoError(t, err)

	txn, err := f.escrowSvc.Get(ctx, result.Escrow.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusInitiated, txn.Status)

	// The capture lands afterwards. The funds must not stay held
	// against a dead booking.
	require.NoError(t, f.svc.HandlePaymentResult(ctx, result.Appointment.ID, true))

	txn, err = f.escrowSvc.Get(ctx, result.Escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusRefunded, txn.Status)
}

func TestLateCaptureAfterExpiryRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.CreateAppointment(ctx, f.createParams())
	require.NoError(t, err)

	f.repo.mu.Lock()
	f.repo.appointments[result.Appointment.ID].CreatedAt = time.Now().Add(-3 * time.Hour)
	f.repo.mu.Unlock()

	expired, err := f.svc.ExpireStaleRequests(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	require.NoError(t, f.svc.HandlePaymentResult(ctx, result.Appointment.ID, true))

	txn, err := f.escrowSvc.Get(ctx, result.Escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusRefunded, txn.Status)
}

func TestLateCaptureAfterCompletionSchedulesRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.CreateAppointment(ctx, f.createParams())
	require.NoError(t, err)
	apptID := result.Appointment.ID

	// The whole consultation happens before the capture confirmation
	// arrives; completion found nothing held to schedule.
	_, err = f.svc.Respond(ctx, apptID, DecisionAccept)
	require.NoError(t, err)
	_, err = f.svc.Schedule(ctx, apptID)
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, apptID)
	require.NoError(t, err)

	require.NoError(t, f.svc.HandlePaymentResult(ctx, apptID, true))

	txn, err := f.escrowSvc.Get(ctx, result.Escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusHeld, txn.Status)
	assert.NotNil(t, txn.ReleaseDueAt, "the payout must still get scheduled")
}

func TestRespondInvalidDecision(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.CreateAppointment(context.Background(), f.createParams())
	require.NoError(t, err)

	_, err = f.svc.Respond(context.Background(), result.Appointment.ID, Decision("MAYBE"))
	assert.ErrorIs(t, err, ErrInvalidDecision)
}

func TestInvalidTransitionRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.CreateAppointment(ctx, f.createParams())
	require.NoError(t, err)

	// REQUESTED cannot jump straight to COMPLETED.
	_, err = f.svc.Complete(ctx, result.Appointment.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Terminal states reject everything.
	_, err = f.svc.Cancel(ctx, result.Appointment.ID)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, result.Appointment.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestExpireStaleRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale, err := f.svc.CreateAppointment(ctx, f.createParams())
	require.NoError(t, err)
	require.NoError(t, f.svc.HandlePaymentResult(ctx, stale.Appointment.ID, true))

	// Second slot for the fresh request.
	freshSlot := &Slot{
		ID:        uuid.New(),
		DoctorID:  f.doctor.ID,
		StartTime: f.slot.StartTime.Add(time.Hour),
		EndTime:   f.slot.EndTime.Add(time.Hour),
		Status:    SlotOpen,
	}
	require.NoError(t, f.repo.CreateSlot(ctx, freshSlot))

	p := f.createParams()
	p.Slot = SlotIdentity{DoctorID: f.doctor.ID, StartTime: freshSlot.StartTime, EndTime: freshSlot.EndTime}
	fresh, err := f.svc.CreateAppointment(ctx, p)
	require.NoError(t, err)

	// Backdate the first request past the response window.
	f.repo.mu.Lock()
	f.repo.appointments[stale.Appointment.ID].CreatedAt = time.Now().Add(-3 * time.Hour)
	f.repo.mu.Unlock()

	expired, err := f.svc.ExpireStaleRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := f.svc.Get(ctx, stale.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	got, err = f.svc.Get(ctx, fresh.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, got.Status, "fresh requests are left alone")

	slot, err := f.repo.GetSlot(ctx, f.slot)
	require.NoError(t, err)
	assert.Equal(t, SlotOpen, slot.Status, "expiry frees the slot")

	txn, err := f.escrowSvc.Get(ctx, stale.Escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusRefunded, txn.Status, "held funds go back to the patient")
}

func TestListByPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAppointment(ctx, f.createParams())
	require.NoError(t, err)

	appts, err := f.svc.ListByPatient(ctx, f.patient.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, appts, 1)

	appts, err = f.svc.ListByPatient(ctx, uuid.New(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, appts)
}

func TestListByPatientNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := make([]uuid.UUID, 3)
	for i := range ids {
		appt := &Appointment{
			ID:        uuid.New(),
			PatientID: f.patient.ID,
			DoctorID:  f.doctor.ID,
			SlotID:    uuid.New(),
			Status:    StatusRequested,
		}
		require.NoError(t, f.repo.CreateAppointment(ctx, appt))

		f.repo.mu.Lock()
		f.repo.appointments[appt.ID].CreatedAt = time.Now().Add(time.Duration(i) * time.Hour)
		f.repo.mu.Unlock()
		ids[i] = appt.ID
	}

	appts, err := f.svc.ListByPatient(ctx, f.patient.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, appts, 3)
	assert.Equal(t, ids[2], appts[0].ID)
	assert.Equal(t, ids[1], appts[1].ID)
	assert.Equal(t, ids[0], appts[2].ID)

	// Pagination walks the same order.
	page, err := f.svc.ListByPatient(ctx, f.patient.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)
}
