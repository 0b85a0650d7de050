package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository with the same
// compare-and-swap semantics as the Postgres one: every status change
// checks the current status under the mutex, so exactly one of N
// concurrent reservations for a slot identity can win.
type MemoryRepository struct {
	mu           sync.Mutex
	patients     map[uuid.UUID]*Patient
	doctors      map[uuid.UUID]*Doctor
	slots        map[uuid.UUID]*Slot
	slotsByKey   map[string]uuid.UUID
	appointments map[uuid.UUID]*Appointment
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients:     make(map[uuid.UUID]*Patient),
		doctors:      make(map[uuid.UUID]*Doctor),
		slots:        make(map[uuid.UUID]*Slot),
		slotsByKey:   make(map[string]uuid.UUID),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

// AddPatient and AddDoctor exist for seeding tests and the reference
// deployment; the engine itself never creates either.
func (r *MemoryRepository) AddPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[p.ID] = &p
}

func (r *MemoryRepository) AddDoctor(d Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doctors[d.ID] = &d
}

func (r *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *MemoryRepository) CreateSlot(_ context.Context, slot *Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cp := *slot
	cp.CreatedAt = now
	cp.UpdatedAt = now

	r.slots[cp.ID] = &cp
	r.slotsByKey[slotKey(cp.DoctorID, cp.StartTime, cp.EndTime)] = cp.ID
	*slot = cp
	return nil
}

func (r *MemoryRepository) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slotCopyLocked(id)
}

func (r *MemoryRepository) GetSlot(_ context.Context, identity SlotIdentity) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.slotsByKey[slotKey(identity.DoctorID, identity.StartTime, identity.EndTime)]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return r.slotCopyLocked(id)
}

func (r *MemoryRepository) ReserveSlot(_ context.Context, identity SlotIdentity) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.slotsByKey[slotKey(identity.DoctorID, identity.StartTime, identity.EndTime)]
	if !ok {
		return nil, ErrSlotNotFound
	}

	slot := r.slots[id]
	if slot.Status != SlotOpen {
		return nil, ErrSlotUnavailable
	}

	slot.Status = SlotHeld
	slot.UpdatedAt = time.Now()
	cp := *slot
	return &cp, nil
}

func (r *MemoryRepository) ConfirmSlot(_ context.Context, slotID uuid.UUID) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[slotID]
	if !ok || slot.Status != SlotHeld {
		return nil, ErrSlotNotFound
	}

	slot.Status = SlotBooked
	slot.UpdatedAt = time.Now()
	cp := *slot
	return &cp, nil
}

func (r *MemoryRepository) ReleaseSlot(_ context.Context, slotID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[slotID]
	if !ok {
		return nil
	}
	if slot.Status == SlotHeld || slot.Status == SlotBooked {
		slot.Status = SlotOpen
		slot.UpdatedAt = time.Now()
	}
	return nil
}

func (r *MemoryRepository) CreateAppointment(_ context.Context, appt *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cp := *appt
	cp.CreatedAt = now
	cp.UpdatedAt = now

	r.appointments[cp.ID] = &cp
	*appt = cp
	return nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}

	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) SetEscrowTxn(_ context.Context, appointmentID, txnID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[appointmentID]
	if !ok {
		return ErrAppointmentNotFound
	}
	id := txnID
	a.EscrowTxnID = &id
	a.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryRepository) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			all = append(all, *a)
		}
	}

	// Newest first, like the created_at DESC ordering of the pg query.
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemoryRepository) FindStaleRequested(_ context.Context, cutoff time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Appointment
	for _, a := range r.appointments {
		if a.Status == StatusRequested && a.CreatedAt.Before(cutoff) {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a snapshot of the audit log, for tests.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}

func (r *MemoryRepository) slotCopyLocked(id uuid.UUID) (*Slot, error) {
	slot, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *slot
	return &cp, nil
}

func slotKey(doctorID uuid.UUID, start, end time.Time) string {
	return SlotIdentity{DoctorID: doctorID, StartTime: start, EndTime: end}.LockKey()
}
