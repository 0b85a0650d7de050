package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/booking-escrow/internal/booking"
	"github.com/hackgods/booking-escrow/internal/escrow"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func createAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		if req.SlotStart.IsZero() || req.SlotEnd.IsZero() || !req.SlotEnd.After(req.SlotStart) {
			writeError(w, http.StatusBadRequest, "invalid_slot_times", "slot_start must precede slot_end")
			return
		}

		result, err := svc.CreateAppointment(r.Context(), booking.CreateParams{
			PatientID: patientID,
			DoctorID:  doctorID,
			Slot: booking.SlotIdentity{
				DoctorID:  doctorID,
				StartTime: req.SlotStart,
				EndTime:   req.SlotEnd,
			},
			ConsultationFee:     req.ConsultationFee,
			IsEmergency:         req.IsEmergency,
			HasSubscription:     req.HasSubscription,
			EmergencyMultiplier: req.EmergencyMultiplier,
		})
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, CreateAppointmentResponse{
			AppointmentID: result.Appointment.ID,
			EscrowTxnID:   result.Escrow.ID,
			Status:        string(result.Appointment.Status),
			Amount:        result.Escrow.Amount,
			PlatformFee:   result.Escrow.PlatformFee,
			DoctorPayout:  result.Escrow.DoctorPayout,
		})
	}
}

func respondHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}

		var req RespondRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Respond(r.Context(), id, booking.Decision(req.Decision))
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func transitionHandler(apply func(r *http.Request, id uuid.UUID) (*booking.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}

		appt, err := apply(r, id)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientIDStr := r.URL.Query().Get("patient_id")
		patientID, err := uuid.Parse(patientIDStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id query param must be a valid UUID")
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appts, err := svc.ListByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getEscrowHandler(esc *escrow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}

		txn, err := esc.Get(r.Context(), id)
		if err != nil {
			handleEscrowError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toEscrowResponse(txn))
	}
}

func getEscrowByAppointmentHandler(esc *escrow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}

		txn, err := esc.GetByAppointment(r.Context(), id)
		if err != nil {
			handleEscrowError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toEscrowResponse(txn))
	}
}

// raiseDisputeHandler freezes the escrow behind an appointment. The
// dispute targets the transaction, but patients reference their
// appointment, so the route accepts the appointment id.
func raiseDisputeHandler(svc *booking.Service, esc *escrow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}

		var req DisputeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Reason == "" {
			writeError(w, http.StatusBadRequest, "missing_reason", "a dispute needs a reason")
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}
		if appt.EscrowTxnID == nil {
			writeError(w, http.StatusConflict, "no_escrow", "appointment has no escrow transaction")
			return
		}

		txn, err := esc.Dispute(r.Context(), *appt.EscrowTxnID, req.Reason)
		if err != nil {
			handleEscrowError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toEscrowResponse(txn))
	}
}

func resolveDisputeHandler(esc *escrow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}

		var req ResolveDisputeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		txn, err := esc.Resolve(r.Context(), id, req.Resolution, req.Refund)
		if err != nil {
			handleEscrowError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toEscrowResponse(txn))
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		PatientID:   a.PatientID,
		DoctorID:    a.DoctorID,
		SlotID:      a.SlotID,
		Status:      string(a.Status),
		IsEmergency: a.IsEmergency,
		EscrowTxnID: a.EscrowTxnID,
		CreatedAt:   a.CreatedAt,
	}
}

func toEscrowResponse(t *escrow.Transaction) EscrowResponse {
	return EscrowResponse{
		ID:                t.ID,
		AppointmentID:     t.AppointmentID,
		Amount:            t.Amount,
		PlatformFee:       t.PlatformFee,
		DoctorPayout:      t.DoctorPayout,
		Status:            string(t.Status),
		DisputeReason:     t.DisputeReason,
		DisputeResolution: t.DisputeResolution,
		ReleaseDueAt:      t.ReleaseDueAt,
		CreatedAt:         t.CreatedAt,
	}
}

func handleAppointmentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, booking.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", "slot is taken, choose another time")
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, booking.ErrInvalidSlotState):
		writeError(w, http.StatusConflict, "invalid_slot_state", err.Error())
	case errors.Is(err, booking.ErrInvalidDecision):
		writeError(w, http.StatusBadRequest, "invalid_decision", err.Error())
	case errors.Is(err, booking.ErrInvalidFee), errors.Is(err, escrow.ErrInvalidAmount):
		writeError(w, http.StatusUnprocessableEntity, "invalid_amount", err.Error())
	case errors.Is(err, escrow.ErrInvalidEscrowState):
		writeError(w, http.StatusConflict, "invalid_escrow_state", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleEscrowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, escrow.ErrTxnNotFound):
		writeError(w, http.StatusNotFound, "escrow_not_found", err.Error())
	case errors.Is(err, escrow.ErrAlreadyReleased):
		writeError(w, http.StatusConflict, "already_released", err.Error())
	case errors.Is(err, escrow.ErrDisputedCannotRelease):
		writeError(w, http.StatusConflict, "disputed_cannot_release", err.Error())
	case errors.Is(err, escrow.ErrNotDisputed):
		writeError(w, http.StatusConflict, "not_disputed", err.Error())
	case errors.Is(err, escrow.ErrReleaseNotDue):
		writeError(w, http.StatusConflict, "release_not_due", err.Error())
	case errors.Is(err, escrow.ErrInvalidEscrowState):
		writeError(w, http.StatusConflict, "invalid_escrow_state", err.Error())
	case errors.Is(err, escrow.ErrInvalidAmount):
		writeError(w, http.StatusUnprocessableEntity, "invalid_amount", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
