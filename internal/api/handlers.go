package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinigo/agenda-service/internal/booking"
	redisclient "github.com/clinigo/agenda-service/internal/redis"
)

// Auditor records who did what after a successful mutation. Best-effort:
// implementations must not fail the request.
type Auditor interface {
	RecordAudit(ctx context.Context, e booking.AuditEntry)
}

type Handlers struct {
	svc      *booking.Service
	auditor  Auditor
	validate *validator.Validate
	log      *zap.Logger
}

func NewHandlers(svc *booking.Service, auditor Auditor, log *zap.Logger) *Handlers {
	return &Handlers{
		svc:      svc,
		auditor:  auditor,
		validate: validator.New(),
		log:      log,
	}
}

func (h *Handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	professionalID, _ := uuid.Parse(req.ProfessionalID)
	patientID, _ := uuid.Parse(req.PatientID)
	serviceIDs := make([]uuid.UUID, len(req.ServiceIDs))
	for i, s := range req.ServiceIDs {
		serviceIDs[i], _ = uuid.Parse(s)
	}

	appt, err := h.svc.CreateAppointment(r.Context(), booking.CreateInput{
		ProfessionalID: professionalID,
		PatientID:      patientID,
		ServiceIDs:     serviceIDs,
		StartsAt:       req.StartsAt,
		EndsAt:         req.EndsAt,
		Notes:          req.Notes,
	})
	if err != nil {
		handleBookingError(w, err)
		return
	}

	h.audit(r, "created")
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *Handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	detail, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(&detail.Appointment))
}

func (h *Handlers) updateAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	patch := booking.Patch{
		StartsAt: req.StartsAt,
		EndsAt:   req.EndsAt,
		Notes:    req.Notes,
	}
	if req.ProfessionalID != nil {
		pid, _ := uuid.Parse(*req.ProfessionalID)
		patch.ProfessionalID = &pid
	}
	if req.Status != nil {
		st := booking.Status(*req.Status)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_status", "status must be one of PENDING, CONFIRMED, CANCELLED, COMPLETED, NO_SHOW")
			return
		}
		patch.Status = &st
	}
	if req.ServiceIDs != nil {
		patch.ServiceIDs = make([]uuid.UUID, len(req.ServiceIDs))
		for i, s := range req.ServiceIDs {
			patch.ServiceIDs[i], _ = uuid.Parse(s)
		}
	}

	appt, err := h.svc.UpdateAppointment(r.Context(), id, patch)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	h.audit(r, "updated")
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handlers) deleteAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteAppointment(r.Context(), id); err != nil {
		handleBookingError(w, err)
		return
	}

	h.audit(r, "deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) calendar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start, ok := parseTimeParam(w, q.Get("start"), "start")
	if !ok {
		return
	}
	end, ok := parseTimeParam(w, q.Get("end"), "end")
	if !ok {
		return
	}

	var professionalID *uuid.UUID
	if raw := q.Get("id_profissional"); raw != "" {
		pid, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "id_profissional must be a valid UUID")
			return
		}
		professionalID = &pid
	}

	details, err := h.svc.ListByRange(r.Context(), start, end, professionalID)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, booking.ToCalendarEntries(details))
}

func (h *Handlers) listPaginated(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)

	details, err := h.svc.ListPaginated(r.Context(), page, limit)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentList(details))
}

func (h *Handlers) listByProfessional(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	page, limit := pageParams(r)

	details, err := h.svc.ListByProfessional(r.Context(), id, page, limit)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentList(details))
}

func (h *Handlers) listMine(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing actor")
		return
	}
	if actor.PatientID == nil {
		writeError(w, http.StatusNotFound, "no_patient_profile", "authenticated user has no patient profile")
		return
	}

	page, limit := pageParams(r)

	details, err := h.svc.ListByPatient(r.Context(), *actor.PatientID, page, limit)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentList(details))
}

// audit fires the best-effort hook off the request path; a slow or failing
// audit write must never delay or fail the booking response.
func (h *Handlers) audit(r *http.Request, outcome string) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		return
	}
	entry := booking.AuditEntry{
		Method:  r.Method,
		Path:    r.URL.Path,
		Outcome: outcome,
		ActorID: actor.UserID,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.auditor.RecordAudit(ctx, entry)
	}()
}

func toAppointmentList(details []booking.AppointmentDetail) []AppointmentResponse {
	out := make([]AppointmentResponse, len(details))
	for i := range details {
		out[i] = toAppointmentResponse(&details[i].Appointment)
	}
	return out
}

func parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseTimeParam(w http.ResponseWriter, raw, name string) (time.Time, bool) {
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing_"+name, name+" query parameter is required")
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, true
	}
	writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be RFC3339 or YYYY-MM-DD")
	return time.Time{}, false
}

func pageParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}

func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrProfessionalNotFound):
		writeError(w, http.StatusNotFound, "professional_not_found", err.Error())
	case errors.Is(err, booking.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrNoServices):
		writeError(w, http.StatusBadRequest, "no_services", err.Error())
	case errors.Is(err, booking.ErrUnknownServices):
		writeError(w, http.StatusBadRequest, "unknown_services", err.Error())
	case errors.Is(err, booking.ErrInvalidTimeRange):
		writeError(w, http.StatusBadRequest, "invalid_time_range", err.Error())
	case errors.Is(err, booking.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, booking.ErrTimeSlotTaken):
		writeError(w, http.StatusConflict, "time_slot_taken", err.Error())
	case errors.Is(err, booking.ErrProfessionalBusy),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "agenda_busy", "professional agenda is being modified, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
