package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinigo/agenda-service/internal/booking"
)

type CreateAppointmentRequest struct {
	ProfessionalID string     `json:"id_profissional" validate:"required,uuid"`
	PatientID      string     `json:"id_paciente" validate:"required,uuid"`
	ServiceIDs     []string   `json:"ids_servicos" validate:"required,min=1,dive,uuid"`
	StartsAt       time.Time  `json:"starts_at" validate:"required"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
	Notes          *string    `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// UpdateAppointmentRequest is a patch: absent fields keep current values.
// A non-null ids_servicos replaces every line item with re-priced ones.
type UpdateAppointmentRequest struct {
	ProfessionalID *string    `json:"id_profissional,omitempty" validate:"omitempty,uuid"`
	StartsAt       *time.Time `json:"starts_at,omitempty"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
	Status         *string    `json:"status,omitempty"`
	Notes          *string    `json:"notes,omitempty" validate:"omitempty,max=2000"`
	ServiceIDs     []string   `json:"ids_servicos,omitempty" validate:"omitempty,min=1,dive,uuid"`
}

type LineItemResponse struct {
	ServiceID         uuid.UUID `json:"id_servico"`
	ChargedPriceCents int64     `json:"charged_price_cents"`
	Position          int       `json:"position"`
}

type AppointmentResponse struct {
	ID             uuid.UUID          `json:"id"`
	ProfessionalID uuid.UUID          `json:"id_profissional"`
	PatientID      uuid.UUID          `json:"id_paciente"`
	StartsAt       time.Time          `json:"starts_at"`
	EndsAt         time.Time          `json:"ends_at"`
	Status         string             `json:"status"`
	Notes          *string            `json:"notes,omitempty"`
	Items          []LineItemResponse `json:"servicos"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	items := make([]LineItemResponse, len(a.Items))
	for i, it := range a.Items {
		items[i] = LineItemResponse{
			ServiceID:         it.ServiceID,
			ChargedPriceCents: it.ChargedPriceCents,
			Position:          it.Position,
		}
	}
	return AppointmentResponse{
		ID:             a.ID,
		ProfessionalID: a.ProfessionalID,
		PatientID:      a.PatientID,
		StartsAt:       a.StartsAt,
		EndsAt:         a.EndsAt,
		Status:         string(a.Status),
		Notes:          a.Notes,
		Items:          items,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}
