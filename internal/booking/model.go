package booking

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
	StatusNoShow    Status = "NO_SHOW"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Professional struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CatalogService is a read-only view of a bookable service: current price
// and estimated duration come from the live catalog, never from the client.
type CatalogService struct {
	ID          uuid.UUID
	Name        string
	PriceCents  int64
	DurationMin int
}

// LineItem links an appointment to one booked service. ChargedPriceCents is
// the catalog price at the moment the item was written and never changes
// afterwards; the whole set is replaced wholesale on edit.
type LineItem struct {
	ServiceID         uuid.UUID
	ChargedPriceCents int64
	Position          int
}

type Appointment struct {
	ID             uuid.UUID
	ProfessionalID uuid.UUID
	PatientID      uuid.UUID
	StartsAt       time.Time
	EndsAt         time.Time
	Status         Status
	Notes          *string
	Items          []LineItem
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AppointmentDetail hydrates an appointment with the collaborator records
// the calendar needs for display.
type AppointmentDetail struct {
	Appointment
	Patient      *Patient
	Professional *Professional
	Services     []CatalogService // aligned with Items by position
}

// Patch carries the fields of an update request. Nil means "keep current".
type Patch struct {
	ProfessionalID *uuid.UUID
	StartsAt       *time.Time
	EndsAt         *time.Time
	Status         *Status
	Notes          *string
	ServiceIDs     []uuid.UUID // nil = keep items; non-nil = wholesale replace
}

type AuditEntry struct {
	Method    string
	Path      string
	Outcome   string
	ActorID   uuid.UUID
	CreatedAt time.Time
}
