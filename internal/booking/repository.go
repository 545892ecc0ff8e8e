package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound      = errors.New("patient not found")
	ErrProfessionalNotFound = errors.New("professional not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetProfessionalByID(ctx context.Context, id uuid.UUID) (*Professional, error)

	// Catalog lookup; returns only the services that exist, in no particular
	// order. The service layer detects unknown ids by what is missing.
	FindServicesByIDs(ctx context.Context, ids []uuid.UUID) ([]CatalogService, error)

	// Conflict scan: non-cancelled appointments of the professional whose
	// [starts_at, ends_at) window intersects [start, end). excludeID, when
	// non-nil, removes one appointment from the scan (the move case).
	CountConflicting(ctx context.Context, professionalID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (int, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)

	// Writes. InsertAppointment persists the appointment and its line items
	// in one transaction; UpdateAppointment overwrites scalar fields and,
	// when replaceItems is set, swaps the whole line-item set in the same
	// transaction.
	InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	UpdateAppointment(ctx context.Context, a *Appointment, replaceItems bool) (*Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error

	// Calendar reads
	ListByRange(ctx context.Context, start, end time.Time, professionalID *uuid.UUID) ([]AppointmentDetail, error)
	ListPaginated(ctx context.Context, limit, offset int) ([]AppointmentDetail, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error)
	ListByProfessional(ctx context.Context, professionalID uuid.UUID, limit, offset int) ([]AppointmentDetail, error)

	// Audit trail; best-effort, the caller ignores failures.
	InsertAudit(ctx context.Context, e AuditEntry) error
}
