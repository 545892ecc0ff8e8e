package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/clinigo/agenda-service/internal/redis"
)

var (
	ErrTimeSlotTaken    = errors.New("professional already booked for this window")
	ErrProfessionalBusy = errors.New("professional agenda is being modified, please retry")
	ErrNoServices       = errors.New("at least one service is required")
	ErrUnknownServices  = errors.New("unknown services")
	ErrInvalidTimeRange = errors.New("end time must be after start time")
	ErrInvalidStatus    = errors.New("invalid appointment status")
)

type Service struct {
	repo   Repository
	locker redisclient.Locker
	log    *zap.Logger
}

func NewService(repo Repository, locker redisclient.Locker, log *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		log:    log,
	}
}

// IsAvailable reports whether the professional has no non-cancelled
// appointment intersecting [start, end). excludeID lets an appointment be
// moved without conflicting with itself. Callers that intend to write must
// re-run this inside the professional lock; on its own it is only advisory.
func (s *Service) IsAvailable(ctx context.Context, professionalID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	n, err := s.repo.CountConflicting(ctx, professionalID, start, end, excludeID)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

type CreateInput struct {
	ProfessionalID uuid.UUID
	PatientID      uuid.UUID
	ServiceIDs     []uuid.UUID
	StartsAt       time.Time
	EndsAt         *time.Time // nil: computed from service durations
	Notes          *string
}

// CreateAppointment validates the request, snapshots current catalog prices
// into line items and books the window. The availability check and the
// insert run under a per-professional lock so concurrent requests for the
// same professional cannot both pass the check.
func (s *Service) CreateAppointment(ctx context.Context, in CreateInput) (*Appointment, error) {
	if _, err := s.repo.GetProfessionalByID(ctx, in.ProfessionalID); err != nil {
		if errors.Is(err, ErrProfessionalNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load professional: %w", err)
	}

	if _, err := s.repo.GetPatientByID(ctx, in.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	if len(in.ServiceIDs) == 0 {
		return nil, ErrNoServices
	}

	items, resolved, err := s.snapshotServices(ctx, in.ServiceIDs)
	if err != nil {
		return nil, err
	}

	end := time.Time{}
	if in.EndsAt != nil {
		end = *in.EndsAt
	} else {
		// Default duration is the sum of the booked services' estimates.
		total := 0
		for _, svc := range resolved {
			total += svc.DurationMin
		}
		end = in.StartsAt.Add(time.Duration(total) * time.Minute)
	}

	if !end.After(in.StartsAt) {
		return nil, ErrInvalidTimeRange
	}

	appt := &Appointment{
		ID:             uuid.New(),
		ProfessionalID: in.ProfessionalID,
		PatientID:      in.PatientID,
		StartsAt:       in.StartsAt,
		EndsAt:         end,
		Status:         StatusPending,
		Notes:          in.Notes,
		Items:          items,
	}

	var created *Appointment

	err = s.locker.WithProfessionalLock(ctx, in.ProfessionalID, func(lockCtx context.Context) error {
		free, err := s.IsAvailable(lockCtx, in.ProfessionalID, appt.StartsAt, appt.EndsAt, nil)
		if err != nil {
			return fmt.Errorf("check availability: %w", err)
		}
		if !free {
			return ErrTimeSlotTaken
		}

		created, err = s.repo.InsertAppointment(lockCtx, appt)
		if err != nil {
			return err
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrProfessionalBusy
		}
		return nil, err
	}

	s.log.Info("appointment created",
		zap.String("appointment_id", created.ID.String()),
		zap.String("professional_id", created.ProfessionalID.String()),
		zap.Time("starts_at", created.StartsAt),
		zap.Time("ends_at", created.EndsAt),
	)

	return created, nil
}

// UpdateAppointment overlays the patch on the stored appointment. The
// availability check is re-run, excluding the appointment itself, only when
// professional or window actually change; a patched ServiceIDs list replaces
// every line item with a fresh price snapshot (edits always re-price).
func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, patch Patch) (*Appointment, error) {
	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	next := *current
	if patch.ProfessionalID != nil {
		if _, err := s.repo.GetProfessionalByID(ctx, *patch.ProfessionalID); err != nil {
			if errors.Is(err, ErrProfessionalNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("load professional: %w", err)
		}
		next.ProfessionalID = *patch.ProfessionalID
	}
	if patch.StartsAt != nil {
		next.StartsAt = *patch.StartsAt
	}
	if patch.EndsAt != nil {
		next.EndsAt = *patch.EndsAt
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return nil, ErrInvalidStatus
		}
		next.Status = *patch.Status
	}
	if patch.Notes != nil {
		next.Notes = patch.Notes
	}

	if !next.EndsAt.After(next.StartsAt) {
		return nil, ErrInvalidTimeRange
	}

	replaceItems := false
	if patch.ServiceIDs != nil {
		if len(patch.ServiceIDs) == 0 {
			return nil, ErrNoServices
		}
		items, _, err := s.snapshotServices(ctx, patch.ServiceIDs)
		if err != nil {
			return nil, err
		}
		next.Items = items
		replaceItems = true
	}

	windowChanged := next.ProfessionalID != current.ProfessionalID ||
		!next.StartsAt.Equal(current.StartsAt) ||
		!next.EndsAt.Equal(current.EndsAt)

	var updated *Appointment

	if windowChanged {
		err = s.locker.WithProfessionalLock(ctx, next.ProfessionalID, func(lockCtx context.Context) error {
			excludeID := id
			free, err := s.IsAvailable(lockCtx, next.ProfessionalID, next.StartsAt, next.EndsAt, &excludeID)
			if err != nil {
				return fmt.Errorf("check availability: %w", err)
			}
			if !free {
				return ErrTimeSlotTaken
			}

			updated, err = s.repo.UpdateAppointment(lockCtx, &next, replaceItems)
			return err
		})
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrProfessionalBusy
		}
	} else {
		updated, err = s.repo.UpdateAppointment(ctx, &next, replaceItems)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("appointment updated",
		zap.String("appointment_id", id.String()),
		zap.Bool("window_changed", windowChanged),
		zap.Bool("items_replaced", replaceItems),
	)

	return updated, nil
}

func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteAppointment(ctx, id); err != nil {
		return err
	}
	s.log.Info("appointment deleted", zap.String("appointment_id", id.String()))
	return nil
}

// GetAppointment retrieves a fully hydrated appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// ListByRange serves the calendar: non-cancelled appointments starting
// within [start, end], ascending, optionally for one professional.
func (s *Service) ListByRange(ctx context.Context, start, end time.Time, professionalID *uuid.UUID) ([]AppointmentDetail, error) {
	if !end.After(start) {
		return nil, ErrInvalidTimeRange
	}
	details, err := s.repo.ListByRange(ctx, start, end, professionalID)
	if err != nil {
		return nil, fmt.Errorf("list by range: %w", err)
	}
	return details, nil
}

func (s *Service) ListPaginated(ctx context.Context, page, limit int) ([]AppointmentDetail, error) {
	limit, offset := clampPage(page, limit)
	details, err := s.repo.ListPaginated(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list paginated: %w", err)
	}
	return details, nil
}

func (s *Service) ListByProfessional(ctx context.Context, professionalID uuid.UUID, page, limit int) ([]AppointmentDetail, error) {
	if _, err := s.repo.GetProfessionalByID(ctx, professionalID); err != nil {
		if errors.Is(err, ErrProfessionalNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load professional: %w", err)
	}
	limit, offset := clampPage(page, limit)
	details, err := s.repo.ListByProfessional(ctx, professionalID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list by professional: %w", err)
	}
	return details, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, page, limit int) ([]AppointmentDetail, error) {
	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	limit, offset := clampPage(page, limit)
	details, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list by patient: %w", err)
	}
	return details, nil
}

// RecordAudit is the best-effort audit hook: failures are logged and never
// propagate to the caller.
func (s *Service) RecordAudit(ctx context.Context, e AuditEntry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if err := s.repo.InsertAudit(ctx, e); err != nil {
		s.log.Warn("audit log write failed",
			zap.String("method", e.Method),
			zap.String("path", e.Path),
			zap.Error(err),
		)
	}
}

// snapshotServices resolves the requested catalog services, rejecting
// unknown ids, and builds line items that freeze today's price while keeping
// the caller's ordering (it anchors the card title and color).
func (s *Service) snapshotServices(ctx context.Context, ids []uuid.UUID) ([]LineItem, []CatalogService, error) {
	found, err := s.repo.FindServicesByIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve services: %w", err)
	}

	byID := make(map[uuid.UUID]CatalogService, len(found))
	for _, svc := range found {
		byID[svc.ID] = svc
	}

	items := make([]LineItem, 0, len(ids))
	resolved := make([]CatalogService, 0, len(ids))
	for i, id := range ids {
		svc, ok := byID[id]
		if !ok {
			return nil, nil, ErrUnknownServices
		}
		items = append(items, LineItem{
			ServiceID:         svc.ID,
			ChargedPriceCents: svc.PriceCents,
			Position:          i,
		})
		resolved = append(resolved, svc)
	}
	return items, resolved, nil
}

func clampPage(page, limit int) (clampedLimit, offset int) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if page < 1 {
		page = 1
	}
	return limit, (page - 1) * limit
}
