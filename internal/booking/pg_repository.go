package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLSTATE for exclusion constraint violations; the appointments table
// carries a gist exclusion constraint on (professional_id, tstzrange) as a
// backstop against double-booking, see internal/db/schema.sql.
const exclusionViolation = "23P01"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanProfessional(row pgx.Row) (*Professional, error) {
	var p Professional
	var specialty *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&specialty,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfessionalNotFound
		}
		return nil, err
	}

	p.Specialty = specialty
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var notes *string

	err := row.Scan(
		&a.ID,
		&a.ProfessionalID,
		&a.PatientID,
		&a.StartsAt,
		&a.EndsAt,
		&a.Status,
		&notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Notes = notes
	return &a, nil
}

const appointmentCols = `id, professional_id, patient_id, starts_at, ends_at, status, notes, created_at, updated_at`

func (r *PgRepository) loadItems(ctx context.Context, q querier, appointmentID uuid.UUID) ([]LineItem, error) {
	rows, err := q.Query(ctx, `
		SELECT service_id, charged_price_cents, position
		FROM appointment_services
		WHERE appointment_id = $1
		ORDER BY position
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.ServiceID, &it.ChargedPriceCents, &it.Position); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetProfessionalByID(ctx context.Context, id uuid.UUID) (*Professional, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM professionals
		WHERE id = $1
	`, id)
	return scanProfessional(row)
}

func (r *PgRepository) FindServicesByIDs(ctx context.Context, ids []uuid.UUID) ([]CatalogService, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, price_cents, duration_min
		FROM services
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CatalogService
	for rows.Next() {
		var s CatalogService
		if err := rows.Scan(&s.ID, &s.Name, &s.PriceCents, &s.DurationMin); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PgRepository) CountConflicting(ctx context.Context, professionalID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (int, error) {
	// Half-open intervals: an appointment ending exactly at `start` does not
	// conflict, hence strict < and >.
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE professional_id = $1
		  AND status <> 'CANCELLED'
		  AND starts_at < $3
		  AND ends_at > $2
		  AND ($4::uuid IS NULL OR id <> $4)
	`, professionalID, start, end, excludeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count conflicting: %w", err)
	}
	return n, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE id = $1
	`, id)
	a, err := scanAppointment(row)
	if err != nil {
		return nil, err
	}

	a.Items, err = r.loadItems(ctx, r.pool, a.ID)
	if err != nil {
		return nil, fmt.Errorf("load line items: %w", err)
	}
	return a, nil
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	a, err := r.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	details, err := r.hydrate(ctx, []Appointment{*a})
	if err != nil {
		return nil, err
	}
	return &details[0], nil
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, professional_id, patient_id, starts_at, ends_at, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+appointmentCols+`
	`, a.ID, a.ProfessionalID, a.PatientID, a.StartsAt, a.EndsAt, a.Status, a.Notes)

	inserted, err := scanAppointment(row)
	if err != nil {
		return nil, mapWriteErr(err, "insert appointment")
	}

	if err := insertItems(ctx, tx, inserted.ID, a.Items); err != nil {
		return nil, err
	}
	inserted.Items = a.Items

	if err := tx.Commit(ctx); err != nil {
		return nil, mapWriteErr(err, "commit insert")
	}
	return inserted, nil
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment, replaceItems bool) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET professional_id = $2,
		    starts_at = $3,
		    ends_at = $4,
		    status = $5,
		    notes = $6,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentCols+`
	`, a.ID, a.ProfessionalID, a.StartsAt, a.EndsAt, a.Status, a.Notes)

	updated, err := scanAppointment(row)
	if err != nil {
		return nil, mapWriteErr(err, "update appointment")
	}

	if replaceItems {
		// Wholesale replace inside the same transaction so a failed insert
		// can never leave the appointment without its old items.
		if _, err := tx.Exec(ctx, `DELETE FROM appointment_services WHERE appointment_id = $1`, a.ID); err != nil {
			return nil, fmt.Errorf("delete line items: %w", err)
		}
		if err := insertItems(ctx, tx, a.ID, a.Items); err != nil {
			return nil, err
		}
		updated.Items = a.Items
	} else {
		updated.Items, err = r.loadItems(ctx, tx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("load line items: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapWriteErr(err, "commit update")
	}
	return updated, nil
}

func insertItems(ctx context.Context, q querier, appointmentID uuid.UUID, items []LineItem) error {
	for _, it := range items {
		_, err := q.Exec(ctx, `
			INSERT INTO appointment_services (appointment_id, service_id, charged_price_cents, position)
			VALUES ($1, $2, $3, $4)
		`, appointmentID, it.ServiceID, it.ChargedPriceCents, it.Position)
		if err != nil {
			return fmt.Errorf("insert line item %d: %w", it.Position, err)
		}
	}
	return nil
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) ListByRange(ctx context.Context, start, end time.Time, professionalID *uuid.UUID) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE status <> 'CANCELLED'
		  AND starts_at BETWEEN $1 AND $2
		  AND ($3::uuid IS NULL OR professional_id = $3)
		ORDER BY starts_at ASC
	`, start, end, professionalID)
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, rows)
}

func (r *PgRepository) ListPaginated(ctx context.Context, limit, offset int) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		ORDER BY starts_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY starts_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, rows)
}

func (r *PgRepository) ListByProfessional(ctx context.Context, professionalID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE professional_id = $1
		ORDER BY starts_at DESC
		LIMIT $2 OFFSET $3
	`, professionalID, limit, offset)
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, rows)
}

func (r *PgRepository) collect(ctx context.Context, rows pgx.Rows) ([]AppointmentDetail, error) {
	defer rows.Close()

	var appts []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return r.hydrate(ctx, appts)
}

// hydrate attaches line items, patient, professional and live catalog data
// to a batch of appointments with one query per related table.
func (r *PgRepository) hydrate(ctx context.Context, appts []Appointment) ([]AppointmentDetail, error) {
	if len(appts) == 0 {
		return []AppointmentDetail{}, nil
	}

	apptIDs := make([]uuid.UUID, len(appts))
	patientIDs := make([]uuid.UUID, 0, len(appts))
	professionalIDs := make([]uuid.UUID, 0, len(appts))
	for i, a := range appts {
		apptIDs[i] = a.ID
		patientIDs = append(patientIDs, a.PatientID)
		professionalIDs = append(professionalIDs, a.ProfessionalID)
	}

	itemsByAppt := make(map[uuid.UUID][]LineItem)
	rows, err := r.pool.Query(ctx, `
		SELECT appointment_id, service_id, charged_price_cents, position
		FROM appointment_services
		WHERE appointment_id = ANY($1)
		ORDER BY appointment_id, position
	`, apptIDs)
	if err != nil {
		return nil, err
	}
	var serviceIDs []uuid.UUID
	for rows.Next() {
		var apptID uuid.UUID
		var it LineItem
		if err := rows.Scan(&apptID, &it.ServiceID, &it.ChargedPriceCents, &it.Position); err != nil {
			rows.Close()
			return nil, err
		}
		itemsByAppt[apptID] = append(itemsByAppt[apptID], it)
		serviceIDs = append(serviceIDs, it.ServiceID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	services, err := r.FindServicesByIDs(ctx, serviceIDs)
	if err != nil {
		return nil, err
	}
	serviceByID := make(map[uuid.UUID]CatalogService, len(services))
	for _, s := range services {
		serviceByID[s.ID] = s
	}

	patientByID, err := r.patientsByIDs(ctx, patientIDs)
	if err != nil {
		return nil, err
	}
	professionalByID, err := r.professionalsByIDs(ctx, professionalIDs)
	if err != nil {
		return nil, err
	}

	details := make([]AppointmentDetail, len(appts))
	for i, a := range appts {
		a.Items = itemsByAppt[a.ID]
		d := AppointmentDetail{Appointment: a}
		if p, ok := patientByID[a.PatientID]; ok {
			d.Patient = p
		}
		if p, ok := professionalByID[a.ProfessionalID]; ok {
			d.Professional = p
		}
		for _, it := range a.Items {
			if s, ok := serviceByID[it.ServiceID]; ok {
				d.Services = append(d.Services, s)
			}
		}
		details[i] = d
	}
	return details, nil
}

func (r *PgRepository) patientsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Patient, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]*Patient)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (r *PgRepository) professionalsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Professional, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM professionals
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]*Professional)
	for rows.Next() {
		p, err := scanProfessional(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (r *PgRepository) InsertAudit(ctx context.Context, e AuditEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_logs (method, path, outcome, actor_id, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, e.Method, e.Path, e.Outcome, e.ActorID, nullableTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// mapWriteErr turns an exclusion-constraint violation into the domain
// conflict error so a race that slips past the application check still
// surfaces as 409, not 500.
func mapWriteErr(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
		return ErrTimeSlotTaken
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAppointmentNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
