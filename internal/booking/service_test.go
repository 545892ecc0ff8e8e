package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/clinigo/agenda-service/internal/redis"
)

// fakeRepo is an in-memory Repository with the same conflict predicate as
// the SQL one.
type fakeRepo struct {
	patients      map[uuid.UUID]*Patient
	professionals map[uuid.UUID]*Professional
	services      map[uuid.UUID]*CatalogService
	appointments  map[uuid.UUID]*Appointment
	audits        []AuditEntry
	auditErr      error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		patients:      make(map[uuid.UUID]*Patient),
		professionals: make(map[uuid.UUID]*Professional),
		services:      make(map[uuid.UUID]*CatalogService),
		appointments:  make(map[uuid.UUID]*Appointment),
	}
}

func (f *fakeRepo) addPatient(name string) uuid.UUID {
	id := uuid.New()
	f.patients[id] = &Patient{ID: id, Name: name}
	return id
}

func (f *fakeRepo) addProfessional(name string) uuid.UUID {
	id := uuid.New()
	f.professionals[id] = &Professional{ID: id, Name: name}
	return id
}

func (f *fakeRepo) addService(name string, priceCents int64, durationMin int) uuid.UUID {
	id := uuid.New()
	f.services[id] = &CatalogService{ID: id, Name: name, PriceCents: priceCents, DurationMin: durationMin}
	return id
}

func (f *fakeRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := f.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return p, nil
}

func (f *fakeRepo) GetProfessionalByID(_ context.Context, id uuid.UUID) (*Professional, error) {
	p, ok := f.professionals[id]
	if !ok {
		return nil, ErrProfessionalNotFound
	}
	return p, nil
}

func (f *fakeRepo) FindServicesByIDs(_ context.Context, ids []uuid.UUID) ([]CatalogService, error) {
	seen := make(map[uuid.UUID]bool)
	var out []CatalogService
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if s, ok := f.services[id]; ok {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeRepo) CountConflicting(_ context.Context, professionalID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (int, error) {
	n := 0
	for _, a := range f.appointments {
		if a.ProfessionalID != professionalID || a.Status == StatusCancelled {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if a.StartsAt.Before(end) && a.EndsAt.After(start) {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := f.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	cp.Items = append([]LineItem(nil), a.Items...)
	return &cp, nil
}

func (f *fakeRepo) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	a, err := f.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d := AppointmentDetail{Appointment: *a}
	d.Patient = f.patients[a.PatientID]
	d.Professional = f.professionals[a.ProfessionalID]
	for _, it := range a.Items {
		if s, ok := f.services[it.ServiceID]; ok {
			d.Services = append(d.Services, *s)
		}
	}
	return &d, nil
}

func (f *fakeRepo) InsertAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	cp := *a
	cp.Items = append([]LineItem(nil), a.Items...)
	f.appointments[cp.ID] = &cp
	return a, nil
}

func (f *fakeRepo) UpdateAppointment(_ context.Context, a *Appointment, replaceItems bool) (*Appointment, error) {
	stored, ok := f.appointments[a.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	if replaceItems {
		cp.Items = append([]LineItem(nil), a.Items...)
	} else {
		cp.Items = stored.Items
	}
	f.appointments[a.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeRepo) DeleteAppointment(_ context.Context, id uuid.UUID) error {
	if _, ok := f.appointments[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(f.appointments, id)
	return nil
}

func (f *fakeRepo) ListByRange(ctx context.Context, start, end time.Time, professionalID *uuid.UUID) ([]AppointmentDetail, error) {
	var out []AppointmentDetail
	for id, a := range f.appointments {
		if a.Status == StatusCancelled {
			continue
		}
		if a.StartsAt.Before(start) || a.StartsAt.After(end) {
			continue
		}
		if professionalID != nil && a.ProfessionalID != *professionalID {
			continue
		}
		d, err := f.GetAppointmentDetail(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeRepo) ListPaginated(_ context.Context, limit, offset int) ([]AppointmentDetail, error) {
	return nil, nil
}

func (f *fakeRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	return nil, nil
}

func (f *fakeRepo) ListByProfessional(ctx context.Context, professionalID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	var out []AppointmentDetail
	for id, a := range f.appointments {
		if a.ProfessionalID != professionalID {
			continue
		}
		d, err := f.GetAppointmentDetail(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeRepo) InsertAudit(_ context.Context, e AuditEntry) error {
	if f.auditErr != nil {
		return f.auditErr
	}
	f.audits = append(f.audits, e)
	return nil
}

// passLocker runs the critical section inline.
type passLocker struct{}

func (passLocker) WithProfessionalLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// busyLocker simulates another request holding the professional's lock.
type busyLocker struct{}

func (busyLocker) WithProfessionalLock(context.Context, uuid.UUID, func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func newTestService(repo *fakeRepo) *Service {
	return NewService(repo, passLocker{}, zap.NewNop())
}

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 9, hour, min, 0, 0, time.UTC)
}

func TestCreateAppointment_Conflicts(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	prof := repo.addProfessional("Dra. Helena Souza")
	patient := repo.addPatient("Carlos Lima")
	svcID := repo.addService("Consulta Inicial", 25000, 60)

	end := at(10, 0)
	first, err := svc.CreateAppointment(ctx, CreateInput{
		ProfessionalID: prof,
		PatientID:      patient,
		ServiceIDs:     []uuid.UUID{svcID},
		StartsAt:       at(9, 0),
		EndsAt:         &end,
	})
	if err != nil {
		t.Fatalf("first booking failed: %v", err)
	}

	// 09:30-10:30 overlaps 09:00-10:00
	overlapEnd := at(10, 30)
	_, err = svc.CreateAppointment(ctx, CreateInput{
		ProfessionalID: prof,
		PatientID:      patient,
		ServiceIDs:     []uuid.UUID{svcID},
		StartsAt:       at(9, 30),
		EndsAt:         &overlapEnd,
	})
	if !errors.Is(err, ErrTimeSlotTaken) {
		t.Fatalf("expected ErrTimeSlotTaken, got %v", err)
	}

	// 10:00-11:00 touches but does not overlap
	touchEnd := at(11, 0)
	_, err = svc.CreateAppointment(ctx, CreateInput{
		ProfessionalID: prof,
		PatientID:      patient,
		ServiceIDs:     []uuid.UUID{svcID},
		StartsAt:       at(10, 0),
		EndsAt:         &touchEnd,
	})
	if err != nil {
		t.Fatalf("touching booking should succeed, got %v", err)
	}

	// Cancel the 09:00-10:00 appointment; 09:30-10:30 becomes bookable.
	cancelled := StatusCancelled
	if _, err := svc.UpdateAppointment(ctx, first.ID, Patch{Status: &cancelled}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	_, err = svc.CreateAppointment(ctx, CreateInput{
		ProfessionalID: prof,
		PatientID:      patient,
		ServiceIDs:     []uuid.UUID{svcID},
		StartsAt:       at(9, 30),
		EndsAt:         &overlapEnd,
	})
	if err != nil {
		t.Fatalf("booking over a cancelled appointment should succeed, got %v", err)
	}
}

func TestCreateAppointment_ComputedEnd(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	prof := repo.addProfessional("Dr. Paulo")
	patient := repo.addPatient("Ana")
	svcA := repo.addService("svc-A", 10000, 30)
	svcB := repo.addService("svc-B", 5000, 15)

	appt, err := svc.CreateAppointment(ctx, CreateInput{
		ProfessionalID: prof,
		PatientID:      patient,
		ServiceIDs:     []uuid.UUID{svcA, svcB},
		StartsAt:       at(14, 0),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	want := at(14, 45)
	if !appt.EndsAt.Equal(want) {
		t.Fatalf("computed end = %v, want %v", appt.EndsAt, want)
	}
}

func TestCreateAppointment_Validation(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	prof := repo.addProfessional("Dr. Paulo")
	patient := repo.addPatient("Ana")
	known := repo.addService("Retorno", 15000, 30)

	end := at(10, 0)
	cases := []struct {
		name string
		in   CreateInput
		want error
	}{
		{
			name: "unknown professional",
			in:   CreateInput{ProfessionalID: uuid.New(), PatientID: patient, ServiceIDs: []uuid.UUID{known}, StartsAt: at(9, 0), EndsAt: &end},
			want: ErrProfessionalNotFound,
		},
		{
			name: "unknown patient",
			in:   CreateInput{ProfessionalID: prof, PatientID: uuid.New(), ServiceIDs: []uuid.UUID{known}, StartsAt: at(9, 0), EndsAt: &end},
			want: ErrPatientNotFound,
		},
		{
			name: "empty services",
			in:   CreateInput{ProfessionalID: prof, PatientID: patient, StartsAt: at(9, 0), EndsAt: &end},
			want: ErrNoServices,
		},
		{
			name: "unknown service id",
			in:   CreateInput{ProfessionalID: prof, PatientID: patient, ServiceIDs: []uuid.UUID{known, uuid.New()}, StartsAt: at(9, 0), EndsAt: &end},
			want: ErrUnknownServices,
		},
		{
			name: "end before start",
			in:   CreateInput{ProfessionalID: prof, PatientID: patient, ServiceIDs: []uuid.UUID{known}, StartsAt: at(11, 0), EndsAt: &end},
			want: ErrInvalidTimeRange,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateAppointment(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCreateAppointment_SnapshotsCurrentPriceInOrder(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	prof := repo.addProfessional("Dr. Paulo")
	patient := repo.addPatient("Ana")
	svcB := repo.addService("Massagem", 9000, 40)
	svcA := repo.addService("Avaliação", 18000, 20)

	appt, err := svc.CreateAppointment(ctx, CreateInput{
		ProfessionalID: prof,
		PatientID:      patient,
		ServiceIDs:     []uuid.UUID{svcA, svcB}, // caller order, not insertion order
		StartsAt:       at(9, 0),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if len(appt.Items) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(appt.Items))
	}
	if appt.Items[0].ServiceID != svcA || appt.Items[1].ServiceID != svcB {
		t.Fatal("line items not in caller order")
	}
	if appt.Items[0].ChargedPriceCents != 18000 || appt.Items[1].ChargedPriceCents != 9000 {
		t.Fatal("line items did not snapshot catalog prices")
	}
	if appt.Items[0].Position != 0 || appt.Items[1].Position != 1 {
		t.Fatal("line item positions not sequential")
	}
	if appt.Status != StatusPending {
		t.Fatalf("new appointment status = %s, want PENDING", appt.Status)
	}
}

func TestUpdateAppointment_SelfExclusion(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	prof := repo.addProfessional("Dr. Paulo")
	patient := repo.addPatient("Ana")
	svcID := repo.addService("Retorno", 15000, 30)

	end := at(10, 0)
	appt, err := svc.CreateAppointment(ctx, CreateInput{
		ProfessionalID: prof,
		PatientID:      patient,
		ServiceIDs:     []uuid.UUID{svcID},
		StartsAt:       at(9, 0),
		EndsAt:         &end,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Re-submitting the same window must not conflict with itself.
	start := at(9, 0)
	if _, err := svc.UpdateAppointment(ctx, appt.ID, Patch{StartsAt: &start, EndsAt: &end}); err != nil {
		t.Fatalf("no-op move reported conflict: %v", err)
	}

	// Shifting within its own window is also fine.
	newStart := at(9, 30)
	newEnd := at(10, 30)
	if _, err := svc.UpdateAppointment(ctx, appt.ID, Patch{StartsAt: &newStart, EndsAt: &newEnd}); err != nil {
		t.Fatalf("move within own window failed: %v", err)
	}
}

func TestUpdateAppointment_TimeOnlyKeepsItems(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	prof := repo.addProfessional("Dr. Paulo")
	patient := repo.addPatient("Ana")
	svcID := repo.addService("Retorno", 15000, 30)

	appt, err := svc.CreateAppointment(ctx, CreateInput{
		ProfessionalID: prof,
		PatientID:      patient,
		ServiceIDs:     []uuid.UUID{svcID},
		StartsAt:       at(9, 0),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Catalog price changes after booking.
	repo.services[svcID].PriceCents = 99000

	newStart := at(11, 0)
	newEnd := at(11, 30)
	updated, err := svc.UpdateAppointment(ctx, appt.ID, Patch{StartsAt: &newStart, EndsAt: &newEnd})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	if len(updated.Items) != 1 || updated.Items[0].ChargedPriceCents != 15000 {
		t.Fatalf("time-only update must keep snapshot price 15000, got %+v", updated.Items)
	}
	if updated.ProfessionalID != prof || updated.PatientID != patient {
		t.Fatal("unrelated fields changed")
	}
}

func TestUpdateAppointment_ServiceReplaceReprices(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	prof := repo.addProfessional("Dr. Paulo")
	patient := repo.addPatient("Ana")
	svcID := repo.addService("Retorno", 15000, 30)

	appt, err := svc.CreateAppointment(ctx, CreateInput{
		ProfessionalID: prof,
		PatientID:      patient,
		ServiceIDs:     []uuid.UUID{svcID},
		StartsAt:       at(9, 0),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	repo.services[svcID].PriceCents = 20000

	// Same service id in the patch: still re-priced, edits always re-price.
	updated, err := svc.UpdateAppointment(ctx, appt.ID, Patch{ServiceIDs: []uuid.UUID{svcID}})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Items[0].ChargedPriceCents != 20000 {
		t.Fatalf("replaced item price = %d, want re-snapshotted 20000", updated.Items[0].ChargedPriceCents)
	}
}

func TestUpdateAppointment_UnknownServiceLeavesItemsUntouched(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	prof := repo.addProfessional("Dr. Paulo")
	patient := repo.addPatient("Ana")
	svcID := repo.addService("Retorno", 15000, 30)

	appt, err := svc.CreateAppointment(ctx, CreateInput{
		ProfessionalID: prof,
		PatientID:      patient,
		ServiceIDs:     []uuid.UUID{svcID},
		StartsAt:       at(9, 0),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, err = svc.UpdateAppointment(ctx, appt.ID, Patch{ServiceIDs: []uuid.UUID{svcID, uuid.New()}})
	if !errors.Is(err, ErrUnknownServices) {
		t.Fatalf("expected ErrUnknownServices, got %v", err)
	}

	stored, err := svc.GetAppointment(ctx, appt.ID)
	if err != nil {
		t.Fatalf("refetch failed: %v", err)
	}
	if len(stored.Items) != 1 || stored.Items[0].ServiceID != svcID || stored.Items[0].ChargedPriceCents != 15000 {
		t.Fatalf("original line items were touched: %+v", stored.Items)
	}
}

func TestUpdateAppointment_ConflictOnMove(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	prof := repo.addProfessional("Dr. Paulo")
	patient := repo.addPatient("Ana")
	svcID := repo.addService("Retorno", 15000, 30)

	end1 := at(10, 0)
	if _, err := svc.CreateAppointment(ctx, CreateInput{
		ProfessionalID: prof, PatientID: patient,
		ServiceIDs: []uuid.UUID{svcID}, StartsAt: at(9, 0), EndsAt: &end1,
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	end2 := at(12, 0)
	second, err := svc.CreateAppointment(ctx, CreateInput{
		ProfessionalID: prof, PatientID: patient,
		ServiceIDs: []uuid.UUID{svcID}, StartsAt: at(11, 0), EndsAt: &end2,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Moving the 11:00 appointment onto the 09:00 one must conflict.
	newStart := at(9, 30)
	newEnd := at(10, 30)
	_, err = svc.UpdateAppointment(ctx, second.ID, Patch{StartsAt: &newStart, EndsAt: &newEnd})
	if !errors.Is(err, ErrTimeSlotTaken) {
		t.Fatalf("expected ErrTimeSlotTaken, got %v", err)
	}

	// The appointment stays at its original slot.
	stored, _ := svc.GetAppointment(ctx, second.ID)
	if !stored.StartsAt.Equal(at(11, 0)) {
		t.Fatalf("failed move mutated the appointment: starts at %v", stored.StartsAt)
	}
}

func TestUpdateAppointment_StatusValidation(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	prof := repo.addProfessional("Dr. Paulo")
	patient := repo.addPatient("Ana")
	svcID := repo.addService("Retorno", 15000, 30)

	appt, err := svc.CreateAppointment(ctx, CreateInput{
		ProfessionalID: prof, PatientID: patient,
		ServiceIDs: []uuid.UUID{svcID}, StartsAt: at(9, 0),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	bad := Status("ARCHIVED")
	if _, err := svc.UpdateAppointment(ctx, appt.ID, Patch{Status: &bad}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}

	for _, st := range []Status{StatusConfirmed, StatusCompleted, StatusNoShow, StatusCancelled, StatusPending} {
		s := st
		if _, err := svc.UpdateAppointment(ctx, appt.ID, Patch{Status: &s}); err != nil {
			t.Fatalf("transition to %s rejected: %v", st, err)
		}
	}
}

func TestDeleteAppointment(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	if err := svc.DeleteAppointment(ctx, uuid.New()); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}

	prof := repo.addProfessional("Dr. Paulo")
	patient := repo.addPatient("Ana")
	svcID := repo.addService("Retorno", 15000, 30)

	appt, err := svc.CreateAppointment(ctx, CreateInput{
		ProfessionalID: prof, PatientID: patient,
		ServiceIDs: []uuid.UUID{svcID}, StartsAt: at(9, 0),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := svc.DeleteAppointment(ctx, appt.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := svc.GetAppointment(ctx, appt.ID); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("appointment still present after delete: %v", err)
	}
}

func TestCreateAppointment_LockContention(t *testing.T) {
	repo := newFakeRepo()
	prof := repo.addProfessional("Dr. Paulo")
	patient := repo.addPatient("Ana")
	svcID := repo.addService("Retorno", 15000, 30)

	svc := NewService(repo, busyLocker{}, zap.NewNop())

	_, err := svc.CreateAppointment(context.Background(), CreateInput{
		ProfessionalID: prof, PatientID: patient,
		ServiceIDs: []uuid.UUID{svcID}, StartsAt: at(9, 0),
	})
	if !errors.Is(err, ErrProfessionalBusy) {
		t.Fatalf("expected ErrProfessionalBusy, got %v", err)
	}
}

func TestListByProfessional_UnknownProfessional(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	_, err := svc.ListByProfessional(context.Background(), uuid.New(), 1, 20)
	if !errors.Is(err, ErrProfessionalNotFound) {
		t.Fatalf("expected ErrProfessionalNotFound, got %v", err)
	}
}

func TestRecordAudit_BestEffort(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	svc.RecordAudit(context.Background(), AuditEntry{Method: "POST", Path: "/agendamentos", Outcome: "created", ActorID: uuid.New()})
	if len(repo.audits) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(repo.audits))
	}

	// A failing audit sink must not panic or surface anywhere.
	repo.auditErr = errors.New("sink down")
	svc.RecordAudit(context.Background(), AuditEntry{Method: "DELETE", Path: "/agendamentos/x", Outcome: "deleted", ActorID: uuid.New()})
}
