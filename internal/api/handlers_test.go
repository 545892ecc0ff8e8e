package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinigo/agenda-service/internal/booking"
	redisclient "github.com/clinigo/agenda-service/internal/redis"
)

// stubRepo satisfies booking.Repository for handler tests that never reach
// the storage layer.
type stubRepo struct{}

func (stubRepo) GetPatientByID(context.Context, uuid.UUID) (*booking.Patient, error) {
	return nil, booking.ErrPatientNotFound
}
func (stubRepo) GetProfessionalByID(context.Context, uuid.UUID) (*booking.Professional, error) {
	return nil, booking.ErrProfessionalNotFound
}
func (stubRepo) FindServicesByIDs(context.Context, []uuid.UUID) ([]booking.CatalogService, error) {
	return nil, nil
}
func (stubRepo) CountConflicting(context.Context, uuid.UUID, time.Time, time.Time, *uuid.UUID) (int, error) {
	return 0, nil
}
func (stubRepo) GetAppointmentByID(context.Context, uuid.UUID) (*booking.Appointment, error) {
	return nil, booking.ErrAppointmentNotFound
}
func (stubRepo) GetAppointmentDetail(context.Context, uuid.UUID) (*booking.AppointmentDetail, error) {
	return nil, booking.ErrAppointmentNotFound
}
func (stubRepo) InsertAppointment(context.Context, *booking.Appointment) (*booking.Appointment, error) {
	return nil, nil
}
func (stubRepo) UpdateAppointment(context.Context, *booking.Appointment, bool) (*booking.Appointment, error) {
	return nil, nil
}
func (stubRepo) DeleteAppointment(context.Context, uuid.UUID) error {
	return booking.ErrAppointmentNotFound
}
func (stubRepo) ListByRange(context.Context, time.Time, time.Time, *uuid.UUID) ([]booking.AppointmentDetail, error) {
	return nil, nil
}
func (stubRepo) ListPaginated(context.Context, int, int) ([]booking.AppointmentDetail, error) {
	return nil, nil
}
func (stubRepo) ListByPatient(context.Context, uuid.UUID, int, int) ([]booking.AppointmentDetail, error) {
	return nil, nil
}
func (stubRepo) ListByProfessional(context.Context, uuid.UUID, int, int) ([]booking.AppointmentDetail, error) {
	return nil, nil
}
func (stubRepo) InsertAudit(context.Context, booking.AuditEntry) error { return nil }

type inlineLocker struct{}

func (inlineLocker) WithProfessionalLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type noopAuditor struct{}

func (noopAuditor) RecordAudit(context.Context, booking.AuditEntry) {}

func testHandlers() *Handlers {
	svc := booking.NewService(stubRepo{}, inlineLocker{}, zap.NewNop())
	return NewHandlers(svc, noopAuditor{}, zap.NewNop())
}

func withActor(r *http.Request, actor Actor) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), actorKey, actor))
}

const testSecret = "test-secret"

func signToken(t *testing.T, patientID string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if patientID != "" {
		claims["patient_id"] = patientID
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestAuthMiddleware(t *testing.T) {
	var gotActor Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotActor, _ = ActorFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := AuthMiddleware(testSecret)(next)

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/agendamentos/me", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/agendamentos/me", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		claims := jwt.MapClaims{"sub": uuid.NewString(), "exp": time.Now().Add(time.Hour).Unix()}
		token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
		req := httptest.NewRequest("GET", "/agendamentos/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("valid token with patient profile", func(t *testing.T) {
		pid := uuid.New()
		req := httptest.NewRequest("GET", "/agendamentos/me", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, pid.String()))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if gotActor.PatientID == nil || *gotActor.PatientID != pid {
			t.Fatalf("actor patient id = %v, want %s", gotActor.PatientID, pid)
		}
	})
}

func TestCreateAppointment_BadRequests(t *testing.T) {
	h := testHandlers()

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", "{"},
		{"missing fields", `{}`},
		{"bad uuid", `{"id_profissional":"nope","id_paciente":"nope","ids_servicos":["nope"],"starts_at":"2026-03-09T09:00:00Z"}`},
		{"empty services", `{"id_profissional":"` + uuid.NewString() + `","id_paciente":"` + uuid.NewString() + `","ids_servicos":[],"starts_at":"2026-03-09T09:00:00Z"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/agendamentos", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.createAppointment(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("error body is not JSON: %v", err)
			}
			if resp.Error == "" {
				t.Fatal("error body missing error code")
			}
		})
	}
}

func TestCalendar_RequiresRange(t *testing.T) {
	h := testHandlers()

	cases := []struct {
		name string
		url  string
	}{
		{"missing start", "/agendamentos/calendar?end=2026-03-15"},
		{"missing end", "/agendamentos/calendar?start=2026-03-09"},
		{"bad start", "/agendamentos/calendar?start=yesterday&end=2026-03-15"},
		{"bad professional id", "/agendamentos/calendar?start=2026-03-09&end=2026-03-15&id_profissional=abc"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.calendar(rec, httptest.NewRequest("GET", tc.url, nil))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}

	t.Run("valid range", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.calendar(rec, httptest.NewRequest("GET", "/agendamentos/calendar?start=2026-03-09&end=2026-03-15", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})
}

func TestListMine_NoPatientProfile(t *testing.T) {
	h := testHandlers()

	req := withActor(httptest.NewRequest("GET", "/agendamentos/me", nil), Actor{UserID: uuid.New()})
	rec := httptest.NewRecorder()
	h.listMine(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleBookingError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{booking.ErrProfessionalNotFound, http.StatusNotFound},
		{booking.ErrPatientNotFound, http.StatusNotFound},
		{booking.ErrAppointmentNotFound, http.StatusNotFound},
		{booking.ErrNoServices, http.StatusBadRequest},
		{booking.ErrUnknownServices, http.StatusBadRequest},
		{booking.ErrInvalidTimeRange, http.StatusBadRequest},
		{booking.ErrInvalidStatus, http.StatusBadRequest},
		{booking.ErrTimeSlotTaken, http.StatusConflict},
		{booking.ErrProfessionalBusy, http.StatusConflict},
		{redisclient.ErrLockNotAcquired, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		handleBookingError(rec, tc.err)
		if rec.Code != tc.want {
			t.Fatalf("%v mapped to %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}
