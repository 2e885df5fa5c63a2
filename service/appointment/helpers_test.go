package appointment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gorilla/mux"
	"github.com/mymedic/mymedic-server/cmd/models"
	"github.com/mymedic/mymedic-server/cmd/utils"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var emailSeq atomic.Uint64

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Professional{},
		&models.AvailabilityRule{},
		&models.TimeOffBlock{},
		&models.Appointment{},
		&models.Transaction{},
		&models.Wallet{},
		&models.PayoutRequest{},
	))
	return db
}

func createUser(t *testing.T, db *gorm.DB, role string) models.User {
	t.Helper()
	user := models.User{
		FullName:     "Test " + role,
		Email:        fmt.Sprintf("%s-%d@example.com", role, emailSeq.Add(1)),
		PasswordHash: "not-a-real-hash",
		Role:         role,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func createAppointment(t *testing.T, db *gorm.DB, patientID, professionalID uint, status models.AppointmentStatus) *models.Appointment {
	t.Helper()
	appt := models.Appointment{
		PatientID:      patientID,
		ProfessionalID: professionalID,
		ScheduledAt:    time.Now().UTC().Add(48 * time.Hour).Truncate(time.Minute),
		DurationMins:   30,
		Status:         status,
	}
	require.NoError(t, db.Create(&appt).Error)
	return &appt
}

func authedRequest(t *testing.T, method, target string, body io.Reader, userID uint) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	return req.WithContext(context.WithValue(req.Context(), utils.UserIDKey, userID))
}

func doICSRequest(t *testing.T, h *AppointmentHandler, appointmentID, userID uint, query string) *httptest.ResponseRecorder {
	t.Helper()
	target := fmt.Sprintf("/appointments/%d/ics%s", appointmentID, query)
	req := authedRequest(t, http.MethodGet, target, nil, userID)
	req = mux.SetURLVars(req, map[string]string{"id": fmt.Sprint(appointmentID)})
	rec := httptest.NewRecorder()
	h.DownloadICS(rec, req)
	return rec
}
