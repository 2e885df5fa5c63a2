package appointment

import (
	"strings"
	"testing"
	"time"

	"github.com/mymedic/mymedic-server/cmd/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildICSInvite(t *testing.T) {
	appt := &models.Appointment{
		ScheduledAt:  time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC),
		DurationMins: 30,
		Status:       models.AppointmentConfirmed,
		MeetLink:     "https://meet.example.com/abc",
	}
	appt.ID = 42

	content := BuildICS(appt, "Consultation with Dr. Doe", false)

	assert.True(t, strings.HasPrefix(content, "BEGIN:VCALENDAR"))
	assert.Contains(t, content, "PRODID:-//MyMedic//EN")
	assert.Contains(t, content, "METHOD:PUBLISH")
	assert.Contains(t, content, "DTSTART:20260907T090000Z")
	assert.Contains(t, content, "DTEND:20260907T093000Z")
	assert.Contains(t, content, "SUMMARY:Consultation with Dr. Doe")
	assert.Contains(t, content, "URL:https://meet.example.com/abc")
	assert.NotContains(t, content, "STATUS:CANCELLED")

	// Folded with CRLF line endings throughout.
	for _, line := range strings.Split(content, "\r\n") {
		assert.NotContains(t, line, "\n")
	}
}

func TestBuildICSCancellation(t *testing.T) {
	appt := &models.Appointment{
		ScheduledAt:  time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC),
		DurationMins: 30,
		Status:       models.AppointmentCancelled,
	}
	appt.ID = 42

	content := BuildICS(appt, "Consultation with Dr. Doe", true)

	assert.Contains(t, content, "METHOD:CANCEL")
	assert.Contains(t, content, "STATUS:CANCELLED")
	assert.Contains(t, content, "SUMMARY:[CANCELLED] Consultation with Dr. Doe")
	// Cancellations keep a stable UID so clients match the original
	// event.
	assert.Contains(t, content, "UID:42@mymedic")
}

func TestDownloadICSParticipantOnly(t *testing.T) {
	db := setupTestDB(t)
	h := NewAppointmentHandler(db)
	patient := createUser(t, db, models.RolePatient)
	professional := createUser(t, db, models.RoleProfessional)
	stranger := createUser(t, db, models.RolePatient)
	appt := createAppointment(t, db, patient.ID, professional.ID, models.AppointmentConfirmed)

	rec := doICSRequest(t, h, appt.ID, patient.ID, "")
	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "text/calendar;charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "BEGIN:VCALENDAR")

	rec = doICSRequest(t, h, appt.ID, stranger.ID, "")
	assert.Equal(t, 403, rec.Code)
}

func TestDownloadICSCancelledAppointment(t *testing.T) {
	db := setupTestDB(t)
	h := NewAppointmentHandler(db)
	patient := createUser(t, db, models.RolePatient)
	professional := createUser(t, db, models.RoleProfessional)
	appt := createAppointment(t, db, patient.ID, professional.ID, models.AppointmentCancelled)

	rec := doICSRequest(t, h, appt.ID, patient.ID, "")
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "METHOD:CANCEL")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "cancellation")
}
