package appointment

import (
	"testing"
	"time"

	"github.com/mymedic/mymedic-server/cmd/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptOpensPaymentWindow(t *testing.T) {
	db := setupTestDB(t)
	patient := createUser(t, db, models.RolePatient)
	professional := createUser(t, db, models.RoleProfessional)
	appt := createAppointment(t, db, patient.ID, professional.ID, models.AppointmentPending)

	now := time.Date(2026, 9, 7, 8, 0, 0, 0, time.UTC)
	accepted, err := Accept(db, appt.ID, professional.ID, now)
	require.NoError(t, err)

	assert.Equal(t, models.AppointmentAwaitingPayment, accepted.Status)
	require.NotNil(t, accepted.PaymentExpiresAt)
	assert.True(t, accepted.PaymentExpiresAt.Equal(now.Add(PaymentWindow)))

	var reloaded models.Appointment
	require.NoError(t, db.First(&reloaded, appt.ID).Error)
	assert.Equal(t, models.AppointmentAwaitingPayment, reloaded.Status)
	require.NotNil(t, reloaded.PaymentExpiresAt)
	assert.WithinDuration(t, now.Add(PaymentWindow), *reloaded.PaymentExpiresAt, time.Second)
}

func TestAcceptTwiceConflicts(t *testing.T) {
	db := setupTestDB(t)
	patient := createUser(t, db, models.RolePatient)
	professional := createUser(t, db, models.RoleProfessional)
	appt := createAppointment(t, db, patient.ID, professional.ID, models.AppointmentPending)

	_, err := Accept(db, appt.ID, professional.ID, time.Now())
	require.NoError(t, err)

	_, err = Accept(db, appt.ID, professional.ID, time.Now())
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAcceptOwnershipAndExistence(t *testing.T) {
	db := setupTestDB(t)
	patient := createUser(t, db, models.RolePatient)
	professional := createUser(t, db, models.RoleProfessional)
	other := createUser(t, db, models.RoleProfessional)
	appt := createAppointment(t, db, patient.ID, professional.ID, models.AppointmentPending)

	_, err := Accept(db, appt.ID, other.ID, time.Now())
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = Accept(db, appt.ID+999, professional.ID, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecline(t *testing.T) {
	db := setupTestDB(t)
	patient := createUser(t, db, models.RolePatient)
	professional := createUser(t, db, models.RoleProfessional)
	appt := createAppointment(t, db, patient.ID, professional.ID, models.AppointmentPending)

	declined, err := Decline(db, appt.ID, professional.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentDeclined, declined.Status)

	// Declined is terminal; a late accept must not resurrect it.
	_, err = Accept(db, appt.ID, professional.ID, time.Now())
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCompleteRequiresConfirmed(t *testing.T) {
	db := setupTestDB(t)
	patient := createUser(t, db, models.RolePatient)
	professional := createUser(t, db, models.RoleProfessional)

	pending := createAppointment(t, db, patient.ID, professional.ID, models.AppointmentPending)
	_, err := Complete(db, pending.ID, professional.ID, time.Now())
	assert.ErrorIs(t, err, ErrConflict)

	confirmed := createAppointment(t, db, patient.ID, professional.ID, models.AppointmentConfirmed)
	now := time.Now().UTC()
	completed, err := Complete(db, confirmed.ID, professional.ID, now)
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	var reloaded models.Appointment
	require.NoError(t, db.First(&reloaded, confirmed.ID).Error)
	assert.Equal(t, models.AppointmentCompleted, reloaded.Status)
	require.NotNil(t, reloaded.CompletedAt)
	assert.WithinDuration(t, now, *reloaded.CompletedAt, time.Second)
}

func TestExpireUnpaidBoundary(t *testing.T) {
	db := setupTestDB(t)
	patient := createUser(t, db, models.RolePatient)
	professional := createUser(t, db, models.RoleProfessional)
	appt := createAppointment(t, db, patient.ID, professional.ID, models.AppointmentPending)

	acceptedAt := time.Date(2026, 9, 7, 8, 0, 0, 0, time.UTC)
	_, err := Accept(db, appt.ID, professional.ID, acceptedAt)
	require.NoError(t, err)

	// One second inside the window nothing expires.
	cancelled, err := ExpireUnpaid(db, acceptedAt.Add(PaymentWindow-time.Second))
	require.NoError(t, err)
	assert.Zero(t, cancelled)

	var reloaded models.Appointment
	require.NoError(t, db.First(&reloaded, appt.ID).Error)
	assert.Equal(t, models.AppointmentAwaitingPayment, reloaded.Status)

	// One second past the deadline the appointment is cancelled.
	cancelled, err = ExpireUnpaid(db, acceptedAt.Add(PaymentWindow+time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), cancelled)

	require.NoError(t, db.First(&reloaded, appt.ID).Error)
	assert.Equal(t, models.AppointmentCancelled, reloaded.Status)

	// Running the sweep again is a no-op.
	cancelled, err = ExpireUnpaid(db, acceptedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, cancelled)
}

func TestExpireUnpaidLeavesOtherStatusesAlone(t *testing.T) {
	db := setupTestDB(t)
	patient := createUser(t, db, models.RolePatient)
	professional := createUser(t, db, models.RoleProfessional)

	expired := time.Now().UTC().Add(-time.Hour)

	confirmed := createAppointment(t, db, patient.ID, professional.ID, models.AppointmentConfirmed)
	require.NoError(t, db.Model(confirmed).Update("payment_expires_at", expired).Error)

	pending := createAppointment(t, db, patient.ID, professional.ID, models.AppointmentPending)

	cancelled, err := ExpireUnpaid(db, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, cancelled)

	var reloaded models.Appointment
	require.NoError(t, db.First(&reloaded, confirmed.ID).Error)
	assert.Equal(t, models.AppointmentConfirmed, reloaded.Status)
	reloaded = models.Appointment{}
	require.NoError(t, db.First(&reloaded, pending.ID).Error)
	assert.Equal(t, models.AppointmentPending, reloaded.Status)
}
